package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/MikeMC777/checkout/docs"
	"github.com/MikeMC777/checkout/internal/cart"
	"github.com/MikeMC777/checkout/internal/catalog"
	"github.com/MikeMC777/checkout/internal/config"
	"github.com/MikeMC777/checkout/internal/events"
	"github.com/MikeMC777/checkout/internal/httpx"
	"github.com/MikeMC777/checkout/internal/locks"
	"github.com/MikeMC777/checkout/internal/order"
	"github.com/MikeMC777/checkout/internal/postgres"
	"github.com/MikeMC777/checkout/internal/user"
	"github.com/MikeMC777/checkout/migrations"
)

// @title Checkout API
// @version 1.0
// @description Cart consolidation and atomic order placement.
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connect")
	}
	defer pool.Close()

	if err := migrations.Apply(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migrations")
	}

	var catalogRepo catalog.Repository = catalog.NewPGRepo(pool)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		catalogRepo = catalog.NewCachedRepo(catalogRepo, rdb)
		log.Info().Str("addr", cfg.RedisAddr).Msg("catalog cache enabled")
	}

	var publisher order.EventPublisher = events.Nop{}
	var producer *events.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, 256)
		producer.Start()
		publisher = producer
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("event publisher enabled")
	}

	userLocks := locks.NewKeyed()
	userSvc := user.NewService(user.NewPGRepo(pool), cfg.SessionTTL)
	cartSvc := cart.NewService(cart.NewPGRepo(pool), catalogRepo, userLocks)
	orderSvc := order.NewService(order.NewPGRepo(pool), userLocks, publisher)

	r := gin.New()
	r.Use(gin.Recovery(), httpx.RequestID(), httpx.Logger())

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	r.POST("/register", registerHandler(userSvc))
	r.POST("/login", loginHandler(userSvc))

	r.GET("/products", listProductsHandler(catalogRepo))
	r.GET("/products/random", randomProductHandler(catalogRepo))
	r.GET("/products/:id", getProductHandler(catalogRepo))
	r.GET("/categories", categoriesHandler(catalogRepo))
	r.POST("/products", createProductHandler(catalogRepo))
	r.PUT("/products/:id", updateProductHandler(catalogRepo))
	r.DELETE("/products/:id", deleteProductHandler(catalogRepo))

	authed := r.Group("/", httpx.Auth(userSvc.Validate))
	authed.GET("/cart", getCartHandler(cartSvc))
	authed.POST("/cart", addToCartHandler(cartSvc))
	authed.PUT("/cart/:product_id", setCartQuantityHandler(cartSvc))
	authed.DELETE("/cart/:product_id", removeFromCartHandler(cartSvc))

	authed.POST("/orders", placeOrderHandler(orderSvc))
	authed.GET("/orders", listOrdersHandler(orderSvc))
	authed.GET("/orders/:id", getOrderHandler(orderSvc))
	authed.GET("/orders/:id/items", getOrderItemsHandler(orderSvc))
	authed.PUT("/orders/:id/status", updateOrderStatusHandler(orderSvc))

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("checkout-service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}

	// Requests are drained now; any event they committed is already queued.
	if producer != nil {
		producer.Close()
		producer.WaitClosed()
	}
}
