package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MikeMC777/checkout/internal/cart"
	"github.com/MikeMC777/checkout/internal/catalog"
	"github.com/MikeMC777/checkout/internal/httpx"
	"github.com/MikeMC777/checkout/internal/order"
	"github.com/MikeMC777/checkout/internal/user"
)

func currentUser(c *gin.Context) string {
	return c.GetString(httpx.UserIDKey)
}

// orderError maps the placement failure taxonomy onto HTTP statuses:
// validation 400, domain conflict 404/409, transient storage 503.
func orderError(c *gin.Context, err error) {
	var nf *order.NotFoundError
	var is *order.InsufficientStockError
	var se *order.StorageError
	switch {
	case errors.Is(err, order.ErrEmptyOrder), errors.Is(err, order.ErrInvalidQuantity), errors.Is(err, order.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "product_id": nf.ProductID})
	case errors.As(err, &is):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "product_id": is.ProductID})
	case errors.Is(err, order.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
	case errors.As(err, &se):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporary storage failure, retry the request"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

//
// ---------- AUTH ----------
//

// registerHandler godoc
// @Summary Register a new user
// @Accept json
// @Produce json
// @Param body body user.RegisterRequest true "registration"
// @Success 201 {object} user.User
// @Failure 400 {object} catalog.HTTPError
// @Failure 409 {object} catalog.HTTPError
// @Router /register [post]
func registerHandler(svc *user.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req user.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		u, err := svc.Register(c.Request.Context(), req.Username, req.Email, req.Password)
		switch {
		case errors.Is(err, user.ErrMissingFields):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, user.ErrAlreadyExist):
			c.JSON(http.StatusConflict, gin.H{"error": "user exists (username/email)"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusCreated, u)
		}
	}
}

// loginHandler godoc
// @Summary Log in and obtain a session token
// @Accept json
// @Produce json
// @Param body body user.LoginRequest true "credentials"
// @Success 200 {object} user.LoginResponse
// @Failure 401 {object} catalog.HTTPError
// @Router /login [post]
func loginHandler(svc *user.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req user.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		token, u, err := svc.Login(c.Request.Context(), req.Email, req.Password)
		if errors.Is(err, user.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, user.LoginResponse{Token: token, User: *u})
	}
}

//
// ---------- CATALOG ----------
//

// listProductsHandler godoc
// @Summary List products with optional filters
// @Produce json
// @Param q query string false "name/description search"
// @Param category query string false "category filter"
// @Param min_price query string false "minimum price"
// @Param max_price query string false "maximum price"
// @Param limit query int false "page size"
// @Param offset query int false "page offset"
// @Success 200 {object} catalog.ListResponse
// @Router /products [get]
func listProductsHandler(repo catalog.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		q := catalog.Query{
			Q:        c.Query("q"),
			Category: c.Query("category"),
			MinPrice: c.Query("min_price"),
			MaxPrice: c.Query("max_price"),
			Limit:    limit,
			Offset:   offset,
		}
		items, err := repo.List(c.Request.Context(), q)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if items == nil {
			items = []catalog.Product{}
		}
		c.JSON(http.StatusOK, catalog.ListResponse{
			Q: q.Q, Category: q.Category, Limit: limit, Offset: offset, Items: items,
		})
	}
}

// getProductHandler godoc
// @Summary Get a product by id
// @Produce json
// @Param id path string true "product id"
// @Success 200 {object} catalog.Product
// @Failure 404 {object} catalog.HTTPError
// @Router /products/{id} [get]
func getProductHandler(repo catalog.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := repo.GetByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// randomProductHandler godoc
// @Summary Get one random in-stock product
// @Produce json
// @Success 200 {object} catalog.Product
// @Failure 404 {object} catalog.HTTPError
// @Router /products/random [get]
func randomProductHandler(repo catalog.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := repo.Random(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no items in stock"})
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// categoriesHandler godoc
// @Summary List distinct product categories
// @Produce json
// @Success 200 {array} string
// @Router /categories [get]
func categoriesHandler(repo catalog.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		cats, err := repo.Categories(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if cats == nil {
			cats = []string{}
		}
		c.JSON(http.StatusOK, cats)
	}
}

// createProductHandler godoc
// @Summary Create a product
// @Accept json
// @Produce json
// @Param body body catalog.CreateProductRequest true "product"
// @Success 201 {object} catalog.Product
// @Failure 400 {object} catalog.HTTPError
// @Router /products [post]
func createProductHandler(repo catalog.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req catalog.CreateProductRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		if req.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		price, err := decimal.NewFromString(req.Price)
		if err != nil || price.IsNegative() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "price must be a non-negative number"})
			return
		}
		if req.AvailableUnits < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "available_units must be non-negative"})
			return
		}
		p := &catalog.Product{
			ID:             uuid.NewString(),
			Name:           req.Name,
			Description:    req.Description,
			Category:       req.Category,
			Price:          price.StringFixed(2),
			AvailableUnits: req.AvailableUnits,
		}
		if err := repo.Create(c.Request.Context(), p); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, p)
	}
}

// updateProductHandler godoc
// @Summary Partially update a product
// @Accept json
// @Produce json
// @Param id path string true "product id"
// @Param body body catalog.UpdateProductRequest true "fields to change"
// @Success 200 {object} catalog.Product
// @Failure 400 {object} catalog.HTTPError
// @Failure 404 {object} catalog.HTTPError
// @Router /products/{id} [put]
func updateProductHandler(repo catalog.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var req catalog.UpdateProductRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		if _, err := repo.GetByID(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}

		p := &catalog.Product{
			ID:          id,
			Name:        req.Name,
			Description: req.Description,
			Category:    req.Category,
		}
		updatePrice := false
		if req.Price != "" {
			price, err := decimal.NewFromString(req.Price)
			if err != nil || price.IsNegative() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "price must be a non-negative number"})
				return
			}
			p.Price = price.StringFixed(2)
			updatePrice = true
		}
		updateUnits := false
		if req.AvailableUnits != nil {
			if *req.AvailableUnits < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "available_units must be non-negative"})
				return
			}
			p.AvailableUnits = *req.AvailableUnits
			updateUnits = true
		}
		if err := repo.Update(c.Request.Context(), p, updatePrice, updateUnits); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out, err := repo.GetByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// deleteProductHandler godoc
// @Summary Delete a product
// @Param id path string true "product id"
// @Success 204
// @Failure 404 {object} catalog.HTTPError
// @Router /products/{id} [delete]
func deleteProductHandler(repo catalog.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := repo.Delete(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

//
// ---------- CART ----------
//

// getCartHandler godoc
// @Summary Get the current user's cart joined with live product data
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string][]cart.Line
// @Router /cart [get]
func getCartHandler(svc *cart.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		lines, err := svc.Get(c.Request.Context(), currentUser(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if lines == nil {
			lines = []cart.Line{}
		}
		c.JSON(http.StatusOK, gin.H{"items": lines})
	}
}

// addToCartHandler godoc
// @Summary Add a product to the cart (quantity accumulates)
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body cart.AddRequest true "product and quantity"
// @Success 200 {object} map[string][]cart.Line
// @Failure 400 {object} catalog.HTTPError
// @Failure 404 {object} catalog.HTTPError
// @Router /cart [post]
func addToCartHandler(svc *cart.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req cart.AddRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		uid := currentUser(c)
		err := svc.Add(c.Request.Context(), uid, req.ProductID, req.Quantity)
		switch {
		case errors.Is(err, cart.ErrInvalidQuantity):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		case errors.Is(err, catalog.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "product not found", "product_id": req.ProductID})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		lines, err := svc.Get(c.Request.Context(), uid)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": lines})
	}
}

// setCartQuantityHandler godoc
// @Summary Set a cart entry's quantity; zero or less removes it
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param product_id path string true "product id"
// @Param body body cart.SetQuantityRequest true "quantity"
// @Success 200 {object} map[string][]cart.Line
// @Failure 404 {object} catalog.HTTPError
// @Router /cart/{product_id} [put]
func setCartQuantityHandler(svc *cart.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req cart.SetQuantityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		uid := currentUser(c)
		err := svc.SetQuantity(c.Request.Context(), uid, c.Param("product_id"), req.Quantity)
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		lines, err := svc.Get(c.Request.Context(), uid)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": lines})
	}
}

// removeFromCartHandler godoc
// @Summary Remove a product from the cart (idempotent)
// @Security BearerAuth
// @Param product_id path string true "product id"
// @Success 204
// @Router /cart/{product_id} [delete]
func removeFromCartHandler(svc *cart.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Remove(c.Request.Context(), currentUser(c), c.Param("product_id")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

//
// ---------- ORDERS ----------
//

// placeOrderHandler godoc
// @Summary Place an order from explicit items or the live cart
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body order.PlaceOrderRequest true "order intent"
// @Success 201 {object} order.Response
// @Failure 400 {object} catalog.HTTPError
// @Failure 404 {object} catalog.HTTPError
// @Failure 409 {object} catalog.HTTPError
// @Failure 503 {object} catalog.HTTPError
// @Router /orders [post]
func placeOrderHandler(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req order.PlaceOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		in := order.PlaceInput{
			FromCart:        req.FromCart,
			ShippingAddress: req.ShippingAddress,
			PaymentMethod:   req.PaymentMethod,
		}
		// Any price the client sent is dropped here; the catalog is the
		// only price authority.
		for _, it := range req.Items {
			in.Items = append(in.Items, order.ItemInput{ProductID: it.ProductID, Quantity: it.Quantity})
		}
		o, lines, err := svc.Place(c.Request.Context(), currentUser(c), in)
		if err != nil {
			orderError(c, err)
			return
		}
		c.JSON(http.StatusCreated, order.Response{Order: *o, Items: lines})
	}
}

// listOrdersHandler godoc
// @Summary List the current user's orders, newest first
// @Produce json
// @Security BearerAuth
// @Param limit query int false "page size"
// @Param offset query int false "page offset"
// @Success 200 {object} map[string][]order.Order
// @Router /orders [get]
func listOrdersHandler(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		out, err := svc.ListByUser(c.Request.Context(), currentUser(c), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if out == nil {
			out = []order.Order{}
		}
		c.JSON(http.StatusOK, gin.H{"items": out})
	}
}

// getOrderHandler godoc
// @Summary Get one of the current user's orders
// @Produce json
// @Security BearerAuth
// @Param id path string true "order id"
// @Success 200 {object} order.Response
// @Failure 404 {object} catalog.HTTPError
// @Router /orders/{id} [get]
func getOrderHandler(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, lines, err := svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil || o.UserID != currentUser(c) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusOK, order.Response{Order: *o, Items: lines})
	}
}

// getOrderItemsHandler godoc
// @Summary Get the lines of one of the current user's orders
// @Produce json
// @Security BearerAuth
// @Param id path string true "order id"
// @Success 200 {object} map[string][]order.Line
// @Failure 404 {object} catalog.HTTPError
// @Router /orders/{id}/items [get]
func getOrderItemsHandler(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, lines, err := svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil || o.UserID != currentUser(c) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": lines})
	}
}

// updateOrderStatusHandler godoc
// @Summary Transition an order's status; canceling restores availability
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "order id"
// @Param body body order.UpdateStatusRequest true "new status"
// @Success 200 {object} order.Order
// @Failure 400 {object} catalog.HTTPError
// @Failure 404 {object} catalog.HTTPError
// @Router /orders/{id}/status [put]
func updateOrderStatusHandler(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req order.UpdateStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		id := c.Param("id")
		if o, _, err := svc.Get(c.Request.Context(), id); err != nil || o.UserID != currentUser(c) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		o, err := svc.UpdateStatus(c.Request.Context(), id, req.Status)
		if err != nil {
			orderError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}
