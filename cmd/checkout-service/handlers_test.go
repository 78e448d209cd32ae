package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/MikeMC777/checkout/internal/cart"
	"github.com/MikeMC777/checkout/internal/catalog"
	"github.com/MikeMC777/checkout/internal/httpx"
	"github.com/MikeMC777/checkout/internal/locks"
	"github.com/MikeMC777/checkout/internal/order"
	"github.com/MikeMC777/checkout/internal/user"
)

func init() {
	gin.SetMode(gin.TestMode)
	gin.DefaultWriter = io.Discard
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

//
// ---------- STUBS ----------
//

type stubCatalog struct {
	mu       sync.Mutex
	products map[string]*catalog.Product
}

func newStubCatalog(products ...*catalog.Product) *stubCatalog {
	s := &stubCatalog{products: make(map[string]*catalog.Product)}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

func (s *stubCatalog) Create(_ context.Context, p *catalog.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	return nil
}

func (s *stubCatalog) GetByID(_ context.Context, id string) (*catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return p, nil
}

func (s *stubCatalog) List(_ context.Context, _ catalog.Query) ([]catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []catalog.Product
	for _, p := range s.products {
		out = append(out, *p)
	}
	return out, nil
}

func (s *stubCatalog) Categories(context.Context) ([]string, error) { return nil, nil }

func (s *stubCatalog) Random(_ context.Context) (*catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.AvailableUnits > 0 {
			return p, nil
		}
	}
	return nil, catalog.ErrNotFound
}

func (s *stubCatalog) Update(_ context.Context, p *catalog.Product, updatePrice, updateUnits bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.products[p.ID]
	if !ok {
		return catalog.ErrNotFound
	}
	cur.Name, cur.Description, cur.Category = p.Name, p.Description, p.Category
	if updatePrice {
		cur.Price = p.Price
	}
	if updateUnits {
		cur.AvailableUnits = p.AvailableUnits
	}
	return nil
}

func (s *stubCatalog) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.products[id]
	delete(s.products, id)
	return ok, nil
}

type stubCartRepo struct {
	mu      sync.Mutex
	catalog *stubCatalog
	entries map[string]map[string]int
}

func newStubCartRepo(cat *stubCatalog) *stubCartRepo {
	return &stubCartRepo{catalog: cat, entries: make(map[string]map[string]int)}
}

func (s *stubCartRepo) user(userID string) map[string]int {
	if s.entries[userID] == nil {
		s.entries[userID] = make(map[string]int)
	}
	return s.entries[userID]
}

func (s *stubCartRepo) Add(_ context.Context, userID, productID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user(userID)[productID] += qty
	return nil
}

func (s *stubCartRepo) SetQuantity(_ context.Context, userID, productID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user(userID)[productID] = qty
	return nil
}

func (s *stubCartRepo) Delete(_ context.Context, userID, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.user(userID), productID)
	return nil
}

func (s *stubCartRepo) List(ctx context.Context, userID string) ([]cart.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []cart.Line
	for id, qty := range s.user(userID) {
		p, err := s.catalog.GetByID(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, cart.Line{
			ProductID:      id,
			Name:           p.Name,
			Price:          p.Price,
			AvailableUnits: p.AvailableUnits,
			Quantity:       qty,
		})
	}
	return out, nil
}

// stubOrderRepo backs the placement transaction in memory. WithTx restores a
// snapshot on failure, matching the rollback of the real transaction.
type stubOrderRepo struct {
	mu      sync.Mutex
	catalog *stubCatalog
	cart    *stubCartRepo
	orders  map[string]*order.Order
	lines   map[string][]order.Line
}

func newStubOrderRepo(cat *stubCatalog, cr *stubCartRepo) *stubOrderRepo {
	return &stubOrderRepo{
		catalog: cat,
		cart:    cr,
		orders:  make(map[string]*order.Order),
		lines:   make(map[string][]order.Line),
	}
}

func (s *stubOrderRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	units := make(map[string]int)
	for id, p := range s.catalog.products {
		units[id] = p.AvailableUnits
	}
	carts := make(map[string]map[string]int)
	for uid, m := range s.cart.entries {
		cp := make(map[string]int, len(m))
		for k, v := range m {
			cp[k] = v
		}
		carts[uid] = cp
	}

	if err := fn(ctx); err != nil {
		for id, n := range units {
			s.catalog.products[id].AvailableUnits = n
		}
		s.cart.entries = carts
		return err
	}
	return nil
}

func (s *stubOrderRepo) CartSnapshot(_ context.Context, userID string) ([]order.ItemInput, error) {
	var out []order.ItemInput
	for id, qty := range s.cart.entries[userID] {
		out = append(out, order.ItemInput{ProductID: id, Quantity: qty})
	}
	return out, nil
}

func (s *stubOrderRepo) GetProductForUpdate(_ context.Context, productID string) (*catalog.Product, error) {
	p, ok := s.catalog.products[productID]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *stubOrderRepo) Insert(_ context.Context, o *order.Order, lines []order.Line) error {
	cp := *o
	s.orders[o.ID] = &cp
	s.lines[o.ID] = append([]order.Line(nil), lines...)
	return nil
}

func (s *stubOrderRepo) AdjustStock(_ context.Context, productID string, delta int) error {
	p, ok := s.catalog.products[productID]
	if !ok {
		return catalog.ErrNotFound
	}
	p.AvailableUnits += delta
	return nil
}

func (s *stubOrderRepo) ClearCartEntries(_ context.Context, userID string, productIDs []string) error {
	for _, id := range productIDs {
		delete(s.cart.entries[userID], id)
	}
	return nil
}

func (s *stubOrderRepo) GetByID(_ context.Context, id string) (*order.Order, []order.Line, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, nil, order.ErrNotFound
	}
	cp := *o
	return &cp, append([]order.Line(nil), s.lines[id]...), nil
}

func (s *stubOrderRepo) ListByUser(_ context.Context, userID string, limit, offset int) ([]order.Order, error) {
	var out []order.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *stubOrderRepo) GetLines(_ context.Context, orderID string) ([]order.Line, error) {
	return append([]order.Line(nil), s.lines[orderID]...), nil
}

func (s *stubOrderRepo) UpdateStatus(_ context.Context, id, status string) error {
	o, ok := s.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.Status = status
	return nil
}

//
// ---------- FIXTURE ----------
//

type fixture struct {
	router    *gin.Engine
	catalog   *stubCatalog
	cartRepo  *stubCartRepo
	orderRepo *stubOrderRepo
}

// asUser stands in for httpx.Auth on authed routes.
func asUser(uid string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(httpx.UserIDKey, uid)
		c.Next()
	}
}

func newFixture(uid string, products ...*catalog.Product) *fixture {
	cat := newStubCatalog(products...)
	cartRepo := newStubCartRepo(cat)
	orderRepo := newStubOrderRepo(cat, cartRepo)
	keyed := locks.NewKeyed()
	cartSvc := cart.NewService(cartRepo, cat, keyed)
	orderSvc := order.NewService(orderRepo, keyed, nil)

	r := gin.New()
	r.GET("/products", listProductsHandler(cat))
	r.GET("/products/:id", getProductHandler(cat))
	r.POST("/products", createProductHandler(cat))

	authed := r.Group("/", asUser(uid))
	authed.GET("/cart", getCartHandler(cartSvc))
	authed.POST("/cart", addToCartHandler(cartSvc))
	authed.DELETE("/cart/:product_id", removeFromCartHandler(cartSvc))
	authed.POST("/orders", placeOrderHandler(orderSvc))
	authed.GET("/orders/:id", getOrderHandler(orderSvc))
	authed.PUT("/orders/:id/status", updateOrderStatusHandler(orderSvc))

	return &fixture{router: r, catalog: cat, cartRepo: cartRepo, orderRepo: orderRepo}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func espresso() *catalog.Product {
	return &catalog.Product{ID: "espresso", Name: "Espresso", Price: "250.00", AvailableUnits: 5}
}

//
// ---------- TESTS ----------
//

func TestGetProductHandler(t *testing.T) {
	f := newFixture("u1", espresso())

	w := f.do(t, http.MethodGet, "/products/espresso", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, expected 200", w.Code)
	}
	var p catalog.Product
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Price != "250.00" {
		t.Fatalf("price=%s, expected 250.00", p.Price)
	}

	if w := f.do(t, http.MethodGet, "/products/ghost", nil); w.Code != http.StatusNotFound {
		t.Fatalf("status=%d, expected 404", w.Code)
	}
}

func TestCreateProductHandler_Validation(t *testing.T) {
	f := newFixture("u1")

	cases := []struct {
		name string
		body gin.H
	}{
		{"missing name", gin.H{"price": "10.00"}},
		{"bad price", gin.H{"name": "x", "price": "abc"}},
		{"negative price", gin.H{"name": "x", "price": "-1"}},
		{"negative units", gin.H{"name": "x", "price": "10.00", "available_units": -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := f.do(t, http.MethodPost, "/products", tc.body); w.Code != http.StatusBadRequest {
				t.Fatalf("status=%d, expected 400", w.Code)
			}
		})
	}
}

func TestAddToCartHandler(t *testing.T) {
	f := newFixture("u1", espresso())

	w := f.do(t, http.MethodPost, "/cart", cart.AddRequest{ProductID: "espresso", Quantity: 2})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Items []cart.Line `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Quantity != 2 || resp.Items[0].Price != "250.00" {
		t.Fatalf("unexpected items: %+v", resp.Items)
	}

	if w := f.do(t, http.MethodPost, "/cart", cart.AddRequest{ProductID: "ghost", Quantity: 1}); w.Code != http.StatusNotFound {
		t.Fatalf("status=%d, expected 404 for unknown product", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/cart", cart.AddRequest{ProductID: "espresso", Quantity: 0}); w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, expected 400 for zero quantity", w.Code)
	}
}

func TestRemoveFromCartHandler_Idempotent(t *testing.T) {
	f := newFixture("u1", espresso())

	f.do(t, http.MethodPost, "/cart", cart.AddRequest{ProductID: "espresso", Quantity: 1})
	for i := 0; i < 2; i++ {
		if w := f.do(t, http.MethodDelete, "/cart/espresso", nil); w.Code != http.StatusNoContent {
			t.Fatalf("remove %d: status=%d, expected 204", i, w.Code)
		}
	}
}

func TestPlaceOrderHandler(t *testing.T) {
	t.Run("places from cart", func(t *testing.T) {
		f := newFixture("u1", espresso())
		f.do(t, http.MethodPost, "/cart", cart.AddRequest{ProductID: "espresso", Quantity: 2})

		w := f.do(t, http.MethodPost, "/orders", order.PlaceOrderRequest{FromCart: true})
		if w.Code != http.StatusCreated {
			t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
		}
		var resp order.Response
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Order.Total != "500.00" || resp.Order.Status != order.StatusPending {
			t.Fatalf("unexpected order: %+v", resp.Order)
		}
		if got := f.catalog.products["espresso"].AvailableUnits; got != 3 {
			t.Fatalf("available_units=%d, expected 3", got)
		}
		if len(f.cartRepo.entries["u1"]) != 0 {
			t.Fatalf("cart not cleared")
		}
	})

	t.Run("client price is ignored", func(t *testing.T) {
		f := newFixture("u1", espresso())

		w := f.do(t, http.MethodPost, "/orders", order.PlaceOrderRequest{
			Items: []order.PlaceOrderItem{{ProductID: "espresso", Quantity: 1, Price: "0.01"}},
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
		}
		var resp order.Response
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Order.Total != "250.00" || resp.Items[0].UnitPrice != "250.00" {
			t.Fatalf("catalog price not authoritative: total=%s unit=%s", resp.Order.Total, resp.Items[0].UnitPrice)
		}
	})

	t.Run("insufficient stock is a conflict", func(t *testing.T) {
		f := newFixture("u1", espresso())

		w := f.do(t, http.MethodPost, "/orders", order.PlaceOrderRequest{
			Items: []order.PlaceOrderItem{{ProductID: "espresso", Quantity: 6}},
		})
		if w.Code != http.StatusConflict {
			t.Fatalf("status=%d, expected 409", w.Code)
		}
		if got := f.catalog.products["espresso"].AvailableUnits; got != 5 {
			t.Fatalf("available_units=%d, expected 5 after abort", got)
		}
	})

	t.Run("unknown product is not found", func(t *testing.T) {
		f := newFixture("u1", espresso())

		w := f.do(t, http.MethodPost, "/orders", order.PlaceOrderRequest{
			Items: []order.PlaceOrderItem{{ProductID: "ghost", Quantity: 1}},
		})
		if w.Code != http.StatusNotFound {
			t.Fatalf("status=%d, expected 404", w.Code)
		}
	})

	t.Run("empty intent is a bad request", func(t *testing.T) {
		f := newFixture("u1")

		if w := f.do(t, http.MethodPost, "/orders", order.PlaceOrderRequest{}); w.Code != http.StatusBadRequest {
			t.Fatalf("status=%d, expected 400", w.Code)
		}
	})
}

func TestGetOrderHandler_Ownership(t *testing.T) {
	f := newFixture("u1", espresso())

	w := f.do(t, http.MethodPost, "/orders", order.PlaceOrderRequest{
		Items: []order.PlaceOrderItem{{ProductID: "espresso", Quantity: 1}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("place: status=%d", w.Code)
	}
	var resp order.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if w := f.do(t, http.MethodGet, "/orders/"+resp.Order.ID, nil); w.Code != http.StatusOK {
		t.Fatalf("owner read: status=%d, expected 200", w.Code)
	}

	// Same stubs, different authenticated user: the order must look absent.
	other := &fixture{router: gin.New(), catalog: f.catalog, cartRepo: f.cartRepo, orderRepo: f.orderRepo}
	orderSvc := order.NewService(f.orderRepo, locks.NewKeyed(), nil)
	other.router.GET("/orders/:id", asUser("u2"), getOrderHandler(orderSvc))
	if w := other.do(t, http.MethodGet, "/orders/"+resp.Order.ID, nil); w.Code != http.StatusNotFound {
		t.Fatalf("other user read: status=%d, expected 404", w.Code)
	}
}

func TestUpdateOrderStatusHandler(t *testing.T) {
	f := newFixture("u1", espresso())

	w := f.do(t, http.MethodPost, "/orders", order.PlaceOrderRequest{
		Items: []order.PlaceOrderItem{{ProductID: "espresso", Quantity: 2}},
	})
	var resp order.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if w := f.do(t, http.MethodPut, "/orders/"+resp.Order.ID+"/status", order.UpdateStatusRequest{Status: "nope"}); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid status: status=%d, expected 400", w.Code)
	}

	w = f.do(t, http.MethodPut, "/orders/"+resp.Order.ID+"/status", order.UpdateStatusRequest{Status: order.StatusCanceled})
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: status=%d body=%s", w.Code, w.Body.String())
	}
	if got := f.catalog.products["espresso"].AvailableUnits; got != 5 {
		t.Fatalf("available_units=%d, expected restock to 5", got)
	}
}

func TestAuthMiddleware(t *testing.T) {
	r := gin.New()
	validate := func(_ context.Context, token string) (string, error) {
		if token == "good" {
			return "u1", nil
		}
		return "", user.ErrNoSession
	}
	r.GET("/me", httpx.Auth(validate), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString(httpx.UserIDKey)})
	})

	cases := []struct {
		name   string
		header string
		code   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"good token", "Bearer good", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.code {
				t.Fatalf("status=%d, expected %d", w.Code, tc.code)
			}
		})
	}
}
