package cart

import "time"

type Entry struct {
	UserID    string    `json:"user_id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Line is a cart entry joined with the live product record for display.
// Price and availability are the catalog's current values, not a snapshot.
type Line struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	Price          string `json:"price"`
	AvailableUnits int    `json:"available_units"`
	Quantity       int    `json:"quantity"`
}

// AddRequest payload for adding a product to the cart.
// swagger:model AddToCartRequest
type AddRequest struct {
	ProductID string `json:"product_id" example:"4e7d4e5c-5cb9-4a3f-9f21-7e1a4f9f2b2a"`
	Quantity  int    `json:"quantity"   example:"2"`
}

// SetQuantityRequest payload for setting an entry's quantity.
// swagger:model SetCartQuantityRequest
type SetQuantityRequest struct {
	Quantity int `json:"quantity" example:"3"`
}
