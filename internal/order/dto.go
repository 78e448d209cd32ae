package order

// PlaceOrderItem one requested line.
// The price field is accepted for wire compatibility with older clients and
// ignored: unit prices are always resolved from the catalog at placement time.
// swagger:model PlaceOrderItem
type PlaceOrderItem struct {
	ProductID string `json:"product_id" example:"4e7d4e5c-5cb9-4a3f-9f21-7e1a4f9f2b2a"`
	Quantity  int    `json:"quantity"   example:"2"`
	Price     string `json:"price,omitempty" example:"250.00"`
}

// PlaceOrderRequest payload for order placement. With from_cart the items
// list is ignored and the user's live cart is used as the order intent.
// swagger:model PlaceOrderRequest
type PlaceOrderRequest struct {
	FromCart        bool             `json:"from_cart"`
	Items           []PlaceOrderItem `json:"items"`
	ShippingAddress string           `json:"shipping_address" example:"Cra 7 # 12-34"`
	PaymentMethod   string           `json:"payment_method"   example:"cash"`
}

// UpdateStatusRequest payload for a status transition.
// swagger:model UpdateOrderStatusRequest
type UpdateStatusRequest struct {
	Status string `json:"status" example:"paid"`
}

// Response is an order with its lines.
// swagger:model OrderResponse
type Response struct {
	Order Order  `json:"order"`
	Items []Line `json:"items"`
}
