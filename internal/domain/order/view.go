package order

import "time"

// View is the externally visible form of an order. It carries no customer
// reference.
type View struct {
	ID        string
	Items     []LineItem
	CreatedAt time.Time
}

// NewView builds the external view of o without modifying it.
func NewView(o *Order) *View {
	items := make([]LineItem, len(o.Items))
	copy(items, o.Items)
	return &View{
		ID:        o.ID,
		Items:     items,
		CreatedAt: o.CreatedAt,
	}
}
