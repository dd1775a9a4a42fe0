package entity

import "time"

// Product is the catalogue snapshot a line or wishlist entry is built from.
type Product struct {
	ID        string  `json:"id"`
	Title     string  `json:"title,omitempty"`
	Price     float64 `json:"price"`
	Thumbnail string  `json:"thumbnail,omitempty"`
}

// Variant is the optional attribute set distinguishing lines of the same
// product. The zero value means "no variant".
type Variant struct {
	Size  string `json:"size,omitempty"`
	Color string `json:"color,omitempty"`
}

// Line is one cart entry. ID is the handle for updates and removal; the
// uniqueness key is (ProductRef, Variant).
type Line struct {
	ID         string    `json:"id"`
	ProductRef string    `json:"product_ref"`
	Title      string    `json:"title,omitempty"`
	Thumbnail  string    `json:"thumbnail,omitempty"`
	UnitPrice  float64   `json:"unit_price"`
	Quantity   int       `json:"quantity"`
	Variant    Variant   `json:"variant"`
	AddedAt    time.Time `json:"added_at"`
}

func (l Line) Matches(productRef string, v Variant) bool {
	return l.ProductRef == productRef && l.Variant == v
}

func (l Line) Subtotal() float64 {
	return l.UnitPrice * float64(l.Quantity)
}

// View is the read model of the active partition.
type View struct {
	Partition string    `json:"partition"`
	Lines     []Line    `json:"lines"`
	Total     float64   `json:"total"`
	Count     int       `json:"count"`
	Wishlist  []Product `json:"wishlist"`
}
