package models

import "time"

// CatalogEntry is a node in the product tree. Children reference their parent
// through ParentID; a parent never lists its children.
type CatalogEntry struct {
	ID              string    `json:"id" yaml:"id"`
	Name            string    `json:"name" yaml:"name"`
	ParentID        string    `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Aliases         []string  `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Family          string    `json:"family,omitempty" yaml:"family,omitempty"`
	Category        string    `json:"category,omitempty" yaml:"category,omitempty"`
	Size            string    `json:"size,omitempty" yaml:"size,omitempty"`
	Percentage      int       `json:"percentage,omitempty" yaml:"percentage,omitempty"`
	Color           string    `json:"color,omitempty" yaml:"color,omitempty"`
	Sellable        bool      `json:"sellable" yaml:"sellable"`
	Active          bool      `json:"active" yaml:"active"`
	Wholesale       bool      `json:"wholesale,omitempty" yaml:"wholesale,omitempty"`
	Price           float64   `json:"price,omitempty" yaml:"price,omitempty"`
	WholesaleMinQty int       `json:"wholesale_min_qty,omitempty" yaml:"wholesale_min_qty,omitempty"`
	WholesalePrice  float64   `json:"wholesale_price,omitempty" yaml:"wholesale_price,omitempty"`
	PurchaseURL     string    `json:"purchase_url,omitempty" yaml:"purchase_url,omitempty"`
	UpdatedAt       time.Time `json:"updated_at" yaml:"-"`
}

// CatalogFilter narrows catalog reads.
type CatalogFilter struct {
	SellableOnly bool
	ActiveOnly   bool
}
