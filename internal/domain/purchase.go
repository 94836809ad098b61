// Package domain defines the purchase record model shared by the store,
// service, and HTTP layers. The same types carry the JSON view returned by
// the API and the GORM mapping used by the SQLite store.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// StatusConfirmed is the only state a purchase can reach.
	StatusConfirmed = "CONFIRMED"

	// UnknownProductID is stored when a line item carries no product_id.
	UnknownProductID = "unknown"
)

// PurchaseItem is one line of a purchase. Items have no identity outside
// their parent purchase; the ID, PurchaseID and Position columns exist only
// for the relational store and are hidden from JSON.
type PurchaseItem struct {
	ID         uint    `json:"-"          gorm:"primaryKey;autoIncrement"`
	PurchaseID string  `json:"-"          gorm:"type:char(36);not null;index:idx_purchase_items,priority:1"`
	Position   int     `json:"-"          gorm:"not null;index:idx_purchase_items,priority:2"`
	ProductID  string  `json:"product_id" gorm:"type:varchar(255);not null"`
	Price      float64 `json:"price"      gorm:"not null"`
	Quantity   int     `json:"quantity"   gorm:"not null"`
}

// TableName returns the database table name for PurchaseItem.
func (PurchaseItem) TableName() string { return "purchase_items" }

// Purchase is a finalized order owned by a user.
//
// Fields:
//   - ID: UUID assigned at creation, immutable.
//   - UserID: opaque identifier of the purchasing user.
//   - Items: ordered line items, in request order.
//   - Total: sum of price*quantity over Items, rounded to 2 decimals.
//   - CreatedAt: UTC creation instant, immutable.
//   - Status: always StatusConfirmed.
type Purchase struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string         `json:"user_id"    gorm:"type:varchar(255);not null;index:idx_purchases_user"`
	Items     []PurchaseItem `json:"items"      gorm:"foreignKey:PurchaseID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Total     float64        `json:"total"      gorm:"not null"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null"`
	Status    string         `json:"status"     gorm:"type:varchar(32);not null"`
}

// TableName returns the database table name for Purchase.
func (Purchase) TableName() string { return "purchases" }

// NewPurchase builds a confirmed purchase from already validated items.
// The items are copied, re-positioned, and bound to id; the total is derived
// from them. It is the only way the service obtains a Purchase.
func NewPurchase(id, userID string, items []PurchaseItem, createdAt time.Time) *Purchase {
	own := make([]PurchaseItem, len(items))
	for i, it := range items {
		own[i] = PurchaseItem{
			PurchaseID: id,
			Position:   i,
			ProductID:  it.ProductID,
			Price:      it.Price,
			Quantity:   it.Quantity,
		}
	}
	return &Purchase{
		ID:        id,
		UserID:    userID,
		Items:     own,
		Total:     ComputeTotal(own),
		CreatedAt: createdAt.UTC(),
		Status:    StatusConfirmed,
	}
}

// ComputeTotal sums price*quantity over items in decimal arithmetic and
// rounds the result to 2 places (half away from zero).
func ComputeTotal(items []PurchaseItem) float64 {
	sum := decimal.Zero
	for _, it := range items {
		line := decimal.NewFromFloat(it.Price).Mul(decimal.NewFromInt(int64(it.Quantity)))
		sum = sum.Add(line)
	}
	return sum.Round(2).InexactFloat64()
}

// Clone returns a deep copy of p. Stores hand out clones so callers can never
// mutate a stored record.
func (p *Purchase) Clone() *Purchase {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Items != nil {
		cp.Items = make([]PurchaseItem, len(p.Items))
		copy(cp.Items, p.Items)
	}
	return &cp
}
