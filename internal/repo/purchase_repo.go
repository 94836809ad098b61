// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Purchase
// aggregate (a purchase row plus its ordered item rows).
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a purchase is not found, functions return ErrNotFound
//     (an alias of gorm.ErrRecordNotFound).
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-purchases-api/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreatePurchase inserts p and its items in one transaction.
func CreatePurchase(ctx context.Context, db *gorm.DB, p *domain.Purchase) error {
	return db.WithContext(ctx).Create(p).Error
}

// GetPurchase fetches a purchase by id with items in their original order.
// If the record does not exist, it returns ErrNotFound.
func GetPurchase(ctx context.Context, db *gorm.DB, id string) (*domain.Purchase, error) {
	var p domain.Purchase
	err := db.WithContext(ctx).
		Preload("Items", orderItems).
		Where("id = ?", id).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	normalize(&p)
	return &p, nil
}

// ListPurchases returns every purchase in insertion order. It returns an
// empty slice when the table is empty.
func ListPurchases(ctx context.Context, db *gorm.DB) ([]domain.Purchase, error) {
	out := []domain.Purchase{}
	err := db.WithContext(ctx).
		Preload("Items", orderItems).
		Order("rowid asc").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	for i := range out {
		normalize(&out[i])
	}
	return out, nil
}

// UpdatePurchase replaces the mutable columns and the item set of an
// existing purchase. If no row matches p.ID, it returns ErrNotFound.
func UpdatePurchase(ctx context.Context, db *gorm.DB, p *domain.Purchase) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Purchase{}).
			Where("id = ?", p.ID).
			Updates(map[string]any{"user_id": p.UserID, "total": p.Total})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("purchase_id = ?", p.ID).Delete(&domain.PurchaseItem{}).Error; err != nil {
			return err
		}
		for i := range p.Items {
			p.Items[i].ID = 0
			p.Items[i].PurchaseID = p.ID
		}
		if len(p.Items) == 0 {
			return nil
		}
		return tx.Create(&p.Items).Error
	})
}

// DeletePurchase removes a purchase and its items. If no row matches id, it
// returns ErrNotFound.
func DeletePurchase(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("purchase_id = ?", id).Delete(&domain.PurchaseItem{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.Purchase{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func orderItems(tx *gorm.DB) *gorm.DB { return tx.Order("position asc") }

// normalize restores UTC on timestamps read back from SQLite, which may
// surface them in time.Local.
func normalize(p *domain.Purchase) {
	p.CreatedAt = p.CreatedAt.UTC()
	if p.Items == nil {
		p.Items = []domain.PurchaseItem{}
	}
}
