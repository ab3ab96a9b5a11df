package jobs

import (
	"context"

	"github.com/banshee-data/spray.report/internal/history"
	"github.com/banshee-data/spray.report/internal/monitoring"
	"github.com/banshee-data/spray.report/internal/spray"
)

// ProductStore is the part of the store product derivation needs.
type ProductStore interface {
	Sessions(ctx context.Context, trashed bool) ([]spray.Session, error)
	ReplaceProducts(ctx context.Context, products []spray.Product) ([]spray.Product, error)
}

// UpdateProducts derives products from the non-trashed sessions and
// replaces the product table with them.
func UpdateProducts(ctx context.Context, store ProductStore) ([]spray.Product, error) {
	sessions, err := store.Sessions(ctx, false)
	if err != nil {
		return nil, err
	}
	products, err := store.ReplaceProducts(ctx, history.DeriveProducts(sessions))
	if err != nil {
		return nil, err
	}
	monitoring.Logf("products: %d products from %d sessions", len(products), len(sessions))
	return products, nil
}
