package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/banshee-data/spray.report/internal/spray"
)

const productColumns = `id, identity_key, start_unix_nano, end_unix_nano,
	gelcoat_material, barrier_material, comments, hidden`

// Products returns products with the given hidden flag in ID order.
func (db *DB) Products(ctx context.Context, hidden bool) ([]spray.Product, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+productColumns+` FROM products
		WHERE hidden = ? ORDER BY id`, boolInt(hidden))
	if err != nil {
		return nil, storeErr("list products", err)
	}
	defer rows.Close()
	var out []spray.Product
	for rows.Next() {
		var (
			p          spray.Product
			start, end int64
			h          int
		)
		if err := rows.Scan(&p.ID, &p.IdentityKey, &start, &end,
			&p.GelcoatMaterial, &p.BarrierMaterial, &p.Comments, &h); err != nil {
			return nil, storeErr("list products", err)
		}
		p.Start, p.End = fromNano(start), fromNano(end)
		p.Hidden = h != 0
		out = append(out, p)
	}
	return out, storeErr("list products", rows.Err())
}

// ReplaceProducts rebuilds the product table from products, numbering them
// 1..n. Comments and the hidden flag of a product whose IdentityKey was
// already stored are kept.
func (db *DB) ReplaceProducts(ctx context.Context, products []spray.Product) ([]spray.Product, error) {
	out := make([]spray.Product, len(products))
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		type edits struct {
			comments string
			hidden   bool
		}
		kept := map[string]edits{}
		rows, err := tx.QueryContext(ctx, `SELECT identity_key, comments, hidden FROM products`)
		if err != nil {
			return err
		}
		for rows.Next() {
			var (
				key, comments string
				hidden        int
			)
			if err := rows.Scan(&key, &comments, &hidden); err != nil {
				rows.Close()
				return err
			}
			kept[key] = edits{comments: comments, hidden: hidden != 0}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM products`); err != nil {
			return err
		}
		for i, p := range products {
			p.ID = int64(i + 1)
			if e, ok := kept[p.IdentityKey]; ok {
				p.Comments, p.Hidden = e.comments, e.hidden
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO products (`+productColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				p.ID, p.IdentityKey, toNano(p.Start), toNano(p.End),
				p.GelcoatMaterial, p.BarrierMaterial, p.Comments, boolInt(p.Hidden)); err != nil {
				return err
			}
			out[i] = p
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("replace products", err)
	}
	return out, nil
}

// SetProductHidden hides or restores a product.
func (db *DB) SetProductHidden(ctx context.Context, id int64, hidden bool) error {
	return db.updateOne(ctx, fmt.Sprintf("hide product %d", id),
		`UPDATE products SET hidden = ? WHERE id = ?`, boolInt(hidden), id)
}

// SetProductComment replaces the operator comment of a product.
func (db *DB) SetProductComment(ctx context.Context, id int64, comment string) error {
	return db.updateOne(ctx, fmt.Sprintf("comment product %d", id),
		`UPDATE products SET comments = ? WHERE id = ?`, comment, id)
}
