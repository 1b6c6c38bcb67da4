package postgres

import (
	"context"
	"fmt"

	"github.com/giveq/giveq/internal/types"
)

const categoryColumns = `id, parent_id, name, slug, active, sort_order, created_at`

func scanCategory(row scanner) (*types.Category, error) {
	var c types.Category
	err := row.Scan(&c.ID, &c.ParentID, &c.Name, &c.Slug, &c.Active, &c.SortOrder, &c.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

// CreateCategory inserts a category.
func (s *Store) CreateCategory(ctx context.Context, cat *types.Category) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO categories (id, parent_id, name, slug, active, sort_order, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		cat.ID, cat.ParentID, cat.Name, cat.Slug, cat.Active, cat.SortOrder, cat.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert category %s: %w", cat.ID, mapError(err))
	}
	return nil
}

// GetCategory fetches a category by id.
func (s *Store) GetCategory(ctx context.Context, id string) (*types.Category, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id)
	c, err := scanCategory(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get category %s: %w", id, err)
	}
	return c, nil
}

// ListCategories returns active categories ordered by sort_order, then name.
func (s *Store) ListCategories(ctx context.Context) ([]*types.Category, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE active ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", mapError(err))
	}
	defer rows.Close()

	var cats []*types.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}
