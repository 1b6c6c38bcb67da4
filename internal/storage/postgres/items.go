package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/giveq/giveq/internal/storage"
	"github.com/giveq/giveq/internal/types"
)

const itemColumns = `id, owner_id, category_id, title, description, zip_code,
	lat, lon, pickup_notes, status, view_count, claim_count,
	created_at, updated_at, expires_at, claimed_at, expired_at, deleted_at, archived_at`

// scanner abstracts pgx.Row and pgx.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*types.Item, error) {
	var (
		item     types.Item
		lat, lon *float64
	)
	err := row.Scan(
		&item.ID, &item.OwnerID, &item.CategoryID, &item.Title, &item.Description, &item.ZipCode,
		&lat, &lon, &item.PickupNotes, &item.Status, &item.ViewCount, &item.ClaimCount,
		&item.CreatedAt, &item.UpdatedAt, &item.ExpiresAt, &item.ClaimedAt, &item.ExpiredAt, &item.DeletedAt, &item.ArchivedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	if lat != nil && lon != nil {
		item.Location = &types.GeoPoint{Lat: *lat, Lon: *lon}
	}
	return &item, nil
}

func getItem(ctx context.Context, q querier, id string) (*types.Item, error) {
	row := q.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id)
	item, err := scanItem(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get item %s: %w", id, err)
	}
	return item, nil
}

func insertItem(ctx context.Context, q querier, item *types.Item) error {
	var lat, lon *float64
	if item.Location != nil {
		lat, lon = &item.Location.Lat, &item.Location.Lon
	}
	_, err := q.Exec(ctx, `
		INSERT INTO items (id, owner_id, category_id, title, description, zip_code,
			lat, lon, pickup_notes, status, view_count, claim_count,
			created_at, updated_at, expires_at, claimed_at, expired_at, deleted_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		item.ID, item.OwnerID, item.CategoryID, item.Title, item.Description, item.ZipCode,
		lat, lon, item.PickupNotes, item.Status, item.ViewCount, item.ClaimCount,
		item.CreatedAt, item.UpdatedAt, item.ExpiresAt, item.ClaimedAt, item.ExpiredAt, item.DeletedAt, item.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert item %s: %w", item.ID, mapError(err))
	}
	return nil
}

func updateItem(ctx context.Context, q querier, item *types.Item) error {
	var lat, lon *float64
	if item.Location != nil {
		lat, lon = &item.Location.Lat, &item.Location.Lon
	}
	tag, err := q.Exec(ctx, `
		UPDATE items SET category_id = $2, title = $3, description = $4, zip_code = $5,
			lat = $6, lon = $7, pickup_notes = $8, status = $9,
			updated_at = $10, expires_at = $11, claimed_at = $12, expired_at = $13,
			deleted_at = $14, archived_at = $15
		WHERE id = $1`,
		item.ID, item.CategoryID, item.Title, item.Description, item.ZipCode,
		lat, lon, item.PickupNotes, item.Status,
		item.UpdatedAt, item.ExpiresAt, item.ClaimedAt, item.ExpiredAt,
		item.DeletedAt, item.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update item %s: %w", item.ID, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update item %s: %w", item.ID, storage.ErrNotFound)
	}
	return nil
}

// GetItem fetches a single item by id.
func (s *Store) GetItem(ctx context.Context, id string) (*types.Item, error) {
	return getItem(ctx, s.pool, id)
}

func (t *txn) GetItem(ctx context.Context, id string) (*types.Item, error) {
	return getItem(ctx, t.q, id)
}

func (t *txn) InsertItem(ctx context.Context, item *types.Item) error {
	return insertItem(ctx, t.q, item)
}

func (t *txn) UpdateItem(ctx context.Context, item *types.Item) error {
	return updateItem(ctx, t.q, item)
}

// orderColumn maps a whitelisted sort key to its SQL expression. The
// caller validates the whitelist; this is the last line of defense
// against interpolating anything user-controlled into ORDER BY.
func orderColumn(key types.SortKey) string {
	switch key {
	case types.SortTitle:
		return "title"
	case types.SortExpiresAt:
		return "expires_at"
	case types.SortDistance:
		return "distance_miles"
	default:
		return "created_at"
	}
}

func orderDir(dir types.SortDir) string {
	if dir == types.SortAsc {
		return "ASC"
	}
	return "DESC"
}

// SearchItems returns claimable items matching the filter. Only ACTIVE,
// unexpired items are ever returned.
func (s *Store) SearchItems(ctx context.Context, filter types.ItemFilter, page types.Page) ([]*types.Item, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + itemColumns + ` FROM items WHERE status = 'active' AND expires_at > now()`)
	args := []any{}
	if filter.Query != "" {
		args = append(args, filter.Query)
		fmt.Fprintf(&sb, ` AND to_tsvector('english', title || ' ' || description) @@ plainto_tsquery('english', $%d)`, len(args))
	}
	if filter.CategoryID != "" {
		args = append(args, filter.CategoryID)
		fmt.Fprintf(&sb, ` AND category_id = $%d`, len(args))
	}
	if filter.ZipCode != "" {
		args = append(args, filter.ZipCode)
		fmt.Fprintf(&sb, ` AND zip_code = $%d`, len(args))
	}
	fmt.Fprintf(&sb, ` ORDER BY %s %s LIMIT %d OFFSET %d`,
		orderColumn(filter.SortBy), orderDir(filter.SortDir), page.Size, page.Offset())

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search items: %w", mapError(err))
	}
	defer rows.Close()

	var items []*types.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// haversineMiles computes great-circle distance in statute miles between
// the bound center ($1 lat, $2 lon) and the item row. least() guards acos
// against floating-point drift past 1.0.
const haversineMiles = `3958.8 * acos(least(1.0,
	cos(radians($1)) * cos(radians(lat)) * cos(radians(lon) - radians($2))
	+ sin(radians($1)) * sin(radians(lat))))`

// FindNearbyItems returns claimable items within the filter radius of the
// center, with distances. Items without a location are excluded.
func (s *Store) FindNearbyItems(ctx context.Context, filter types.NearbyFilter, page types.Page) ([]*storage.NearbyItem, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT * FROM (SELECT ` + itemColumns + `, ` + haversineMiles + ` AS distance_miles
		FROM items
		WHERE status = 'active' AND expires_at > now() AND lat IS NOT NULL`)
	args := []any{filter.Center.Lat, filter.Center.Lon}
	if filter.Query != "" {
		args = append(args, filter.Query)
		fmt.Fprintf(&sb, ` AND to_tsvector('english', title || ' ' || description) @@ plainto_tsquery('english', $%d)`, len(args))
	}
	if filter.CategoryID != "" {
		args = append(args, filter.CategoryID)
		fmt.Fprintf(&sb, ` AND category_id = $%d`, len(args))
	}
	if filter.ZipCode != "" {
		args = append(args, filter.ZipCode)
		fmt.Fprintf(&sb, ` AND zip_code = $%d`, len(args))
	}
	args = append(args, filter.RadiusMiles)
	fmt.Fprintf(&sb, `) candidates WHERE distance_miles <= $%d ORDER BY %s %s LIMIT %d OFFSET %d`,
		len(args), orderColumn(filter.SortBy), orderDir(filter.SortDir), page.Size, page.Offset())

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find nearby items: %w", mapError(err))
	}
	defer rows.Close()

	var results []*storage.NearbyItem
	for rows.Next() {
		var (
			item     types.Item
			lat, lon *float64
			distance float64
		)
		err := rows.Scan(
			&item.ID, &item.OwnerID, &item.CategoryID, &item.Title, &item.Description, &item.ZipCode,
			&lat, &lon, &item.PickupNotes, &item.Status, &item.ViewCount, &item.ClaimCount,
			&item.CreatedAt, &item.UpdatedAt, &item.ExpiresAt, &item.ClaimedAt, &item.ExpiredAt, &item.DeletedAt, &item.ArchivedAt,
			&distance,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan nearby item: %w", mapError(err))
		}
		if lat != nil && lon != nil {
			item.Location = &types.GeoPoint{Lat: *lat, Lon: *lon}
		}
		results = append(results, &storage.NearbyItem{Item: &item, DistanceMiles: distance})
	}
	return results, rows.Err()
}

// ListItemsByOwner returns the owner's items, newest first, optionally
// narrowed to one status.
func (s *Store) ListItemsByOwner(ctx context.Context, owner string, filter types.OwnerFilter, page types.Page) ([]*types.Item, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + itemColumns + ` FROM items WHERE owner_id = $1`)
	args := []any{owner}
	if filter.Status != "" {
		args = append(args, filter.Status)
		fmt.Fprintf(&sb, ` AND status = $%d`, len(args))
	}
	fmt.Fprintf(&sb, ` ORDER BY created_at DESC LIMIT %d OFFSET %d`, page.Size, page.Offset())

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items for owner %s: %w", owner, mapError(err))
	}
	defer rows.Close()

	var items []*types.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// IncrementViewCount bumps the advisory view counter. Best-effort: callers
// run this outside critical transactions and may discard the error.
func (s *Store) IncrementViewCount(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE items SET view_count = view_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to bump view count for %s: %w", id, mapError(err))
	}
	return nil
}

// IncrementClaimCount adjusts the advisory claim counter by delta.
func (s *Store) IncrementClaimCount(ctx context.Context, id string, delta int) error {
	_, err := s.pool.Exec(ctx, `UPDATE items SET claim_count = greatest(0, claim_count + $2) WHERE id = $1`, id, delta)
	if err != nil {
		return fmt.Errorf("failed to bump claim count for %s: %w", id, mapError(err))
	}
	return nil
}
