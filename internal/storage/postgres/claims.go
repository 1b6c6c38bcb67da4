package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/giveq/giveq/internal/storage"
	"github.com/giveq/giveq/internal/types"
)

const claimColumns = `id, item_id, user_id, queue_position, status, contact_method,
	preferred_pickup_date, claimer_notes, lister_notes, close_reason,
	created_at, updated_at, contacted_at, selected_at, completed_at, cancelled_at, skipped_at, expired_at`

// Qualified variant for joins against items, which shares several column names.
const claimColumnsQualified = `claims.id, claims.item_id, claims.user_id, claims.queue_position, claims.status, claims.contact_method,
	claims.preferred_pickup_date, claims.claimer_notes, claims.lister_notes, claims.close_reason,
	claims.created_at, claims.updated_at, claims.contacted_at, claims.selected_at, claims.completed_at, claims.cancelled_at, claims.skipped_at, claims.expired_at`

// Active-set predicate, shared by every queue query. Must stay in sync
// with the claims_item_position_active_key index predicate.
const activeSet = `status IN ('pending', 'contacted')`

const nonTerminal = `status NOT IN ('completed', 'cancelled', 'skipped', 'expired')`

func scanClaim(row scanner) (*types.Claim, error) {
	var c types.Claim
	err := row.Scan(
		&c.ID, &c.ItemID, &c.UserID, &c.QueuePosition, &c.Status, &c.ContactMethod,
		&c.PreferredPickupDate, &c.ClaimerNotes, &c.ListerNotes, &c.CloseReason,
		&c.CreatedAt, &c.UpdatedAt, &c.ContactedAt, &c.SelectedAt, &c.CompletedAt, &c.CancelledAt, &c.SkippedAt, &c.ExpiredAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

func scanClaims(ctx context.Context, q querier, query string, args ...any) ([]*types.Claim, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var claims []*types.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

func getClaim(ctx context.Context, q querier, id string) (*types.Claim, error) {
	row := q.QueryRow(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1`, id)
	c, err := scanClaim(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get claim %s: %w", id, err)
	}
	return c, nil
}

// GetClaim fetches a single claim by id.
func (s *Store) GetClaim(ctx context.Context, id string) (*types.Claim, error) {
	return getClaim(ctx, s.pool, id)
}

func (t *txn) GetClaim(ctx context.Context, id string) (*types.Claim, error) {
	return getClaim(ctx, t.q, id)
}

func (t *txn) InsertClaim(ctx context.Context, claim *types.Claim) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO claims (id, item_id, user_id, queue_position, status, contact_method,
			preferred_pickup_date, claimer_notes, lister_notes, close_reason,
			created_at, updated_at, contacted_at, selected_at, completed_at, cancelled_at, skipped_at, expired_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		claim.ID, claim.ItemID, claim.UserID, claim.QueuePosition, claim.Status, claim.ContactMethod,
		claim.PreferredPickupDate, claim.ClaimerNotes, claim.ListerNotes, claim.CloseReason,
		claim.CreatedAt, claim.UpdatedAt, claim.ContactedAt, claim.SelectedAt, claim.CompletedAt, claim.CancelledAt, claim.SkippedAt, claim.ExpiredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert claim %s: %w", claim.ID, mapError(err))
	}
	return nil
}

func (t *txn) UpdateClaim(ctx context.Context, claim *types.Claim) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE claims SET queue_position = $2, status = $3, contact_method = $4,
			preferred_pickup_date = $5, claimer_notes = $6, lister_notes = $7, close_reason = $8,
			updated_at = $9, contacted_at = $10, selected_at = $11, completed_at = $12,
			cancelled_at = $13, skipped_at = $14, expired_at = $15
		WHERE id = $1`,
		claim.ID, claim.QueuePosition, claim.Status, claim.ContactMethod,
		claim.PreferredPickupDate, claim.ClaimerNotes, claim.ListerNotes, claim.CloseReason,
		claim.UpdatedAt, claim.ContactedAt, claim.SelectedAt, claim.CompletedAt,
		claim.CancelledAt, claim.SkippedAt, claim.ExpiredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update claim %s: %w", claim.ID, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update claim %s: %w", claim.ID, storage.ErrNotFound)
	}
	return nil
}

func (t *txn) ActiveClaims(ctx context.Context, itemID string) ([]*types.Claim, error) {
	claims, err := scanClaims(ctx, t.q,
		`SELECT `+claimColumns+` FROM claims WHERE item_id = $1 AND `+activeSet+` ORDER BY queue_position, created_at`,
		itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active claims for item %s: %w", itemID, err)
	}
	return claims, nil
}

func (t *txn) NonTerminalClaims(ctx context.Context, itemID string) ([]*types.Claim, error) {
	claims, err := scanClaims(ctx, t.q,
		`SELECT `+claimColumns+` FROM claims WHERE item_id = $1 AND `+nonTerminal+` ORDER BY queue_position, created_at`,
		itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load non-terminal claims for item %s: %w", itemID, err)
	}
	return claims, nil
}

func (t *txn) NonTerminalClaimByUser(ctx context.Context, itemID, userID string) (*types.Claim, error) {
	row := t.q.QueryRow(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE item_id = $1 AND user_id = $2 AND `+nonTerminal,
		itemID, userID)
	c, err := scanClaim(row)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load claim for user %s on item %s: %w", userID, itemID, err)
	}
	return c, nil
}

func (t *txn) MaxActivePosition(ctx context.Context, itemID string) (int, error) {
	var max int
	err := t.q.QueryRow(ctx,
		`SELECT COALESCE(MAX(queue_position), 0) FROM claims WHERE item_id = $1 AND `+activeSet,
		itemID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read max position for item %s: %w", itemID, mapError(err))
	}
	return max, nil
}

func (t *txn) ShiftActivePositions(ctx context.Context, itemID string, offset int) error {
	_, err := t.q.Exec(ctx,
		`UPDATE claims SET queue_position = queue_position + $2 WHERE item_id = $1 AND `+activeSet,
		itemID, offset)
	if err != nil {
		return fmt.Errorf("failed to shift positions for item %s: %w", itemID, mapError(err))
	}
	return nil
}

func (t *txn) SetClaimPosition(ctx context.Context, claimID string, position int) error {
	_, err := t.q.Exec(ctx,
		`UPDATE claims SET queue_position = $2 WHERE id = $1`,
		claimID, position)
	if err != nil {
		return fmt.Errorf("failed to set position for claim %s: %w", claimID, mapError(err))
	}
	return nil
}

// GetQueue returns an item's claims ordered by (queue_position, created_at).
func (s *Store) GetQueue(ctx context.Context, itemID string, includeInactive bool) ([]*types.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE item_id = $1`
	if !includeInactive {
		query += ` AND ` + activeSet
	}
	query += ` ORDER BY queue_position, created_at`
	claims, err := scanClaims(ctx, s.pool, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue for item %s: %w", itemID, err)
	}
	return claims, nil
}

// GetQueueSummary computes queue counts in a single aggregate pass, plus
// the viewer's active position when a viewer is given.
func (s *Store) GetQueueSummary(ctx context.Context, itemID, viewer string) (types.QueueSummary, error) {
	var summary types.QueueSummary
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE `+activeSet+`)
		FROM claims WHERE item_id = $1`, itemID).
		Scan(&summary.TotalClaims, &summary.ActiveClaims)
	if err != nil {
		return summary, fmt.Errorf("failed to summarize queue for item %s: %w", itemID, mapError(err))
	}
	if viewer == "" {
		return summary, nil
	}
	var pos *int
	err = s.pool.QueryRow(ctx, `
		SELECT queue_position FROM claims
		WHERE item_id = $1 AND user_id = $2 AND `+activeSet, itemID, viewer).Scan(&pos)
	if err != nil {
		if errors.Is(mapError(err), storage.ErrNotFound) {
			return summary, nil
		}
		return summary, fmt.Errorf("failed to find viewer position for item %s: %w", itemID, mapError(err))
	}
	if pos != nil {
		wait := *pos - 1
		if wait < 0 {
			wait = 0
		}
		summary.ViewerPosition = pos
		summary.EstimatedWait = &wait
	}
	return summary, nil
}

// GetNextClaim returns the head of the active queue, or ErrNotFound when
// the active set is empty.
func (s *Store) GetNextClaim(ctx context.Context, itemID string) (*types.Claim, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE item_id = $1 AND `+activeSet+
			` ORDER BY queue_position, created_at LIMIT 1`, itemID)
	c, err := scanClaim(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get next claim for item %s: %w", itemID, err)
	}
	return c, nil
}

// ListClaimsByUser returns the user's claims, newest first.
func (s *Store) ListClaimsByUser(ctx context.Context, user string, filter types.ClaimFilter, page types.Page) ([]*types.Claim, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + claimColumns + ` FROM claims WHERE user_id = $1`)
	args := []any{user}
	if filter.ItemID != "" {
		args = append(args, filter.ItemID)
		fmt.Fprintf(&sb, ` AND item_id = $%d`, len(args))
	}
	if !filter.IncludeTerminal {
		sb.WriteString(` AND ` + nonTerminal)
	}
	fmt.Fprintf(&sb, ` ORDER BY created_at DESC LIMIT %d OFFSET %d`, page.Size, page.Offset())
	claims, err := scanClaims(ctx, s.pool, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims for user %s: %w", user, err)
	}
	return claims, nil
}

// ListClaimsForLister returns claims against the lister's items, ordered
// by item then queue position.
func (s *Store) ListClaimsForLister(ctx context.Context, owner string, filter types.ClaimFilter, page types.Page) ([]*types.Claim, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + claimColumnsQualified +
		` FROM claims JOIN items ON items.id = claims.item_id WHERE items.owner_id = $1`)
	args := []any{owner}
	if filter.ItemID != "" {
		args = append(args, filter.ItemID)
		fmt.Fprintf(&sb, ` AND claims.item_id = $%d`, len(args))
	}
	if !filter.IncludeTerminal {
		sb.WriteString(` AND claims.` + nonTerminal)
	}
	fmt.Fprintf(&sb, ` ORDER BY claims.item_id, claims.queue_position, claims.created_at LIMIT %d OFFSET %d`, page.Size, page.Offset())
	claims, err := scanClaims(ctx, s.pool, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims for lister %s: %w", owner, err)
	}
	return claims, nil
}

// CountExpiredItems counts ACTIVE items past their expiry horizon.
func (s *Store) CountExpiredItems(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM items WHERE status = 'active' AND expires_at < $1`, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count expired items: %w", mapError(err))
	}
	return n, nil
}

// CountStaleClaims counts active-set claims created before the cutoff.
func (s *Store) CountStaleClaims(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM claims WHERE `+activeSet+` AND created_at < $1`, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count stale claims: %w", mapError(err))
	}
	return n, nil
}

// CountArchivableItems counts terminal items older than the cutoff that
// have not yet been archived.
func (s *Store) CountArchivableItems(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM items
		 WHERE status IN ('claimed', 'expired') AND archived_at IS NULL AND updated_at < $1`, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count archivable items: %w", mapError(err))
	}
	return n, nil
}

// ListExpiredItemIDs returns ids of ACTIVE items past their expiry
// horizon, oldest first, up to limit.
func (s *Store) ListExpiredItemIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM items WHERE status = 'active' AND expires_at < $1 ORDER BY expires_at LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired items: %w", mapError(err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan item id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListStaleClaims returns active-set claims created before the cutoff,
// oldest first, up to limit.
func (s *Store) ListStaleClaims(ctx context.Context, cutoff time.Time, limit int) ([]*types.Claim, error) {
	claims, err := scanClaims(ctx, s.pool,
		`SELECT `+claimColumns+` FROM claims WHERE `+activeSet+` AND created_at < $1 ORDER BY created_at LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale claims: %w", err)
	}
	return claims, nil
}

// ArchiveTerminalItems stamps archived_at on terminal items older than the
// cutoff, returning how many were archived.
func (s *Store) ArchiveTerminalItems(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE items SET archived_at = now()
		WHERE id IN (
			SELECT id FROM items
			WHERE status IN ('claimed', 'expired') AND archived_at IS NULL AND updated_at < $1
			ORDER BY updated_at LIMIT $2
		)`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to archive items: %w", mapError(err))
	}
	return int(tag.RowsAffected()), nil
}
