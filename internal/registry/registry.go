// Package registry owns item entities and their lifecycle. Cross-entity
// transitions (delete cascade, selection) are delegated to the lifecycle
// coordinator; everything else is single-table and transacted here.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/giveq/giveq/internal/debug"
	"github.com/giveq/giveq/internal/errs"
	"github.com/giveq/giveq/internal/lifecycle"
	"github.com/giveq/giveq/internal/outbox"
	"github.com/giveq/giveq/internal/storage"
	"github.com/giveq/giveq/internal/types"
)

// Config tunes the registry.
type Config struct {
	// DefaultTTLDays is the expires_at horizon applied when a draft does
	// not name one.
	DefaultTTLDays int
	// MaxTTLDays is the upper clamp on caller-supplied TTLs.
	MaxTTLDays int
	// PageLimitMax clamps search page sizes.
	PageLimitMax int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{DefaultTTLDays: 14, MaxTTLDays: 90, PageLimitMax: types.PageSizeMax}
}

// Service is the item registry.
type Service struct {
	store storage.Storage
	coord *lifecycle.Coordinator
	cfg   Config
}

// New creates a Service. Zero config fields fall back to defaults.
func New(store storage.Storage, coord *lifecycle.Coordinator, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.DefaultTTLDays <= 0 {
		cfg.DefaultTTLDays = def.DefaultTTLDays
	}
	if cfg.MaxTTLDays <= 0 {
		cfg.MaxTTLDays = def.MaxTTLDays
	}
	if cfg.PageLimitMax <= 0 {
		cfg.PageLimitMax = def.PageLimitMax
	}
	return &Service{store: store, coord: coord, cfg: cfg}
}

// ItemDraft carries the caller-supplied fields for a new item.
type ItemDraft struct {
	Title               string
	Description         string
	ZipCode             string
	PickupNotes         string
	CategoryID          *string
	Location            *types.GeoPoint
	DaysUntilExpiration int // 0 means the configured default; clamped to (0, max]
}

// Create validates the draft and registers a new ACTIVE item.
func (s *Service) Create(ctx context.Context, owner string, draft ItemDraft) (*types.Item, error) {
	if owner == "" {
		return nil, errs.InvalidInput("owner is required",
			errs.FieldViolation{Field: "owner_id", Reason: "must not be empty"})
	}
	if draft.CategoryID != nil {
		cat, err := s.store.GetCategory(ctx, *draft.CategoryID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, errs.NotFound("category", *draft.CategoryID)
			}
			return nil, errs.Internal("create item", err)
		}
		if !cat.Active {
			return nil, errs.InvalidInput("category is not active",
				errs.FieldViolation{Field: "category_id", Reason: fmt.Sprintf("category %q is inactive", cat.Slug)})
		}
	}

	ttl := draft.DaysUntilExpiration
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTLDays
	}
	if ttl > s.cfg.MaxTTLDays {
		ttl = s.cfg.MaxTTLDays
	}

	now := time.Now().UTC()
	item := &types.Item{
		ID:          uuid.NewString(),
		OwnerID:     owner,
		CategoryID:  draft.CategoryID,
		Title:       draft.Title,
		Description: draft.Description,
		ZipCode:     draft.ZipCode,
		Location:    draft.Location,
		PickupNotes: draft.PickupNotes,
		Status:      types.ItemActive,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.AddDate(0, 0, ttl),
	}
	if err := item.Validate(); err != nil {
		return nil, errs.InvalidInput("invalid item", errs.FieldViolation{Field: "item", Reason: err.Error()})
	}

	err := s.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.InsertItem(ctx, item); err != nil {
			return err
		}
		return tx.AppendOutbox(ctx, outbox.KindItemCreated, outbox.ForItem(item, "", now))
	})
	if err != nil {
		return nil, errs.Internal("create item", err)
	}
	return item, nil
}

// ItemPatch carries partial updates. Nil pointers leave the field alone.
type ItemPatch struct {
	Title         *string
	Description   *string
	ZipCode       *string
	PickupNotes   *string
	CategoryID    *string
	ClearCategory bool // detach the category; mutually exclusive with CategoryID
	Location      *types.GeoPoint
	ClearLocation bool
}

// Update applies the patch to the actor's own item. Category changes are
// rejected with ConflictWithActiveClaims while the active set is
// non-empty; other fields are editable while the item is DRAFT or ACTIVE.
func (s *Service) Update(ctx context.Context, actor, id string, patch ItemPatch) (*types.Item, error) {
	var updated *types.Item
	err := s.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		// Category changes race with enqueues, so hold the queue lock.
		if err := tx.LockItemQueue(ctx, id); err != nil {
			return err
		}
		item, err := tx.GetItem(ctx, id)
		if err != nil {
			return mapNotFound(err, "item", id)
		}
		if item.OwnerID != actor {
			return errs.Forbidden("only the item owner may update it")
		}
		if item.Status != types.ItemDraft && item.Status != types.ItemActive {
			return errs.InvalidTransition("item %s is %s and cannot be edited", item.ID, item.Status)
		}

		if patch.CategoryID != nil || patch.ClearCategory {
			active, err := tx.ActiveClaims(ctx, item.ID)
			if err != nil {
				return err
			}
			if len(active) > 0 {
				return errs.ConflictWithActiveClaims("cannot change category of item %s: %d active claims", item.ID, len(active))
			}
			if patch.ClearCategory {
				item.CategoryID = nil
			} else {
				cat, err := s.store.GetCategory(ctx, *patch.CategoryID)
				if err != nil {
					return mapNotFound(err, "category", *patch.CategoryID)
				}
				if !cat.Active {
					return errs.InvalidInput("category is not active",
						errs.FieldViolation{Field: "category_id", Reason: fmt.Sprintf("category %q is inactive", cat.Slug)})
				}
				item.CategoryID = patch.CategoryID
			}
		}
		if patch.Title != nil {
			item.Title = *patch.Title
		}
		if patch.Description != nil {
			item.Description = *patch.Description
		}
		if patch.ZipCode != nil {
			item.ZipCode = *patch.ZipCode
		}
		if patch.PickupNotes != nil {
			item.PickupNotes = *patch.PickupNotes
		}
		if patch.ClearLocation {
			item.Location = nil
		} else if patch.Location != nil {
			item.Location = patch.Location
		}

		if err := item.Validate(); err != nil {
			return errs.InvalidInput("invalid item", errs.FieldViolation{Field: "item", Reason: err.Error()})
		}
		item.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateItem(ctx, item); err != nil {
			return err
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, errs.Internal("update item", err)
	}
	return updated, nil
}

// SoftDelete marks the item DELETED and expires all its non-terminal
// claims. Owner-only.
func (s *Service) SoftDelete(ctx context.Context, actor, id string) error {
	return s.coord.SoftDeleteItem(ctx, actor, id)
}

// Get fetches a single item.
func (s *Service) Get(ctx context.Context, id string) (*types.Item, error) {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return nil, errs.Internal("get item", mapNotFound(err, "item", id))
	}
	return item, nil
}

// GetWithQueue returns the item together with its queue summary. viewer
// may be empty; when set, the summary carries the viewer's position.
func (s *Service) GetWithQueue(ctx context.Context, id, viewer string) (*types.ItemWithQueue, error) {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return nil, errs.Internal("get item", mapNotFound(err, "item", id))
	}
	summary, err := s.store.GetQueueSummary(ctx, id, viewer)
	if err != nil {
		return nil, errs.Internal("get item queue", err)
	}
	return &types.ItemWithQueue{Item: item, Summary: summary}, nil
}

// RecordView bumps the advisory view counter. Best-effort: failures are
// logged and swallowed.
func (s *Service) RecordView(ctx context.Context, id string) {
	if err := s.store.IncrementViewCount(ctx, id); err != nil {
		debug.Logf("record view: %v\n", err)
	}
}

// Search returns claimable items matching the filter.
func (s *Service) Search(ctx context.Context, filter types.ItemFilter, page types.Page) ([]*types.Item, error) {
	filter, err := filter.Normalize(false)
	if err != nil {
		return nil, errs.InvalidInput("invalid search", errs.FieldViolation{Field: "sort", Reason: err.Error()})
	}
	items, err := s.store.SearchItems(ctx, filter, page.Clamp(s.cfg.PageLimitMax))
	if err != nil {
		return nil, errs.Internal("search items", err)
	}
	return items, nil
}

// FindNearby returns claimable items within the radius of the center,
// with distances. Items without a location are excluded.
func (s *Service) FindNearby(ctx context.Context, filter types.NearbyFilter, page types.Page) ([]*storage.NearbyItem, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return nil, errs.InvalidInput("invalid nearby search", errs.FieldViolation{Field: "location", Reason: err.Error()})
	}
	items, err := s.store.FindNearbyItems(ctx, filter, page.Clamp(s.cfg.PageLimitMax))
	if err != nil {
		return nil, errs.Internal("find nearby items", err)
	}
	return items, nil
}

// ListByOwner returns the owner's items.
func (s *Service) ListByOwner(ctx context.Context, owner string, filter types.OwnerFilter, page types.Page) ([]*types.Item, error) {
	items, err := s.store.ListItemsByOwner(ctx, owner, filter, page.Clamp(s.cfg.PageLimitMax))
	if err != nil {
		return nil, errs.Internal("list items", err)
	}
	return items, nil
}

// statusEdges enumerates the operator-visible item transitions. Claimed,
// expired and deleted are reached only through selection, reclamation and
// deletion respectively, never through ChangeStatus.
var statusEdges = map[types.ItemStatus]map[types.ItemStatus]string{
	types.ItemDraft:     {types.ItemActive: outbox.KindItemPublished},
	types.ItemActive:    {types.ItemSuspended: outbox.KindItemSuspended},
	types.ItemSuspended: {types.ItemActive: outbox.KindItemResumed},
}

// ChangeStatus performs an operator transition: publish a draft, suspend
// an active item, or resume a suspended one. Owner-only.
func (s *Service) ChangeStatus(ctx context.Context, actor, id string, to types.ItemStatus) (*types.Item, error) {
	if !to.IsValid() {
		return nil, errs.InvalidInput("invalid status",
			errs.FieldViolation{Field: "status", Reason: fmt.Sprintf("unknown status %q", to)})
	}
	var changed *types.Item
	err := s.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.LockItemQueue(ctx, id); err != nil {
			return err
		}
		item, err := tx.GetItem(ctx, id)
		if err != nil {
			return mapNotFound(err, "item", id)
		}
		if item.OwnerID != actor {
			return errs.Forbidden("only the item owner may change its status")
		}
		kind, ok := statusEdges[item.Status][to]
		if !ok {
			return errs.InvalidTransition("item %s cannot go from %s to %s", item.ID, item.Status, to)
		}
		now := time.Now().UTC()
		item.Status = to
		item.UpdatedAt = now
		if err := tx.UpdateItem(ctx, item); err != nil {
			return err
		}
		if err := tx.AppendOutbox(ctx, kind, outbox.ForItem(item, "", now)); err != nil {
			return err
		}
		changed = item
		return nil
	})
	if err != nil {
		return nil, errs.Internal("change item status", err)
	}
	return changed, nil
}

// CategoryDraft carries the caller-supplied fields for a new category.
type CategoryDraft struct {
	Name      string
	Slug      string // generated from Name when empty
	ParentID  *string
	SortOrder int
}

// CreateCategory registers a new active category.
func (s *Service) CreateCategory(ctx context.Context, draft CategoryDraft) (*types.Category, error) {
	if strings.TrimSpace(draft.Name) == "" {
		return nil, errs.InvalidInput("invalid category",
			errs.FieldViolation{Field: "name", Reason: "must not be empty"})
	}
	slug := draft.Slug
	if slug == "" {
		slug = slugify(draft.Name)
	}
	if draft.ParentID != nil {
		if _, err := s.store.GetCategory(ctx, *draft.ParentID); err != nil {
			return nil, errs.Internal("create category", mapNotFound(err, "category", *draft.ParentID))
		}
	}
	cat := &types.Category{
		ID:        uuid.NewString(),
		ParentID:  draft.ParentID,
		Name:      draft.Name,
		Slug:      slug,
		Active:    true,
		SortOrder: draft.SortOrder,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateCategory(ctx, cat); err != nil {
		return nil, errs.Internal("create category", err)
	}
	return cat, nil
}

// ListCategories returns active categories in display order.
func (s *Service) ListCategories(ctx context.Context) ([]*types.Category, error) {
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, errs.Internal("list categories", err)
	}
	return cats, nil
}

// slugify derives a URL-safe slug: lowercase, runs of non-alphanumerics
// collapsed to single hyphens.
func slugify(name string) string {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func mapNotFound(err error, kind, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errs.NotFound(kind, id)
	}
	return err
}
