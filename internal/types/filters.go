package types

import "fmt"

// SortKey names a whitelisted item sort column.
type SortKey string

// Whitelisted sort keys. Any other key is rejected as invalid input.
const (
	SortCreatedAt SortKey = "created_at"
	SortTitle     SortKey = "title"
	SortExpiresAt SortKey = "expires_at"
	SortDistance  SortKey = "distance" // only meaningful for nearby searches
)

// SortDir is a whitelisted sort direction.
type SortDir string

// Sort directions.
const (
	SortAsc  SortDir = "ASC"
	SortDesc SortDir = "DESC"
)

// Page bounds.
const (
	PageSizeMin     = 1
	PageSizeMax     = 100
	RadiusMilesMin  = 1.0
	RadiusMilesMax  = 100.0
	DefaultPageSize = 20
)

// Page is a clamped pagination request.
type Page struct {
	Number int `json:"page"`
	Size   int `json:"page_size"`
}

// Clamp normalizes the page to valid bounds. maxSize caps the page size;
// zero means the built-in PageSizeMax.
func (p Page) Clamp(maxSize int) Page {
	if maxSize <= 0 {
		maxSize = PageSizeMax
	}
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < PageSizeMin {
		p.Size = DefaultPageSize
	}
	if p.Size > maxSize {
		p.Size = maxSize
	}
	return p
}

// Offset returns the row offset for the page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// ItemFilter narrows item searches. Zero values mean "no constraint".
type ItemFilter struct {
	Query      string     // full-text match against title and description
	CategoryID string
	ZipCode    string
	SortBy     SortKey
	SortDir    SortDir
}

// Normalize applies defaults and validates the sort whitelist. nearby
// permits the distance sort key.
func (f ItemFilter) Normalize(nearby bool) (ItemFilter, error) {
	if f.SortBy == "" {
		f.SortBy = SortCreatedAt
	}
	if f.SortDir == "" {
		f.SortDir = SortDesc
	}
	switch f.SortBy {
	case SortCreatedAt, SortTitle, SortExpiresAt:
	case SortDistance:
		if !nearby {
			return f, fmt.Errorf("sort key %q requires a location-based search", f.SortBy)
		}
	default:
		return f, fmt.Errorf("sort key %q is not allowed", f.SortBy)
	}
	switch f.SortDir {
	case SortAsc, SortDesc:
	default:
		return f, fmt.Errorf("sort direction %q is not allowed", f.SortDir)
	}
	return f, nil
}

// NearbyFilter extends ItemFilter with a center point and radius.
type NearbyFilter struct {
	ItemFilter
	Center      GeoPoint
	RadiusMiles float64
}

// Normalize validates the center and clamps the radius to [1, 100] miles.
func (f NearbyFilter) Normalize() (NearbyFilter, error) {
	if err := f.Center.Validate(); err != nil {
		return f, err
	}
	if f.RadiusMiles < RadiusMilesMin {
		f.RadiusMiles = RadiusMilesMin
	}
	if f.RadiusMiles > RadiusMilesMax {
		f.RadiusMiles = RadiusMilesMax
	}
	var err error
	f.ItemFilter, err = f.ItemFilter.Normalize(true)
	return f, err
}

// OwnerFilter narrows ListByOwner. Empty status means all statuses.
type OwnerFilter struct {
	Status ItemStatus
}

// ClaimFilter narrows claim listings.
type ClaimFilter struct {
	ItemID          string
	IncludeTerminal bool
}
