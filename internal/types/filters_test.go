package types

import "testing"

func TestPageClamp(t *testing.T) {
	tests := []struct {
		name     string
		in       Page
		maxSize  int
		wantNum  int
		wantSize int
	}{
		{"zero value gets defaults", Page{}, 0, 1, DefaultPageSize},
		{"negative page number", Page{Number: -3, Size: 10}, 0, 1, 10},
		{"size above built-in max", Page{Number: 2, Size: 500}, 0, 2, PageSizeMax},
		{"size above custom max", Page{Number: 1, Size: 80}, 50, 1, 50},
		{"valid page untouched", Page{Number: 4, Size: 25}, 0, 4, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Clamp(tt.maxSize)
			if got.Number != tt.wantNum || got.Size != tt.wantSize {
				t.Errorf("Clamp(%d) = {%d %d}, want {%d %d}",
					tt.maxSize, got.Number, got.Size, tt.wantNum, tt.wantSize)
			}
		})
	}
}

func TestPageOffset(t *testing.T) {
	p := Page{Number: 3, Size: 20}
	if got := p.Offset(); got != 40 {
		t.Errorf("Offset() = %d, want 40", got)
	}
}

func TestItemFilterNormalize(t *testing.T) {
	f, err := ItemFilter{}.Normalize(false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.SortBy != SortCreatedAt || f.SortDir != SortDesc {
		t.Errorf("defaults = (%s, %s), want (created_at, DESC)", f.SortBy, f.SortDir)
	}

	if _, err := (ItemFilter{SortBy: SortKey("owner_id; DROP TABLE items")}).Normalize(false); err == nil {
		t.Error("non-whitelisted sort key should be rejected")
	}
	if _, err := (ItemFilter{SortDir: SortDir("sideways")}).Normalize(false); err == nil {
		t.Error("non-whitelisted sort direction should be rejected")
	}

	// distance only makes sense with a search center
	if _, err := (ItemFilter{SortBy: SortDistance}).Normalize(false); err == nil {
		t.Error("distance sort without a location should be rejected")
	}
	if _, err := (ItemFilter{SortBy: SortDistance}).Normalize(true); err != nil {
		t.Errorf("distance sort with a location should be accepted: %v", err)
	}
}

func TestNearbyFilterNormalize(t *testing.T) {
	base := NearbyFilter{Center: GeoPoint{Lat: 37.77, Lon: -122.42}}

	small := base
	small.RadiusMiles = 0.1
	got, err := small.Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RadiusMiles != RadiusMilesMin {
		t.Errorf("radius clamped to %v, want %v", got.RadiusMiles, RadiusMilesMin)
	}

	big := base
	big.RadiusMiles = 5000
	got, err = big.Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RadiusMiles != RadiusMilesMax {
		t.Errorf("radius clamped to %v, want %v", got.RadiusMiles, RadiusMilesMax)
	}

	bad := base
	bad.Center.Lat = 95
	if _, err := bad.Normalize(); err == nil {
		t.Error("invalid center should be rejected")
	}
}
