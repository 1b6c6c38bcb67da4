package postgres

// Schema DDL. Idempotent: every statement is CREATE IF NOT EXISTS, so
// Migrate can run on every startup.
//
// The two partial unique indexes on claims are load-bearing:
//
//   - claims_item_position_active_key enforces dense-queue uniqueness over
//     the active set; a racing insert that slips past the advisory lock
//     surfaces as a retryable position conflict.
//   - claims_item_user_active_key enforces at-most-one non-terminal claim
//     per (item, user); a racing duplicate surfaces as DuplicateClaim.
const schema = `
CREATE TABLE IF NOT EXISTS categories (
    id TEXT PRIMARY KEY,
    parent_id TEXT REFERENCES categories(id) ON DELETE SET NULL,
    name TEXT NOT NULL,
    slug TEXT NOT NULL UNIQUE,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    sort_order INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS items (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    category_id TEXT REFERENCES categories(id) ON DELETE SET NULL,
    title TEXT NOT NULL CHECK (char_length(title) BETWEEN 5 AND 100),
    description TEXT NOT NULL CHECK (char_length(description) BETWEEN 10 AND 1000),
    zip_code TEXT NOT NULL,
    lat DOUBLE PRECISION,
    lon DOUBLE PRECISION,
    pickup_notes TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    view_count INTEGER NOT NULL DEFAULT 0,
    claim_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    expires_at TIMESTAMPTZ NOT NULL,
    claimed_at TIMESTAMPTZ,
    expired_at TIMESTAMPTZ,
    deleted_at TIMESTAMPTZ,
    archived_at TIMESTAMPTZ,
    -- location is all-or-nothing
    CHECK ((lat IS NULL) = (lon IS NULL)),
    CHECK (
        (status = 'claimed' AND claimed_at IS NOT NULL) OR
        (status <> 'claimed' AND claimed_at IS NULL)
    )
);

CREATE INDEX IF NOT EXISTS idx_items_owner ON items(owner_id);
CREATE INDEX IF NOT EXISTS idx_items_category ON items(category_id);
CREATE INDEX IF NOT EXISTS idx_items_status ON items(status);
CREATE INDEX IF NOT EXISTS idx_items_zip ON items(zip_code);
CREATE INDEX IF NOT EXISTS idx_items_expires_at ON items(expires_at);
CREATE INDEX IF NOT EXISTS idx_items_status_expires ON items(status, expires_at);
-- Hot-path listing: active, unexpired items by zip, newest first.
CREATE INDEX IF NOT EXISTS idx_items_active_listing
    ON items(status, zip_code, created_at DESC)
    WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_items_location
    ON items USING gist (point(lon, lat))
    WHERE lat IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_items_fulltext
    ON items USING gin (to_tsvector('english', title || ' ' || description));

CREATE TABLE IF NOT EXISTS claims (
    id TEXT PRIMARY KEY,
    item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
    user_id TEXT NOT NULL,
    queue_position INTEGER NOT NULL CHECK (queue_position >= 1),
    status TEXT NOT NULL DEFAULT 'pending',
    contact_method TEXT NOT NULL DEFAULT 'email'
        CHECK (contact_method IN ('email', 'phone', 'both')),
    preferred_pickup_date TIMESTAMPTZ,
    claimer_notes TEXT NOT NULL DEFAULT '',
    lister_notes TEXT NOT NULL DEFAULT '',
    close_reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    contacted_at TIMESTAMPTZ,
    selected_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    cancelled_at TIMESTAMPTZ,
    skipped_at TIMESTAMPTZ,
    expired_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_claims_item ON claims(item_id);
CREATE INDEX IF NOT EXISTS idx_claims_user ON claims(user_id);
CREATE INDEX IF NOT EXISTS idx_claims_status ON claims(status);
CREATE INDEX IF NOT EXISTS idx_claims_created_at ON claims(created_at);
CREATE UNIQUE INDEX IF NOT EXISTS claims_item_position_active_key
    ON claims(item_id, queue_position)
    WHERE status IN ('pending', 'contacted');
CREATE UNIQUE INDEX IF NOT EXISTS claims_item_user_active_key
    ON claims(item_id, user_id)
    WHERE status NOT IN ('completed', 'cancelled', 'skipped', 'expired');

CREATE TABLE IF NOT EXISTS outbox (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    payload JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    delivered_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_undelivered
    ON outbox(created_at)
    WHERE delivered_at IS NULL;
`

// Names of the partial unique indexes, used to classify 23505 violations.
const (
	positionIndexName  = "claims_item_position_active_key"
	duplicateIndexName = "claims_item_user_active_key"
)
