package postgres

import (
	"context"
	"fmt"
)

// schema is idempotent and safe to apply on every start.
const schema = `
CREATE TABLE IF NOT EXISTS stores (
	store_id       TEXT PRIMARY KEY,
	url            TEXT NOT NULL,
	name           TEXT,
	address        TEXT,
	lat            DOUBLE PRECISION,
	lng            DOUBLE PRECISION,
	category       TEXT,
	transport_info TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS store_snapshots (
	run_id         TEXT PRIMARY KEY,
	store_id       TEXT NOT NULL,
	url            TEXT NOT NULL,
	collected_at   TIMESTAMPTZ NOT NULL,
	status         TEXT NOT NULL,
	progress       INT NOT NULL DEFAULT 0,
	bronze_path    TEXT,
	silver_path    TEXT,
	gold_path      TEXT,
	error_reason   TEXT,
	error_type     TEXT,
	error_stage    TEXT,
	evidence_paths JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_store_snapshots_status ON store_snapshots(status);
CREATE INDEX IF NOT EXISTS idx_store_snapshots_store ON store_snapshots(store_id);

CREATE TABLE IF NOT EXISTS analysis (
	run_id              TEXT PRIMARY KEY,
	store_id            TEXT NOT NULL,
	collected_at        TIMESTAMPTZ NOT NULL,
	restaurant_name     TEXT,
	summary_3lines      TEXT,
	vibe                TEXT,
	signature_menu_json JSONB NOT NULL DEFAULT '[]'::jsonb,
	tips_json           JSONB NOT NULL DEFAULT '[]'::jsonb,
	score               INT NOT NULL,
	ad_review_ratio     DOUBLE PRECISION NOT NULL,
	review_summary_json JSONB NOT NULL DEFAULT '{}'::jsonb,
	categories_json     JSONB NOT NULL DEFAULT '[]'::jsonb,
	transport_info      TEXT,
	model               TEXT,
	prompt_version      TEXT,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_analysis_store_updated ON analysis(store_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS reviews (
	store_id      TEXT NOT NULL,
	review_key    TEXT NOT NULL,
	date          TEXT,
	rating        DOUBLE PRECISION,
	text          TEXT NOT NULL,
	is_ad_suspect BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (store_id, review_key)
);

CREATE TABLE IF NOT EXISTS embeddings (
	store_id   TEXT NOT NULL,
	doc_type   TEXT NOT NULL,
	model      TEXT NOT NULL,
	vector     REAL[] NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (store_id, doc_type)
);

CREATE TABLE IF NOT EXISTS legacy_stores (
	store_id   TEXT PRIMARY KEY,
	payload    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate applies the schema.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
