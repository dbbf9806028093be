package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate creates the tables if they do not exist
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// stringOrDash returns "-" when the input is empty/whitespace
func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func pageBounds(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

const schema = `
CREATE TABLE IF NOT EXISTS analyses (
  id              VARCHAR(36)      PRIMARY KEY,
  user_id         VARCHAR(128)     NOT NULL,
  image_ref       VARCHAR(512)     NOT NULL,
  consent         BOOLEAN          NOT NULL,
  symptom_text    TEXT             NOT NULL,
  top_confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
  risk            VARCHAR(16)      NOT NULL,
  overall_risk    VARCHAR(16)      NOT NULL,
  urgency         VARCHAR(16)      NOT NULL,
  symptom_note    TEXT             NOT NULL,
  recommendation  TEXT             NOT NULL,
  provider        VARCHAR(64)      NOT NULL DEFAULT '',
  degraded        BOOLEAN          NOT NULL DEFAULT FALSE,
  findings_json   JSONB            NOT NULL DEFAULT '[]',
  created_at      TIMESTAMPTZ      NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analyses_user_created ON analyses (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses (created_at DESC);

CREATE TABLE IF NOT EXISTS conditions (
  id        BIGSERIAL PRIMARY KEY,
  name_key  TEXT NOT NULL UNIQUE,
  name      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS analysis_conditions (
  analysis_id   VARCHAR(36)      NOT NULL REFERENCES analyses(id),
  condition_id  BIGINT           NOT NULL REFERENCES conditions(id),
  position      INT              NOT NULL,
  confidence    DOUBLE PRECISION NOT NULL,
  category      VARCHAR(16)      NOT NULL,
  urgency       VARCHAR(16)      NOT NULL,
  PRIMARY KEY (analysis_id, condition_id)
);

CREATE TABLE IF NOT EXISTS symptoms (
  id        BIGSERIAL PRIMARY KEY,
  name_key  TEXT NOT NULL UNIQUE,
  name      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS analysis_symptoms (
  analysis_id  VARCHAR(36) NOT NULL REFERENCES analyses(id),
  symptom_id   BIGINT      NOT NULL REFERENCES symptoms(id),
  position     INT         NOT NULL DEFAULT 0,
  PRIMARY KEY (analysis_id, symptom_id)
);`
