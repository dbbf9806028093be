package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Connect opens the pool. The DSN needs parseTime=true for created_at scans.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	// test ping
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

// Migrate creates the tables if they do not exist
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS analyses (
  id              VARCHAR(36)  NOT NULL PRIMARY KEY,
  user_id         VARCHAR(128) NOT NULL,
  image_ref       VARCHAR(512) NOT NULL,
  consent         BOOLEAN      NOT NULL,
  symptom_text    TEXT         NOT NULL,
  top_confidence  DOUBLE       NOT NULL DEFAULT 0,
  risk            VARCHAR(16)  NOT NULL,
  overall_risk    VARCHAR(16)  NOT NULL,
  urgency         VARCHAR(16)  NOT NULL,
  symptom_note    TEXT         NOT NULL,
  recommendation  TEXT         NOT NULL,
  provider        VARCHAR(64)  NOT NULL DEFAULT '',
  degraded        BOOLEAN      NOT NULL DEFAULT FALSE,
  findings_json   JSON         NOT NULL,
  created_at      DATETIME(3)  NOT NULL,
  KEY idx_analyses_user_created (user_id, created_at),
  KEY idx_analyses_created (created_at)
)`,
	`CREATE TABLE IF NOT EXISTS conditions (
  id        BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
  name_key  VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
  name      VARCHAR(255) NOT NULL,
  UNIQUE KEY uq_conditions_key (name_key)
)`,
	`CREATE TABLE IF NOT EXISTS analysis_conditions (
  analysis_id   VARCHAR(36) NOT NULL,
  condition_id  BIGINT      NOT NULL,
  position      INT         NOT NULL,
  confidence    DOUBLE      NOT NULL,
  category      VARCHAR(16) NOT NULL,
  urgency       VARCHAR(16) NOT NULL,
  PRIMARY KEY (analysis_id, condition_id),
  CONSTRAINT fk_ac_analysis  FOREIGN KEY (analysis_id)  REFERENCES analyses(id),
  CONSTRAINT fk_ac_condition FOREIGN KEY (condition_id) REFERENCES conditions(id)
)`,
	`CREATE TABLE IF NOT EXISTS symptoms (
  id        BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
  name_key  VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
  name      VARCHAR(255) NOT NULL,
  UNIQUE KEY uq_symptoms_key (name_key)
)`,
	`CREATE TABLE IF NOT EXISTS analysis_symptoms (
  analysis_id  VARCHAR(36) NOT NULL,
  symptom_id   BIGINT      NOT NULL,
  position     INT         NOT NULL DEFAULT 0,
  PRIMARY KEY (analysis_id, symptom_id),
  CONSTRAINT fk_as_analysis FOREIGN KEY (analysis_id) REFERENCES analyses(id),
  CONSTRAINT fk_as_symptom  FOREIGN KEY (symptom_id)  REFERENCES symptoms(id)
)`,
}
