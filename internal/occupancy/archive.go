package occupancy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/saaga0h/jeeves-presence/pkg/postgres"
)

// Archive persists anomaly records to PostgreSQL for long-term analysis. The
// Redis feed is a bounded window; the archive keeps everything.
type Archive struct {
	db     postgres.Client
	logger *slog.Logger
}

// NewArchive creates a new anomaly archive
func NewArchive(db postgres.Client, logger *slog.Logger) *Archive {
	return &Archive{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the archive table if it does not exist
func (a *Archive) EnsureSchema(ctx context.Context) error {
	_, err := a.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS occupancy_anomalies (
			id UUID PRIMARY KEY,
			kind TEXT NOT NULL,
			area TEXT,
			sensor_id TEXT,
			detected_at TIMESTAMPTZ NOT NULL,
			detail TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create anomaly archive table: %w", err)
	}

	_, err = a.db.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_occupancy_anomalies_detected_at
		ON occupancy_anomalies (detected_at)`)
	if err != nil {
		return fmt.Errorf("failed to create anomaly archive index: %w", err)
	}

	return nil
}

// Insert writes one anomaly record to the archive
func (a *Archive) Insert(ctx context.Context, rec AnomalyRecord) error {
	_, err := a.db.Exec(ctx, `
		INSERT INTO occupancy_anomalies (id, kind, area, sensor_id, detected_at, detail)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, string(rec.Kind), rec.Area, rec.SensorID, rec.Timestamp, rec.Detail)
	if err != nil {
		return fmt.Errorf("failed to archive anomaly %s: %w", rec.ID, err)
	}

	a.logger.Debug("Archived anomaly record",
		"id", rec.ID,
		"kind", rec.Kind,
		"area", rec.Area)

	return nil
}
