package occupancy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/saaga0h/jeeves-presence/pkg/redis"
)

// defaultAnomalyFeedLength bounds the Redis anomaly list when no limit is
// configured.
const defaultAnomalyFeedLength = 100

// sensorEventRetention bounds the per-sensor event log
const sensorEventRetention = 24 * time.Hour

// Storage persists occupancy snapshots, anomaly records and sensor event
// history to Redis.
type Storage struct {
	redis   redis.Client
	feedLen int64
	logger  *slog.Logger
}

// NewStorage creates a new storage layer. feedLen bounds the anomaly feed;
// zero or negative means the default.
func NewStorage(redisClient redis.Client, feedLen int, logger *slog.Logger) *Storage {
	if feedLen <= 0 {
		feedLen = defaultAnomalyFeedLength
	}
	return &Storage{
		redis:   redisClient,
		feedLen: int64(feedLen),
		logger:  logger,
	}
}

// StoreSnapshot writes an area snapshot to its occupancy hash
func (s *Storage) StoreSnapshot(ctx context.Context, snap AreaSnapshot) error {
	key := redis.OccupancyKey(snap.Area)

	fields := map[string]interface{}{
		"confidence": strconv.FormatFloat(snap.Confidence, 'f', 4, 64),
		"occupants":  strconv.Itoa(snap.Occupants),
		"phase":      string(snap.Phase),
		"last_event": snap.LastEvent.UTC().Format(time.RFC3339Nano),
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	for field, value := range fields {
		if err := s.redis.HSet(ctx, key, field, value); err != nil {
			return fmt.Errorf("failed to store snapshot field %s for %s: %w", field, snap.Area, err)
		}
	}

	s.logger.Debug("Stored occupancy snapshot",
		"area", snap.Area,
		"occupants", snap.Occupants,
		"phase", snap.Phase)

	return nil
}

// LoadSnapshot reads an area snapshot back from Redis. Missing keys return a
// zero snapshot without error.
func (s *Storage) LoadSnapshot(ctx context.Context, areaID string) (AreaSnapshot, error) {
	fields, err := s.redis.HGetAll(ctx, redis.OccupancyKey(areaID))
	if err != nil {
		return AreaSnapshot{}, fmt.Errorf("failed to load snapshot for %s: %w", areaID, err)
	}

	snap := AreaSnapshot{Area: areaID}
	if v, ok := fields["confidence"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			snap.Confidence = f
		}
	}
	if v, ok := fields["occupants"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			snap.Occupants = n
		}
	}
	if v, ok := fields["phase"]; ok {
		snap.Phase = Phase(v)
	}
	if v, ok := fields["last_event"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			snap.LastEvent = t
		}
	}
	return snap, nil
}

// StoreAnomaly appends an anomaly record to the feed, newest first
func (s *Storage) StoreAnomaly(ctx context.Context, rec AnomalyRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal anomaly record: %w", err)
	}

	if err := s.redis.LPush(ctx, redis.AnomalyListKey, string(data)); err != nil {
		return fmt.Errorf("failed to store anomaly record: %w", err)
	}
	if err := s.redis.LTrim(ctx, redis.AnomalyListKey, 0, s.feedLen-1); err != nil {
		return fmt.Errorf("failed to trim anomaly feed: %w", err)
	}

	return nil
}

// RecentAnomalies returns up to limit anomaly records, newest first
func (s *Storage) RecentAnomalies(ctx context.Context, limit int64) ([]AnomalyRecord, error) {
	if limit <= 0 {
		limit = s.feedLen
	}
	raw, err := s.redis.LRange(ctx, redis.AnomalyListKey, 0, limit-1)
	if err != nil {
		return nil, fmt.Errorf("failed to read anomaly feed: %w", err)
	}

	records := make([]AnomalyRecord, 0, len(raw))
	for _, item := range raw {
		var rec AnomalyRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			s.logger.Warn("Skipping unparseable anomaly record", "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// RecordSensorEvent appends a sensor event to the sensor's event log and
// prunes entries older than the retention window.
func (s *Storage) RecordSensorEvent(ctx context.Context, ev SensorEvent) error {
	key := redis.SensorEventKey(ev.SensorID)
	score := float64(ev.Timestamp.UnixMilli())

	member := fmt.Sprintf("%d:%t", ev.Timestamp.UnixMilli(), ev.Active)
	if err := s.redis.ZAdd(ctx, key, score, member); err != nil {
		return fmt.Errorf("failed to record sensor event for %s: %w", ev.SensorID, err)
	}

	cutoff := ev.Timestamp.Add(-sensorEventRetention).UnixMilli()
	if err := s.redis.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10)); err != nil {
		return fmt.Errorf("failed to prune sensor events for %s: %w", ev.SensorID, err)
	}

	return nil
}
