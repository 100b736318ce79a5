package occupancy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/saaga0h/jeeves-presence/internal/topology"
	"github.com/saaga0h/jeeves-presence/pkg/config"
	"github.com/saaga0h/jeeves-presence/pkg/mqtt"
	"github.com/saaga0h/jeeves-presence/pkg/redis"
)

// Agent runs the occupancy engine against live sensor traffic: it subscribes
// to raw sensor topics, feeds events into the engine, ticks engine time, and
// publishes snapshots and anomaly records.
type Agent struct {
	mqtt      mqtt.Client
	redis     redis.Client
	cfg       *config.Config
	logger    *slog.Logger
	topo      *topology.Topology
	engine    *Engine
	processor *Processor
	storage   *Storage
	archive   *Archive

	// mu serializes engine access between the MQTT handler and the ticker
	mu sync.Mutex
}

// NewAgent creates a new presence agent with the given dependencies. The
// archive is optional; pass nil when anomaly archiving is disabled.
func NewAgent(mqttClient mqtt.Client, redisClient redis.Client, cfg *config.Config, topo *topology.Topology, archive *Archive, logger *slog.Logger) *Agent {
	params := DefaultParams()
	params.MotionClearWindow = cfg.MotionClearWindow()
	params.LongActivation = cfg.LongActivationThreshold()
	params.GraceWindow = cfg.GraceWindow()

	return &Agent{
		mqtt:      mqttClient,
		redis:     redisClient,
		cfg:       cfg,
		logger:    logger,
		topo:      topo,
		engine:    NewEngine(topo, params),
		processor: NewProcessor(topo, logger),
		storage:   NewStorage(redisClient, cfg.MaxEventHistory, logger),
		archive:   archive,
	}
}

// Start starts the presence agent and blocks until the context is cancelled
func (a *Agent) Start(ctx context.Context) error {
	a.logger.Info("Starting presence agent",
		"service_name", a.cfg.ServiceName,
		"mqtt_broker", a.cfg.MQTTAddress(),
		"areas", len(a.topo.Areas()),
		"sensors", len(a.topo.Sensors()))

	if err := a.mqtt.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	if err := a.redis.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	if a.archive != nil {
		if err := a.archive.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to prepare anomaly archive: %w", err)
		}
	}

	for _, topic := range a.cfg.SensorTopics {
		if err := a.mqtt.Subscribe(topic, 1, a.handleSensorMessage(ctx)); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		a.logger.Info("Subscribed to sensor topic", "topic", topic)
	}

	go a.tickLoop(ctx)

	a.logger.Info("Presence agent started")

	<-ctx.Done()
	a.logger.Info("Presence agent stopping")
	a.mqtt.Disconnect()
	return nil
}

// handleSensorMessage returns the MQTT handler for raw sensor messages
func (a *Agent) handleSensorMessage(ctx context.Context) mqtt.MessageHandler {
	return func(msg mqtt.Message) {
		ev, err := a.processor.ParseMessage(msg.Topic(), msg.Payload())
		if err != nil {
			a.logger.Warn("Dropping unparseable sensor message",
				"topic", msg.Topic(),
				"error", err)
			return
		}

		if err := a.storage.RecordSensorEvent(ctx, ev); err != nil {
			a.logger.Warn("Failed to record sensor event", "error", err)
		}

		a.mu.Lock()
		err = a.engine.ProcessEvent(ev)
		if err != nil {
			a.mu.Unlock()
			a.logger.Warn("Rejected sensor event",
				"sensor_id", ev.SensorID,
				"error", err)
			return
		}
		a.flushLocked(ctx)
		a.mu.Unlock()
	}
}

// tickLoop advances engine time so deadlines fire even without sensor traffic
func (a *Agent) tickLoop(ctx context.Context) {
	interval := time.Duration(a.cfg.TickIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.mu.Lock()
			a.engine.Tick(now.UTC())
			a.flushLocked(ctx)
			a.mu.Unlock()
		}
	}
}

// flushLocked publishes and stores everything the engine mutated. Callers
// hold a.mu.
func (a *Agent) flushLocked(ctx context.Context) {
	for _, areaID := range a.engine.ConsumeDirty() {
		snap, ok := a.engine.Snapshot(areaID)
		if !ok {
			continue
		}
		if err := a.storage.StoreSnapshot(ctx, snap); err != nil {
			a.logger.Warn("Failed to store snapshot", "area", areaID, "error", err)
		}
		if a.cfg.PublishOnMutation {
			a.publishSnapshot(snap)
		}
	}

	for _, rec := range a.engine.DrainAnomalies() {
		a.logger.Warn("Anomaly detected",
			"kind", rec.Kind,
			"area", rec.Area,
			"sensor_id", rec.SensorID,
			"detail", rec.Detail)

		if err := a.storage.StoreAnomaly(ctx, rec); err != nil {
			a.logger.Warn("Failed to store anomaly record", "error", err)
		}
		a.publishAnomaly(rec)
		if a.archive != nil {
			if err := a.archive.Insert(ctx, rec); err != nil {
				a.logger.Warn("Failed to archive anomaly record", "error", err)
			}
		}
	}
}

func (a *Agent) publishSnapshot(snap AreaSnapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		a.logger.Error("Failed to marshal snapshot", "area", snap.Area, "error", err)
		return
	}
	topic := mqtt.OccupancyTopic(snap.Area)
	if err := a.mqtt.Publish(topic, 1, true, payload); err != nil {
		a.logger.Warn("Failed to publish snapshot", "topic", topic, "error", err)
	}
}

func (a *Agent) publishAnomaly(rec AnomalyRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		a.logger.Error("Failed to marshal anomaly record", "error", err)
		return
	}
	if err := a.mqtt.Publish(mqtt.TopicAnomaly, 1, false, payload); err != nil {
		a.logger.Warn("Failed to publish anomaly record", "error", err)
	}
}

// SetOccupancy overrides the occupant count of an area and publishes the
// resulting snapshot. Exposed for host-driven corrections.
func (a *Agent) SetOccupancy(ctx context.Context, areaID string, count int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.engine.SetOccupancy(areaID, count); err != nil {
		return err
	}
	a.flushLocked(ctx)
	return nil
}

// Snapshots returns the current engine view of every area
func (a *Agent) Snapshots() []AreaSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine.Snapshots()
}
