package occupancy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/saaga0h/jeeves-presence/internal/topology"
)

// Processor parses raw sensor messages into engine events
type Processor struct {
	topo   *topology.Topology
	logger *slog.Logger
}

// NewProcessor creates a new message processor
func NewProcessor(topo *topology.Topology, logger *slog.Logger) *Processor {
	return &Processor{
		topo:   topo,
		logger: logger,
	}
}

// rawPayload is the wire format of raw sensor messages. The state and
// timestamp live under a "data" wrapper.
type rawPayload struct {
	Data struct {
		State     string `json:"state"`
		Timestamp string `json:"timestamp"`
	} `json:"data"`
}

// ParseMessage turns an MQTT message into a SensorEvent.
// Topic pattern: automation/raw/{sensor_kind}/{sensor_id}
func (p *Processor) ParseMessage(topic string, payload []byte) (SensorEvent, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 {
		return SensorEvent{}, fmt.Errorf("invalid topic format: %s (expected at least 4 parts)", topic)
	}

	kindWord := parts[2]
	sensorID := parts[3]

	sensor, ok := p.topo.Sensor(sensorID)
	if !ok {
		return SensorEvent{}, fmt.Errorf("unknown sensor in topic: %s", sensorID)
	}
	if string(sensor.Kind) != kindWord {
		p.logger.Warn("Topic sensor kind does not match topology",
			"sensor_id", sensorID,
			"topic_kind", kindWord,
			"configured_kind", sensor.Kind)
	}

	var raw rawPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return SensorEvent{}, fmt.Errorf("failed to parse payload: %w", err)
	}
	if raw.Data.State == "" {
		return SensorEvent{}, fmt.Errorf("missing state in payload for sensor %s", sensorID)
	}

	ts := time.Now().UTC()
	if raw.Data.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, raw.Data.Timestamp)
		if err != nil {
			p.logger.Warn("Unparseable timestamp, using receive time",
				"sensor_id", sensorID,
				"timestamp", raw.Data.Timestamp)
		} else {
			ts = parsed.UTC()
		}
	}

	ev := SensorEvent{
		SensorID:  sensorID,
		Active:    sensor.Kind.ActiveFromState(raw.Data.State),
		Timestamp: ts,
	}

	p.logger.Debug("Parsed sensor event",
		"sensor_id", sensorID,
		"active", ev.Active,
		"timestamp", ev.Timestamp)

	return ev, nil
}
