package redis

import "fmt"

// Key construction helpers for the presence agent

// OccupancyKey returns the key for an area's occupancy snapshot (hash)
// Pattern: occupancy:{area_id}
func OccupancyKey(areaID string) string {
	return fmt.Sprintf("occupancy:%s", areaID)
}

// AnomalyListKey returns the key for the anomaly record feed (list, newest first)
const AnomalyListKey = "occupancy:anomalies"

// SensorEventKey returns the key for a sensor's recent event log (sorted set
// scored by event timestamp in milliseconds)
// Pattern: sensor:events:{sensor_id}
func SensorEventKey(sensorID string) string {
	return fmt.Sprintf("sensor:events:%s", sensorID)
}
