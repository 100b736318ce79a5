package mqtt

import "fmt"

// Topic constants for the presence agent
const (
	// Raw sensor data topics (input)
	// Pattern: automation/raw/{sensor_kind}/{sensor_id}
	TopicRawSensors  = "automation/raw/+/+"
	TopicRawMotion   = "automation/raw/motion/+"
	TopicRawMagnetic = "automation/raw/magnetic/+"
	TopicRawCamera   = "automation/raw/camera_motion/+"

	// Occupancy output topics
	TopicOccupancyBase = "automation/occupancy"
	TopicAnomaly       = "automation/occupancy/anomaly"
)

// RawSensorTopic constructs a raw sensor topic for a specific sensor kind and id
// Pattern: automation/raw/{sensor_kind}/{sensor_id}
func RawSensorTopic(sensorKind, sensorID string) string {
	return fmt.Sprintf("automation/raw/%s/%s", sensorKind, sensorID)
}

// OccupancyTopic constructs the occupancy snapshot topic for an area
// Pattern: automation/occupancy/{area_id}
func OccupancyTopic(areaID string) string {
	return fmt.Sprintf("automation/occupancy/%s", areaID)
}
