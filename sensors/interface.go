package sensors

import "time"

// Reading is one telemetry data point as it goes on the wire.
type Reading struct {
	DeviceID   string    `json:"deviceId"`
	SensorType string    `json:"sensorType"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	Location   any       `json:"location"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sensor interface that all sensors must implement
type Sensor interface {
	Read() (*Reading, error)
	Name() string
}
