package emulator

import (
	"github.com/Uranury/IotGo-emulator/sensors"
)

// Event describes the outcome of one worker iteration.
type Event struct {
	SensorType string
	DeviceID   string
	// Reading is nil when the sensor could not be read.
	Reading  *sensors.Reading
	Body     string
	Injected bool
	Err      error
}

// Recorder observes worker iterations. Implementations are called from every
// worker goroutine and must not block.
type Recorder interface {
	Record(Event)
}

// Recorders fans an event out to several recorders.
type Recorders []Recorder

func (rs Recorders) Record(e Event) {
	for _, r := range rs {
		if r != nil {
			r.Record(e)
		}
	}
}

type nopRecorder struct{}

func (nopRecorder) Record(Event) {}
