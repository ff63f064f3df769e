package sensors

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/Uranury/IotGo-emulator/config"
)

// RangeSensor simulates a device whose readings are drawn uniformly from a
// fixed range.
type RangeSensor struct {
	deviceID   string
	sensorType string
	unit       string
	location   any
	min, max   float64

	rng *rand.Rand
	now func() time.Time
}

// NewRangeSensor builds a sensor from a definition. A nil rng uses the
// global source, which is safe for concurrent use.
func NewRangeSensor(def config.SensorDefinition, rng *rand.Rand) *RangeSensor {
	lo, hi := def.Range()
	if lo > hi {
		lo, hi = hi, lo
	}
	deviceID := def.DeviceID
	if deviceID == "" {
		deviceID = config.DefaultDeviceID
	}
	return &RangeSensor{
		deviceID:   deviceID,
		sensorType: def.Type,
		unit:       def.Unit,
		location:   def.Location,
		min:        lo,
		max:        hi,
		rng:        rng,
		now:        time.Now,
	}
}

func (s *RangeSensor) DeviceID() string { return s.deviceID }

func (s *RangeSensor) Name() string {
	return fmt.Sprintf("%s (ID=%s)", s.sensorType, s.deviceID)
}

func (s *RangeSensor) Read() (*Reading, error) {
	return &Reading{
		DeviceID:   s.deviceID,
		SensorType: s.sensorType,
		Value:      s.sample(),
		Unit:       s.unit,
		Location:   s.location,
		Timestamp:  s.now().UTC(),
	}, nil
}

func (s *RangeSensor) float() float64 {
	if s.rng != nil {
		return s.rng.Float64()
	}
	return rand.Float64()
}

// sample returns a value in [min, max] with at most two decimals, unless
// the range holds no such value, in which case it returns min.
func (s *RangeSensor) sample() float64 {
	if s.min == s.max {
		return s.min
	}
	v := Round2(s.min + s.float()*(s.max-s.min))
	// Rounding can push the value past a bound with more than two decimals.
	if v > s.max {
		v = math.Floor(s.max*100) / 100
	}
	if v < s.min {
		v = math.Ceil(s.min*100) / 100
	}
	// No two-decimal value fits inside the range; stay in range.
	if v < s.min || v > s.max {
		return s.min
	}
	return v
}

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
