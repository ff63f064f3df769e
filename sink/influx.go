// Package sink mirrors emitted readings into InfluxDB so the values the
// emulator produced can be compared with what the consumer stored.
package sink

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/Uranury/IotGo-emulator/config"
	"github.com/Uranury/IotGo-emulator/emulator"
	"github.com/Uranury/IotGo-emulator/sensors"
)

const (
	measurement  = "sensor_readings"
	pointBuffer  = 256
	closeTimeout = 5 * time.Second
)

// pointWriter is the subset of api.WriteAPI used by Influx.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Influx writes every successfully sent reading as a point. Fault-injected
// and failed iterations are skipped.
type Influx struct {
	client influxdb2.Client
	writer pointWriter
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	points chan *write.Point
	stop   chan struct{}
	done   chan struct{}
}

// NewInflux uses the non-blocking write API; points are batched in the
// background and write errors are logged.
func NewInflux(cfg *config.InfluxConfig, logger *zap.Logger) *Influx {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go logErrors(writeAPI, logger)
	return newInflux(client, writeAPI, logger)
}

func newInflux(client influxdb2.Client, w pointWriter, logger *zap.Logger) *Influx {
	s := &Influx{
		client: client,
		writer: w,
		logger: logger,
		points: make(chan *write.Point, pointBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func logErrors(w api.WriteAPI, logger *zap.Logger) {
	for err := range w.Errors() {
		logger.Warn("influx write failed", zap.Error(err))
	}
}

// run hands queued points to the write API until Close, then drains the queue.
func (s *Influx) run() {
	defer close(s.done)
	for {
		select {
		case p := <-s.points:
			s.writer.WritePoint(p)
		case <-s.stop:
			for {
				select {
				case p := <-s.points:
					s.writer.WritePoint(p)
				default:
					return
				}
			}
		}
	}
}

// Record queues the reading of e. Points are dropped when the queue is full
// and ignored once the mirror is closed.
func (s *Influx) Record(e emulator.Event) {
	if e.Err != nil || e.Injected || e.Reading == nil {
		return
	}
	p := readingPoint(e.Reading)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.points <- p:
	default:
	}
}

// Close writes the queued points, flushes and closes the client. When the
// write API is still stuck after closeTimeout the client is left open.
func (s *Influx) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	select {
	case <-s.done:
	case <-time.After(closeTimeout):
		s.logger.Warn("influx writer still busy, skipping flush")
		return
	}
	s.writer.Flush()
	if s.client != nil {
		s.client.Close()
	}
}

func readingPoint(r *sensors.Reading) *write.Point {
	p := influxdb2.NewPointWithMeasurement(measurement).
		AddTag("device_id", r.DeviceID).
		AddTag("sensor_type", r.SensorType).
		AddTag("unit", r.Unit).
		AddField("value", r.Value).
		SetTime(r.Timestamp)

	switch loc := r.Location.(type) {
	case nil:
	case string:
		p.AddTag("location", loc)
	default:
		if b, err := json.Marshal(loc); err == nil {
			p.AddField("location", string(b))
		} else {
			p.AddField("location", fmt.Sprint(loc))
		}
	}
	return p
}
