// Package emulator runs one publishing loop per simulated sensor.
package emulator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Uranury/IotGo-emulator/queue"
	"github.com/Uranury/IotGo-emulator/sensors"
)

// InvalidPayload is sent instead of a reading by fault-injection sensors, to
// exercise the error handling of the consumer.
const InvalidPayload = "THIS IS NOT A JSON AND WILL BREAK LAMBDA"

// DefaultFailurePause is how long a worker waits after a failed iteration.
const DefaultFailurePause = time.Second

// Worker publishes readings of one sensor until its context is cancelled.
type Worker struct {
	sensor       sensors.Sensor
	sensorType   string
	deviceID     string
	interval     time.Duration
	inject       bool
	failurePause time.Duration

	sender   queue.Sender
	recorder Recorder
	logger   *zap.Logger
}

// Step runs one iteration: read, encode, send exactly once.
func (w *Worker) Step(ctx context.Context) error {
	ev := Event{SensorType: w.sensorType, DeviceID: w.deviceID, Injected: w.inject}
	err := w.step(ctx, &ev)
	ev.Err = err
	w.recorder.Record(ev)
	return err
}

func (w *Worker) step(ctx context.Context, ev *Event) error {
	reading, err := w.sensor.Read()
	if err != nil {
		return errors.Wrap(err, "read sensor")
	}
	ev.Reading = reading

	if w.inject {
		ev.Body = InvalidPayload
	} else {
		b, err := json.Marshal(reading)
		if err != nil {
			return errors.Wrap(err, "encode reading")
		}
		ev.Body = string(b)
	}

	// Shutdown never interrupts a send in flight.
	sendCtx := context.WithoutCancel(ctx)
	if err := w.sender.Send(sendCtx, queue.Message{Body: ev.Body, Key: w.deviceID}); err != nil {
		return err
	}

	if w.inject {
		w.logger.Info("sent broken data", zap.String("type", w.sensorType))
	} else {
		w.logger.Debug("sent reading", zap.Float64("value", reading.Value))
	}
	return nil
}

// Run loops until ctx is cancelled. A failed iteration is logged and followed
// by the failure pause instead of the sampling interval; the worker itself
// never stops on error.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("started sensor", zap.Duration("interval", w.interval))
	for {
		pause := w.interval
		if err := w.Step(ctx); err != nil {
			w.logger.Error("send failed", zap.Error(err))
			pause = w.failurePause
		}

		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			t.Stop()
			w.logger.Debug("sensor stopped")
			return
		case <-t.C:
		}
	}
}
