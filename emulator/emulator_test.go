package emulator

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Uranury/IotGo-emulator/config"
	"github.com/Uranury/IotGo-emulator/queue"
	"github.com/Uranury/IotGo-emulator/sensors"
)

type fakeSender struct {
	mu       sync.Mutex
	messages []queue.Message
	calls    int
	failN    int
}

func (f *fakeSender) Send(_ context.Context, msg queue.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return errors.New("queue unavailable")
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeSender) Close() error { return nil }

func (f *fakeSender) snapshot() ([]queue.Message, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.Message(nil), f.messages...), f.calls
}

func (f *fakeSender) byKey() map[string][]string {
	msgs, _ := f.snapshot()
	out := map[string][]string{}
	for _, m := range msgs {
		out[m.Key] = append(out[m.Key], m.Body)
	}
	return out
}

func ptr(v float64) *float64 { return &v }

func sensor(id, typ string, intervalMS, lo, hi float64) config.SensorDefinition {
	return config.SensorDefinition{
		DeviceID: id, Type: typ, IntervalMS: intervalMS,
		MinValue: ptr(lo), MaxValue: ptr(hi), Unit: "u", Location: "room1",
	}
}

func newConfig(defs ...config.SensorDefinition) *config.Config {
	return &config.Config{
		QueueURL:           "Q",
		FaultInjectionType: config.DefaultFaultInjectionType,
		Sensors:            defs,
	}
}

func runPool(t *testing.T, p *Pool) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	returned := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(returned)
	}()
	return func() {
		stop()
		<-returned
		select {
		case <-p.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("workers did not stop after cancellation")
		}
	}
}

func TestPoolStartsOneWorkerPerSensor(t *testing.T) {
	cfg := newConfig(
		sensor("a", "temperature", 5, 1, 2),
		sensor("b", "pressure", 5, 1000, 1050),
		sensor("c", "light", 5, 100, 500),
	)
	sender := &fakeSender{}
	p := NewPool(cfg, sender)
	require.Equal(t, 3, p.Size())

	stop := runPool(t, p)
	require.Eventually(t, func() bool {
		return len(sender.byKey()) == 3
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	keys := sender.byKey()
	for _, id := range []string{"a", "b", "c"} {
		assert.NotEmpty(t, keys[id], id)
	}
}

func TestFaultInjectionSensorSendsInvalidPayload(t *testing.T) {
	cfg := newConfig(sensor("h-1", "humidity", 2, 30, 70))
	sender := &fakeSender{}
	stop := runPool(t, NewPool(cfg, sender))
	require.Eventually(t, func() bool {
		return len(sender.byKey()["h-1"]) >= 5
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	for _, body := range sender.byKey()["h-1"] {
		require.Equal(t, "THIS IS NOT A JSON AND WILL BREAK LAMBDA", body)
	}
}

func TestConfigurableFaultInjectionType(t *testing.T) {
	cfg := newConfig(sensor("h-1", "humidity", 1, 30, 70), sensor("v-1", "vibration", 1, 0, 1))
	cfg.FaultInjectionType = "vibration"
	sender := &fakeSender{}
	p := NewPool(cfg, sender)

	for _, w := range p.workers {
		require.NoError(t, w.Step(context.Background()))
	}
	keys := sender.byKey()
	assert.Equal(t, []string{InvalidPayload}, keys["v-1"])
	require.Len(t, keys["h-1"], 1)
	assert.NotEqual(t, InvalidPayload, keys["h-1"][0])
}

func TestValidReadingsDecodeWithinRange(t *testing.T) {
	cfg := newConfig(sensor("t-1", "temperature", 1000, 20, 21))
	sender := &fakeSender{}
	p := NewPool(cfg, sender)
	require.Equal(t, time.Second, p.workers[0].interval)

	for i := 0; i < 200; i++ {
		require.NoError(t, p.workers[0].Step(context.Background()))
	}

	bodies := sender.byKey()["t-1"]
	require.Len(t, bodies, 200)
	for _, body := range bodies {
		var r sensors.Reading
		require.NoError(t, json.Unmarshal([]byte(body), &r))
		assert.Equal(t, "temperature", r.SensorType)
		assert.Equal(t, "t-1", r.DeviceID)
		assert.Equal(t, "room1", r.Location)
		assert.GreaterOrEqual(t, r.Value, 20.0)
		assert.LessOrEqual(t, r.Value, 21.0)
		assert.InDelta(t, math.Round(r.Value*100), r.Value*100, 1e-6)
		assert.False(t, r.Timestamp.IsZero())
	}
}

func TestEqualBoundsAlwaysSendTheBound(t *testing.T) {
	sender := &fakeSender{}
	p := NewPool(newConfig(sensor("t-1", "temperature", 1000, 7.25, 7.25)), sender)
	for i := 0; i < 20; i++ {
		require.NoError(t, p.workers[0].Step(context.Background()))
	}
	for _, body := range sender.byKey()["t-1"] {
		var r sensors.Reading
		require.NoError(t, json.Unmarshal([]byte(body), &r))
		require.Equal(t, 7.25, r.Value)
	}
}

func TestSendFailureDoesNotStopWorker(t *testing.T) {
	// A long interval proves the worker waits the failure pause, not the
	// interval, after each failed send.
	cfg := newConfig(sensor("t-1", "temperature", float64(time.Hour/time.Millisecond), 1, 2))
	sender := &fakeSender{failN: 3}
	p := NewPool(cfg, sender, WithFailurePause(time.Millisecond))

	stop := runPool(t, p)
	require.Eventually(t, func() bool {
		msgs, calls := sender.snapshot()
		return calls == 4 && len(msgs) == 1
	}, 2*time.Second, 5*time.Millisecond)
	stop()
}

type blockingSender struct {
	entered chan struct{}
	release chan struct{}
	errs    chan error
}

func (b *blockingSender) Send(ctx context.Context, _ queue.Message) error {
	close(b.entered)
	<-b.release
	b.errs <- ctx.Err()
	return nil
}

func (b *blockingSender) Close() error { return nil }

func TestShutdownDoesNotCancelSendInFlight(t *testing.T) {
	sender := &blockingSender{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		errs:    make(chan error, 1),
	}
	p := NewPool(newConfig(sensor("t-1", "temperature", 1000, 1, 2)), sender)

	ctx, cancel := context.WithCancel(context.Background())
	returned := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(returned)
	}()

	<-sender.entered
	cancel()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	close(sender.release)
	require.NoError(t, <-sender.errs)

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after its send completed")
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func TestRecordersAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	log := &eventLog{}
	sender := &fakeSender{failN: 1}
	cfg := newConfig(sensor("t-1", "temperature", 1000, 1, 2), sensor("h-1", "humidity", 1000, 1, 2))
	p := NewPool(cfg, sender, WithMetrics(m), WithRecorder(log))

	temp, hum := p.workers[0], p.workers[1]
	require.Error(t, temp.Step(context.Background()))
	require.NoError(t, temp.Step(context.Background()))
	require.NoError(t, hum.Step(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("temperature")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sent.WithLabelValues("temperature", "valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sent.WithLabelValues("humidity", "invalid")))

	require.Len(t, log.events, 3)
	assert.Error(t, log.events[0].Err)
	assert.Equal(t, "temperature", log.events[0].SensorType)
	assert.NoError(t, log.events[1].Err)
	assert.NotNil(t, log.events[1].Reading)
	assert.True(t, log.events[2].Injected)
	assert.Equal(t, InvalidPayload, log.events[2].Body)
}

func TestWorkersGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	cfg := newConfig(sensor("a", "temperature", 1000, 1, 2), sensor("b", "temperature", 1000, 1, 2))
	p := NewPool(cfg, &fakeSender{}, WithMetrics(m))

	stop := runPool(t, p)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.workers) == 2
	}, time.Second, 5*time.Millisecond)
	stop()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.workers))
}

func TestEmptyPool(t *testing.T) {
	p := NewPool(newConfig(), &fakeSender{})
	require.Equal(t, 0, p.Size())
	stop := runPool(t, p)
	stop()
}
