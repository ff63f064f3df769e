package emulator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Uranury/IotGo-emulator/config"
	"github.com/Uranury/IotGo-emulator/queue"
	"github.com/Uranury/IotGo-emulator/sensors"
)

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the parent logger of every worker.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithRecorder adds an observer of worker iterations.
func WithRecorder(r Recorder) Option {
	return func(p *Pool) { p.recorders = append(p.recorders, r) }
}

// WithMetrics records iterations and tracks the number of running workers.
func WithMetrics(m *Metrics) Option {
	return func(p *Pool) {
		p.metrics = m
		p.recorders = append(p.recorders, m)
	}
}

// WithFailurePause sets how long a worker waits after a failed iteration.
func WithFailurePause(d time.Duration) Option {
	return func(p *Pool) { p.failurePause = d }
}

// Pool owns one worker per sensor definition. Workers share only the sender
// and the recorders.
type Pool struct {
	queueURL     string
	workers      []*Worker
	recorders    Recorders
	metrics      *Metrics
	logger       *zap.Logger
	failurePause time.Duration

	wg   sync.WaitGroup
	done chan struct{}
}

// NewPool builds a worker for every sensor in cfg.
func NewPool(cfg *config.Config, sender queue.Sender, opts ...Option) *Pool {
	p := &Pool{
		queueURL:     cfg.QueueURL,
		logger:       zap.NewNop(),
		failurePause: DefaultFailurePause,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	var recorder Recorder = nopRecorder{}
	if len(p.recorders) > 0 {
		recorder = p.recorders
	}

	faultType := cfg.FaultInjectionType
	if faultType == "" {
		faultType = config.DefaultFaultInjectionType
	}

	for _, def := range cfg.Sensors {
		s := sensors.NewRangeSensor(def, nil)
		p.workers = append(p.workers, &Worker{
			sensor:       s,
			sensorType:   def.Type,
			deviceID:     s.DeviceID(),
			interval:     def.Interval(),
			inject:       def.Type == faultType,
			failurePause: p.failurePause,
			sender:       sender,
			recorder:     recorder,
			logger: p.logger.With(
				zap.String("type", def.Type),
				zap.String("deviceId", s.DeviceID()),
				zap.String("location", fmt.Sprint(def.Location)),
			),
		})
	}
	return p
}

// Size is the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Run starts every worker and blocks until ctx is cancelled. It must be
// called once. It returns without waiting for the workers: each one notices
// the cancellation at its next pause, and a send in flight is not awaited.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("target queue", zap.String("queue_url", p.queueURL), zap.Int("sensors", len(p.workers)))
	if len(p.workers) == 0 {
		p.logger.Warn("no sensors configured")
	}

	p.wg.Add(len(p.workers))
	for _, w := range p.workers {
		go func() {
			defer p.wg.Done()
			if p.metrics != nil {
				p.metrics.workerStarted()
				defer p.metrics.workerStopped()
			}
			w.Run(ctx)
		}()
	}
	go func() {
		p.wg.Wait()
		close(p.done)
	}()

	<-ctx.Done()
	return nil
}

// Done is closed once every worker has returned.
func (p *Pool) Done() <-chan struct{} { return p.done }
