package performance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/310511/V-medithon-sub003/internal/timeutil"
)

// DefaultMemoryInterval is how often heap usage is sampled while started.
const DefaultMemoryInterval = 5 * time.Second

// Low-end device limits. All four conditions must hold.
const (
	LowEndMaxPixelRatio  = 1.5
	LowEndMaxScreenWidth = 768
	LowEndMaxCores       = 4
)

// IsLowEndDevice applies the low-end heuristic. An unknown core count never
// classifies as low-end.
func IsLowEndDevice(dpr float64, screenWidth, cores int, coresKnown, serviceWorker bool) bool {
	return dpr <= LowEndMaxPixelRatio &&
		screenWidth <= LowEndMaxScreenWidth &&
		coresKnown && cores <= LowEndMaxCores &&
		!serviceWorker
}

// Option configures an Engine.
type Option func(*Engine)

// WithScheduler sets the scheduler driving the memory sampler.
func WithScheduler(s timeutil.Scheduler) Option {
	return func(e *Engine) {
		if s != nil {
			e.scheduler = s
		}
	}
}

// WithMemoryInterval overrides DefaultMemoryInterval.
func WithMemoryInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.memoryInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine samples a Capabilities surface into Metrics and derives
// Recommendations from them. Each engine owns its metrics; engines never
// share state. Engine methods are safe for concurrent use.
type Engine struct {
	caps           Capabilities
	scheduler      timeutil.Scheduler
	memoryInterval time.Duration
	logger         zerolog.Logger

	mu      sync.RWMutex
	metrics Metrics
	online  bool
	last    Recommendations
	hasLast bool
	nextSub int
	subs    map[int]func(Recommendations)

	started bool
	closed  bool
	cancels []func()
	memTask timeutil.Task
	stopped chan struct{}
}

// NewEngine creates an engine over caps. A nil caps behaves like a runtime
// with no capabilities at all.
func NewEngine(caps Capabilities, opts ...Option) *Engine {
	if caps == nil {
		caps = &Reported{}
	}
	e := &Engine{
		caps:           caps,
		scheduler:      timeutil.RealScheduler{},
		memoryInterval: DefaultMemoryInterval,
		logger:         zerolog.Nop(),
		metrics:        DefaultMetrics(),
		online:         true,
		subs:           make(map[int]func(Recommendations)),
		stopped:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SampleConnection reads the network-information capability. When the
// capability is absent the previous values are kept.
func (e *Engine) SampleConnection() {
	c, ok := e.caps.Connection()
	if !ok {
		return
	}
	e.update(func(m *Metrics) {
		m.ConnectionType = c.Type
		if m.ConnectionType == "" {
			m.ConnectionType = "unknown"
		}
		m.EffectiveType = ParseEffectiveType(c.EffectiveType)
		m.DownlinkMbps = c.DownlinkMbps
		m.RTTMs = c.RTTMs
		m.SaveData = c.SaveData
	})
}

// SampleDevice reads pixel ratio and screen geometry and reclassifies the
// device. When no display capability exists the previous values are kept.
func (e *Engine) SampleDevice() {
	d, ok := e.caps.Display()
	if !ok {
		return
	}
	dpr := d.DevicePixelRatio
	if dpr <= 0 {
		dpr = 1
	}
	cores, coresKnown := e.caps.HardwareConcurrency()
	lowEnd := IsLowEndDevice(dpr, d.ScreenWidth, cores, coresKnown, e.caps.ServiceWorker())

	e.update(func(m *Metrics) {
		m.DevicePixelRatio = dpr
		m.ScreenSize = fmt.Sprintf("%dx%d", d.ScreenWidth, d.ScreenHeight)
		m.IsLowEndDevice = lowEnd
	})
}

// SampleMemory reads heap usage. Without a heap capability the ratio stays
// unset.
func (e *Engine) SampleMemory() {
	h, ok := e.caps.Heap()
	if !ok || h.LimitBytes <= 0 {
		return
	}
	ratio := float64(h.UsedBytes) / float64(h.LimitBytes)
	e.update(func(m *Metrics) {
		m.MemoryUsageRatio = &ratio
	})
}

// SampleOnline reads the online flag. Without the capability the engine
// assumes it is online.
func (e *Engine) SampleOnline() {
	if online, ok := e.caps.Online(); ok {
		e.setOnline(online)
	}
}

// Refresh samples every capability.
func (e *Engine) Refresh() {
	e.SampleConnection()
	e.SampleDevice()
	e.SampleMemory()
	e.SampleOnline()
}

// Start samples every capability, registers change listeners and starts the
// periodic memory sampler. Everything is released by Close, which also runs
// when ctx is cancelled. Start is a no-op after the first call.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started || e.closed {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	e.Refresh()

	cancels := []func(){
		e.caps.OnConnectionChange(e.SampleConnection),
		e.caps.OnOnlineChange(e.setOnline),
	}
	task := e.scheduler.Every(e.memoryInterval, e.SampleMemory)

	e.mu.Lock()
	if e.closed {
		// Close ran while we were registering; release what it could not see.
		e.mu.Unlock()
		for _, cancel := range cancels {
			cancel()
		}
		task.Stop()
		return
	}
	e.cancels = cancels
	e.memTask = task
	e.mu.Unlock()

	e.logger.Debug().Dur("memory_interval", e.memoryInterval).Msg("performance engine started")

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				e.Close()
			case <-e.stopped:
			}
		}()
	}
}

// Close deregisters listeners and stops the memory sampler. It is safe to
// call more than once.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	cancels := e.cancels
	task := e.memTask
	e.cancels = nil
	e.memTask = nil
	close(e.stopped)
	e.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if task != nil {
		task.Stop()
	}
}

// Metrics returns a snapshot of the current metrics.
func (e *Engine) Metrics() Metrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.metrics.clone()
}

// Online returns the last known online flag.
func (e *Engine) Online() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.online
}

// Recommendations derives the recommendation set from the current metrics.
func (e *Engine) Recommendations() Recommendations {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Recommend(e.metrics, e.online)
}

// Subscribe registers f to be called whenever the derived recommendations
// change. The returned function deregisters it.
func (e *Engine) Subscribe(f func(Recommendations)) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = f
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

func (e *Engine) setOnline(online bool) {
	e.mu.Lock()
	e.online = online
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) update(f func(*Metrics)) {
	e.mu.Lock()
	f(&e.metrics)
	e.mu.Unlock()
	e.notify()
}

// notify calls subscribers when the derived set differs from the last one
// delivered.
func (e *Engine) notify() {
	e.mu.Lock()
	rec := Recommend(e.metrics, e.online)
	if e.hasLast && rec == e.last {
		e.mu.Unlock()
		return
	}
	e.last = rec
	e.hasLast = true
	subs := make([]func(Recommendations), 0, len(e.subs))
	for _, f := range e.subs {
		subs = append(subs, f)
	}
	e.mu.Unlock()

	for _, f := range subs {
		f(rec)
	}
}
