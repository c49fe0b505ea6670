package performance

import (
	"sync"
)

// ConnectionInfo is what a network-information capability exposes.
type ConnectionInfo struct {
	Type          string  `json:"type,omitempty"`
	EffectiveType string  `json:"effectiveType,omitempty"`
	DownlinkMbps  float64 `json:"downlink,omitempty"`
	RTTMs         float64 `json:"rtt,omitempty"`
	SaveData      bool    `json:"saveData,omitempty"`
}

// DisplayInfo is the device pixel ratio and screen geometry.
type DisplayInfo struct {
	DevicePixelRatio float64 `json:"devicePixelRatio,omitempty"`
	ScreenWidth      int     `json:"screenWidth"`
	ScreenHeight     int     `json:"screenHeight"`
}

// HeapUsage is the JavaScript heap (or equivalent) usage of the host.
type HeapUsage struct {
	UsedBytes  int64 `json:"usedBytes"`
	LimitBytes int64 `json:"limitBytes"`
}

// Capabilities is the runtime surface the engine samples. Every reading is
// optional; the second return value reports whether the capability exists.
type Capabilities interface {
	Connection() (ConnectionInfo, bool)
	Display() (DisplayInfo, bool)
	HardwareConcurrency() (int, bool)
	ServiceWorker() bool
	Heap() (HeapUsage, bool)
	Online() (online bool, ok bool)

	// OnConnectionChange registers f for network-change notifications and
	// returns a function that deregisters it.
	OnConnectionChange(f func()) (cancel func())
	// OnOnlineChange registers f for online/offline notifications.
	OnOnlineChange(f func(online bool)) (cancel func())
}

// Report is a capability snapshot sent by a client. Nil fields mean the
// capability is absent on that client.
type Report struct {
	Connection          *ConnectionInfo `json:"connection,omitempty"`
	Display             *DisplayInfo    `json:"display,omitempty"`
	HardwareConcurrency *int            `json:"hardwareConcurrency,omitempty"`
	ServiceWorker       bool            `json:"serviceWorker"`
	Heap                *HeapUsage      `json:"heap,omitempty"`
	Online              *bool           `json:"online,omitempty"`
}

// Reported is a Capabilities implementation fed by client reports. The zero
// value has no capabilities. It is safe for concurrent use.
type Reported struct {
	mu         sync.RWMutex
	report     Report
	nextID     int
	connSubs   map[int]func()
	onlineSubs map[int]func(bool)
}

// NewReported returns a Reported seeded with r.
func NewReported(r Report) *Reported {
	return &Reported{report: r}
}

func (c *Reported) Connection() (ConnectionInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.report.Connection == nil {
		return ConnectionInfo{}, false
	}
	return *c.report.Connection, true
}

func (c *Reported) Display() (DisplayInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.report.Display == nil {
		return DisplayInfo{}, false
	}
	return *c.report.Display, true
}

func (c *Reported) HardwareConcurrency() (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.report.HardwareConcurrency == nil {
		return 0, false
	}
	return *c.report.HardwareConcurrency, true
}

func (c *Reported) ServiceWorker() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.report.ServiceWorker
}

func (c *Reported) Heap() (HeapUsage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.report.Heap == nil {
		return HeapUsage{}, false
	}
	return *c.report.Heap, true
}

func (c *Reported) Online() (bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.report.Online == nil {
		return false, false
	}
	return *c.report.Online, true
}

func (c *Reported) OnConnectionChange(f func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connSubs == nil {
		c.connSubs = make(map[int]func())
	}
	id := c.nextID
	c.nextID++
	c.connSubs[id] = f
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.connSubs, id)
	}
}

func (c *Reported) OnOnlineChange(f func(bool)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.onlineSubs == nil {
		c.onlineSubs = make(map[int]func(bool))
	}
	id := c.nextID
	c.nextID++
	c.onlineSubs[id] = f
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.onlineSubs, id)
	}
}

// Listeners returns the number of registered change listeners.
func (c *Reported) Listeners() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.connSubs) + len(c.onlineSubs)
}

// Apply replaces the stored report. Connection listeners fire when the
// connection reading changed, online listeners when the online flag changed.
// Listeners run after the lock is released.
func (c *Reported) Apply(r Report) {
	c.mu.Lock()
	prev := c.report
	c.report = r
	connChanged := !equalConnection(prev.Connection, r.Connection)
	onlineChanged := r.Online != nil && (prev.Online == nil || *prev.Online != *r.Online)

	var connSubs []func()
	if connChanged {
		for _, f := range c.connSubs {
			connSubs = append(connSubs, f)
		}
	}
	var onlineSubs []func(bool)
	if onlineChanged {
		for _, f := range c.onlineSubs {
			onlineSubs = append(onlineSubs, f)
		}
	}
	c.mu.Unlock()

	for _, f := range connSubs {
		f()
	}
	for _, f := range onlineSubs {
		f(*r.Online)
	}
}

// SetOnline records an online/offline transition.
func (c *Reported) SetOnline(online bool) {
	c.mu.RLock()
	r := c.report
	c.mu.RUnlock()
	r.Online = &online
	c.Apply(r)
}

func equalConnection(a, b *ConnectionInfo) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
