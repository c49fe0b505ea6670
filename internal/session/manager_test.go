package session

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/310511/V-medithon-sub003/internal/gesture"
	"github.com/310511/V-medithon-sub003/internal/performance"
	"github.com/310511/V-medithon-sub003/internal/platform/websocket"
	"github.com/310511/V-medithon-sub003/internal/timeutil"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []websocket.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev websocket.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []websocket.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []websocket.Event
	for _, ev := range p.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	mgr   *Manager
	sched *timeutil.ManualScheduler
	pub   *recordingPublisher
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	sched := timeutil.NewManualScheduler()
	pub := &recordingPublisher{}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	opts := Options{
		IdleTTL:       time.Minute,
		SweepInterval: 10 * time.Second,
		Publisher:     pub,
		Scheduler:     sched,
		Logger:        zerolog.Nop(),
		Now:           func() time.Time { return base.Add(sched.Now()) },
	}
	for _, m := range mutate {
		m(&opts)
	}
	mgr := NewManager(opts)
	t.Cleanup(mgr.Close)
	return &fixture{mgr: mgr, sched: sched, pub: pub}
}

func tapAt(ts int64) []TouchInput {
	p := []gesture.TouchPoint{{X: 100, Y: 100}}
	return []TouchInput{
		{Phase: PhaseStart, Points: p, TimestampMs: ts},
		{Phase: PhaseEnd, Points: p, TimestampMs: ts + 50},
	}
}

func TestManager_CreateGetDelete(t *testing.T) {
	f := newFixture(t)

	s, err := f.mgr.Create()
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, 1, f.mgr.Len())

	got, err := f.mgr.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, f.mgr.Delete(s.ID))
	assert.ErrorIs(t, f.mgr.Delete(s.ID), ErrNotFound)
	_, err = f.mgr.Get(s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, f.pub.ofType(websocket.EventSessionClosed), 1)
}

func TestManager_DeleteLogsSessionAge(t *testing.T) {
	var buf bytes.Buffer
	f := newFixture(t, func(o *Options) { o.Logger = zerolog.New(&buf) })

	s, err := f.mgr.Create()
	require.NoError(t, err)
	f.sched.Advance(3 * time.Second)
	require.NoError(t, f.mgr.Delete(s.ID))

	var entry map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m))
		if m["message"] == "session deleted" {
			entry = m
		}
	}
	require.NotNil(t, entry, "expected a session deleted log line")
	assert.Equal(t, s.ID, entry["session_id"])
	assert.Equal(t, float64(3000), entry["age"])
}

func TestManager_CreatePublishesInitialRecommendations(t *testing.T) {
	f := newFixture(t)
	s, err := f.mgr.Create()
	require.NoError(t, err)

	events := f.pub.ofType(websocket.EventRecommendations)
	require.Len(t, events, 1)
	assert.Equal(t, s.ID, events[0].SessionID)

	var rec performance.Recommendations
	require.NoError(t, json.Unmarshal(events[0].Data, &rec))
	assert.Equal(t, performance.ImageHigh, rec.ImageQuality)
}

func TestSession_FeedReturnsGestures(t *testing.T) {
	f := newFixture(t)
	s, _ := f.mgr.Create()

	swipe := []TouchInput{
		{Phase: PhaseStart, Points: []gesture.TouchPoint{{X: 100, Y: 200}}, TimestampMs: 0},
		{Phase: PhaseMove, Points: []gesture.TouchPoint{{X: 100, Y: 170}}, TimestampMs: 60},
		{Phase: PhaseEnd, Points: []gesture.TouchPoint{{X: 100, Y: 140}}, TimestampMs: 120},
	}
	got, err := s.Feed(swipe)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, gesture.KindSwipe, got[0].Kind)
	assert.Equal(t, gesture.DirectionUp, got[0].Direction)
	assert.InDelta(t, 0.5, got[0].Velocity, 1e-9)

	assert.Len(t, f.pub.ofType(websocket.EventGesture), 1)
	assert.Empty(t, f.pub.ofType(websocket.EventHaptic), "haptics are off by default")
}

func TestSession_FeedDoubleTapAcrossBatches(t *testing.T) {
	f := newFixture(t)
	s, _ := f.mgr.Create()

	first, err := s.Feed(tapAt(1000))
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, gesture.KindTap, first[0].Kind)

	second, err := s.Feed(tapAt(1200))
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, gesture.KindDoubleTap, second[0].Kind)
}

func TestSession_FeedRejectsInvalidPhaseWithoutReplaying(t *testing.T) {
	f := newFixture(t)
	s, _ := f.mgr.Create()

	inputs := append(tapAt(0), TouchInput{Phase: "hover"})
	_, err := s.Feed(inputs)

	var phaseErr *InvalidPhaseError
	require.ErrorAs(t, err, &phaseErr)
	assert.Equal(t, 2, phaseErr.Index)
	assert.Empty(t, f.pub.ofType(websocket.EventGesture))
	assert.Equal(t, gesture.StateIdle, s.State())
}

func TestSession_LongPressIsPublishedLater(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Haptics = true })
	s, _ := f.mgr.Create()

	got, err := s.Feed([]TouchInput{{Phase: PhaseStart, Points: []gesture.TouchPoint{{X: 5, Y: 5}}, TimestampMs: 0}})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, gesture.StateLongPressArmed, s.State())

	f.sched.Advance(500 * time.Millisecond)

	gestures := f.pub.ofType(websocket.EventGesture)
	require.Len(t, gestures, 1)
	var ev gesture.Event
	require.NoError(t, json.Unmarshal(gestures[0].Data, &ev))
	assert.Equal(t, gesture.KindLongPress, ev.Kind)

	haptics := f.pub.ofType(websocket.EventHaptic)
	require.Len(t, haptics, 1)
	assert.JSONEq(t, `{"durationMs":50}`, string(haptics[0].Data))

	got, err = s.Feed([]TouchInput{{Phase: PhaseEnd, Points: []gesture.TouchPoint{{X: 5, Y: 5}}, TimestampMs: 700}})
	require.NoError(t, err)
	assert.Empty(t, got, "release after long press is not a tap")
}

func TestSession_FeedDecidesLongPressFromTimestamps(t *testing.T) {
	f := newFixture(t)
	s, _ := f.mgr.Create()

	got, err := s.Feed([]TouchInput{
		{Phase: PhaseStart, Points: []gesture.TouchPoint{{X: 50, Y: 50}}, TimestampMs: 0},
		{Phase: PhaseEnd, Points: []gesture.TouchPoint{{X: 52, Y: 51}}, TimestampMs: 600},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, gesture.KindLongPress, got[0].Kind)
	assert.Equal(t, int64(500), got[0].TimestampMs)
	assert.Equal(t, gesture.StateIdle, s.State())

	// the armed timer was released, nothing fires later
	f.sched.Advance(time.Second)
	assert.Len(t, f.pub.ofType(websocket.EventGesture), 1)
}

func TestSession_ReportAndOnline(t *testing.T) {
	f := newFixture(t)
	s, _ := f.mgr.Create()

	cores := 2
	metrics, rec := s.Report(performance.Report{
		Connection:          &performance.ConnectionInfo{Type: "cellular", EffectiveType: "2g"},
		Display:             &performance.DisplayInfo{DevicePixelRatio: 1, ScreenWidth: 640, ScreenHeight: 960},
		HardwareConcurrency: &cores,
		Heap:                &performance.HeapUsage{UsedBytes: 90, LimitBytes: 100},
	})
	assert.Equal(t, performance.Effective2G, metrics.EffectiveType)
	assert.True(t, metrics.IsLowEndDevice)
	assert.Equal(t, "640x960", metrics.ScreenSize)
	assert.Equal(t, performance.ImageLow, rec.ImageQuality)
	assert.True(t, rec.ReduceMemoryUsage)
	assert.Equal(t, "/a.png?q=60&w=400", s.OptimizeImage("/a.png"))

	rec = s.SetOnline(false)
	assert.True(t, rec.EnableOfflineMode)
	assert.Equal(t, rec, s.Recommendations())

	assert.GreaterOrEqual(t, len(f.pub.ofType(websocket.EventRecommendations)), 2)
}

func TestManager_SweepReapsIdleSessions(t *testing.T) {
	f := newFixture(t)
	f.mgr.Start()

	idle, _ := f.mgr.Create()
	f.sched.Advance(40 * time.Second)
	busy, _ := f.mgr.Create()

	f.sched.Advance(30 * time.Second)
	_, err := f.mgr.Get(busy.ID)
	require.NoError(t, err)

	// idle is now 70s old; the sweep at 70s reaps it.
	_, err = f.mgr.Get(idle.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, f.mgr.Len())

	f.sched.Advance(2 * time.Minute)
	assert.Equal(t, 0, f.mgr.Len())
}

func TestManager_SweepReleasesTimers(t *testing.T) {
	f := newFixture(t)
	s, _ := f.mgr.Create()
	s.Feed([]TouchInput{{Phase: PhaseStart, Points: []gesture.TouchPoint{{X: 1, Y: 1}}, TimestampMs: 0}})
	// memory sampler + long-press timer
	assert.Equal(t, 2, f.sched.Pending())

	f.sched.Advance(2 * time.Minute)
	_ = f.mgr.Sweep()
	assert.Equal(t, 0, f.mgr.Len())
	assert.Equal(t, 0, f.sched.Pending())
}

func TestManager_CloseRejectsCreate(t *testing.T) {
	f := newFixture(t)
	f.mgr.Start()
	_, _ = f.mgr.Create()

	f.mgr.Close()
	f.mgr.Close()
	assert.Equal(t, 0, f.mgr.Len())
	assert.Equal(t, 0, f.sched.Pending())

	_, err := f.mgr.Create()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManager_SessionsAreIndependent(t *testing.T) {
	f := newFixture(t)
	a, _ := f.mgr.Create()
	b, _ := f.mgr.Create()

	a.Report(performance.Report{Connection: &performance.ConnectionInfo{EffectiveType: "slow-2g"}})
	assert.Equal(t, performance.ImageLow, a.Recommendations().ImageQuality)
	assert.Equal(t, performance.ImageHigh, b.Recommendations().ImageQuality)
}

type countingRecorder struct {
	mu       sync.Mutex
	gestures map[string]int
	changes  int
	active   int
}

func (r *countingRecorder) GestureRecognized(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gestures[kind]++
}

func (r *countingRecorder) RecommendationsChanged() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes++
}

func (r *countingRecorder) SessionsActive(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = n
}

func TestManager_RecordsMetrics(t *testing.T) {
	rec := &countingRecorder{gestures: make(map[string]int)}
	f := newFixture(t, func(o *Options) { o.Metrics = rec })

	a, _ := f.mgr.Create()
	_, _ = f.mgr.Create()
	assert.Equal(t, 2, rec.active)

	_, err := a.Feed(tapAt(0))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.gestures[string(gesture.KindTap)])
	assert.Equal(t, 2, rec.changes, "one initial set per session")

	require.NoError(t, f.mgr.Delete(a.ID))
	assert.Equal(t, 1, rec.active)

	f.mgr.Close()
	assert.Equal(t, 0, rec.active)
}
