package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"stackstatus/internal/backend"
	"stackstatus/internal/models"
	"stackstatus/internal/observability"
)

// FailedTestMessage replaces the test message whenever the demonstration call fails.
const FailedTestMessage = "Failed to connect to backend"

const defaultStopWait = 5 * time.Second

// Backend is the external API boundary the monitor talks to.
type Backend interface {
	Probe(ctx context.Context) (backend.ProbeResult, error)
	FetchStatus(ctx context.Context) (models.StatusPayload, error)
	Hello(ctx context.Context) (string, error)
	BaseURL() string
	Links() models.Links
}

// Recorder receives one record per completed refresh.
type Recorder interface {
	Append(models.ProbeRecord) error
}

// Monitor tracks backend reachability, the extended status document and the
// last demonstration message.
//
// Operations are not serialised against each other: each applies its result
// when its own requests complete, so the last completion wins. Stop only ends
// the background loop; operations already in flight still apply, and Stop
// gives up waiting for a loop refresh that is stuck on an unanswered request.
type Monitor struct {
	backend  Backend
	recorder Recorder
	interval time.Duration

	mu          sync.RWMutex
	state       models.ConnectivityState
	status      *models.StatusPayload
	testMessage *string
	checkedAt   time.Time
	subs        map[int]chan models.Snapshot
	nextSub     int

	started  atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stop     sync.Once
	stopWait time.Duration
}

// New creates a monitor. recorder may be nil. A non-positive interval means
// the backend is refreshed once on Start and afterwards only on demand.
func New(b Backend, recorder Recorder, interval time.Duration) *Monitor {
	if interval < 0 {
		interval = 0
	}
	return &Monitor{
		backend:  b,
		recorder: recorder,
		interval: interval,
		state:    models.StateChecking,
		subs:     make(map[int]chan models.Snapshot),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		stopWait: defaultStopWait,
	}
}

// Start launches the refresh loop in a goroutine. The first refresh runs immediately.
func (m *Monitor) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go m.run()
}

// Stop requests loop termination and waits until it is done, or until the
// stop wait elapses. A refresh still in flight at that point is abandoned and
// applies whenever its request returns.
func (m *Monitor) Stop() {
	if !m.started.Load() {
		return
	}
	m.stop.Do(func() { close(m.stopCh) })
	select {
	case <-m.doneCh:
	case <-time.After(m.stopWait):
		observability.Info("monitor.stop_timeout", map[string]interface{}{
			"base_url": m.backend.BaseURL(),
			"waited":   m.stopWait.String(),
		})
	}
}

// Snapshot returns a copy of the current state.
func (m *Monitor) Snapshot() models.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// Subscribe returns a channel receiving a snapshot after every state change,
// and a func to cancel the subscription. A slow reader only ever sees the
// newest pending snapshot.
func (m *Monitor) Subscribe() (<-chan models.Snapshot, func()) {
	ch := make(chan models.Snapshot, 1)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			close(ch)
			m.mu.Unlock()
		})
	}
	return ch, cancel
}

// RefreshStatus probes the backend and, when it answers, fetches the extended
// status. Failures are absorbed into the connectivity state.
func (m *Monitor) RefreshStatus(ctx context.Context) models.Snapshot {
	record := models.ProbeRecord{
		ID:        uuid.NewString(),
		CheckedAt: time.Now().UTC(),
	}
	fields := map[string]interface{}{"base_url": m.backend.BaseURL(), "probe_id": record.ID}

	res, err := m.backend.Probe(ctx)
	if res.StatusCode != 0 {
		code := res.StatusCode
		latency := float64(res.Latency.Microseconds()) / 1000
		record.StatusCode = &code
		record.LatencyMS = &latency
	}
	if err != nil {
		observability.Error("monitor.probe_failed", fields, err)
		record.State = models.StateUnreachable
		record.Error = err.Error()
		snap := m.apply(func() {
			m.transitionLocked(models.StateUnreachable)
			m.checkedAt = time.Now().UTC()
		})
		m.record(record)
		return snap
	}

	record.State = models.StateReachable
	snap := m.apply(func() {
		m.transitionLocked(models.StateReachable)
		m.checkedAt = time.Now().UTC()
	})

	payload, err := m.backend.FetchStatus(ctx)
	var statusErr *backend.StatusError
	switch {
	case err == nil:
		snap = m.apply(func() {
			m.status = &payload
		})
	case errors.As(err, &statusErr):
		// Reachable but no extended status; the previous payload stays.
		observability.Error("monitor.status_unavailable", fields, err)
	default:
		observability.Error("monitor.status_failed", fields, err)
		record.State = models.StateUnreachable
		record.Error = err.Error()
		snap = m.apply(func() {
			m.transitionLocked(models.StateUnreachable)
		})
	}

	m.record(record)
	return snap
}

// RunTestCall performs the demonstration call and stores its message, or
// FailedTestMessage on any failure. It does not check connectivity first.
func (m *Monitor) RunTestCall(ctx context.Context) models.Snapshot {
	msg, err := m.backend.Hello(ctx)
	if err != nil {
		observability.Error("monitor.test_call_failed", map[string]interface{}{"base_url": m.backend.BaseURL()}, err)
		msg = FailedTestMessage
	}
	return m.apply(func() {
		m.testMessage = &msg
	})
}

func (m *Monitor) run() {
	defer close(m.doneCh)

	m.RefreshStatus(context.Background())

	if m.interval <= 0 {
		<-m.stopCh
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.RefreshStatus(context.Background())
		case <-m.stopCh:
			return
		}
	}
}

// apply mutates state and notifies subscribers under the same lock so that
// notifications are delivered in mutation order.
func (m *Monitor) apply(mutate func()) models.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	mutate()
	snap := m.snapshotLocked()
	for _, ch := range m.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
	return snap
}

func (m *Monitor) transitionLocked(next models.ConnectivityState) {
	if m.state == next {
		return
	}
	observability.Info("monitor.state_changed", map[string]interface{}{
		"base_url": m.backend.BaseURL(),
		"from":     m.state.String(),
		"to":       next.String(),
	})
	m.state = next
}

func (m *Monitor) record(rec models.ProbeRecord) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.Append(rec); err != nil {
		observability.Error("monitor.record_failed", map[string]interface{}{"probe_id": rec.ID}, err)
	}
}

func (m *Monitor) snapshotLocked() models.Snapshot {
	snap := models.Snapshot{
		State:      m.state,
		StateLabel: m.state.Label(),
		APIBaseURL: m.backend.BaseURL(),
		Links:      m.backend.Links(),
	}
	if m.status != nil {
		status := *m.status
		snap.Status = &status
	}
	if m.testMessage != nil {
		msg := *m.testMessage
		snap.TestMessage = &msg
	}
	if !m.checkedAt.IsZero() {
		checked := m.checkedAt
		snap.CheckedAt = &checked
	}
	return snap
}
