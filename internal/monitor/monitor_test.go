package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stackstatus/internal/backend"
	"stackstatus/internal/models"
)

const statusBody = `{"api_status":"operational","python_version":"go1.22.3","platform":"linux/amd64","environment":"development"}`

var wantPayload = models.StatusPayload{
	ServiceIndicator: "operational",
	RuntimeVersion:   "go1.22.3",
	PlatformName:     "linux/amd64",
	EnvironmentName:  "development",
}

// fakeAPI serves the three backend routes with switchable responses.
type fakeAPI struct {
	mu         sync.Mutex
	healthCode int
	statusCode int
	statusBody string
	helloCode  int
	helloBody  string
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	api := &fakeAPI{
		healthCode: http.StatusOK,
		statusCode: http.StatusOK,
		statusBody: statusBody,
		helloCode:  http.StatusOK,
		helloBody:  `{"message":"pong"}`,
	}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return api, srv
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.URL.Path {
	case "/health":
		w.WriteHeader(f.healthCode)
		w.Write([]byte(`{"status":"healthy"}`))
	case "/api/status":
		w.WriteHeader(f.statusCode)
		w.Write([]byte(f.statusBody))
	case "/api/hello":
		w.WriteHeader(f.helloCode)
		w.Write([]byte(f.helloBody))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAPI) set(fn func(*fakeAPI)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type memRecorder struct {
	mu      sync.Mutex
	records []models.ProbeRecord
}

func (r *memRecorder) Append(rec models.ProbeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *memRecorder) all() []models.ProbeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ProbeRecord(nil), r.records...)
}

// stubBackend lets tests control completion order.
type stubBackend struct {
	probe  func(context.Context) (backend.ProbeResult, error)
	status func(context.Context) (models.StatusPayload, error)
	hello  func(context.Context) (string, error)
}

func (s *stubBackend) Probe(ctx context.Context) (backend.ProbeResult, error) {
	return s.probe(ctx)
}

func (s *stubBackend) FetchStatus(ctx context.Context) (models.StatusPayload, error) {
	return s.status(ctx)
}

func (s *stubBackend) Hello(ctx context.Context) (string, error) {
	return s.hello(ctx)
}

func (s *stubBackend) BaseURL() string { return "http://stub" }

func (s *stubBackend) Links() models.Links {
	return models.Links{Docs: "http://stub/docs", Redoc: "http://stub/redoc"}
}

func TestNew_StartsChecking(t *testing.T) {
	_, srv := newFakeAPI(t)
	m := New(backend.New(srv.URL, 0), nil, 0)

	snap := m.Snapshot()
	if snap.State != models.StateChecking {
		t.Fatalf("expected checking, got %s", snap.State)
	}
	if snap.Status != nil || snap.TestMessage != nil || snap.CheckedAt != nil {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
	if snap.Links.Docs != srv.URL+"/docs" || snap.Links.Redoc != srv.URL+"/redoc" {
		t.Fatalf("unexpected links %+v", snap.Links)
	}
}

func TestRefreshStatus_Reachable(t *testing.T) {
	_, srv := newFakeAPI(t)
	rec := &memRecorder{}
	m := New(backend.New(srv.URL, 0), rec, 0)

	snap := m.RefreshStatus(context.Background())
	if snap.State != models.StateReachable {
		t.Fatalf("expected reachable, got %s", snap.State)
	}
	if snap.Status == nil || *snap.Status != wantPayload {
		t.Fatalf("unexpected payload %+v", snap.Status)
	}
	if snap.CheckedAt == nil {
		t.Fatal("expected checked_at to be set")
	}

	records := rec.all()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].State != models.StateReachable || records[0].ID == "" {
		t.Fatalf("unexpected record %+v", records[0])
	}
	if records[0].StatusCode == nil || *records[0].StatusCode != http.StatusOK {
		t.Fatalf("expected status code 200, got %v", records[0].StatusCode)
	}
}

func TestRefreshStatus_ProbeErrorStatusKeepsPayload(t *testing.T) {
	api, srv := newFakeAPI(t)
	rec := &memRecorder{}
	m := New(backend.New(srv.URL, 0), rec, 0)
	m.RefreshStatus(context.Background())

	api.set(func(f *fakeAPI) {
		f.healthCode = http.StatusServiceUnavailable
		f.statusBody = `{"api_status":"changed"}`
	})
	snap := m.RefreshStatus(context.Background())

	if snap.State != models.StateUnreachable {
		t.Fatalf("expected unreachable, got %s", snap.State)
	}
	if snap.Status == nil || *snap.Status != wantPayload {
		t.Fatalf("payload should be left stale, got %+v", snap.Status)
	}
	records := rec.all()
	last := records[len(records)-1]
	if last.State != models.StateUnreachable || last.Error == "" {
		t.Fatalf("unexpected record %+v", last)
	}
	if last.StatusCode == nil || *last.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected status code 503, got %v", last.StatusCode)
	}
	if last.LatencyMS == nil {
		t.Fatal("expected latency for an answered probe")
	}
}

func TestRefreshStatus_NetworkFailureRecordsNoLatency(t *testing.T) {
	_, srv := newFakeAPI(t)
	rec := &memRecorder{}
	m := New(backend.New(srv.URL, 0), rec, 0)

	srv.Close()
	m.RefreshStatus(context.Background())

	records := rec.all()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].StatusCode != nil || records[0].LatencyMS != nil {
		t.Fatalf("unanswered probe should carry no status or latency, got %+v", records[0])
	}
}

func TestRefreshStatus_NetworkFailureKeepsPayload(t *testing.T) {
	_, srv := newFakeAPI(t)
	m := New(backend.New(srv.URL, 0), nil, 0)
	m.RefreshStatus(context.Background())

	srv.Close()
	snap := m.RefreshStatus(context.Background())

	if snap.State != models.StateUnreachable {
		t.Fatalf("expected unreachable, got %s", snap.State)
	}
	if snap.Status == nil || *snap.Status != wantPayload {
		t.Fatalf("payload should be left stale, got %+v", snap.Status)
	}
}

func TestRefreshStatus_FirstProbeFails(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.set(func(f *fakeAPI) { f.healthCode = http.StatusInternalServerError })
	m := New(backend.New(srv.URL, 0), nil, 0)

	snap := m.RefreshStatus(context.Background())
	if snap.State != models.StateUnreachable {
		t.Fatalf("expected unreachable, got %s", snap.State)
	}
	if snap.Status != nil {
		t.Fatalf("expected no payload, got %+v", snap.Status)
	}
}

func TestRefreshStatus_ExtendedStatusErrorStaysReachable(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.set(func(f *fakeAPI) { f.statusCode = http.StatusBadGateway })
	m := New(backend.New(srv.URL, 0), nil, 0)

	snap := m.RefreshStatus(context.Background())
	if snap.State != models.StateReachable {
		t.Fatalf("expected reachable, got %s", snap.State)
	}
	if snap.Status != nil {
		t.Fatalf("expected no payload, got %+v", snap.Status)
	}
}

func TestRefreshStatus_MalformedExtendedStatusIsUnreachable(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.set(func(f *fakeAPI) { f.statusBody = `{"api_status":` })
	m := New(backend.New(srv.URL, 0), nil, 0)

	snap := m.RefreshStatus(context.Background())
	if snap.State != models.StateUnreachable {
		t.Fatalf("expected unreachable, got %s", snap.State)
	}
	if snap.Status != nil {
		t.Fatalf("expected no payload, got %+v", snap.Status)
	}
}

func TestRefreshStatus_Idempotent(t *testing.T) {
	_, srv := newFakeAPI(t)
	m := New(backend.New(srv.URL, 0), nil, 0)

	first := m.RefreshStatus(context.Background())
	second := m.RefreshStatus(context.Background())

	if first.State != second.State {
		t.Fatalf("state drifted: %s -> %s", first.State, second.State)
	}
	if first.Status == nil || second.Status == nil || *first.Status != *second.Status {
		t.Fatalf("payload drifted: %+v -> %+v", first.Status, second.Status)
	}
}

func TestRefreshStatus_RecoversAfterOutage(t *testing.T) {
	api, srv := newFakeAPI(t)
	m := New(backend.New(srv.URL, 0), nil, 0)

	api.set(func(f *fakeAPI) { f.healthCode = http.StatusServiceUnavailable })
	if snap := m.RefreshStatus(context.Background()); snap.State != models.StateUnreachable {
		t.Fatalf("expected unreachable, got %s", snap.State)
	}

	api.set(func(f *fakeAPI) { f.healthCode = http.StatusOK })
	if snap := m.RefreshStatus(context.Background()); snap.State != models.StateReachable {
		t.Fatalf("expected reachable, got %s", snap.State)
	}
}

func TestRunTestCall_Success(t *testing.T) {
	_, srv := newFakeAPI(t)
	m := New(backend.New(srv.URL, 0), nil, 0)

	snap := m.RunTestCall(context.Background())
	if snap.TestMessage == nil || *snap.TestMessage != "pong" {
		t.Fatalf("expected pong, got %v", snap.TestMessage)
	}
	if snap.State != models.StateChecking {
		t.Fatalf("test call must not touch connectivity, got %s", snap.State)
	}
}

func TestRunTestCall_Failures(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*fakeAPI)
	}{
		{"server error", func(f *fakeAPI) { f.helloCode = http.StatusInternalServerError }},
		{"malformed body", func(f *fakeAPI) { f.helloBody = `not json` }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api, srv := newFakeAPI(t)
			api.set(tc.setup)
			m := New(backend.New(srv.URL, 0), nil, 0)

			snap := m.RunTestCall(context.Background())
			if snap.TestMessage == nil || *snap.TestMessage != FailedTestMessage {
				t.Fatalf("expected fallback message, got %v", snap.TestMessage)
			}
		})
	}
}

func TestRunTestCall_NetworkFailureOverwritesMessage(t *testing.T) {
	_, srv := newFakeAPI(t)
	m := New(backend.New(srv.URL, 0), nil, 0)
	m.RunTestCall(context.Background())

	srv.Close()
	snap := m.RunTestCall(context.Background())
	if snap.TestMessage == nil || *snap.TestMessage != FailedTestMessage {
		t.Fatalf("expected fallback message, got %v", snap.TestMessage)
	}
}

func TestStart_RefreshesOnce(t *testing.T) {
	var probes atomic.Int32
	b := &stubBackend{
		probe: func(context.Context) (backend.ProbeResult, error) {
			probes.Add(1)
			return backend.ProbeResult{StatusCode: http.StatusOK}, nil
		},
		status: func(context.Context) (models.StatusPayload, error) { return wantPayload, nil },
	}
	m := New(b, nil, 0)
	updates, cancel := m.Subscribe()
	defer cancel()

	m.Start()
	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("no refresh after Start")
	}
	m.Stop()

	if got := probes.Load(); got != 1 {
		t.Fatalf("expected exactly one automatic probe, got %d", got)
	}
	if snap := m.Snapshot(); snap.State != models.StateReachable {
		t.Fatalf("expected reachable, got %s", snap.State)
	}
}

func TestStop_WithoutStart(t *testing.T) {
	_, srv := newFakeAPI(t)
	m := New(backend.New(srv.URL, 0), nil, 0)

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a monitor that was never started")
	}
}

func TestStop_DoesNotHangOnUnansweredRefresh(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	b := &stubBackend{
		probe: func(context.Context) (backend.ProbeResult, error) {
			close(entered)
			<-release
			return backend.ProbeResult{StatusCode: http.StatusOK}, nil
		},
		status: func(context.Context) (models.StatusPayload, error) { return wantPayload, nil },
	}
	m := New(b, nil, 0)
	m.stopWait = 20 * time.Millisecond
	updates, cancel := m.Subscribe()
	defer cancel()

	m.Start()
	<-entered

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a refresh that never returned")
	}

	close(release)
	select {
	case snap := <-updates:
		if snap.State != models.StateReachable {
			t.Fatalf("abandoned refresh should still apply, got %s", snap.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("abandoned refresh never applied")
	}
}

func TestRefreshStatus_StaleCompletionAfterStopStillApplies(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	b := &stubBackend{
		probe: func(context.Context) (backend.ProbeResult, error) {
			close(entered)
			<-release
			return backend.ProbeResult{}, errors.New("connection refused")
		},
	}
	m := New(b, nil, 0)

	done := make(chan models.Snapshot)
	go func() { done <- m.RefreshStatus(context.Background()) }()
	<-entered
	m.Stop()
	close(release)

	snap := <-done
	if snap.State != models.StateUnreachable {
		t.Fatalf("in-flight refresh should still apply, got %s", snap.State)
	}
	if m.Snapshot().State != models.StateUnreachable {
		t.Fatalf("monitor state not updated, got %s", m.Snapshot().State)
	}
}

func TestRunTestCall_LastCompletionWins(t *testing.T) {
	firstRelease := make(chan struct{})
	calls := make(chan chan struct{}, 2)
	var n atomic.Int32
	b := &stubBackend{
		hello: func(context.Context) (string, error) {
			if n.Add(1) == 1 {
				calls <- firstRelease
				<-firstRelease
				return "first", nil
			}
			return "second", nil
		},
	}
	m := New(b, nil, 0)

	firstDone := make(chan struct{})
	go func() {
		m.RunTestCall(context.Background())
		close(firstDone)
	}()
	<-calls

	m.RunTestCall(context.Background())
	close(firstRelease)
	<-firstDone

	snap := m.Snapshot()
	if snap.TestMessage == nil || *snap.TestMessage != "first" {
		t.Fatalf("expected the later completion to win, got %v", snap.TestMessage)
	}
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	_, srv := newFakeAPI(t)
	m := New(backend.New(srv.URL, 0), nil, 0)
	updates, cancel := m.Subscribe()

	m.RunTestCall(context.Background())
	snap, ok := <-updates
	if !ok || snap.TestMessage == nil || *snap.TestMessage != "pong" {
		t.Fatalf("unexpected update %+v ok=%v", snap, ok)
	}

	cancel()
	cancel()
	if _, ok := <-updates; ok {
		t.Fatal("expected closed channel after cancel")
	}
	m.RunTestCall(context.Background())
}

func TestSubscribe_SlowReaderGetsNewest(t *testing.T) {
	_, srv := newFakeAPI(t)
	m := New(backend.New(srv.URL, 0), nil, 0)
	updates, cancel := m.Subscribe()
	defer cancel()

	m.RunTestCall(context.Background())
	m.RefreshStatus(context.Background())

	snap := <-updates
	if snap.State != models.StateReachable || snap.Status == nil {
		t.Fatalf("expected newest snapshot, got %+v", snap)
	}
}

func TestRefreshStatus_LogsStateTransitionsOnce(t *testing.T) {
	var buf bytes.Buffer
	prevOut, prevFlags := log.Writer(), log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(prevOut)
		log.SetFlags(prevFlags)
	})

	api, srv := newFakeAPI(t)
	m := New(backend.New(srv.URL, time.Second), nil, 0)

	m.RefreshStatus(context.Background())
	m.RefreshStatus(context.Background())
	api.set(func(f *fakeAPI) { f.healthCode = http.StatusServiceUnavailable })
	m.RefreshStatus(context.Background())

	var transitions []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		if entry["event"] == "monitor.state_changed" {
			transitions = append(transitions, entry["from"].(string)+"->"+entry["to"].(string))
		}
	}
	want := []string{"checking->online", "online->offline"}
	if strings.Join(transitions, ",") != strings.Join(want, ",") {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
}
