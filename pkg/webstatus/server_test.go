package webstatus

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"helical-go-migration/pkg/esp32"
	"helical-go-migration/pkg/rigerr"
)

// fakeSource serves a fixed snapshot.
type fakeSource struct {
	snap Snapshot
}

func (f *fakeSource) Snapshot() Snapshot {
	return f.snap
}

func newTestServer() (*Server, *fakeSource) {
	src := &fakeSource{snap: Snapshot{
		State:        "operational",
		AbsoluteMode: true,
		QueueDepth:   2,
		Feeds:        map[string]float64{"global": 100000, "A": 9},
		Positions: []DriverPosition{
			{Name: "tw_r", Current: 100, Target: 250},
		},
		UptimeSec: 12.5,
	}}
	return New(Config{Addr: ":0", Source: src, PushInterval: 20 * time.Millisecond}), src
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer()

	req := httptest.NewRequest("GET", "/rig/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status code: got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Errorf("content type: got %s", ct)
	}

	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if snap.State != "operational" {
		t.Errorf("state: got %s", snap.State)
	}
	if snap.QueueDepth != 2 {
		t.Errorf("queue depth: got %d", snap.QueueDepth)
	}
	if len(snap.Positions) != 1 || snap.Positions[0].Target != 250 {
		t.Errorf("positions: got %+v", snap.Positions)
	}
}

func TestStatusMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer()

	req := httptest.NewRequest("POST", "/rig/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != 405 {
		t.Errorf("expected 405 for POST, got %d", rec.Code)
	}
}

func dialStream(t *testing.T, s *Server) (*websocket.Conn, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/rig/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		ts.Close()
		t.Fatalf("dial failed: %v", err)
	}
	return conn, ts
}

func readMessage(t *testing.T, conn *websocket.Conn) streamMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg streamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return msg
}

func TestStreamGreeting(t *testing.T) {
	s, _ := newTestServer()
	conn, ts := dialStream(t, s)
	defer ts.Close()
	defer conn.Close()

	msg := readMessage(t, conn)
	if msg.Type != "status" {
		t.Fatalf("first push type: got %s", msg.Type)
	}
	if msg.Status == nil || msg.Status.State != "operational" {
		t.Errorf("greeting status: got %+v", msg.Status)
	}
}

func TestStreamSamplePush(t *testing.T) {
	s, _ := newTestServer()
	conn, ts := dialStream(t, s)
	defer ts.Close()
	defer conn.Close()

	// Consume the greeting.
	readMessage(t, conn)

	sample := esp32.ImuSample{
		TimestampUs: 123456,
		Omega:       0.94,
		RadialAccel: 2.5,
	}
	// The client registers asynchronously with respect to Dial
	// returning; wait for it before pushing.
	deadline := time.Now().Add(time.Second)
	for s.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.PushSample(sample)

	for {
		msg := readMessage(t, conn)
		if msg.Type != "imu_sample" {
			continue
		}
		if msg.Sample == nil || msg.Sample.TimestampUs != 123456 {
			t.Fatalf("sample push: got %+v", msg.Sample)
		}
		if msg.Sample.Omega != 0.94 {
			t.Errorf("omega: got %f", msg.Sample.Omega)
		}
		return
	}
}

// fakeImuStream hands out its queued samples, then times out like a
// quiet companion.
type fakeImuStream struct {
	mu      sync.Mutex
	started int
	stopped int
	samples []esp32.ImuSample
}

func (f *fakeImuStream) StartImuStream() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return nil
}

func (f *fakeImuStream) StopImuStream() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeImuStream) NextStreamSample(time.Duration) (esp32.ImuSample, error) {
	f.mu.Lock()
	if len(f.samples) > 0 {
		s := f.samples[0]
		f.samples = f.samples[1:]
		f.mu.Unlock()
		return s, nil
	}
	f.mu.Unlock()
	time.Sleep(time.Millisecond)
	return esp32.ImuSample{}, rigerr.ProtocolTimeout("imu stream", nil)
}

func (f *fakeImuStream) counts() (started, stopped int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.stopped
}

func TestImuPumpFeedsStream(t *testing.T) {
	s, _ := newTestServer()
	conn, ts := dialStream(t, s)
	defer ts.Close()
	defer conn.Close()

	// The greeting confirms the client is registered, so the pumped
	// sample cannot be broadcast before anyone is listening.
	readMessage(t, conn)

	stream := &fakeImuStream{samples: []esp32.ImuSample{
		{TimestampUs: 777, Omega: 0.5},
	}}
	pumpDone := make(chan error, 1)
	go func() { pumpDone <- s.RunImuPump(stream) }()

	for {
		msg := readMessage(t, conn)
		if msg.Type != "imu_sample" {
			continue
		}
		if msg.Sample == nil || msg.Sample.TimestampUs != 777 {
			t.Fatalf("pumped sample: got %+v", msg.Sample)
		}
		break
	}

	// Stop ends the pump, which in turn stops the companion stream.
	s.running.Store(true)
	s.Stop()
	if err := <-pumpDone; err != nil {
		t.Fatalf("pump returned %v", err)
	}
	started, stopped := stream.counts()
	if started != 1 || stopped != 1 {
		t.Errorf("stream started %d / stopped %d times, want 1/1", started, stopped)
	}
}

func TestClientCountAndStop(t *testing.T) {
	s, _ := newTestServer()
	conn, ts := dialStream(t, s)
	defer ts.Close()

	deadline := time.Now().Add(time.Second)
	for s.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.ClientCount() != 1 {
		t.Fatalf("client count: got %d", s.ClientCount())
	}

	conn.Close()
	deadline = time.Now().Add(time.Second)
	for s.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.ClientCount() != 0 {
		t.Errorf("client count after close: got %d", s.ClientCount())
	}
}
