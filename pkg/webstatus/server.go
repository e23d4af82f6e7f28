// Package webstatus serves the rig's read-only status surface: a JSON
// snapshot endpoint for dashboards and a websocket stream carrying
// periodic status pushes plus live IMU samples while streaming is on.
// Command injection over the socket is deliberately absent; the REPL
// is the only command surface.
package webstatus

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"helical-go-migration/pkg/esp32"
	"helical-go-migration/pkg/log"
	"helical-go-migration/pkg/rigerr"
)

var logger = log.GetLogger("webstatus")

// DriverPosition is one physical driver's current and target position.
type DriverPosition struct {
	Name    string `json:"name"`
	Current int32  `json:"current"`
	Target  int32  `json:"target"`
}

// Snapshot is the state pushed to clients and served on /rig/status.
type Snapshot struct {
	State        string             `json:"state"`
	AbsoluteMode bool               `json:"absolute_mode"`
	Executing    bool               `json:"executing"`
	QueueDepth   int                `json:"queue_depth"`
	Feeds        map[string]float64 `json:"feeds"`
	Positions    []DriverPosition   `json:"positions,omitempty"`
	UptimeSec    float64            `json:"uptime_sec"`
}

// Source supplies snapshots. The main binary adapts the interpreter,
// the safety manager and the driver handles behind this.
type Source interface {
	Snapshot() Snapshot
}

// Config wires a Server.
type Config struct {
	Addr   string
	Source Source

	// PushInterval is the status broadcast period. Zero means 1s.
	PushInterval time.Duration
}

// Server is the HTTP/websocket status server.
type Server struct {
	source   Source
	addr     string
	interval time.Duration

	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	clientMu sync.Mutex
	clients  map[int64]*wsClient
	nextID   int64

	running atomic.Bool
	done    chan struct{}
}

// New builds a Server around a snapshot source.
func New(cfg Config) *Server {
	s := &Server{
		source:   cfg.Source,
		addr:     cfg.Addr,
		interval: cfg.PushInterval,
		clients:  make(map[int64]*wsClient),
		done:     make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Status is read-only; any origin may watch.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if s.interval <= 0 {
		s.interval = time.Second
	}

	r := mux.NewRouter()
	r.HandleFunc("/rig/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/rig/stream", s.handleStream)
	s.router = r
	return s
}

// Start serves until Stop. It blocks, like http.Server.ListenAndServe.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}
	s.running.Store(true)
	go s.broadcastLoop()

	logger.Info("status server listening on %s", s.addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the server down and disconnects every client.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	close(s.done)

	s.clientMu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = make(map[int64]*wsClient)
	s.clientMu.Unlock()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// PushSample fans one IMU sample out to every connected client. The
// IMU pump calls it while the companion is streaming.
func (s *Server) PushSample(sample esp32.ImuSample) {
	s.broadcast(streamMessage{Type: "imu_sample", Sample: &sample})
}

// ImuStream is the slice of the companion client the sample pump
// drives. *esp32.Client satisfies it.
type ImuStream interface {
	StartImuStream() error
	StopImuStream() error
	NextStreamSample(timeout time.Duration) (esp32.ImuSample, error)
}

// imuPollTimeout bounds each stream read so the pump notices Stop and
// a quiet companion does not hold the client lock indefinitely.
const imuPollTimeout = 200 * time.Millisecond

// RunImuPump starts the companion's IMU stream and fans every sample
// out to the websocket clients until Stop. It blocks; run it on its
// own goroutine. Read timeouts poll again; transport faults back off
// for a poll interval so a dead link does not spin.
func (s *Server) RunImuPump(stream ImuStream) error {
	if err := stream.StartImuStream(); err != nil {
		return err
	}
	defer func() {
		if err := stream.StopImuStream(); err != nil {
			logger.WithError(err).Debug("IMU stream stop failed")
		}
	}()
	for {
		select {
		case <-s.done:
			return nil
		default:
		}
		sample, err := stream.NextStreamSample(imuPollTimeout)
		if err != nil {
			if rigerr.IsTimeout(err) {
				continue
			}
			logger.WithError(err).Debug("IMU stream read failed")
			select {
			case <-s.done:
				return nil
			case <-time.After(imuPollTimeout):
			}
			continue
		}
		s.PushSample(sample)
	}
}

// ClientCount reports how many websocket clients are connected.
func (s *Server) ClientCount() int {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	return len(s.clients)
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// streamMessage is the envelope every websocket push uses.
type streamMessage struct {
	Type     string          `json:"type"`
	Status   *Snapshot       `json:"status,omitempty"`
	Sample   *esp32.ImuSample `json:"sample,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.source.Snapshot())
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := s.addClient(conn)
	go c.writePump()
	go c.readPump()

	// Greet with an immediate snapshot so the client does not wait a
	// full push interval for its first state.
	snap := s.source.Snapshot()
	c.send(streamMessage{Type: "status", Status: &snap})
}

func (s *Server) addClient(conn *websocket.Conn) *wsClient {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	s.nextID++
	c := &wsClient{
		id:     s.nextID,
		conn:   conn,
		server: s,
		sendCh: make(chan streamMessage, 64),
		done:   make(chan struct{}),
	}
	s.clients[c.id] = c
	return c
}

func (s *Server) removeClient(c *wsClient) {
	s.clientMu.Lock()
	delete(s.clients, c.id)
	s.clientMu.Unlock()
}

func (s *Server) broadcast(msg streamMessage) {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	for _, c := range s.clients {
		c.send(msg)
	}
}

func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.ClientCount() == 0 {
				continue
			}
			snap := s.source.Snapshot()
			s.broadcast(streamMessage{Type: "status", Status: &snap})
		case <-s.done:
			return
		}
	}
}
