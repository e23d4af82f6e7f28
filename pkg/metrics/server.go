// HTTP server for the Prometheus scrape endpoint
//
// Serves /metrics with the rig registry, plus /health and /ready for
// deployment probes. Basic auth is optional and off by default.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// MetricsServer serves the rig metrics over HTTP.
type MetricsServer struct {
	rm     *RigMetrics
	addr   string
	server *http.Server

	username string
	password string

	mu        sync.RWMutex
	running   bool
	startTime time.Time
}

// MetricsServerConfig holds the listener settings.
type MetricsServerConfig struct {
	// Address to listen on, e.g. ":9100".
	Address string

	// Username/Password enable basic auth on /metrics when set.
	Username string
	Password string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultMetricsServerConfig listens on :9100 with 10s timeouts and no
// auth.
func DefaultMetricsServerConfig() MetricsServerConfig {
	return MetricsServerConfig{
		Address:      ":9100",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// NewMetricsServer builds a server for rm on addr with the defaults.
func NewMetricsServer(rm *RigMetrics, addr string) *MetricsServer {
	config := DefaultMetricsServerConfig()
	config.Address = addr
	return NewMetricsServerWithConfig(rm, config)
}

// NewMetricsServerWithConfig builds a server with explicit settings.
func NewMetricsServerWithConfig(rm *RigMetrics, config MetricsServerConfig) *MetricsServer {
	ms := &MetricsServer{
		rm:       rm,
		addr:     config.Address,
		username: config.Username,
		password: config.Password,
	}

	mux := http.NewServeMux()
	for path, handler := range map[string]http.HandlerFunc{
		"/metrics": ms.handleMetrics,
		"/health":  ms.handleHealth,
		"/ready":   ms.handleReady,
		"/":        ms.handleRoot,
	} {
		mux.HandleFunc(path, handler)
	}
	ms.server = &http.Server{
		Addr:         config.Address,
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return ms
}

// Start serves until Shutdown. A clean close returns nil.
func (ms *MetricsServer) Start() error {
	ms.mu.Lock()
	ms.running = true
	ms.startTime = time.Now()
	ms.mu.Unlock()

	if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server error: %w", err)
	}
	return nil
}

// StartAsync runs Start on a goroutine; the channel closes when the
// server stops, carrying the error if there was one.
func (ms *MetricsServer) StartAsync() chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := ms.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown drains in-flight requests within ctx.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	ms.mu.Lock()
	ms.running = false
	ms.mu.Unlock()
	return ms.server.Shutdown(ctx)
}

// IsRunning reports whether Start has been called and not shut down.
func (ms *MetricsServer) IsRunning() bool {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.running
}

// GetAddress returns the configured listen address.
func (ms *MetricsServer) GetAddress() string {
	return ms.addr
}

func (ms *MetricsServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !ms.checkAuth(w, r) {
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Runtime gauges are refreshed on scrape rather than on a timer.
	ms.rm.UpdateSystemMetrics()
	output := ms.rm.Gather()

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(output)))
		return
	}
	_, _ = w.Write([]byte(output))
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func (ms *MetricsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "OK\n")
}

func (ms *MetricsServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if ms.IsRunning() {
		writeText(w, http.StatusOK, "Ready\n")
		return
	}
	writeText(w, http.StatusServiceUnavailable, "Not Ready\n")
}

func (ms *MetricsServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
<title>HeliCal Rig Metrics</title>
<style>
body { font-family: sans-serif; margin: 40px; }
h1 { color: #333; }
a { color: #0066cc; }
.endpoint { margin: 10px 0; }
</style>
</head>
<body>
<h1>HeliCal Rig Controller Metrics</h1>
<p>This server provides Prometheus-compatible metrics for monitoring.</p>
<div class="endpoint"><a href="/metrics">/metrics</a> - Prometheus metrics endpoint</div>
<div class="endpoint"><a href="/health">/health</a> - Health check</div>
<div class="endpoint"><a href="/ready">/ready</a> - Readiness check</div>
</body>
</html>`))
}

// checkAuth enforces basic auth when credentials are configured.
// Comparison is constant-time.
func (ms *MetricsServer) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if ms.username == "" && ms.password == "" {
		return true
	}
	username, password, ok := r.BasicAuth()
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(ms.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(ms.password)) == 1
	if !ok || !userOK || !passOK {
		w.Header().Set("WWW-Authenticate", `Basic realm="Rig Metrics"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// GetStatus returns address/running/uptime for diagnostics.
func (ms *MetricsServer) GetStatus() map[string]any {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	status := map[string]any{
		"address": ms.addr,
		"running": ms.running,
	}
	if ms.running {
		status["uptime"] = time.Since(ms.startTime).Seconds()
	}
	return status
}
