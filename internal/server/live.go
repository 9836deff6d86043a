package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"stackstatus/internal/models"
	"stackstatus/internal/observability"
)

const (
	liveResendInterval = 60 * time.Second
	liveWriteTimeout   = 5 * time.Second
)

var liveUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := liveUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.serveLiveConnection(conn)
}

// serveLiveConnection sends the current snapshot, then every change. The
// snapshot is also re-sent periodically so idle proxies keep the socket open.
func (s *Server) serveLiveConnection(conn *websocket.Conn) {
	defer conn.Close()

	updates, cancel := s.monitor.Subscribe()
	defer cancel()

	if err := writeLivePayload(conn, s.monitor.Snapshot()); err != nil {
		return
	}

	ticker := time.NewTicker(liveResendInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := writeLivePayload(conn, snap); err != nil {
				observability.Error("server.live_write_failed", map[string]interface{}{"remote": conn.RemoteAddr().String()}, err)
				return
			}
		case <-ticker.C:
			if err := writeLivePayload(conn, s.monitor.Snapshot()); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeLivePayload(conn *websocket.Conn, payload models.Snapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	return conn.WriteJSON(payload)
}
