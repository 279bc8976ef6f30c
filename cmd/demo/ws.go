package main

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/adred-codev/rtkit/internal/ratelimit"
	"github.com/adred-codev/rtkit/internal/rtkit/asyncobject"
	"github.com/adred-codev/rtkit/internal/telemetry"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 20 * time.Second
	instancePeriod = 50 * time.Millisecond
)

// wsServer upgrades HTTP connections to WebSocket and, one Instance per
// connection, pushes the latest PriceSnapshot to each connected client.
type wsServer struct {
	object *asyncobject.AsyncObject[PriceSnapshot, PriceBook]
	guard  *ratelimit.Guard
	logger zerolog.Logger
}

func newWSServer(object *asyncobject.AsyncObject[PriceSnapshot, PriceBook], guard *ratelimit.Guard, logger zerolog.Logger) *wsServer {
	return &wsServer{object: object, guard: guard, logger: logger}
}

func (s *wsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ok, err := s.guard.AcquireConnection()
	if !ok {
		telemetry.RecordConnectionRejected("capacity_or_cpu")
		s.logger.Warn().Err(err).Msg("rejecting connection")
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.guard.ReleaseConnection()
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	inst := s.object.CreateInstance()
	telemetry.IncInstancesActive()
	telemetry.SetConnectionsActive(s.guard.ConnectionCount())

	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() {
			conn.Close()
			inst.Close()
			s.guard.ReleaseConnection()
			telemetry.DecInstancesActive()
			telemetry.SetConnectionsActive(s.guard.ConnectionCount())
		})
	}

	go s.readPump(conn, closeConn)
	go s.writePump(conn, inst, closeConn)
}

// readPump drains client frames, existing only to detect client-initiated
// close; the demo's clients never send anything meaningful upstream.
func (s *wsServer) readPump(conn net.Conn, closeConn func()) {
	defer closeConn()

	for {
		_, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		if op == ws.OpClose {
			return
		}
	}
}

func (s *wsServer) writePump(conn net.Conn, inst *asyncobject.Instance[PriceSnapshot], closeConn func()) {
	defer closeConn()

	ticker := time.NewTicker(instancePeriod)
	defer ticker.Stop()
	pinger := time.NewTicker(pingPeriod)
	defer pinger.Stop()

	for {
		select {
		case <-ticker.C:
			if !inst.Update() {
				continue
			}
			telemetry.RecordInstanceUpdate()

			data, err := json.Marshal(inst.Get())
			if err != nil {
				s.logger.Error().Err(err).Msg("failed to marshal price snapshot")
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(conn, ws.OpText, data); err != nil {
				return
			}
		case <-pinger.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
