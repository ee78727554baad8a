package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/open-workshop/storage/pkg/registry"
	"github.com/open-workshop/storage/pkg/token"
	"github.com/open-workshop/storage/pkg/types"
)

const (
	// Time allowed to write an event to the peer.
	wsWriteWait = 10 * time.Second

	// Time allowed to read the next pong before the peer counts as gone.
	wsPongWait = 60 * time.Second

	// Ping period; must be less than wsPongWait.
	wsPingPeriod = (wsPongWait * 9) / 10

	// Incoming frames are discarded, so they never need to be big.
	wsMaxMessageSize = 1 << 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The service is origin-open by contract, same as its CORS policy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleTransferWS attaches the peer to a job's progress stream. The
// upgrade happens before auth so a rejected peer receives a proper
// policy-violation close frame instead of a plain HTTP error.
func (s *Server) handleTransferWS(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		return
	}

	claims, derr := s.codec.Decode(r.URL.Query().Get("token"), token.AudienceStorage)
	if derr != nil || claims.JobID != jobID {
		s.closeWS(conn, websocket.ClosePolicyViolation, "invalid transfer token")
		return
	}

	sub, snap, ok := s.reg.AddSubscriber(jobID)
	if !ok {
		s.closeWS(conn, websocket.ClosePolicyViolation, "unknown job")
		return
	}

	// The snapshot is queued before the write pump consumes live events,
	// so the peer always sees current state first.
	first, merr := json.Marshal(types.NewSnapshotEvent(snap.Bytes, snap.Total, snap.Stage))
	if merr != nil {
		s.reg.RemoveSubscriber(jobID, sub)
		conn.Close()
		return
	}

	go s.wsWritePump(conn, first, sub)
	s.wsReadPump(conn, jobID, sub)
}

func (s *Server) closeWS(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(wsWriteWait)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}

// wsReadPump keeps the socket alive and discards whatever the peer sends.
// It returns when the peer goes away, which also tears down the write pump
// via the subscriber removal.
func (s *Server) wsReadPump(conn *websocket.Conn, jobID string, sub *registry.Subscriber) {
	defer func() {
		s.reg.RemoveSubscriber(jobID, sub)
		conn.Close()
	}()
	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// wsWritePump forwards the snapshot and then the subscriber's event stream
// to the peer, pinging to detect dead connections. A closed event channel
// means the job reached a terminal state; the peer gets a normal close.
func (s *Server) wsWritePump(conn *websocket.Conn, first []byte, sub *registry.Subscriber) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	write := func(messageType int, payload []byte) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteMessage(messageType, payload)
	}

	if err := write(websocket.TextMessage, first); err != nil {
		return
	}
	for {
		select {
		case payload, ok := <-sub.Events():
			if !ok {
				_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := write(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
