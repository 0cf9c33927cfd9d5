package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"wafshield/internal/model"
	"wafshield/internal/render"
	"wafshield/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const wsWriteTimeout = 10 * time.Second

type wsMessage struct {
	Type   string               `json:"type"`
	Inputs *model.TrafficSample `json:"inputs,omitempty"`
}

type wsReply struct {
	Type  string      `json:"type"`
	Page  render.Page `json:"page"`
	Error string      `json:"error,omitempty"`
}

// handleWS gives each connection its own session; it ends with the connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("websocket upgrade failed", "err", err)
		}
		return
	}
	defer conn.Close()

	st := session.New(uuid.NewString(), model.DefaultSample())
	if err := s.writeReply(conn, "state", st, nil); err != nil {
		return
	}
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && s.logger != nil {
				s.logger.Warn("websocket read error", "session", st.ID(), "err", err)
			}
			return
		}
		var opErr error
		switch msg.Type {
		case "scan":
			if msg.Inputs != nil {
				opErr = st.SetAndScan(r.Context(), *msg.Inputs, s.engine)
			} else {
				opErr = st.Scan(r.Context(), s.engine)
			}
			if opErr != nil {
				s.logScanError(st, opErr)
			}
		case "reset":
			st.Reset()
		case "state":
		default:
			if err := s.writeReply(conn, "error", st, errUnknownMessage(msg.Type)); err != nil {
				return
			}
			continue
		}
		if err := s.writeReply(conn, "state", st, opErr); err != nil {
			return
		}
	}
}

func (s *Server) writeReply(conn *websocket.Conn, kind string, st *session.State, opErr error) error {
	reply := wsReply{Type: kind, Page: s.pageFor(st)}
	if opErr != nil {
		reply.Error = opErr.Error()
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(reply)
}

type errUnknownMessage string

func (e errUnknownMessage) Error() string {
	return "unknown message type: " + string(e)
}
