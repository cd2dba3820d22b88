package server

import (
	"context"
	"encoding/json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"live-broadcast/dto"
	"net/http"
	"sync"
	"time"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func writeEnvelope(conn *websocket.Conn, env dto.Envelope) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(env)
}

// rejectSocket reports a bad connect request on an upgraded socket and closes it with 1008.
func rejectSocket(conn *websocket.Conn, message string) {
	_ = writeEnvelope(conn, dto.NewErrorEnvelope(message))
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message),
		time.Now().Add(writeWait),
	)
}

// commentSession is a live-comments socket. The hub enqueues into send; writePump is the only
// writer on the connection.
type commentSession struct {
	conn   *websocket.Conn
	send   chan dto.Envelope
	closed chan struct{}
	once   sync.Once
}

func newCommentSession(conn *websocket.Conn) *commentSession {
	return &commentSession{
		conn:   conn,
		send:   make(chan dto.Envelope, sendBufferSize),
		closed: make(chan struct{}),
	}
}

func (s *commentSession) Enqueue(env dto.Envelope) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.send <- env:
		return true
	default:
		return false
	}
}

func (s *commentSession) close() {
	s.once.Do(func() { close(s.closed) })
}

func (s *commentSession) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case env := <-s.send:
			if err := writeEnvelope(s.conn, env); err != nil {
				zerolog.Ctx(ctx).Debug().Err(err).Msg("comment socket write failed")
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closed:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump blocks until the peer goes away. handle is called for every decoded client message.
func (s *commentSession) readPump(ctx context.Context, handle func(dto.ClientMessage)) {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				zerolog.Ctx(ctx).Warn().Err(err).Msg("unexpected comment socket close")
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg dto.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.Enqueue(dto.NewErrorEnvelope("malformed message"))
			continue
		}
		handle(msg)
	}
}

// watchClose reads until the peer goes away and then closes the returned channel. Incoming
// messages are discarded.
func watchClose(conn *websocket.Conn) <-chan struct{} {
	closed := make(chan struct{})
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return closed
}
