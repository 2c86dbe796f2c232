package internal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 64 * 1024
	sendBuffer = 256
)

// Client wraps one websocket connection and its buffered send queue. The
// send channel is never closed; done signals the writer to hang up.
type Client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter
	logger    *slog.Logger
}

func newClient(conn *websocket.Conn, limiter *rate.Limiter, logger *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		limiter: limiter,
		logger:  logger.With("client", id),
	}
}

// deliver queues payload without blocking. It reports false when the
// queue is full.
func (client *Client) deliver(payload []byte) bool {
	select {
	case <-client.done:
		return true
	default:
	}
	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

func (client *Client) close() {
	client.closeOnce.Do(func() { close(client.done) })
}

func (client *Client) allow() bool {
	return client.limiter == nil || client.limiter.Allow()
}

// readPump decodes client events until the connection fails, then
// unsubscribes the client everywhere.
func (client *Client) readPump(s *Server) {
	defer func() {
		s.hub.Leave(client)
		client.close()
		_ = client.conn.Close()
		s.metrics.DecConn()
		client.logger.Debug("client disconnected")
	}()
	client.conn.SetReadLimit(maxMsgSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				client.logger.Debug("read failed", "error", err)
			}
			return
		}
		s.handleEvent(context.Background(), client, payload)
	}
}

func (client *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()
	for {
		select {
		case message := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.done:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
