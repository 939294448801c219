package protocol

import (
	"context"
	"errors"
	log "log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	writeWait  = 15 * time.Second
	pongWait   = 70 * time.Second
	pingPeriod = 30 * time.Second
	closeWait  = time.Second

	sendQueue = 256
)

var (
	ErrClosed    = errors.New("websocket closed")
	ErrQueueFull = errors.New("send queue full")
)

type outbound struct {
	kind    int
	payload []byte
}

// WebSocket is a single dialed connection. Writes are queued and drained
// by a pump goroutine so callers never wait on the network.
type WebSocket struct {
	conn *ws.Conn
	url  string

	send chan outbound
	done chan struct{}

	closeOnce sync.Once
}

func DialWebSocket(ctx context.Context, dialer *ws.Dialer, url string, header http.Header) (*WebSocket, error) {
	log.Debug("Dialing websocket", "url", url)

	if dialer == nil {
		dialer = ws.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}

	web := &WebSocket{
		conn: conn,
		url:  url,
		send: make(chan outbound, sendQueue),
		done: make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go web.writePump()

	return web, nil
}

// Write enqueues a frame. It never blocks.
func (web *WebSocket) Write(kind int, payload []byte) error {
	select {
	case <-web.done:
		return ErrClosed
	default:
	}

	select {
	case web.send <- outbound{kind: kind, payload: payload}:
		return nil
	case <-web.done:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

type WsIncomeKind uint

const (
	CONN_CLOSE WsIncomeKind = iota
	READ_FAILURE
	READ_TEXT
	READ_BINARY
)

type Income struct {
	kind WsIncomeKind
	msg  []byte
	err  error
}

func (web *WebSocket) Read() Income {
	kind, msg, err := web.conn.ReadMessage()
	if err != nil {
		if WsIsClosed(err) {
			return Income{kind: CONN_CLOSE, err: err}
		}
		return Income{kind: READ_FAILURE, err: err}
	}

	web.conn.SetReadDeadline(time.Now().Add(pongWait))

	if kind == ws.BinaryMessage {
		return Income{kind: READ_BINARY, msg: msg}
	}
	return Income{kind: READ_TEXT, msg: msg}
}

// Close sends a normal closure frame when possible and tears the
// connection down. Safe to call more than once, and while the pump is
// writing: WriteControl is the one write gorilla allows concurrently.
func (web *WebSocket) Close() {
	web.closeOnce.Do(func() {
		close(web.done)
		web.conn.WriteControl(ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, "normal closure"),
			time.Now().Add(closeWait))
		web.conn.Close()
	})
}

func (web *WebSocket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-web.done:
			return

		case out := <-web.send:
			web.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := web.conn.WriteMessage(out.kind, out.payload); err != nil {
				log.Warn("Failed to write ws", "url", web.url, "err", err)
				web.conn.Close()
				return
			}

		case <-ticker.C:
			web.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := web.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				log.Warn("Failed to ping ws", "url", web.url, "err", err)
				web.conn.Close()
				return
			}
		}
	}
}

func WsIsClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
