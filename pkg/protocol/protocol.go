package protocol

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	DefaultReconnectDelay = 2 * time.Second
	DefaultHelloTimeout   = 15 * time.Second

	eventQueue = 512
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrHandshake    = errors.New("handshake failed")
)

type State int

const (
	Disconnected State = iota
	Connecting
	Open
	HandshakeComplete
	Closing
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case HandshakeComplete:
		return "handshake_complete"
	case Closing:
		return "closing"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventText
	EventBinary
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventText:
		return "text"
	case EventBinary:
		return "binary"
	case EventError:
		return "error"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is what the client reports to its owner. Message is set for
// EventText and EventConnected (the server hello), Data for EventBinary,
// Err for EventError.
type Event struct {
	Kind    EventKind
	Message *Message
	Data    []byte
	Err     error
}

type Params struct {
	URL      string
	DeviceID string
	ClientID string
	Token    string
}

func (p Params) Header() http.Header {
	clientID := p.ClientID
	if clientID == "" {
		clientID = p.DeviceID
	}

	h := http.Header{}
	h.Set("Device-Id", p.DeviceID)
	h.Set("Client-Id", clientID)
	h.Set("Protocol-Version", "1")
	if p.Token != "" {
		h.Set("Authorization", "Bearer "+p.Token)
	}
	return h
}

type Config struct {
	ReconnectDelay time.Duration
	HelloTimeout   time.Duration
	Audio          AudioParams
	// Dialer is used for every connection attempt; nil means the
	// gorilla default dialer.
	Dialer *ws.Dialer
}

type Client struct {
	cfg    Config
	events chan Event

	mu        sync.Mutex
	state     State
	sessionID string
	params    Params
	enabled   bool
	gen       uint64
	conn      *WebSocket
	cancel    context.CancelFunc
}

func NewClient(cfg Config) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = DefaultHelloTimeout
	}
	if cfg.Audio.Format == "" {
		cfg.Audio = DefaultAudioParams
	}

	return &Client{
		cfg:    cfg,
		events: make(chan Event, eventQueue),
	}
}

// Events delivers connection events in arrival order. The channel is
// never closed.
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) IsConnected() bool {
	return c.State() == HandshakeComplete
}

// Connect stores the params, enables automatic reconnection and starts
// the connection loop. A running loop is torn down first.
func (c *Client) Connect(p Params) {
	c.mu.Lock()
	c.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	c.gen++
	c.params = p
	c.enabled = true
	c.cancel = cancel
	c.state = Connecting
	gen := c.gen
	c.mu.Unlock()

	log.Info("Connecting", "url", p.URL, "device", p.DeviceID)
	go c.run(ctx, gen, p)
}

// Disconnect disables reconnection, closes the socket and forgets the
// params. No EventDisconnected is emitted for a requested disconnect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.gen++
	c.params = Params{}
	c.enabled = false
	c.sessionID = ""
	c.state = Disconnected
}

func (c *Client) stopLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		c.state = Closing
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) run(ctx context.Context, gen uint64, p Params) {
	for {
		err := c.session(ctx, gen, p)
		if ctx.Err() != nil {
			return
		}

		failed := err != nil
		c.mu.Lock()
		if c.gen == gen {
			c.sessionID = ""
			c.conn = nil
			if failed {
				c.state = Failed
			} else {
				c.state = Disconnected
			}
		}
		c.mu.Unlock()

		if failed {
			log.Warn("Connection failed", "url", p.URL, "err", err)
			c.emit(ctx, Event{Kind: EventError, Err: err})
		} else {
			log.Info("Connection closed", "url", p.URL)
		}
		c.emit(ctx, Event{Kind: EventDisconnected})

		log.Info("Trying to reconnect", "url", p.URL, "delay", c.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}

		if !c.setState(gen, Connecting) {
			return
		}
	}
}

// session runs one connection from dial to close. A nil error means the
// peer closed normally.
func (c *Client) session(ctx context.Context, gen uint64, p Params) error {
	conn, err := DialWebSocket(ctx, c.cfg.Dialer, p.URL, p.Header())
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.URL, err)
	}
	defer conn.Close()

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return nil
	}
	c.conn = conn
	c.state = Open
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, conn.Close)
	defer stop()

	log.Info("Websocket open", "url", p.URL)

	hello, err := Encode(NewHello(c.cfg.Audio), "")
	if err != nil {
		return err
	}
	if err := conn.Write(ws.TextMessage, hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	var timedOut atomic.Bool
	helloTimer := time.AfterFunc(c.cfg.HelloTimeout, func() {
		timedOut.Store(true)
		conn.Close()
	})
	defer helloTimer.Stop()

	for {
		in := conn.Read()
		switch in.kind {
		case CONN_CLOSE, READ_FAILURE:
			if timedOut.Load() {
				return fmt.Errorf("%w: no server hello within %s", ErrHandshake, c.cfg.HelloTimeout)
			}
			if in.kind == CONN_CLOSE {
				return nil
			}
			return fmt.Errorf("read: %w", in.err)

		case READ_BINARY:
			if c.State() != HandshakeComplete {
				log.Debug("Dropping binary frame before handshake", "len", len(in.msg))
				continue
			}
			c.emit(ctx, Event{Kind: EventBinary, Data: in.msg})

		case READ_TEXT:
			msg, err := Parse(in.msg)
			if err != nil {
				log.Warn("Failed to parse", "msg", string(in.msg), "err", err)
				continue
			}

			if msg.Type != TypeHello {
				c.emit(ctx, Event{Kind: EventText, Message: msg})
				continue
			}

			if msg.Transport != TransportWebSocket {
				return fmt.Errorf("%w: unsupported transport %q", ErrHandshake, msg.Transport)
			}
			helloTimer.Stop()

			c.mu.Lock()
			if c.gen == gen {
				c.sessionID = msg.SessionID
				c.state = HandshakeComplete
			}
			c.mu.Unlock()

			log.Info("Handshake complete", "session", msg.SessionID)
			c.emit(ctx, Event{Kind: EventConnected, Message: msg})
		}
	}
}

func (c *Client) setState(gen uint64, s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || !c.enabled {
		return false
	}
	c.state = s
	return true
}

func (c *Client) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

// SendText writes a control message. Allowed once the socket is open.
func (c *Client) SendText(payload []byte) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if conn == nil || (state != Open && state != HandshakeComplete) {
		return ErrNotConnected
	}
	if err := conn.Write(ws.TextMessage, payload); err != nil {
		log.Warn("Failed to send text", "err", err)
		return err
	}
	return nil
}

// SendBinary writes an encoded audio frame. Requires a completed handshake.
func (c *Client) SendBinary(frame []byte) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if conn == nil || state != HandshakeComplete {
		return ErrNotConnected
	}
	return conn.Write(ws.BinaryMessage, frame)
}

func (c *Client) Transmit(v any) error {
	payload, err := Encode(v, c.SessionID())
	if err != nil {
		return err
	}
	return c.SendText(payload)
}

func (c *Client) SendStartListening(mode ListenMode) error {
	return c.Transmit(NewStartListening(mode))
}

func (c *Client) SendStopListening() error {
	return c.Transmit(NewStopListening())
}

func (c *Client) SendDetect(text string) error {
	return c.Transmit(NewDetect(text))
}

func (c *Client) SendAbort(reason string) error {
	return c.Transmit(NewAbort(reason))
}
