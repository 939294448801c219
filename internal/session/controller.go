// Package session drives a conversation with the assistant: it reacts to
// user commands and server messages, starts and stops the microphone,
// and decides which captured frames reach the server.
package session

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"sync"

	"xiaozhi/internal/config"
	"xiaozhi/internal/observe"
	"xiaozhi/internal/transcript"
	"xiaozhi/pkg/protocol"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrBusy         = errors.New("not allowed in current state")
)

type Deps struct {
	Transport   Transport
	Audio       Audio
	Provisioner Provisioner
	Store       ConfigStore
	Notifier    Notifier
}

type Controller struct {
	transport Transport
	audio     Audio
	prov      Provisioner
	store     ConfigStore
	notify    Notifier

	messages  *transcript.Store
	snapshots *observe.Broadcaster[Snapshot]

	// pubMu keeps building and publishing a snapshot one step, so an
	// older view never replaces a newer one.
	pubMu sync.Mutex

	// opMu serializes commands and inbound control messages. The frame
	// forward path never takes it.
	opMu sync.Mutex

	mu           sync.Mutex
	ctx          context.Context
	cfg          config.DeviceConfig
	state        State
	connected    bool
	reconnecting bool
	auto         bool
	muted        bool
	emotion      string
	errText      string
	activation   *Activation
}

func New(deps Deps, cfg config.DeviceConfig) *Controller {
	n := deps.Notifier
	if n == nil {
		n = nopNotifier{}
	}

	c := &Controller{
		transport: deps.Transport,
		audio:     deps.Audio,
		prov:      deps.Provisioner,
		store:     deps.Store,
		notify:    n,
		messages:  transcript.NewStore(),
		ctx:       context.Background(),
		cfg:       cfg.Clone(),
		state:     Idle,
	}
	c.snapshots = observe.NewBroadcaster(c.snapshot())
	return c
}

func (c *Controller) Snapshot() Snapshot {
	return c.snapshots.Latest()
}

// Subscribe streams snapshots, starting with the current one.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	return c.snapshots.Subscribe()
}

func (c *Controller) Config() config.DeviceConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Clone()
}

func (c *Controller) snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	var act *Activation
	if c.activation != nil {
		a := *c.activation
		act = &a
	}
	var sid string
	if c.connected && c.transport != nil {
		sid = c.transport.SessionID()
	}
	return Snapshot{
		State:        c.state,
		Connected:    c.connected,
		Reconnecting: c.reconnecting,
		SessionID:    sid,
		AutoMode:     c.auto,
		Muted:        c.muted,
		Emotion:      c.emotion,
		Error:        c.errText,
		Activation:   act,
		Messages:     c.messages.Messages(),
	}
}

func (c *Controller) publish() {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	c.snapshots.Publish(c.snapshot())
}

func (c *Controller) current() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()

	if prev != s {
		log.Info("State changed", "from", prev, "to", s)
	}
}

func (c *Controller) setError(text string) {
	c.mu.Lock()
	c.errText = text
	c.mu.Unlock()

	log.Error("Session error", "err", text)
	c.notify.Error(text)
}

// StartListening begins a manual turn: the user decides when it ends.
func (c *Controller) StartListening() error {
	return c.startListening(protocol.ModeManual)
}

// StartAuto begins a hands-free conversation; a new turn opens after
// every reply until stopped.
func (c *Controller) StartAuto() error {
	return c.startListening(protocol.ModeAuto)
}

func (c *Controller) startListening(mode protocol.ListenMode) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	switch {
	case !c.connected:
		c.mu.Unlock()
		return ErrNotConnected
	case c.state != Idle:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBusy, state)
	}
	c.auto = mode == protocol.ModeAuto
	c.mu.Unlock()

	err := c.openTurn(mode)
	c.publish()
	return err
}

// openTurn moves to Listening, tells the server and starts capture.
func (c *Controller) openTurn(mode protocol.ListenMode) error {
	c.setState(Listening)

	if err := c.transport.SendStartListening(mode); err != nil {
		log.Warn("Failed to send listen start", "err", err)
	}
	if err := c.audio.StartRecording(); err != nil {
		c.mu.Lock()
		c.auto = false
		c.mu.Unlock()
		c.setState(Idle)
		c.setError(fmt.Sprintf("recording failed: %v", err))
		if err := c.transport.SendAbort(protocol.ReasonUserInterrupt); err != nil {
			log.Warn("Failed to send abort", "err", err)
		}
		return err
	}

	c.notify.Listening()
	log.Info("Listening", "mode", mode)
	return nil
}

// StopListening ends the user's turn and waits for the reply.
func (c *Controller) StopListening() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.leaveListening(Processing); err != nil {
		return err
	}
	if err := c.transport.SendStopListening(); err != nil {
		log.Warn("Failed to send listen stop", "err", err)
	}
	c.publish()
	return nil
}

// Cancel drops the current turn without waiting for a reply.
func (c *Controller) Cancel() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.leaveListening(Idle); err != nil {
		return err
	}
	if err := c.transport.SendAbort(protocol.ReasonUserInterrupt); err != nil {
		log.Warn("Failed to send abort", "err", err)
	}
	c.publish()
	return nil
}

// leaveListening flips the state before capture is stopped, so frames
// still in flight are refused by forwardFrame.
func (c *Controller) leaveListening(next State) error {
	c.mu.Lock()
	if c.state != Listening {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBusy, state)
	}
	c.state = next
	c.mu.Unlock()

	log.Info("State changed", "from", Listening, "to", next)
	c.audio.StopRecording()
	return nil
}

// Interrupt stops everything and leaves auto mode.
func (c *Controller) Interrupt() error {
	return c.halt(protocol.ReasonUserInterrupt)
}

func (c *Controller) StopAuto() error {
	return c.halt(protocol.ReasonStopAutoMode)
}

func (c *Controller) halt(reason string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.auto = false
	c.mu.Unlock()
	c.setState(Idle)

	c.audio.StopPlaying()
	c.audio.StopRecording()
	if err := c.transport.SendAbort(reason); err != nil {
		log.Warn("Failed to send abort", "reason", reason, "err", err)
	}
	c.publish()
	return nil
}

// SendText submits typed input as if it had been spoken.
func (c *Controller) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("empty text")
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	connected, state := c.connected, c.state
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	if state == Listening {
		c.leaveListening(Processing)
	} else {
		c.setState(Processing)
	}
	if err := c.transport.SendDetect(text); err != nil {
		log.Warn("Failed to send text", "err", err)
	}
	c.publish()
	return nil
}

// ToggleMute flips the mute flag and returns the new value. Muting
// silences playback only.
func (c *Controller) ToggleMute() bool {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.muted = !c.muted
	muted := c.muted
	c.mu.Unlock()

	if muted {
		c.audio.StopPlaying()
	}
	log.Info("Mute toggled", "muted", muted)
	c.publish()
	return muted
}

func (c *Controller) ClearMessages() {
	c.messages.Clear()
	c.publish()
}

func (c *Controller) DismissError() {
	c.mu.Lock()
	c.errText = ""
	c.mu.Unlock()
	c.publish()
}

// forwardFrame sends a captured frame only while Listening. The state is
// checked and the frame handed over under the same lock that state
// changes take.
func (c *Controller) forwardFrame(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Listening {
		return
	}
	if err := c.transport.SendBinary(frame); err != nil {
		log.Debug("Dropping frame", "err", err)
	}
}

func (c *Controller) addMessage(role transcript.Role, text string) {
	c.messages.Add(role, text)
}

type nopNotifier struct{}

func (nopNotifier) Listening()                {}
func (nopNotifier) Activation(string, string) {}
func (nopNotifier) Error(string)              {}
