package session

import (
	"context"
	"fmt"
	log "log/slog"
	"strings"

	"xiaozhi/internal/audio"
	"xiaozhi/internal/transcript"
	"xiaozhi/pkg/protocol"
)

// placeholderTranscript is what the server sends as stt text for a
// device that is not bound to an account yet.
const placeholderTranscript = "请登录控制面板"

// Run dispatches transport and audio events until ctx is done. Messages
// from one connection are handled in arrival order.
func (c *Controller) Run(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	transportEvents := c.transport.Events()
	audioEvents := c.audio.Events()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-transportEvents:
			c.handleTransport(ev)
		case ev := <-audioEvents:
			c.handleAudio(ev)
		}
	}
}

func (c *Controller) handleTransport(ev protocol.Event) {
	switch ev.Kind {
	case protocol.EventConnected:
		c.onConnected()
	case protocol.EventDisconnected:
		c.onDisconnected()
	case protocol.EventError:
		c.opMu.Lock()
		c.setError(fmt.Sprintf("connection error: %v", ev.Err))
		c.opMu.Unlock()
		c.publish()
	case protocol.EventBinary:
		c.onBinary(ev.Data)
	case protocol.EventText:
		if ev.Message != nil {
			c.onMessage(ev.Message)
		}
	}
}

func (c *Controller) onConnected() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.connected = true
	c.reconnecting = false
	c.errText = ""
	c.mu.Unlock()
	c.setState(Idle)

	log.Info("Connected", "session_id", c.transport.SessionID())
	c.publish()
}

// onDisconnected keeps auto mode; only the user leaves it.
func (c *Controller) onDisconnected() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.connected = false
	c.reconnecting = true
	c.mu.Unlock()
	c.setState(Idle)

	c.audio.StopRecording()
	c.audio.StopPlaying()

	log.Info("Disconnected, transport will retry")
	c.publish()
}

// onBinary plays downlink audio unless muted. Muting never changes the
// state machine.
func (c *Controller) onBinary(frame []byte) {
	c.mu.Lock()
	muted := c.muted
	c.mu.Unlock()

	if muted {
		return
	}
	if err := c.audio.Play(frame); err != nil {
		log.Warn("Failed to play frame", "err", err)
	}
}

func (c *Controller) onMessage(msg *protocol.Message) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	switch msg.Type {
	case protocol.TypeSTT:
		c.onTranscript(msg.Text)
	case protocol.TypeLLM:
		c.mu.Lock()
		c.emotion = msg.Emotion
		c.mu.Unlock()
		log.Debug("Emotion", "emotion", msg.Emotion, "text", msg.Text)
	case protocol.TypeTTS:
		c.onSpeech(msg.State, msg.Text)
	case protocol.TypeMCP:
		c.addMessage(transcript.RoleSystem, "MCP: "+string(msg.Raw))
	case protocol.TypeHello:
	default:
		log.Debug("Unhandled message", "type", msg.Type)
		return
	}
	c.publish()
}

func (c *Controller) onTranscript(text string) {
	text = strings.TrimSpace(text)
	if text == "" || strings.Contains(text, placeholderTranscript) {
		return
	}

	if c.current() == Listening {
		c.leaveListening(Processing)
	}

	c.addMessage(transcript.RoleUser, text)
	log.Info("Heard", "text", text)
}

func (c *Controller) onSpeech(state, text string) {
	switch state {
	case protocol.TTSStart:
		if c.current() == Listening {
			c.leaveListening(Speaking)
			return
		}
		c.setState(Speaking)

	case protocol.TTSSentenceStart:
		if text = strings.TrimSpace(text); text != "" {
			c.addMessage(transcript.RoleAssistant, text)
		}

	case protocol.TTSStop:
		c.mu.Lock()
		speaking, auto := c.state == Speaking, c.auto
		c.mu.Unlock()

		if !speaking {
			c.audio.StopPlaying()
			return
		}
		c.audio.StopPlaying()
		if auto {
			c.openTurn(protocol.ModeAuto)
			return
		}
		c.setState(Idle)
	}
}

// handleAudio runs without opMu so frame forwarding never waits on a
// command.
func (c *Controller) handleAudio(ev audio.Event) {
	if ev.Err == nil {
		c.forwardFrame(ev.Data)
		return
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.setError(fmt.Sprintf("microphone error: %v", ev.Err))
	if err := c.leaveListening(Idle); err == nil {
		if err := c.transport.SendAbort(protocol.ReasonUserInterrupt); err != nil {
			log.Warn("Failed to send abort", "err", err)
		}
	}
	c.publish()
}
