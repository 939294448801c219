package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Message types of the assistant protocol.
const (
	TypeHello  = "hello"
	TypeListen = "listen"
	TypeAbort  = "abort"
	TypeSTT    = "stt"
	TypeLLM    = "llm"
	TypeTTS    = "tts"
	TypeMCP    = "mcp"
)

// States carried by listen and tts messages.
const (
	ListenStart  = "start"
	ListenStop   = "stop"
	ListenDetect = "detect"

	TTSStart         = "start"
	TTSStop          = "stop"
	TTSSentenceStart = "sentence_start"
)

const TransportWebSocket = "websocket"

type ListenMode string

const (
	ModeAuto   ListenMode = "auto"
	ModeManual ListenMode = "manual"
)

// Abort reasons sent by the client.
const (
	ReasonUserInterrupt = "user_interrupt"
	ReasonStopAutoMode  = "stop_auto_mode"
)

type AudioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"`
}

// DefaultAudioParams describes the uplink audio: opus, 16kHz mono, 60ms frames.
var DefaultAudioParams = AudioParams{
	Format:        "opus",
	SampleRate:    16000,
	Channels:      1,
	FrameDuration: 60,
}

type HelloMessage struct {
	Type        string      `json:"type"`
	Version     int         `json:"version"`
	Transport   string      `json:"transport"`
	AudioParams AudioParams `json:"audio_params"`
}

type ListenMessage struct {
	Type   string     `json:"type"`
	State  string     `json:"state"`
	Mode   ListenMode `json:"mode,omitempty"`
	Text   string     `json:"text,omitempty"`
	Source string     `json:"source,omitempty"`
}

type AbortMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func NewHello(params AudioParams) HelloMessage {
	return HelloMessage{
		Type:        TypeHello,
		Version:     1,
		Transport:   TransportWebSocket,
		AudioParams: params,
	}
}

func NewStartListening(mode ListenMode) ListenMessage {
	return ListenMessage{Type: TypeListen, State: ListenStart, Mode: mode}
}

func NewStopListening() ListenMessage {
	return ListenMessage{Type: TypeListen, State: ListenStop}
}

// NewDetect carries free text typed by the user, as if it had been spoken.
func NewDetect(text string) ListenMessage {
	return ListenMessage{Type: TypeListen, State: ListenDetect, Text: text, Source: "text"}
}

func NewAbort(reason string) AbortMessage {
	if reason == "" {
		reason = ReasonUserInterrupt
	}
	return AbortMessage{Type: TypeAbort, Reason: reason}
}

// Encode marshals an outbound control message and stamps it with the
// session id when one is known.
func Encode(v any, sessionID string) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	if sessionID == "" {
		return payload, nil
	}
	payload, err = sjson.SetBytes(payload, "session_id", sessionID)
	if err != nil {
		return nil, fmt.Errorf("set session_id: %w", err)
	}
	return payload, nil
}

// Message is an inbound control message. Only the fields the client
// acts on are lifted out of the raw payload.
type Message struct {
	Type      string
	SessionID string
	Transport string
	State     string
	Text      string
	Emotion   string
	Raw       []byte
}

var ErrMalformed = errors.New("malformed message")

func Parse(raw []byte) (*Message, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformed)
	}

	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	typ := doc.Get("type")
	if typ.Type != gjson.String || typ.Str == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	return &Message{
		Type:      typ.Str,
		SessionID: doc.Get("session_id").String(),
		Transport: doc.Get("transport").String(),
		State:     doc.Get("state").String(),
		Text:      doc.Get("text").String(),
		Emotion:   doc.Get("emotion").String(),
		Raw:       append([]byte(nil), raw...),
	}, nil
}
