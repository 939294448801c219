package session

import (
	"fmt"

	"xiaozhi/internal/transcript"
)

type State int

const (
	Idle State = iota
	Connecting
	Listening
	Processing
	Speaking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Listening:
		return "listening"
	case Processing:
		return "processing"
	case Speaking:
		return "speaking"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for v := Idle; v <= Speaking; v++ {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

type Activation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Snapshot is an immutable view of the session published after every
// change. Readers may keep it.
type Snapshot struct {
	State        State                `json:"state"`
	Connected    bool                 `json:"connected"`
	// Reconnecting reports that the connection dropped and is being
	// retried; State stays Idle meanwhile.
	Reconnecting bool                 `json:"reconnecting,omitempty"`
	SessionID    string               `json:"session_id,omitempty"`
	AutoMode     bool                 `json:"auto_mode"`
	Muted        bool                 `json:"muted"`
	Emotion      string               `json:"emotion,omitempty"`
	Error        string               `json:"error,omitempty"`
	Activation   *Activation          `json:"activation,omitempty"`
	Messages     []transcript.Message `json:"messages"`
}
