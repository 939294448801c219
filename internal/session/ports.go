package session

import (
	"context"
	"time"

	"xiaozhi/internal/audio"
	"xiaozhi/internal/config"
	"xiaozhi/internal/provision"
	"xiaozhi/pkg/protocol"
)

// Transport is the assistant connection. Sends never block.
type Transport interface {
	Connect(p protocol.Params)
	Disconnect()
	Events() <-chan protocol.Event
	SessionID() string
	SendBinary(frame []byte) error
	SendStartListening(mode protocol.ListenMode) error
	SendStopListening() error
	SendDetect(text string) error
	SendAbort(reason string) error
}

type Audio interface {
	Events() <-chan audio.Event
	StartRecording() error
	StopRecording()
	Play(frame []byte) error
	PlayPCM(pcm []int16) error
	PlayTone(freq float64, dur time.Duration) error
	StopPlaying()
}

type Provisioner interface {
	Report(ctx context.Context, req provision.Request) (*provision.Response, error)
}

type ConfigStore interface {
	Load() config.DeviceConfig
	Save(cfg config.DeviceConfig) error
}

type Notifier interface {
	Listening()
	Activation(code, message string)
	Error(text string)
}
