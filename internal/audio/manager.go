// Package audio captures microphone frames for the uplink and plays the
// assistant's speech.
package audio

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"xiaozhi/pkg/codec"
)

const eventQueue = 64

var ErrNotInitialized = errors.New("audio not initialized")

// Event carries either one encoded capture frame or a capture failure.
type Event struct {
	Data []byte
	Err  error
}

type Manager struct {
	backend Backend
	codec   codec.Codec
	ducker  Ducker
	events  chan Event

	// recMu orders StartRecording and StopRecording.
	recMu sync.Mutex

	mu         sync.Mutex
	capture    Stream
	captureBuf []int16
	recording  bool
	recCancel  context.CancelFunc
	recDone    chan struct{}
	player     *player
	closed     bool
}

// NewManager takes ownership of backend and c. ducker may be nil.
func NewManager(backend Backend, c codec.Codec, ducker Ducker) *Manager {
	return &Manager{
		backend: backend,
		codec:   c,
		ducker:  ducker,
		events:  make(chan Event, eventQueue),
	}
}

func (m *Manager) Events() <-chan Event {
	return m.events
}

// Init opens the capture device. Playback opens on first use.
func (m *Manager) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrNotInitialized
	}
	if m.capture != nil {
		return nil
	}

	buf := make([]int16, codec.EncodeFrameSamples)
	stream, err := m.backend.OpenCapture(buf, codec.EncodeSampleRate)
	if err != nil {
		return err
	}
	m.capture = stream
	m.captureBuf = buf

	if !m.backend.EffectsAvailable() {
		log.Warn("Echo cancellation and noise suppression unavailable")
	}

	log.Info("Audio initialized",
		"capture_rate", codec.EncodeSampleRate,
		"playback_rate", codec.DecodeSampleRate,
		"frame_ms", codec.FrameDurationMs)
	return nil
}

func (m *Manager) Recording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recording
}

func (m *Manager) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.player != nil
}

// StartRecording is a no-op while already recording.
func (m *Manager) StartRecording() error {
	m.recMu.Lock()
	defer m.recMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capture == nil {
		return ErrNotInitialized
	}
	if m.recording {
		return nil
	}

	if err := m.capture.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.recording = true
	m.recCancel = cancel
	m.recDone = done

	go m.captureLoop(ctx, m.capture, m.captureBuf, done)

	log.Debug("Recording started")
	return nil
}

// StopRecording returns once the capture loop has exited; no frame is
// published after it returns.
func (m *Manager) StopRecording() {
	m.recMu.Lock()
	defer m.recMu.Unlock()

	m.mu.Lock()
	if !m.recording {
		m.mu.Unlock()
		return
	}
	cancel, done, stream := m.recCancel, m.recDone, m.capture
	m.recording = false
	m.recCancel = nil
	m.recDone = nil
	m.mu.Unlock()

	cancel()
	<-done
	if err := stream.Stop(); err != nil {
		log.Debug("Stopping capture stream", "err", err)
	}

	log.Debug("Recording stopped")
}

func (m *Manager) captureLoop(ctx context.Context, stream Stream, buf []int16, done chan struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		if err := stream.Read(); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("Capture failed", "err", err)
			m.publish(ctx, Event{Err: fmt.Errorf("capture: %w", err)})
			return
		}

		frame, err := m.codec.Encode(codec.SamplesToBytes(buf))
		if err != nil {
			log.Warn("Failed to encode frame", "err", err)
			continue
		}
		m.publish(ctx, Event{Data: frame})
	}
}

func (m *Manager) publish(ctx context.Context, ev Event) {
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}

// Play decodes a compressed frame and queues it on the playback stream.
func (m *Manager) Play(frame []byte) error {
	pcm, err := m.codec.Decode(frame)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return m.PlayPCM(codec.BytesToSamples(pcm))
}

// PlayPCM queues 24kHz mono samples. The playback stream stays open
// across calls until StopPlaying.
func (m *Manager) PlayPCM(pcm []int16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrNotInitialized
	}

	if m.player != nil && m.player.finished() {
		m.player.close()
		m.player = nil
	}

	if m.player == nil {
		buf := make([]int16, codec.DecodeFrameSamples)
		stream, err := m.backend.OpenPlayback(buf, codec.DecodeSampleRate)
		if err != nil {
			return err
		}
		p := newPlayer(stream, buf, m.ducker)
		if err := p.start(); err != nil {
			stream.Close()
			return fmt.Errorf("start playback: %w", err)
		}
		m.player = p
		log.Debug("Playback stream started")
	}

	if !m.player.enqueue(pcm) {
		log.Warn("Playback queue full, dropping audio", "samples", len(pcm))
	}
	return nil
}

func (m *Manager) PlayTone(freq float64, dur time.Duration) error {
	return m.PlayPCM(Tone(freq, dur, codec.DecodeSampleRate))
}

// StopPlaying tears the playback stream down; the next Play opens a
// fresh one.
func (m *Manager) StopPlaying() {
	m.mu.Lock()
	p := m.player
	m.player = nil
	m.mu.Unlock()

	if p != nil {
		p.close()
		log.Debug("Playback stopped")
	}
}

// Close releases every device and the codec. Later calls do nothing.
func (m *Manager) Close() error {
	m.StopRecording()
	m.StopPlaying()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	if m.capture != nil {
		errs = append(errs, m.capture.Close())
		m.capture = nil
	}
	errs = append(errs, m.codec.Close(), m.backend.Terminate())
	return errors.Join(errs...)
}
