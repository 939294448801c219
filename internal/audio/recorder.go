package audio

import (
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// Stream is the part of a blocking portaudio stream the manager drives.
// Read fills the capture buffer bound at open time; Write drains the
// playback buffer.
type Stream interface {
	Start() error
	Stop() error
	Read() error
	Write() error
	Close() error
}

type Backend interface {
	OpenCapture(buf []int16, sampleRate int) (Stream, error)
	OpenPlayback(buf []int16, sampleRate int) (Stream, error)
	// EffectsAvailable reports whether echo cancellation and noise
	// suppression can be attached to the capture device.
	EffectsAvailable() bool
	Terminate() error
}

type PortAudio struct{}

func NewPortAudio() (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	return &PortAudio{}, nil
}

func (PortAudio) OpenCapture(buf []int16, sampleRate int) (Stream, error) {
	s, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	return captureStream{s}, nil
}

func (PortAudio) OpenPlayback(buf []int16, sampleRate int) (Stream, error) {
	s, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("open playback: %w", err)
	}
	return playbackStream{s}, nil
}

// portaudio exposes no echo or noise processing on desktop hosts.
func (PortAudio) EffectsAvailable() bool { return false }

func (PortAudio) Terminate() error {
	return portaudio.Terminate()
}

// captureStream treats an overflowed input buffer as a dropped frame
// rather than a failure.
type captureStream struct {
	*portaudio.Stream
}

func (s captureStream) Read() error {
	err := s.Stream.Read()
	if errors.Is(err, portaudio.InputOverflowed) {
		return nil
	}
	return err
}

type playbackStream struct {
	*portaudio.Stream
}

func (s playbackStream) Write() error {
	err := s.Stream.Write()
	if errors.Is(err, portaudio.OutputUnderflowed) {
		return nil
	}
	return err
}
