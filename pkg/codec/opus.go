package codec

import (
	"errors"
	"fmt"
	"sync"

	"gopkg.in/hraban/opus.v2"
)

const maxPacket = 4000

var ErrClosed = errors.New("codec closed")

// Opus wraps libopus: the encoder runs at 16kHz for the uplink, the
// decoder at 24kHz for the server's speech.
type Opus struct {
	mu     sync.Mutex
	enc    *opus.Encoder
	dec    *opus.Decoder
	pcm    []int16
	closed bool
}

func NewOpus() (*Opus, error) {
	enc, err := opus.NewEncoder(EncodeSampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	dec, err := opus.NewDecoder(DecodeSampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}

	return &Opus{
		enc: enc,
		dec: dec,
		pcm: make([]int16, DecodeFrameSamples),
	}, nil
}

func (o *Opus) Encode(pcm []byte) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}

	samples := BytesToSamples(pcm)
	if len(samples) != EncodeFrameSamples {
		return nil, fmt.Errorf("opus encode: frame of %d samples, want %d", len(samples), EncodeFrameSamples)
	}

	packet := make([]byte, maxPacket)
	n, err := o.enc.Encode(samples, packet)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return packet[:n], nil
}

// Decode returns at most one 60ms frame of 24kHz PCM.
func (o *Opus) Decode(frame []byte) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}

	n, err := o.dec.Decode(frame, o.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	return SamplesToBytes(o.pcm[:n]), nil
}

func (o *Opus) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.enc = nil
	o.dec = nil
	return nil
}
