// Package codec converts between little-endian PCM16 frames and the
// compressed frames exchanged with the assistant server.
package codec

import (
	"encoding/binary"
	"fmt"
	log "log/slog"
)

const (
	EncodeSampleRate = 16000
	DecodeSampleRate = 24000
	Channels         = 1
	FrameDurationMs  = 60

	// EncodeFrameSamples is one uplink frame: 60ms at 16kHz.
	EncodeFrameSamples = EncodeSampleRate * FrameDurationMs / 1000
	// DecodeFrameSamples is one downlink frame: 60ms at 24kHz.
	DecodeFrameSamples = DecodeSampleRate * FrameDurationMs / 1000
)

type Codec interface {
	Encode(pcm []byte) ([]byte, error)
	Decode(frame []byte) ([]byte, error)
	Close() error
}

type Kind string

const (
	KindAuto     Kind = "auto"
	KindOpus     Kind = "opus"
	KindFallback Kind = "fallback"
)

// Open builds the codec named by kind. KindAuto prefers opus and drops
// to the fallback codec when the native one cannot be created.
func Open(kind Kind) (Codec, error) {
	switch kind {
	case KindOpus:
		return NewOpus()
	case KindFallback:
		return NewFallback(), nil
	case KindAuto, "":
		c, err := NewOpus()
		if err != nil {
			log.Warn("Opus unavailable, using fallback codec", "err", err)
			return NewFallback(), nil
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown codec %q", kind)
}

// BytesToSamples reads little-endian int16 samples. A trailing odd byte
// is ignored.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return out
}

func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
