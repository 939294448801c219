package codec

import (
	"encoding/binary"
	log "log/slog"
)

var fallbackMagic = [2]byte{'O', 'P'}

// Fallback is a lossless delta codec used when libopus is missing. A
// frame is the bytes 'O','P', a little-endian uint16 sample count, then
// one little-endian int16 delta per sample.
type Fallback struct{}

func NewFallback() *Fallback { return &Fallback{} }

func (Fallback) Encode(pcm []byte) ([]byte, error) {
	samples := BytesToSamples(pcm)

	out := make([]byte, 4+2*len(samples))
	out[0], out[1] = fallbackMagic[0], fallbackMagic[1]
	binary.LittleEndian.PutUint16(out[2:], uint16(len(samples)))

	var prev int16
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[4+2*i:], uint16(s-prev))
		prev = s
	}
	return out, nil
}

// Decode never fails: a short or foreign frame decodes to one frame of
// silence, and a truncated body is padded with zero samples.
func (Fallback) Decode(frame []byte) ([]byte, error) {
	if len(frame) < 4 || frame[0] != fallbackMagic[0] || frame[1] != fallbackMagic[1] {
		log.Debug("Invalid fallback frame, emitting silence", "len", len(frame))
		return make([]byte, 2*DecodeFrameSamples), nil
	}

	count := int(binary.LittleEndian.Uint16(frame[2:]))
	samples := make([]int16, count)

	var prev int16
	idx := 4
	for i := range samples {
		if idx+1 >= len(frame) {
			break
		}
		samples[i] = prev + int16(binary.LittleEndian.Uint16(frame[idx:]))
		prev = samples[i]
		idx += 2
	}
	return SamplesToBytes(samples), nil
}

func (Fallback) Close() error { return nil }
