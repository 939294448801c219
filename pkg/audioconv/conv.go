// Package audioconv decodes local audio files into mono PCM16 at the
// playback rate, for checking the speaker path without a server.
package audioconv

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

type Options struct {
	SampleRate int
	// MaxSamples caps the output length. Zero means no cap.
	MaxSamples int
}

// decoded is mono float audio in [-1, 1] at its native rate.
type decoded struct {
	pcm  []float32
	rate int
}

func DecodeFile(path string, opt Options) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Decode(f, filepath.Ext(path), opt)
}

// Decode sniffs the container from its magic bytes and falls back to the
// extension hint for headerless mp3.
func Decode(r io.ReadSeeker, ext string, opt Options) ([]int16, error) {
	if opt.SampleRate <= 0 {
		return nil, errors.New("target sample rate not set")
	}

	magic, _ := bufio.NewReader(r).Peek(4)
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var (
		d   decoded
		err error
	)
	switch {
	case string(magic) == "RIFF":
		d, err = decodeWAV(r)
	case string(magic) == "OggS":
		d, err = decodeOgg(r)
	case strings.EqualFold(ext, ".mp3") || string(magic[:min(3, len(magic))]) == "ID3":
		d, err = decodeMP3(r)
	default:
		return nil, fmt.Errorf("unsupported format %q (wav, mp3, ogg vorbis/opus)", ext)
	}
	if err != nil {
		return nil, err
	}

	out := toInt16(resampleLinear(d.pcm, d.rate, opt.SampleRate))
	if opt.MaxSamples > 0 && len(out) > opt.MaxSamples {
		out = out[:opt.MaxSamples]
	}
	return out, nil
}

func decodeWAV(r io.ReadSeeker) (decoded, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return decoded{}, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil {
		return decoded{}, fmt.Errorf("wav: %w", err)
	}
	if pb == nil || len(pb.Data) == 0 {
		return decoded{}, errors.New("empty wav")
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}
	ch, rate := 1, int(dec.SampleRate)
	if pb.Format != nil {
		ch = max(pb.Format.NumChannels, 1)
		if pb.Format.SampleRate > 0 {
			rate = pb.Format.SampleRate
		}
	}

	scale := 1.0 / float64(int64(1)<<(depth-1))
	x := make([]float32, len(pb.Data))
	for i, v := range pb.Data {
		x[i] = float32(math.Max(-1, math.Min(1, float64(v)*scale)))
	}
	return decoded{pcm: downmix(x, ch), rate: rate}, nil
}

func decodeMP3(r io.Reader) (decoded, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return decoded{}, fmt.Errorf("mp3: %w", err)
	}
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return decoded{}, fmt.Errorf("mp3: %w", err)
	}

	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(&raw, binary.LittleEndian, ints); err != nil {
		return decoded{}, err
	}
	// go-mp3 always produces interleaved stereo.
	return decoded{pcm: downmix(fromInt16(ints), 2), rate: dec.SampleRate()}, nil
}

// decodeOgg tries Vorbis first, then Opus.
func decodeOgg(r io.ReadSeeker) (decoded, error) {
	pcm, format, verr := oggvorbis.ReadAll(r)
	if verr == nil && format != nil && format.Channels > 0 {
		return decoded{pcm: downmix(pcm, format.Channels), rate: format.SampleRate}, nil
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return decoded{}, err
	}
	d, oerr := decodeOggOpus(r)
	if oerr != nil {
		return decoded{}, fmt.Errorf("ogg: not vorbis (%v) nor opus (%w)", verr, oerr)
	}
	return d, nil
}

func decodeOggOpus(r io.ReadSeeker) (decoded, error) {
	dec, err := popus.NewDecoder(r)
	if err != nil {
		return decoded{}, err
	}
	defer dec.Destroy()

	ch := max(dec.ChannelCount(), 1)
	buf := make([]int16, 24000*ch)
	var pcm []float32
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			pcm = append(pcm, fromInt16(buf[:n*ch])...)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return decoded{}, err
		}
	}
	return decoded{pcm: downmix(pcm, ch), rate: 48000}, nil
}

func fromInt16(in []int16) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v) / 32768
	}
	return out
}

func toInt16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, v := range in {
		out[i] = int16(math.Max(-1, math.Min(1, float64(v))) * math.MaxInt16)
	}
	return out
}

func downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	out := make([]float32, len(in)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += in[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

func resampleLinear(in []float32, inRate, outRate int) []float32 {
	if inRate <= 0 || inRate == outRate || len(in) == 0 {
		return in
	}
	ratio := float64(outRate) / float64(inRate)
	out := make([]float32, int(math.Ceil(float64(len(in))*ratio)))
	last := len(in) - 1
	for i := range out {
		src := float64(i) / ratio
		i0 := min(int(src), last)
		i1 := min(i0+1, last)
		a := float32(src - float64(i0))
		if i0 == i1 {
			a = 0
		}
		out[i] = in[i0]*(1-a) + in[i1]*a
	}
	return out
}
