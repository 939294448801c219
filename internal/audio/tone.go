package audio

import (
	"math"
	"time"
)

const toneAmplitude = 0.6 * math.MaxInt16

// Tone renders a sine wave with a short fade at both ends so it starts
// and stops without clicks.
func Tone(freq float64, dur time.Duration, sampleRate int) []int16 {
	n := int(float64(sampleRate) * dur.Seconds())
	if n <= 0 {
		return nil
	}

	fade := sampleRate / 100
	if fade > n/2 {
		fade = n / 2
	}

	out := make([]int16, n)
	for i := range out {
		gain := 1.0
		switch {
		case i < fade:
			gain = float64(i) / float64(fade)
		case i >= n-fade:
			gain = float64(n-1-i) / float64(fade)
		}
		v := math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate))
		out[i] = int16(toneAmplitude * gain * v)
	}
	return out
}
