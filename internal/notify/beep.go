package notify

import (
	"fmt"
	log "log/slog"
	"math"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
)

const cueRate = beep.SampleRate(44100)

var (
	speakerOnce sync.Once
	speakerErr  error
)

func initSpeaker() error {
	speakerOnce.Do(func() {
		speakerErr = speaker.Init(cueRate, cueRate.N(time.Second/20))
	})
	return speakerErr
}

// cue is a short sine chirp with a linear release.
func cue(freq float64, dur time.Duration) beep.Streamer {
	total := cueRate.N(dur)
	pos := 0
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= total {
			return 0, false
		}
		n := 0
		for i := range samples {
			if pos >= total {
				break
			}
			gain := 0.4 * float64(total-pos) / float64(total)
			v := gain * math.Sin(2*math.Pi*freq*float64(pos)/float64(cueRate))
			samples[i] = [2]float64{v, v}
			pos++
			n++
		}
		return n, true
	})
}

// Beep plays the listening cue and returns when it has finished.
func Beep() error {
	if err := initSpeaker(); err != nil {
		return fmt.Errorf("speaker init: %w", err)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(
		cue(880, 90*time.Millisecond),
		cue(1320, 110*time.Millisecond),
		beep.Callback(func() { close(done) }),
	))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		log.Warn("Listening cue did not finish")
	}
	return nil
}
