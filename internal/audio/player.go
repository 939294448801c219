package audio

import (
	"context"
	log "log/slog"
	"time"
)

const (
	playQueue = 128

	duckFactor = 0.3
	duckFade   = 150 * time.Millisecond
)

// Ducker lowers other applications while the assistant speaks.
type Ducker interface {
	DuckOthers(ctx context.Context, factor float64, duration time.Duration) error
	UnduckOthers(ctx context.Context, duration time.Duration) error
}

// player owns one playback stream for as long as speech keeps arriving.
// PCM chunks are written frame by frame; the tail of a chunk is padded
// with silence.
type player struct {
	stream Stream
	buf    []int16
	ducker Ducker

	queue chan []int16
	stop  chan struct{}
	done  chan struct{}
}

func newPlayer(stream Stream, buf []int16, ducker Ducker) *player {
	return &player{
		stream: stream,
		buf:    buf,
		ducker: ducker,
		queue:  make(chan []int16, playQueue),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (p *player) start() error {
	if err := p.stream.Start(); err != nil {
		return err
	}
	go p.run()
	return nil
}

func (p *player) enqueue(pcm []int16) bool {
	select {
	case p.queue <- pcm:
		return true
	default:
		return false
	}
}

func (p *player) run() {
	defer close(p.done)

	if p.ducker != nil {
		if err := p.ducker.DuckOthers(context.Background(), duckFactor, duckFade); err != nil {
			log.Warn("Failed to duck other streams", "err", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := p.ducker.UnduckOthers(ctx, duckFade); err != nil {
				log.Warn("Failed to restore other streams", "err", err)
			}
		}()
	}

	for {
		select {
		case <-p.stop:
			return
		case pcm := <-p.queue:
			if !p.write(pcm) {
				return
			}
		}
	}
}

func (p *player) write(pcm []int16) bool {
	for off := 0; off < len(pcm); off += len(p.buf) {
		select {
		case <-p.stop:
			return false
		default:
		}

		n := copy(p.buf, pcm[off:])
		clear(p.buf[n:])
		if err := p.stream.Write(); err != nil {
			log.Error("Playback write failed", "err", err)
			return false
		}
	}
	return true
}

func (p *player) finished() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// close stops the writer and releases the stream. Queued audio is dropped.
func (p *player) close() {
	close(p.stop)
	<-p.done
	if err := p.stream.Stop(); err != nil {
		log.Debug("Stopping playback stream", "err", err)
	}
	if err := p.stream.Close(); err != nil {
		log.Debug("Closing playback stream", "err", err)
	}
}
