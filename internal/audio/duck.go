package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxVolume = 150

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

type sinkInput struct {
	ID      int
	Volume  int
	AppName string
}

type fadeTarget struct {
	id   int
	from int
	to   int
}

// Pactl runs a pactl subcommand and returns its stdout.
type Pactl func(ctx context.Context, args ...string) ([]byte, error)

func execPactl(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "pactl", args...).Output()
}

// PulseDucker fades PulseAudio sink inputs of other applications down
// while the assistant speaks and back up afterwards. Streams whose
// application.name is in selfNames are left alone.
type PulseDucker struct {
	mu        sync.Mutex
	pactl     Pactl
	active    bool
	selfNames []string
	saved     map[int]int
	floor     int
}

// NewPulseDucker uses the pactl binary when run is nil. floor is the
// lowest volume, in percent, a ducked stream is taken to.
func NewPulseDucker(selfNames []string, floor int, run Pactl) *PulseDucker {
	if run == nil {
		run = execPactl
	}
	return &PulseDucker{
		pactl:     run,
		selfNames: append([]string(nil), selfNames...),
		saved:     make(map[int]int),
		floor:     clampVolume(floor),
	}
}

func (d *PulseDucker) DuckOthers(ctx context.Context, factor float64, duration time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	inputs, err := d.list(ctx)
	if err != nil {
		return err
	}

	d.saved = make(map[int]int)
	var targets []fadeTarget
	for _, in := range inputs {
		if d.isSelf(in) {
			continue
		}
		to := math.Max(float64(in.Volume)*factor, float64(d.floor))
		d.saved[in.ID] = in.Volume
		targets = append(targets, fadeTarget{id: in.ID, from: in.Volume, to: clampVolume(int(math.Round(to)))})
	}

	if err := d.fade(ctx, targets, duration); err != nil {
		return err
	}
	d.active = true
	return nil
}

func (d *PulseDucker) UnduckOthers(ctx context.Context, duration time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	inputs, err := d.list(ctx)
	if err != nil {
		return err
	}

	var targets []fadeTarget
	for _, in := range inputs {
		orig, ok := d.saved[in.ID]
		if !ok || d.isSelf(in) {
			continue
		}
		targets = append(targets, fadeTarget{id: in.ID, from: in.Volume, to: orig})
	}

	if err := d.fade(ctx, targets, duration); err != nil {
		return err
	}
	d.saved = make(map[int]int)
	d.active = false
	return nil
}

func (d *PulseDucker) isSelf(in sinkInput) bool {
	for _, name := range d.selfNames {
		if in.AppName == name {
			return true
		}
	}
	return false
}

func (d *PulseDucker) list(ctx context.Context) ([]sinkInput, error) {
	out, err := d.pactl(ctx, "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	return parseSinkInputs(string(out)), nil
}

func (d *PulseDucker) setVolume(ctx context.Context, id, percent int) error {
	arg := fmt.Sprintf("%d%%", clampVolume(percent))
	if _, err := d.pactl(ctx, "set-sink-input-volume", strconv.Itoa(id), arg); err != nil {
		return fmt.Errorf("set volume id=%d: %w", id, err)
	}
	return nil
}

// fade steps every target linearly from its current volume to its goal
// in 10ms increments.
func (d *PulseDucker) fade(ctx context.Context, targets []fadeTarget, duration time.Duration) error {
	if len(targets) == 0 {
		return nil
	}

	steps := int(duration / (10 * time.Millisecond))
	if steps < 1 {
		for _, t := range targets {
			if err := d.setVolume(ctx, t.id, t.to); err != nil {
				return err
			}
		}
		return nil
	}
	step := duration / time.Duration(steps)

	for i := 1; i <= steps; i++ {
		frac := float64(i) / float64(steps)
		for _, t := range targets {
			v := float64(t.from) + float64(t.to-t.from)*frac
			if err := d.setVolume(ctx, t.id, int(math.Round(v))); err != nil {
				return err
			}
		}

		if i < steps {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(step):
			}
		}
	}
	return nil
}

// parseSinkInputs reads the output of `pactl list sink-inputs`.
func parseSinkInputs(text string) []sinkInput {
	blocks := strings.Split(text, "Sink Input #")
	var res []sinkInput

	for _, block := range blocks[1:] {
		header, body, ok := strings.Cut(block, "\n")
		if !ok {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(header))
		if err != nil {
			continue
		}

		in := sinkInput{ID: id}
		for _, line := range strings.Split(body, "\n") {
			line = strings.TrimSpace(line)

			if strings.HasPrefix(line, "Volume:") && in.Volume == 0 {
				if m := percentRe.FindStringSubmatch(line); len(m) == 2 {
					in.Volume, _ = strconv.Atoi(m[1])
				}
			}

			if name, ok := strings.CutPrefix(line, "application.name = "); ok && in.AppName == "" {
				in.AppName = strings.Trim(name, `"`)
			}
		}

		if in.Volume == 0 && in.AppName == "" {
			continue
		}
		res = append(res, in)
	}
	return res
}

func clampVolume(v int) int {
	return min(max(v, 0), maxVolume)
}
