package notify

import (
	"context"
	"fmt"
	log "log/slog"
	"os/exec"
	"time"
)

type Speaker func(text string) error

// Notifier surfaces events that need the user's attention outside the
// ctl tool: a cue when listening starts, desktop notifications, and an
// optional spoken announcement of the activation code.
type Notifier struct {
	Cue      bool
	Speak    Speaker
	Desktop  func(ctx context.Context, title, body string) error
	PlayBeep func() error
}

func New(cue bool, speak Speaker) *Notifier {
	return &Notifier{
		Cue:      cue,
		Speak:    speak,
		Desktop:  notifySend,
		PlayBeep: Beep,
	}
}

func (n *Notifier) Listening() {
	if n == nil || !n.Cue || n.PlayBeep == nil {
		return
	}
	go func() {
		if err := n.PlayBeep(); err != nil {
			log.Warn("Failed to play cue", "err", err)
		}
	}()
}

func (n *Notifier) Activation(code, message string) {
	if n == nil {
		return
	}
	n.desktop("xiaozhi activation", fmt.Sprintf("%s\ncode: %s", message, code))

	if n.Speak != nil {
		go func() {
			if err := n.Speak(spellCode(code)); err != nil {
				log.Warn("Failed to speak activation code", "err", err)
			}
		}()
	}
}

func (n *Notifier) Error(text string) {
	if n == nil {
		return
	}
	n.desktop("xiaozhi", text)
}

func (n *Notifier) desktop(title, body string) {
	if n.Desktop == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.Desktop(ctx, title, body); err != nil {
			log.Debug("Desktop notification failed", "err", err)
		}
	}()
}

func notifySend(ctx context.Context, title, body string) error {
	return exec.CommandContext(ctx, "notify-send", "--app-name=xiaozhi", title, body).Run()
}

// spellCode separates digits so the synthesizer reads them one by one.
func spellCode(code string) string {
	out := make([]rune, 0, 2*len(code))
	for i, r := range code {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, r)
	}
	return string(out)
}
