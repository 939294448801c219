package ipc

import (
	"fmt"

	"xiaozhi/internal/config"
	"xiaozhi/internal/session"
)

const (
	CmdListen            = "listen"
	CmdStop              = "stop"
	CmdAuto              = "auto"
	CmdStopAuto          = "stop-auto"
	CmdCancel            = "cancel"
	CmdInterrupt         = "interrupt"
	CmdText              = "text"
	CmdMute              = "mute"
	CmdClear             = "clear"
	CmdDismiss           = "dismiss"
	CmdActivate          = "activate"
	CmdDismissActivation = "dismiss-activation"
	CmdReconnect         = "reconnect"
	CmdStatus            = "status"
	CmdWatch             = "watch"
	CmdTestPlayback      = "test-playback"
	CmdConfig            = "config"
	CmdSetConfig         = "set-config"
)

// Controller is the part of the session the socket exposes.
type Controller interface {
	StartListening() error
	StopListening() error
	StartAuto() error
	StopAuto() error
	Cancel() error
	Interrupt() error
	SendText(text string) error
	ToggleMute() bool
	ClearMessages()
	DismissError()
	ConfirmActivation() error
	DismissActivation()
	Reconnect() error
	TestPlayback(path string) error
	Snapshot() session.Snapshot
	Config() config.DeviceConfig
	UpdateConfig(cfg config.DeviceConfig) error
}

// NewHandler maps socket commands onto ctl. Every reply carries the
// session status after the command ran.
func NewHandler(ctl Controller) Handler {
	return func(req Request) Response {
		var err error
		switch req.Cmd {
		case CmdListen:
			err = ctl.StartListening()
		case CmdStop:
			err = ctl.StopListening()
		case CmdAuto:
			err = ctl.StartAuto()
		case CmdStopAuto:
			err = ctl.StopAuto()
		case CmdCancel:
			err = ctl.Cancel()
		case CmdInterrupt:
			err = ctl.Interrupt()
		case CmdText:
			err = ctl.SendText(req.Text)
		case CmdMute:
			ctl.ToggleMute()
		case CmdClear:
			ctl.ClearMessages()
		case CmdDismiss:
			ctl.DismissError()
		case CmdActivate:
			err = ctl.ConfirmActivation()
		case CmdDismissActivation:
			ctl.DismissActivation()
		case CmdReconnect:
			err = ctl.Reconnect()
		case CmdTestPlayback:
			err = ctl.TestPlayback(req.Text)
		case CmdStatus:
		case CmdWatch:
			err = fmt.Errorf("%s is not available on this socket", CmdWatch)
		case CmdConfig:
			cfg := ctl.Config()
			return Response{OK: true, Config: &cfg}
		case CmdSetConfig:
			if req.Config == nil {
				err = fmt.Errorf("%s needs a config", CmdSetConfig)
				break
			}
			err = ctl.UpdateConfig(*req.Config)
		default:
			err = fmt.Errorf("unknown command %q", req.Cmd)
		}

		snap := ctl.Snapshot()
		if err != nil {
			return Response{Error: err.Error(), Status: &snap}
		}
		return Response{OK: true, Status: &snap}
	}
}
