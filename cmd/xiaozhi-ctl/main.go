package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	cli "github.com/spf13/pflag"

	"xiaozhi/internal/config"
	"xiaozhi/internal/ipc"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: xiaozhi-ctl [flags] <command> [args]

commands:
  listen | stop | auto | stop-auto | cancel | interrupt
  text <message>          send typed input
  mute                    toggle playback mute
  clear | dismiss         clear transcript / error banner
  activate | dismiss-activation
  reconnect | status
  watch                   print status on every change until interrupted
  test-playback [file]    play a tone or a wav/mp3/ogg file
  config                  print the device config
  set key=value...        update the device config

flags:
`)
	cli.PrintDefaults()
}

func main() {
	socket := cli.StringP("socket", "s", ipc.SocketPath, "Control socket path")
	asJSON := cli.BoolP("json", "j", false, "Print the full response as JSON")
	cli.Usage = usage
	cli.Parse()

	args := cli.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	if args[0] == ipc.CmdWatch {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		err := ipc.Watch(ctx, *socket, func(resp ipc.Response) {
			if *asJSON {
				json.NewEncoder(os.Stdout).Encode(resp)
				return
			}
			printStatus(resp)
		})
		if err != nil {
			fmt.Println("watch:", err)
			os.Exit(1)
		}
		return
	}

	req := ipc.Request{Cmd: args[0], Text: strings.Join(args[1:], " ")}
	if req.Cmd == "set" {
		cfg, err := updatedConfig(*socket, args[1:])
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		req = ipc.Request{Cmd: ipc.CmdSetConfig, Config: &cfg}
	}

	resp, err := ipc.SendCommand(*socket, req)
	if err != nil {
		if resp.Status == nil && resp.Error == "" {
			fmt.Println("xiaozhi not running:", err)
		} else {
			fmt.Println("error:", err)
		}
		os.Exit(1)
	}

	switch {
	case *asJSON || resp.Config != nil:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(resp)
	case req.Cmd == ipc.CmdStatus && resp.Status != nil:
		printStatus(resp)
	}
}

func printStatus(resp ipc.Response) {
	s := resp.Status
	state := s.State.String()
	if s.Reconnecting {
		state += " (reconnecting)"
	}
	fmt.Printf("state: %s  connected: %v  auto: %v  muted: %v\n", state, s.Connected, s.AutoMode, s.Muted)
	if s.Activation != nil {
		fmt.Printf("activation code: %s (%s)\n", s.Activation.Code, s.Activation.Message)
	}
	if s.Error != "" {
		fmt.Println("error:", s.Error)
	}
	for _, m := range s.Messages {
		fmt.Printf("[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.Role, m.Content)
	}
}

func updatedConfig(socket string, pairs []string) (config.DeviceConfig, error) {
	resp, err := ipc.SendCommand(socket, ipc.Request{Cmd: ipc.CmdConfig})
	if err != nil {
		return config.DeviceConfig{}, fmt.Errorf("xiaozhi not running: %w", err)
	}
	if resp.Config == nil {
		return config.DeviceConfig{}, fmt.Errorf("daemon returned no config")
	}

	cfg := *resp.Config
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return cfg, fmt.Errorf("expected key=value, got %q", pair)
		}
		switch key {
		case "name":
			cfg.Name = value
		case "otaUrl", "ota":
			cfg.OtaURL = value
		case "websocketUrl", "ws":
			cfg.WebsocketURL = value
		case "macAddress", "mac":
			cfg.MacAddress = value
		case "token":
			cfg.Token = value
		case "mcpEnabled":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return cfg, fmt.Errorf("mcpEnabled: %w", err)
			}
			cfg.McpEnabled = b
		default:
			return cfg, fmt.Errorf("unknown key %q", key)
		}
	}
	return cfg, nil
}
