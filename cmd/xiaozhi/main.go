package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"xiaozhi/internal/audio"
	"xiaozhi/internal/config"
	"xiaozhi/internal/ipc"
	"xiaozhi/internal/notify"
	"xiaozhi/internal/provision"
	"xiaozhi/internal/proxy"
	"xiaozhi/internal/session"
	"xiaozhi/internal/tts"
	"xiaozhi/pkg/codec"
	"xiaozhi/pkg/protocol"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	configPath := cli.StringP("config", "c", config.DefaultPath(), "Device config file")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks Proxy Address (empty for direct)")
	codecKind := cli.String("codec", "auto", "Audio codec: auto, opus or fallback")
	duck := cli.Bool("duck", false, "Lower other applications while the assistant speaks")
	speakActivation := cli.Bool("speak-activation", false, "Read the activation code aloud")
	beepCue := cli.Bool("beep", true, "Beep when listening starts")
	socket := cli.String("socket", ipc.SocketPath, "Control socket path")
	cli.Parse()

	godotenv.Load(*envFile)

	// XIAOZHI_* variables fill in whatever was not given on the command line.
	rt := config.LoadRuntime()
	flags := cli.CommandLine
	if !flags.Changed("config") {
		*configPath = rt.ConfigPath
	}
	if !flags.Changed("log") {
		*logLevel = rt.LogLevel
	}
	if !flags.Changed("proxy") {
		*proxyAddr = rt.Proxy
	}
	if !flags.Changed("codec") {
		*codecKind = rt.Codec
	}
	if !flags.Changed("duck") {
		*duck = rt.Duck
	}
	if !flags.Changed("speak-activation") {
		*speakActivation = rt.SpeakActivation
	}
	if !flags.Changed("beep") {
		*beepCue = rt.Beep
	}

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	log.Info("Booting up")

	store := config.NewStore(*configPath)
	cfg := config.ApplyEnv(store.Load())
	log.Debug("Loaded config", "path", store.Path(), "name", cfg.Name)

	if exp, err := provision.TokenExpiry(cfg.Token); err == nil && !exp.IsZero() && exp.Before(time.Now()) {
		log.Warn("Token has expired", "expired_at", exp)
	}

	dialers, err := proxy.New(*proxyAddr, provision.Timeout)
	if err != nil {
		log.Error("Failed to set up proxy", "proxy", *proxyAddr, "err", err)
		os.Exit(1)
	}

	log.Debug("Loaded proxy", "proxy", *proxyAddr)

	c, err := codec.Open(codec.Kind(*codecKind))
	if err != nil {
		log.Error("Failed to open codec", "err", err)
		os.Exit(1)
	}

	backend, err := audio.NewPortAudio()
	if err != nil {
		log.Error("Failed to init portaudio", "err", err)
		os.Exit(1)
	}

	var ducker audio.Ducker
	if *duck {
		ducker = audio.NewPulseDucker([]string{"xiaozhi", "PortAudio", "ALSA plug-in [xiaozhi]"}, rt.DuckLevel, nil)
	}

	sound := audio.NewManager(backend, c, ducker)
	defer sound.Close()
	if err := sound.Init(); err != nil {
		log.Error("Failed to init audio", "err", err)
		os.Exit(1)
	}

	log.Debug("Loaded audio")

	var speak notify.Speaker
	if *speakActivation {
		speak = tts.New("cmn").Speak
	}

	transport := protocol.NewClient(protocol.Config{
		ReconnectDelay: rt.ReconnectDelay,
		HelloTimeout:   rt.HelloTimeout,
		Dialer:         dialers.WebSocket,
	})
	defer transport.Disconnect()

	ctrl := session.New(session.Deps{
		Transport:   transport,
		Audio:       sound,
		Provisioner: provision.NewClient(dialers.HTTP),
		Store:       store,
		Notifier:    notify.New(*beepCue, speak),
	}, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go ctrl.Run(ctx)

	if err := ipc.StartServer(ctx, *socket, ipc.NewHandler(ctrl), ctrl.Subscribe); err != nil {
		log.Error("Failed ipc server", "err", err)
		os.Exit(1)
	}

	log.Info("Boot up - successful", "socket", *socket)

	if err := ctrl.Start(ctx); err != nil {
		log.Warn("Not connected", "err", err)
	}

	<-ctx.Done()
	log.Info("Shutting down")
}
