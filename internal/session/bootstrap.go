package session

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"time"

	"xiaozhi/internal/config"
	"xiaozhi/internal/provision"
	"xiaozhi/pkg/audioconv"
	"xiaozhi/pkg/codec"
	"xiaozhi/pkg/protocol"
)

const (
	testToneFreq     = 440
	testToneDuration = time.Second
	maxTestPlayback  = 10 * time.Second
)

var ErrNoEndpoint = errors.New("no server endpoint configured")

// Start provisions the device when an OTA endpoint is configured and
// connects unless the server asks for activation first.
func (c *Controller) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	err := c.bootstrap(ctx)
	c.publish()
	return err
}

func (c *Controller) bootstrap(ctx context.Context) error {
	cfg := c.Config()
	if err := cfg.Validate(); err != nil {
		c.setError(err.Error())
		return err
	}

	if cfg.OtaURL != "" || cfg.WebsocketURL == "" {
		deferred, err := c.provision(ctx)
		if err != nil || deferred {
			return err
		}
	}
	return c.dial()
}

// provision reports the device and caches the returned endpoint. It
// reports deferred when the server handed out an activation code.
func (c *Controller) provision(ctx context.Context) (deferred bool, err error) {
	cfg := c.Config()
	if cfg.OtaURL == "" {
		c.setState(Idle)
		c.setError("OTA URL not configured, cannot reach the server")
		return false, ErrNoEndpoint
	}

	c.setState(Connecting)
	c.publish()

	log.Info("Provisioning", "url", cfg.OtaURL)
	resp, err := c.prov.Report(ctx, provision.Request{
		URL:      cfg.OtaURL,
		ClientID: cfg.UUID,
		DeviceID: cfg.MacAddress,
	})
	if err != nil {
		c.setState(Idle)
		c.setError(fmt.Sprintf("provisioning failed: %v", err))
		return false, err
	}

	log.Info("Provisioned",
		"firmware", resp.Firmware.Version,
		"server_time", resp.ServerTime.Timestamp,
		"websocket", resp.WebSocket.URL)
	c.cacheWebsocketURL(resp.WebSocket.URL)

	if act := resp.Activation; act != nil && act.Code != "" {
		c.mu.Lock()
		c.activation = &Activation{Code: act.Code, Message: act.Message}
		c.mu.Unlock()
		c.setState(Idle)

		log.Info("Activation required", "code", act.Code)
		c.notify.Activation(act.Code, act.Message)
		return true, nil
	}
	return false, nil
}

// cacheWebsocketURL stores a new endpoint without reconnecting. A failed
// save keeps the endpoint in memory.
func (c *Controller) cacheWebsocketURL(url string) {
	c.mu.Lock()
	if url == "" || url == c.cfg.WebsocketURL {
		c.mu.Unlock()
		return
	}
	c.cfg.WebsocketURL = url
	cfg := c.cfg.Clone()
	c.mu.Unlock()

	log.Info("Caching websocket url", "url", url)
	if c.store == nil {
		return
	}
	if err := c.store.Save(cfg); err != nil {
		log.Warn("Failed to persist websocket url", "err", err)
	}
}

func (c *Controller) dial() error {
	cfg := c.Config()
	if cfg.WebsocketURL == "" {
		c.setState(Idle)
		c.setError("server returned no websocket url")
		return ErrNoEndpoint
	}

	c.setState(Connecting)
	c.transport.Connect(protocol.Params{
		URL:      cfg.WebsocketURL,
		DeviceID: cfg.MacAddress,
		ClientID: cfg.UUID,
		Token:    cfg.Token,
	})
	log.Info("Connecting", "url", cfg.WebsocketURL)
	return nil
}

// ConfirmActivation clears the activation code and connects with the
// cached endpoint.
func (c *Controller) ConfirmActivation() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.activation = nil
	c.mu.Unlock()

	err := c.dial()
	c.publish()
	return err
}

func (c *Controller) DismissActivation() {
	c.mu.Lock()
	c.activation = nil
	c.mu.Unlock()
	c.publish()
}

// Reconnect drops the connection and dials again, provisioning first
// when no endpoint is known.
func (c *Controller) Reconnect() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	err := c.reconnect()
	c.publish()
	return err
}

func (c *Controller) reconnect() error {
	c.transport.Disconnect()

	c.mu.Lock()
	c.connected = false
	c.reconnecting = false
	ctx := c.ctx
	c.mu.Unlock()
	c.setState(Idle)

	c.audio.StopRecording()
	c.audio.StopPlaying()

	if c.Config().WebsocketURL == "" {
		deferred, err := c.provision(ctx)
		if err != nil || deferred {
			return err
		}
	}
	return c.dial()
}

// UpdateConfig saves cfg and reconnects when the endpoint or the
// credentials changed. An incomplete record is rejected and nothing
// changes.
func (c *Controller) UpdateConfig(cfg config.DeviceConfig) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := cfg.Validate(); err != nil {
		return err
	}
	if c.store != nil {
		if err := c.store.Save(cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
	}

	c.mu.Lock()
	prev := c.cfg
	c.cfg = cfg.Clone()
	c.mu.Unlock()

	log.Info("Config updated")
	if !prev.ConnectionChanged(cfg) {
		c.publish()
		return nil
	}

	log.Info("Connection settings changed, reconnecting")
	err := c.reconnect()
	c.publish()
	return err
}

// TestPlayback plays a tone, or the audio file at path, through the
// speaker path. Playback is stopped afterwards unless the assistant
// started speaking meanwhile.
func (c *Controller) TestPlayback(path string) error {
	dur := testToneDuration
	if path == "" {
		if err := c.audio.PlayTone(testToneFreq, dur); err != nil {
			return fmt.Errorf("test tone: %w", err)
		}
	} else {
		pcm, err := audioconv.DecodeFile(path, audioconv.Options{
			SampleRate: codec.DecodeSampleRate,
			MaxSamples: int(maxTestPlayback.Seconds()) * codec.DecodeSampleRate,
		})
		if err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		if err := c.audio.PlayPCM(pcm); err != nil {
			return fmt.Errorf("play %s: %w", path, err)
		}
		dur = time.Duration(len(pcm)) * time.Second / codec.DecodeSampleRate
	}

	log.Info("Test playback", "path", path, "duration", dur)
	time.AfterFunc(dur+500*time.Millisecond, func() {
		if c.current() != Speaking {
			c.audio.StopPlaying()
		}
	})
	return nil
}
