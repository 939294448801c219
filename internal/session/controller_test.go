package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"xiaozhi/internal/audio"
	"xiaozhi/internal/config"
	"xiaozhi/internal/provision"
	"xiaozhi/internal/transcript"
	"xiaozhi/pkg/protocol"
)

type fakeTransport struct {
	events chan protocol.Event

	mu       sync.Mutex
	connects []protocol.Params
	closes   int
	frames   int
	listens  []protocol.ListenMode
	stops    int
	detects  []string
	aborts   []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan protocol.Event, 16)}
}

func (f *fakeTransport) Connect(p protocol.Params) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, p)
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
}

func (f *fakeTransport) Events() <-chan protocol.Event { return f.events }
func (f *fakeTransport) SessionID() string             { return "sess-1" }

func (f *fakeTransport) SendBinary([]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames++
	return nil
}

func (f *fakeTransport) SendStartListening(mode protocol.ListenMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listens = append(f.listens, mode)
	return nil
}

func (f *fakeTransport) SendStopListening() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeTransport) SendDetect(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detects = append(f.detects, text)
	return nil
}

func (f *fakeTransport) SendAbort(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts = append(f.aborts, reason)
	return nil
}

func (f *fakeTransport) counts() (connects, frames, listens, aborts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects), f.frames, len(f.listens), len(f.aborts)
}

type fakeAudio struct {
	events chan audio.Event

	mu        sync.Mutex
	recording bool
	recErr    error
	played    int
	pcm       int
	tones     int
	stops     int
}

func newFakeAudio() *fakeAudio {
	return &fakeAudio{events: make(chan audio.Event, 16)}
}

func (f *fakeAudio) Events() <-chan audio.Event { return f.events }

func (f *fakeAudio) StartRecording() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recErr != nil {
		return f.recErr
	}
	f.recording = true
	return nil
}

func (f *fakeAudio) StopRecording() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recording = false
}

func (f *fakeAudio) Play([]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played++
	return nil
}

func (f *fakeAudio) PlayPCM([]int16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pcm++
	return nil
}

func (f *fakeAudio) PlayTone(float64, time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tones++
	return nil
}

func (f *fakeAudio) StopPlaying() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeAudio) isRecording() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recording
}

type fakeProvisioner struct {
	resp  *provision.Response
	err   error
	calls int
}

func (f *fakeProvisioner) Report(context.Context, provision.Request) (*provision.Response, error) {
	f.calls++
	return f.resp, f.err
}

type fakeStore struct {
	saved []config.DeviceConfig
	err   error
}

func (f *fakeStore) Load() config.DeviceConfig {
	if len(f.saved) == 0 {
		return config.Default()
	}
	return f.saved[len(f.saved)-1]
}

func (f *fakeStore) Save(cfg config.DeviceConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, cfg)
	return nil
}

type fakeNotifier struct {
	listening   int
	activations []string
	errors      []string
}

func (f *fakeNotifier) Listening()                { f.listening++ }
func (f *fakeNotifier) Activation(code, _ string) { f.activations = append(f.activations, code) }
func (f *fakeNotifier) Error(text string)         { f.errors = append(f.errors, text) }

type harness struct {
	ctrl      *Controller
	transport *fakeTransport
	audio     *fakeAudio
	prov      *fakeProvisioner
	store     *fakeStore
	notify    *fakeNotifier
}

func testConfig() config.DeviceConfig {
	cfg := config.Default()
	cfg.WebsocketURL = "ws://assistant.test/xiaozhi/v1/"
	cfg.MacAddress = "aa:bb:cc:dd:ee:ff"
	return cfg
}

func newHarness(t *testing.T, cfg config.DeviceConfig) *harness {
	t.Helper()

	h := &harness{
		transport: newFakeTransport(),
		audio:     newFakeAudio(),
		prov:      &fakeProvisioner{},
		store:     &fakeStore{},
		notify:    &fakeNotifier{},
	}
	h.ctrl = New(Deps{
		Transport:   h.transport,
		Audio:       h.audio,
		Provisioner: h.prov,
		Store:       h.store,
		Notifier:    h.notify,
	}, cfg)
	return h
}

// connected returns a harness whose transport finished the handshake.
func connected(t *testing.T) *harness {
	t.Helper()

	h := newHarness(t, testConfig())
	h.ctrl.handleTransport(protocol.Event{Kind: protocol.EventConnected})
	if s := h.ctrl.Snapshot(); !s.Connected || s.State != Idle {
		t.Fatalf("after connect: %+v", s)
	}
	return h
}

func (h *harness) tts(state, text string) {
	h.ctrl.handleTransport(protocol.Event{
		Kind:    protocol.EventText,
		Message: &protocol.Message{Type: protocol.TypeTTS, State: state, Text: text},
	})
}

func (h *harness) stt(text string) {
	h.ctrl.handleTransport(protocol.Event{
		Kind:    protocol.EventText,
		Message: &protocol.Message{Type: protocol.TypeSTT, Text: text},
	})
}

func TestAutoModeReopensListeningAfterSpeech(t *testing.T) {
	t.Parallel()

	h := connected(t)
	if err := h.ctrl.StartAuto(); err != nil {
		t.Fatalf("StartAuto: %v", err)
	}
	_, _, before, _ := h.transport.counts()

	h.tts(protocol.TTSStart, "")
	if got := h.ctrl.Snapshot().State; got != Speaking {
		t.Fatalf("state after tts start = %s", got)
	}
	h.tts(protocol.TTSStop, "")

	s := h.ctrl.Snapshot()
	if s.State != Listening || !s.AutoMode {
		t.Fatalf("after tts stop: state=%s auto=%v", s.State, s.AutoMode)
	}
	_, _, after, _ := h.transport.counts()
	if after-before != 1 {
		t.Fatalf("listen starts after speech = %d, want 1", after-before)
	}
	if mode := h.transport.listens[len(h.transport.listens)-1]; mode != protocol.ModeAuto {
		t.Fatalf("mode = %s", mode)
	}
	if !h.audio.isRecording() {
		t.Fatalf("capture not restarted")
	}
}

func TestManualTurnEndsIdle(t *testing.T) {
	t.Parallel()

	h := connected(t)
	if err := h.ctrl.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	if h.notify.listening != 1 {
		t.Fatalf("listening cue = %d", h.notify.listening)
	}

	h.stt("what time is it")
	s := h.ctrl.Snapshot()
	if s.State != Processing || h.audio.isRecording() {
		t.Fatalf("after stt: state=%s recording=%v", s.State, h.audio.isRecording())
	}
	if len(s.Messages) != 1 || s.Messages[0].Role != transcript.RoleUser {
		t.Fatalf("messages = %+v", s.Messages)
	}

	h.tts(protocol.TTSStart, "")
	h.tts(protocol.TTSSentenceStart, "It is noon.")
	h.tts(protocol.TTSStop, "")

	s = h.ctrl.Snapshot()
	if s.State != Idle {
		t.Fatalf("state = %s, want idle", s.State)
	}
	if len(s.Messages) != 2 || s.Messages[1].Role != transcript.RoleAssistant {
		t.Fatalf("messages = %+v", s.Messages)
	}
	if _, _, listens, _ := h.transport.counts(); listens != 1 {
		t.Fatalf("listen starts = %d, want 1", listens)
	}
}

func TestStopListeningSendsStop(t *testing.T) {
	t.Parallel()

	h := connected(t)
	h.ctrl.StartListening()
	if err := h.ctrl.StopListening(); err != nil {
		t.Fatalf("StopListening: %v", err)
	}
	if got := h.ctrl.Snapshot().State; got != Processing {
		t.Fatalf("state = %s", got)
	}
	if h.transport.stops != 1 || h.audio.isRecording() {
		t.Fatalf("stops=%d recording=%v", h.transport.stops, h.audio.isRecording())
	}
	if err := h.ctrl.StopListening(); !errors.Is(err, ErrBusy) {
		t.Fatalf("second stop: %v", err)
	}
}

func TestCancelDropsLateFrames(t *testing.T) {
	t.Parallel()

	h := connected(t)
	h.ctrl.StartListening()
	h.ctrl.forwardFrame([]byte{1})
	h.ctrl.forwardFrame([]byte{2})

	if err := h.ctrl.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// Frames captured before the stop but delivered after it.
	h.ctrl.handleAudio(audio.Event{Data: []byte{3}})
	h.ctrl.handleAudio(audio.Event{Data: []byte{4}})

	_, frames, _, aborts := h.transport.counts()
	if frames != 2 {
		t.Fatalf("frames = %d, want 2", frames)
	}
	if aborts != 1 || h.transport.aborts[0] != protocol.ReasonUserInterrupt {
		t.Fatalf("aborts = %v", h.transport.aborts)
	}
	if s := h.ctrl.Snapshot(); s.State != Idle || h.audio.isRecording() {
		t.Fatalf("state=%s recording=%v", s.State, h.audio.isRecording())
	}
	if err := h.ctrl.Cancel(); !errors.Is(err, ErrBusy) {
		t.Fatalf("cancel outside listening: %v", err)
	}
}

func TestFramesOnlyForwardedWhileListening(t *testing.T) {
	t.Parallel()

	h := connected(t)
	h.ctrl.forwardFrame([]byte{1})

	h.ctrl.StartListening()
	h.ctrl.forwardFrame([]byte{2})
	h.ctrl.StopListening()
	h.ctrl.forwardFrame([]byte{3})

	h.tts(protocol.TTSStart, "")
	h.ctrl.forwardFrame([]byte{4})

	if _, frames, _, _ := h.transport.counts(); frames != 1 {
		t.Fatalf("frames = %d, want 1", frames)
	}
}

func TestCommandsRequireConnection(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig())
	if err := h.ctrl.StartListening(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("StartListening: %v", err)
	}
	if err := h.ctrl.StartAuto(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("StartAuto: %v", err)
	}
	if err := h.ctrl.SendText("hi"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendText: %v", err)
	}
	if h.ctrl.Snapshot().AutoMode {
		t.Fatalf("auto mode set without connection")
	}
}

func TestSendTextMovesToProcessing(t *testing.T) {
	t.Parallel()

	h := connected(t)
	if err := h.ctrl.SendText("  tell me a joke "); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if got := h.ctrl.Snapshot().State; got != Processing {
		t.Fatalf("state = %s", got)
	}
	if len(h.transport.detects) != 1 || h.transport.detects[0] != "tell me a joke" {
		t.Fatalf("detects = %q", h.transport.detects)
	}
	if err := h.ctrl.SendText("   "); err == nil {
		t.Fatalf("accepted empty text")
	}
}

func TestDisconnectKeepsAutoMode(t *testing.T) {
	t.Parallel()

	h := connected(t)
	h.ctrl.StartAuto()
	h.ctrl.handleTransport(protocol.Event{Kind: protocol.EventError, Err: errors.New("reset by peer")})
	h.ctrl.handleTransport(protocol.Event{Kind: protocol.EventDisconnected})

	s := h.ctrl.Snapshot()
	if s.State != Idle || s.Connected || !s.AutoMode || !s.Reconnecting {
		t.Fatalf("after disconnect: %+v", s)
	}
	if !strings.Contains(s.Error, "reset by peer") {
		t.Fatalf("error banner = %q", s.Error)
	}
	if h.audio.isRecording() || h.audio.stops == 0 {
		t.Fatalf("audio not stopped")
	}

	h.ctrl.handleTransport(protocol.Event{Kind: protocol.EventConnected})
	if s := h.ctrl.Snapshot(); s.Error != "" || !s.Connected || s.Reconnecting {
		t.Fatalf("reconnect did not clear banner: %+v", s)
	}
}

func TestInterruptAndStopAutoClearAutoMode(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name   string
		call   func(*Controller) error
		reason string
	}{
		{"interrupt", (*Controller).Interrupt, protocol.ReasonUserInterrupt},
		{"stop auto", (*Controller).StopAuto, protocol.ReasonStopAutoMode},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := connected(t)
			h.ctrl.StartAuto()
			h.tts(protocol.TTSStart, "")

			if err := tc.call(h.ctrl); err != nil {
				t.Fatalf("%s: %v", tc.name, err)
			}
			s := h.ctrl.Snapshot()
			if s.State != Idle || s.AutoMode {
				t.Fatalf("state=%s auto=%v", s.State, s.AutoMode)
			}
			if len(h.transport.aborts) != 1 || h.transport.aborts[0] != tc.reason {
				t.Fatalf("aborts = %v", h.transport.aborts)
			}

			h.tts(protocol.TTSStop, "")
			if _, _, listens, _ := h.transport.counts(); listens != 1 {
				t.Fatalf("listen restarted after %s", tc.name)
			}
		})
	}
}

func TestPlaceholderTranscriptIgnored(t *testing.T) {
	t.Parallel()

	h := connected(t)
	h.ctrl.StartListening()
	h.stt("请登录控制面板添加设备")

	s := h.ctrl.Snapshot()
	if s.State != Listening || len(s.Messages) != 0 {
		t.Fatalf("placeholder changed session: %+v", s)
	}
}

func TestMuteOnlySuppressesPlayback(t *testing.T) {
	t.Parallel()

	h := connected(t)
	if !h.ctrl.ToggleMute() {
		t.Fatalf("mute not set")
	}

	h.tts(protocol.TTSStart, "")
	h.ctrl.handleTransport(protocol.Event{Kind: protocol.EventBinary, Data: []byte{1, 2}})
	h.tts(protocol.TTSSentenceStart, "hello")

	s := h.ctrl.Snapshot()
	if h.audio.played != 0 {
		t.Fatalf("played %d frames while muted", h.audio.played)
	}
	if s.State != Speaking || len(s.Messages) != 1 {
		t.Fatalf("mute changed session: %+v", s)
	}

	h.ctrl.ToggleMute()
	h.ctrl.handleTransport(protocol.Event{Kind: protocol.EventBinary, Data: []byte{1, 2}})
	if h.audio.played != 1 {
		t.Fatalf("played = %d after unmute", h.audio.played)
	}
}

func TestLLMAndMCPMessages(t *testing.T) {
	t.Parallel()

	h := connected(t)
	h.ctrl.handleTransport(protocol.Event{
		Kind:    protocol.EventText,
		Message: &protocol.Message{Type: protocol.TypeLLM, Emotion: "happy", Text: "😊"},
	})
	h.ctrl.handleTransport(protocol.Event{
		Kind:    protocol.EventText,
		Message: &protocol.Message{Type: protocol.TypeMCP, Raw: []byte(`{"type":"mcp"}`)},
	})

	s := h.ctrl.Snapshot()
	if s.Emotion != "happy" || s.State != Idle {
		t.Fatalf("snapshot = %+v", s)
	}
	if len(s.Messages) != 1 || s.Messages[0].Role != transcript.RoleSystem {
		t.Fatalf("messages = %+v", s.Messages)
	}

	h.ctrl.ClearMessages()
	if n := len(h.ctrl.Snapshot().Messages); n != 0 {
		t.Fatalf("messages after clear = %d", n)
	}
}

func TestAudioErrorAbortsTurn(t *testing.T) {
	t.Parallel()

	h := connected(t)
	h.ctrl.StartListening()
	h.ctrl.handleAudio(audio.Event{Err: errors.New("device unplugged")})

	s := h.ctrl.Snapshot()
	if s.State != Idle || !strings.Contains(s.Error, "device unplugged") {
		t.Fatalf("snapshot = %+v", s)
	}
	if len(h.notify.errors) != 1 {
		t.Fatalf("notified errors = %v", h.notify.errors)
	}

	h.ctrl.DismissError()
	if h.ctrl.Snapshot().Error != "" {
		t.Fatalf("banner not dismissed")
	}
}

func TestRecordingFailureReturnsIdle(t *testing.T) {
	t.Parallel()

	h := connected(t)
	h.audio.recErr = errors.New("permission denied")
	if err := h.ctrl.StartAuto(); err == nil {
		t.Fatalf("StartAuto succeeded")
	}
	if s := h.ctrl.Snapshot(); s.State != Idle || s.Error == "" || s.AutoMode {
		t.Fatalf("snapshot = %+v", s)
	}
	_, _, listens, aborts := h.transport.counts()
	if listens != 1 || aborts != 1 {
		t.Fatalf("listens=%d aborts=%d, want the opened listen to be aborted", listens, aborts)
	}
}

func TestActivationDefersConnect(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.OtaURL = "http://ota.test/xiaozhi/ota/"
	cfg.WebsocketURL = ""
	h := newHarness(t, cfg)
	h.prov.resp = &provision.Response{
		Activation: &provision.Activation{Code: "123-456", Message: "enter the code"},
		WebSocket:  provision.WebSocket{URL: "wss://assistant.test/v1/"},
	}

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s := h.ctrl.Snapshot()
	if s.Activation == nil || s.Activation.Code != "123-456" {
		t.Fatalf("activation = %+v", s.Activation)
	}
	if connects, _, _, _ := h.transport.counts(); connects != 0 {
		t.Fatalf("connected before activation")
	}
	if len(h.notify.activations) != 1 {
		t.Fatalf("activation not announced")
	}
	if len(h.store.saved) != 1 || h.store.saved[0].WebsocketURL != "wss://assistant.test/v1/" {
		t.Fatalf("websocket url not cached: %+v", h.store.saved)
	}

	if err := h.ctrl.ConfirmActivation(); err != nil {
		t.Fatalf("ConfirmActivation: %v", err)
	}
	if s := h.ctrl.Snapshot(); s.Activation != nil || s.State != Connecting {
		t.Fatalf("after confirm: %+v", s)
	}
	if len(h.transport.connects) != 1 || h.transport.connects[0].URL != "wss://assistant.test/v1/" {
		t.Fatalf("connects = %+v", h.transport.connects)
	}
	if p := h.transport.connects[0]; p.DeviceID != cfg.MacAddress || p.ClientID != cfg.UUID {
		t.Fatalf("params = %+v", p)
	}
}

func TestStartWithoutActivationConnects(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.OtaURL = "http://ota.test/xiaozhi/ota/"
	h := newHarness(t, cfg)
	h.prov.resp = &provision.Response{WebSocket: provision.WebSocket{URL: cfg.WebsocketURL}}

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.prov.calls != 1 || len(h.transport.connects) != 1 {
		t.Fatalf("calls=%d connects=%d", h.prov.calls, len(h.transport.connects))
	}
	if len(h.store.saved) != 0 {
		t.Fatalf("saved unchanged url")
	}
}

func TestStartFailures(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name  string
		setup func(*harness)
		cfg   func(*config.DeviceConfig)
	}{
		{
			name: "incomplete",
			cfg:  func(c *config.DeviceConfig) { c.MacAddress = "" },
		},
		{
			name: "provisioning error",
			cfg:  func(c *config.DeviceConfig) { c.OtaURL = "http://ota.test/" },
			setup: func(h *harness) {
				h.prov.err = errors.New("ota status 500")
			},
		},
		{
			name: "no endpoint from server",
			cfg: func(c *config.DeviceConfig) {
				c.OtaURL = "http://ota.test/"
				c.WebsocketURL = ""
			},
			setup: func(h *harness) {
				h.prov.resp = &provision.Response{}
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.cfg(&cfg)
			h := newHarness(t, cfg)
			if tc.setup != nil {
				tc.setup(h)
			}

			if err := h.ctrl.Start(context.Background()); err == nil {
				t.Fatalf("Start succeeded")
			}
			s := h.ctrl.Snapshot()
			if s.State != Idle || s.Error == "" {
				t.Fatalf("snapshot = %+v", s)
			}
			if len(h.transport.connects) != 0 {
				t.Fatalf("connected anyway")
			}
		})
	}
}

func TestUpdateConfigReconnectsOnConnectionChange(t *testing.T) {
	t.Parallel()

	h := connected(t)

	cfg := h.ctrl.Config()
	cfg.Name = "kitchen"
	if err := h.ctrl.UpdateConfig(cfg); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if len(h.transport.connects) != 0 || h.transport.closes != 0 {
		t.Fatalf("reconnected on name change")
	}

	cfg.Token = "new-token"
	if err := h.ctrl.UpdateConfig(cfg); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if h.transport.closes != 1 || len(h.transport.connects) != 1 {
		t.Fatalf("closes=%d connects=%d", h.transport.closes, len(h.transport.connects))
	}
	if got := h.transport.connects[0].Token; got != "new-token" {
		t.Fatalf("token = %q", got)
	}

	bad := cfg
	bad.Token = ""
	if err := h.ctrl.UpdateConfig(bad); !errors.Is(err, config.ErrIncomplete) {
		t.Fatalf("incomplete config: %v", err)
	}
	if h.ctrl.Config().Token != "new-token" || len(h.store.saved) != 2 {
		t.Fatalf("incomplete config applied")
	}
}

func TestTestPlaybackTone(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig())
	if err := h.ctrl.TestPlayback(""); err != nil {
		t.Fatalf("TestPlayback: %v", err)
	}
	if h.audio.tones != 1 {
		t.Fatalf("tones = %d", h.audio.tones)
	}
	if err := h.ctrl.TestPlayback("/nonexistent/file.wav"); err == nil {
		t.Fatalf("played missing file")
	}
}

func TestRunPublishesSnapshots(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, unsubscribe := h.ctrl.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		h.ctrl.Run(ctx)
		close(done)
	}()

	h.transport.events <- protocol.Event{Kind: protocol.EventConnected}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-updates:
			if s.Connected {
				if s.SessionID != "sess-1" {
					t.Fatalf("session id = %q", s.SessionID)
				}
				cancel()
				<-done
				return
			}
		case <-deadline:
			t.Fatalf("no connected snapshot")
		}
	}
}

func TestConcurrentPublishKeepsLatestState(t *testing.T) {
	t.Parallel()

	h := connected(t)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			h.ctrl.DismissError()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			h.ctrl.ClearMessages()
		}
	}()

	for i := 0; i < 50; i++ {
		if err := h.ctrl.StartListening(); err != nil {
			t.Errorf("StartListening: %v", err)
		}
		if err := h.ctrl.Cancel(); err != nil {
			t.Errorf("Cancel: %v", err)
		}
	}
	if err := h.ctrl.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	wg.Wait()

	if got := h.ctrl.Snapshot().State; got != Listening {
		t.Fatalf("published state = %s, want listening", got)
	}
}
