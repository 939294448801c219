// Package provision talks to the OTA endpoint that activates the device and
// hands out the WebSocket endpoint.
package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	Timeout = 30 * time.Second

	appName    = "xiaozhi-android-watch"
	appVersion = "2.0.0"
)

var ErrEmptyBody = errors.New("empty response body")

type Request struct {
	URL string
	// ClientID is the client UUID, DeviceID the MAC address.
	ClientID string
	DeviceID string
}

type ServerTime struct {
	Timestamp      int64  `json:"timestamp"`
	TimeZone       string `json:"timeZone,omitempty"`
	TimezoneOffset int    `json:"timezone_offset"`
}

type Activation struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Challenge string `json:"challenge"`
}

type Firmware struct {
	Version string `json:"version"`
	URL     string `json:"url"`
}

type WebSocket struct {
	URL string `json:"url"`
}

type Response struct {
	ServerTime ServerTime  `json:"server_time"`
	Activation *Activation `json:"activation,omitempty"`
	Firmware   Firmware    `json:"firmware"`
	WebSocket  WebSocket   `json:"websocket"`
}

type Client struct {
	http *http.Client
}

// NewClient uses hc for requests; nil means a plain client with the
// provisioning timeout.
func NewClient(hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: Timeout}
	}
	return &Client{http: hc}
}

// Report posts the device report and decodes the server's answer.
func (c *Client) Report(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, errors.New("ota url is empty")
	}

	body, err := json.Marshal(newDeviceReport(req.ClientID, req.DeviceID))
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Client-Id", req.ClientID)
	httpReq.Header.Set("Device-Id", req.DeviceID)
	httpReq.Header.Set("Content-Type", "application/json")

	log.Debug("Sending device report", "url", req.URL, "client", req.ClientID, "device", req.DeviceID)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post report: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("ota status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyBody
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	log.Info("Device report accepted",
		"websocket", out.WebSocket.URL,
		"firmware", out.Firmware.Version,
		"activation", out.Activation != nil)

	return &out, nil
}
