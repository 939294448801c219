package provision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestReportSendsDeviceAndDecodes(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.Header.Get("Client-Id") != "uuid-1" || r.Header.Get("Device-Id") != "AA:BB" {
			t.Errorf("headers = %v", r.Header)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["mac_address"] != "AA:BB" || body["uuid"] != "uuid-1" {
			t.Errorf("body ids = %v %v", body["mac_address"], body["uuid"])
		}
		app, _ := body["application"].(map[string]any)
		if app["name"] != "xiaozhi-android-watch" || app["elf_sha256"] == "" {
			t.Errorf("application = %v", app)
		}
		brd, _ := body["board"].(map[string]any)
		if brd["mac"] != "AA:BB" {
			t.Errorf("board = %v", brd)
		}

		w.Write([]byte(`{
			"server_time": {"timestamp": 1700000000000, "timezone_offset": 480},
			"activation": {"code": "123456", "message": "go activate", "challenge": "c"},
			"firmware": {"version": "1.0.0", "url": ""},
			"websocket": {"url": "wss://api.example.com/ws"},
			"extra": true
		}`))
	}))
	defer srv.Close()

	resp, err := NewClient(srv.Client()).Report(context.Background(), Request{
		URL: srv.URL, ClientID: "uuid-1", DeviceID: "AA:BB",
	})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if resp.WebSocket.URL != "wss://api.example.com/ws" {
		t.Fatalf("websocket = %q", resp.WebSocket.URL)
	}
	if resp.Activation == nil || resp.Activation.Code != "123456" {
		t.Fatalf("activation = %+v", resp.Activation)
	}
	if resp.ServerTime.TimezoneOffset != 480 || resp.Firmware.Version != "1.0.0" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestReportErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr func(error) bool
	}{
		{name: "status", status: http.StatusForbidden, body: "denied",
			wantErr: func(err error) bool { return strings.Contains(err.Error(), "403") && strings.Contains(err.Error(), "denied") }},
		{name: "empty", status: http.StatusOK, body: "  ",
			wantErr: func(err error) bool { return errors.Is(err, ErrEmptyBody) }},
		{name: "garbage", status: http.StatusOK, body: "<html>",
			wantErr: func(err error) bool { return strings.Contains(err.Error(), "parse response") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(nil).Report(context.Background(), Request{URL: srv.URL})
			if err == nil || !tt.wantErr(err) {
				t.Fatalf("Report err = %v", err)
			}
		})
	}
}

func TestReportNoURL(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(nil).Report(context.Background(), Request{}); err == nil {
		t.Fatalf("Report without url succeeded")
	}
}

func TestTokenExpiry(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	got, err := TokenExpiry(signed)
	if err != nil {
		t.Fatalf("TokenExpiry: %v", err)
	}
	if !got.Equal(exp) {
		t.Fatalf("expiry = %v, want %v", got, exp)
	}

	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte("k"))
	if got, err := TokenExpiry(noExp); err != nil || !got.IsZero() {
		t.Fatalf("TokenExpiry(no exp) = %v, %v", got, err)
	}

	if _, err := TokenExpiry("test-token"); !errors.Is(err, ErrNotJWT) {
		t.Fatalf("TokenExpiry(opaque) = %v", err)
	}
}
