package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	ws "github.com/gorilla/websocket"
	"golang.org/x/net/proxy"
)

// Dialers carries the HTTP client used for provisioning and the
// WebSocket dialer used for the session, both routed the same way.
type Dialers struct {
	HTTP      *http.Client
	WebSocket *ws.Dialer
}

// New routes both dialers through the SOCKS5 proxy at socksAddr. An empty
// address gives direct connections.
func New(socksAddr string, timeout time.Duration) (*Dialers, error) {
	if socksAddr == "" {
		return &Dialers{
			HTTP: &http.Client{Timeout: timeout},
			WebSocket: &ws.Dialer{
				Proxy:            http.ProxyFromEnvironment,
				HandshakeTimeout: timeout,
			},
		}, nil
	}

	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 %s: %w", socksAddr, err)
	}
	dial := dialContext(dialer)

	return &Dialers{
		HTTP: &http.Client{
			Transport: &http.Transport{DialContext: dial},
			Timeout:   timeout,
		},
		WebSocket: &ws.Dialer{
			NetDialContext:   dial,
			HandshakeTimeout: timeout,
		},
	}, nil
}

func dialContext(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return d.Dial(network, addr)
	}
}
