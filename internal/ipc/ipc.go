// Package ipc is the local control socket between the daemon and
// xiaozhi-ctl. One JSON request and one JSON response per connection,
// except watch, which keeps answering with every status change.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"net"
	"os"
	"time"

	"xiaozhi/internal/config"
	"xiaozhi/internal/session"
)

const (
	SocketPath = "/tmp/xiaozhi.sock"

	ioTimeout = 30 * time.Second
)

type Request struct {
	Cmd    string               `json:"cmd"`
	Text   string               `json:"text,omitempty"`
	Config *config.DeviceConfig `json:"config,omitempty"`
}

type Response struct {
	OK     bool                 `json:"ok"`
	Error  string               `json:"error,omitempty"`
	Status *session.Snapshot    `json:"status,omitempty"`
	Config *config.DeviceConfig `json:"config,omitempty"`
}

type Handler func(Request) Response

// Watcher subscribes to session status for the watch command.
type Watcher func() (<-chan session.Snapshot, func())

// StartServer listens on path until ctx is done, then removes the socket.
// watch may be nil, in which case watch requests get an error.
func StartServer(ctx context.Context, path string, handler Handler, watch Watcher) error {
	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
		os.Remove(path)
	}()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Warn("IPC accept failed", "err", err)
				continue
			}
			go handleConn(ctx, conn, handler, watch)
		}
	}()

	return nil
}

func handleConn(ctx context.Context, conn net.Conn, handler Handler, watch Watcher) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(ioTimeout))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		log.Debug("Bad IPC request", "err", err)
		return
	}

	log.Debug("IPC request", "cmd", req.Cmd)
	if req.Cmd == CmdWatch && watch != nil {
		stream(ctx, conn, watch)
		return
	}
	if err := json.NewEncoder(conn).Encode(handler(req)); err != nil {
		log.Debug("Failed to write IPC response", "err", err)
	}
}

// stream writes one response per status change until the client hangs
// up or ctx is done.
func stream(ctx context.Context, conn net.Conn, watch Watcher) {
	updates, cancel := watch()
	defer cancel()

	conn.SetReadDeadline(time.Time{})
	gone := make(chan struct{})
	go func() {
		io.Copy(io.Discard, conn)
		close(gone)
	}()

	enc := json.NewEncoder(conn)
	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case snap := <-updates:
			conn.SetWriteDeadline(time.Now().Add(ioTimeout))
			if err := enc.Encode(Response{OK: true, Status: &snap}); err != nil {
				log.Debug("Watch client gone", "err", err)
				return
			}
		}
	}
}

// Watch streams status updates from the daemon to fn until ctx is done
// or the daemon goes away.
func Watch(ctx context.Context, path string, fn func(Response)) error {
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := json.NewEncoder(conn).Encode(Request{Cmd: CmdWatch}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	dec := json.NewDecoder(conn)
	for {
		var resp Response
		if err := dec.Decode(&resp); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		if !resp.OK {
			return errors.New(resp.Error)
		}
		fn(resp)
	}
}

// SendCommand sends req to the daemon at path and waits for its answer.
func SendCommand(path string, req Request) (Response, error) {
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(ioTimeout))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("send: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("receive: %w", err)
	}
	if !resp.OK && resp.Error != "" {
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}
