package irc

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// dialTimeout bounds one connection attempt. The retry loop owns the
// long-term patience; a single dial must not.
const dialTimeout = 30 * time.Second

// DialFunc opens the stream transport for one connection attempt. The
// session only ever sees an io.ReadWriteCloser carrying CRLF-delimited
// lines; tests substitute an in-memory pipe here.
type DialFunc func(ctx context.Context) (io.ReadWriteCloser, error)

// TCPDialer dials a plain or TLS stream to addr ("host:port"). The
// stdlib dialer tries both address families.
func TCPDialer(addr string, useTLS bool, serverName string) DialFunc {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		dialer := &net.Dialer{Timeout: dialTimeout}
		if !useTLS {
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				return nil, fmt.Errorf("dial %s: %w", addr, err)
			}
			return conn, nil
		}
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{ServerName: serverName},
		}
		conn, err := tlsDialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial tls %s: %w", addr, err)
		}
		return conn, nil
	}
}

// WebSocketDialer dials an IRC-over-WebSocket gateway. Each protocol
// line travels as one text message; the adapter below re-exposes the
// byte-stream shape the session expects.
func WebSocketDialer(url string) DialFunc {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		dialer := *websocket.DefaultDialer
		dialer.HandshakeTimeout = dialTimeout
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, fmt.Errorf("dial websocket %s: %w", url, err)
		}
		return &wsStream{conn: conn}, nil
	}
}

// wsStream adapts a websocket connection to io.ReadWriteCloser.
type wsStream struct {
	conn    *websocket.Conn
	pending []byte
}

func (s *wsStream) Read(p []byte) (int, error) {
	if len(s.pending) == 0 {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		// Gateways omit the line terminator on message frames; restore
		// it so the session's line scanner sees plain IRC.
		if len(data) == 0 || data[len(data)-1] != '\n' {
			data = append(data, '\r', '\n')
		}
		s.pending = data
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *wsStream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
