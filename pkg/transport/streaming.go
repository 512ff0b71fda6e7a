package transport

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Streaming defaults. The remote broadcasts CAN telemetry over UDP but
// stops unless it hears a keepalive datagram at least every 5 seconds.
const (
	StreamingAddr      = "192.168.0.10:1338"
	StreamingKeepalive = 5 * time.Second

	// streamingReadSize fits 512 of the 16-byte CAN records.
	streamingReadSize = 0x200 * 0x10
)

// Streaming is the best-effort UDP telemetry channel. It is unrelated
// to the tunnel: frames arrive unsolicited, nothing is retried, and
// datagrams from unexpected peers are discarded.
type Streaming struct {
	conn *net.UDPConn
	peer *net.UDPAddr
}

// DialStreaming opens the channel and sends the initial keepalive.
// addr may be empty for the default.
func DialStreaming(addr string) (*Streaming, error) {
	if addr == "" {
		addr = StreamingAddr
	}
	peer, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve streaming peer %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open streaming socket: %w", err)
	}
	s := &Streaming{conn: conn, peer: peer}
	if err := s.Kick(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Kick sends the keepalive datagram. Must be called at least every
// StreamingKeepalive or the remote stops sending.
func (s *Streaming) Kick() error {
	if _, err := s.conn.WriteToUDP([]byte("hello"), s.peer); err != nil {
		return fmt.Errorf("streaming keepalive: %w", err)
	}
	return nil
}

// Recv drains everything currently buffered and returns the raw record
// bytes, concatenated. It never blocks beyond a single poll: an empty
// socket yields an empty slice, not an error. Datagrams that did not
// originate from the configured peer are dropped.
func (s *Streaming) Recv() ([]byte, error) {
	out := []byte{}
	buf := make([]byte, streamingReadSize)
	for {
		s.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return out, nil
			}
			return out, fmt.Errorf("streaming read: %w", err)
		}
		if from == nil || !from.IP.Equal(s.peer.IP) || from.Port != s.peer.Port {
			continue
		}
		out = append(out, buf[:n]...)
	}
}

// Close releases the socket.
func (s *Streaming) Close() error {
	return s.conn.Close()
}
