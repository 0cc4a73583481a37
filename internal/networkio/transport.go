// Package networkio implements the TLS transport: the TCP dial (optionally
// through an HTTP CONNECT proxy), the TLS client with the configured trust
// policy, the SSTP_DUPLEX_POST upgrade, and the framed packet I/O used by
// the muxer workers above us.
package networkio

import (
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/minisstp/minisstp/internal/bytespool"
	"github.com/minisstp/minisstp/internal/bytesx"
	"github.com/minisstp/minisstp/internal/model"
)

// maxPacketSize bounds the declared length of an incoming SSTP packet.
const maxPacketSize = 4096

// establishedReadTimeout is the socket read timeout once the HTTP upgrade
// completed; timeouts are non-fatal and merely let the demultiplexer run its
// liveness checks.
const establishedReadTimeout = time.Second

// ErrPacketSize indicates an SSTP length field out of range.
var ErrPacketSize = errors.New("networkio: invalid packet size")

// NewTransport wraps an already-established connection. Used by tests and
// alternate dialers; [Connect] is the normal entry point.
func NewTransport(conn net.Conn, leaf *x509.Certificate) *Transport {
	return &Transport{conn: conn, leaf: leaf}
}

// Transport is the established TLS transport. Send is serialised under a
// mutex so that one SSTP packet never interleaves with another's bytes.
type Transport struct {
	conn        net.Conn
	leaf        *x509.Certificate
	sendMu      sync.Mutex
	established bool
	closeOnce   sync.Once
}

// Leaf returns the server's leaf certificate captured during the handshake.
func (t *Transport) Leaf() *x509.Certificate {
	return t.leaf
}

// markEstablished switches the transport to the post-upgrade short read
// timeout regime.
func (t *Transport) markEstablished() {
	t.established = true
}

// Send writes one or more complete packets to the TLS stream. The send mutex
// is held for the whole write.
func (t *Transport) Send(pkt []byte) error {
	defer t.sendMu.Unlock()
	t.sendMu.Lock()
	_, err := t.conn.Write(pkt)
	return err
}

// ReadPacket reads exactly one SSTP packet and returns it in a buffer from
// [bytespool.Default]; the caller owns the buffer. Read timeouts after the
// upgrade surface as temporary errors the caller is expected to tolerate.
func (t *Transport) ReadPacket() ([]byte, error) {
	if t.established {
		if err := t.conn.SetReadDeadline(time.Now().Add(establishedReadTimeout)); err != nil {
			return nil, err
		}
	}
	var header [model.SSTPHeaderSize]byte
	if _, err := io.ReadFull(t.conn, header[:]); err != nil {
		return nil, err
	}
	length := int(bytesx.Uint16(header[2:4]) & 0x0FFF)
	if length < model.SSTPHeaderSize || length > maxPacketSize {
		return nil, fmt.Errorf("%w: %d", ErrPacketSize, length)
	}
	buf := bytespool.Default.Get(length)
	copy(buf, header[:])
	if _, err := io.ReadFull(t.conn, buf[model.SSTPHeaderSize:]); err != nil {
		bytespool.Default.Put(buf)
		return nil, err
	}
	return buf, nil
}

// Close closes the underlying connection. Idempotent.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})
	return err
}

// IsTemporary reports whether a read error is a timeout we should tolerate.
func IsTemporary(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
