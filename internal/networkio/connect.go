package networkio

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/minisstp/minisstp/internal/model"
	"github.com/minisstp/minisstp/pkg/config"
)

// handshakeTimeout bounds every pre-upgrade network exchange.
const handshakeTimeout = 30 * time.Second

// sstpEndpoint is the fixed SSTP upgrade URL.
const sstpEndpoint = "/sra_{BA195980-CD49-458b-9E23-C84EE0ADCD75}/"

// ConnectError qualifies a connection failure with the layer that produced
// it, in the engine's reporting vocabulary.
type ConnectError struct {
	Where  model.Where
	Result model.Result
	Err    error
}

// Error implements error.
func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Where, e.Result, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Where, e.Result)
}

// Unwrap implements errors.Unwrap.
func (e *ConnectError) Unwrap() error {
	return e.Err
}

func connectError(where model.Where, result model.Result, err error) *ConnectError {
	return &ConnectError{Where: where, Result: result, Err: err}
}

// Connect opens the transport: TCP (optionally via HTTP CONNECT), the TLS
// handshake under the configured trust policy, and the SSTP_DUPLEX_POST
// upgrade using the session's correlation GUID. On return the transport is
// in the established read-timeout regime.
func Connect(cfg *config.Config, trustStore model.TrustStore, reporter model.Reporter, guid string) (*Transport, error) {
	profile := cfg.Profile()
	logger := cfg.Logger()

	dialTarget := net.JoinHostPort(profile.Hostname, fmt.Sprintf("%d", profile.Port))
	if profile.Proxy != nil {
		dialTarget = net.JoinHostPort(profile.Proxy.Host, fmt.Sprintf("%d", profile.Proxy.Port))
	}

	logger.Debugf("networkio: dialing %s", dialTarget)
	tcpConn, err := net.DialTimeout("tcp", dialTarget, handshakeTimeout)
	if err != nil {
		return nil, connectError(model.WhereTLS, model.ErrTimeout, err)
	}

	if profile.Proxy != nil {
		if err := proxyConnect(tcpConn, profile); err != nil {
			tcpConn.Close()
			return nil, err
		}
		logger.Debug("networkio: proxy tunnel established")
	}

	transport, err := tlsUpgrade(tcpConn, profile, trustStore, reporter)
	if err != nil {
		tcpConn.Close()
		return nil, err
	}
	logger.Debug("networkio: TLS handshake done")

	if err := duplexPost(transport, profile.Hostname, guid); err != nil {
		transport.Close()
		return nil, err
	}
	logger.Debug("networkio: SSTP_DUPLEX_POST accepted")

	transport.markEstablished()
	return transport, nil
}

// proxyConnect sends the literal CONNECT request and validates its status.
func proxyConnect(conn net.Conn, profile *config.Profile) error {
	target := net.JoinHostPort(profile.Hostname, fmt.Sprintf("%d", profile.Port))

	var sb strings.Builder
	fmt.Fprintf(&sb, "CONNECT %s HTTP/1.1\r\n", target)
	fmt.Fprintf(&sb, "Host: %s\r\n", target)
	sb.WriteString("SSTPVERSION: 1.0\r\n")
	if profile.Proxy.Username != "" {
		cred := base64.StdEncoding.EncodeToString(
			[]byte(profile.Proxy.Username + ":" + profile.Proxy.Password))
		fmt.Fprintf(&sb, "Proxy-Authorization: Basic %s\r\n", cred)
	}
	sb.WriteString("\r\n")

	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	if _, err := conn.Write([]byte(sb.String())); err != nil {
		return connectError(model.WhereProxy, model.ErrUnexpectedMessage, err)
	}
	status, err := readHTTPStatus(conn)
	if err != nil {
		return connectError(model.WhereProxy, model.ErrUnexpectedMessage, err)
	}
	switch status {
	case "200":
		return nil
	case "403":
		return connectError(model.WhereProxy, model.ErrAuthenticationFailed, nil)
	default:
		return connectError(model.WhereProxy, model.ErrUnexpectedMessage,
			fmt.Errorf("proxy status %s", status))
	}
}

// duplexPost performs the HTTP upgrade that turns the TLS stream into the
// SSTP duplex channel.
func duplexPost(t *Transport, hostname, guid string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SSTP_DUPLEX_POST %s HTTP/1.1\r\n", sstpEndpoint)
	sb.WriteString("Content-Length: 18446744073709551615\r\n")
	fmt.Fprintf(&sb, "Host: %s\r\n", hostname)
	fmt.Fprintf(&sb, "SSTPCORRELATIONID: {%s}\r\n", guid)
	sb.WriteString("\r\n")

	t.conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer t.conn.SetDeadline(time.Time{})

	if err := t.Send([]byte(sb.String())); err != nil {
		return connectError(model.WhereTLS, model.ErrUnexpectedMessage, err)
	}
	status, err := readHTTPStatus(t.conn)
	if err != nil {
		return connectError(model.WhereTLS, model.ErrUnexpectedMessage, err)
	}
	if status != "200" {
		return connectError(model.WhereTLS, model.ErrUnexpectedMessage,
			fmt.Errorf("upgrade status %s", status))
	}
	return nil
}

// readHTTPStatus reads bytes until the \r\n\r\n terminator and returns the
// status token of the first line. The read is byte-at-a-time on purpose:
// anything past the terminator belongs to the next protocol layer and must
// stay on the socket.
func readHTTPStatus(conn net.Conn) (string, error) {
	var response []byte
	var b [1]byte
	for !bytes.HasSuffix(response, []byte("\r\n\r\n")) {
		if len(response) > 8192 {
			return "", errors.New("networkio: http response too large")
		}
		n, err := conn.Read(b[:])
		if err != nil {
			return "", err
		}
		if n == 1 {
			response = append(response, b[0])
		}
	}
	statusLine, _, _ := strings.Cut(string(response), "\r\n")
	fields := strings.Fields(statusLine)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return "", fmt.Errorf("networkio: malformed status line: %q", statusLine)
	}
	return fields[1], nil
}
