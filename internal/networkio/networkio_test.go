package networkio

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/minisstp/minisstp/internal/model"
	"github.com/minisstp/minisstp/pkg/config"
)

func TestReadHTTPStatusLeavesTrailingBytesOnSocket(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		server.Write([]byte("HTTP/1.1 200 OK\r\nServer: test\r\n\r\n\x10\x01"))
	}()

	status, err := readHTTPStatus(client)
	if err != nil {
		t.Fatalf("readHTTPStatus() failed: %v", err)
	}
	if status != "200" {
		t.Fatalf("expected status 200, got %s", status)
	}

	// the two SSTP bytes after the terminator must still be readable
	buf := make([]byte, 2)
	client.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := client.Read(buf); err != nil {
		t.Fatalf("reading trailing bytes failed: %v", err)
	}
	if !bytes.Equal(buf, []byte{0x10, 0x01}) {
		t.Fatalf("trailing bytes mismatch: %x", buf)
	}
}

func TestProxyConnectStatuses(t *testing.T) {
	tests := []struct {
		status     string
		wantResult model.Result
		wantOK     bool
	}{
		{"200", 0, true},
		{"403", model.ErrAuthenticationFailed, false},
		{"502", model.ErrUnexpectedMessage, false},
	}
	for _, tc := range tests {
		client, server := net.Pipe()

		profile := config.NewProfile()
		profile.Hostname = "vpn.example.com"
		profile.Proxy = &config.Proxy{Host: "proxy", Port: 8080, Username: "u", Password: "p"}

		go func() {
			buf := make([]byte, 4096)
			// consume the CONNECT request up to its blank line
			total := 0
			for !bytes.Contains(buf[:total], []byte("\r\n\r\n")) {
				n, err := server.Read(buf[total:])
				if err != nil {
					return
				}
				total += n
			}
			if !bytes.Contains(buf[:total], []byte("CONNECT vpn.example.com:443 HTTP/1.1\r\n")) {
				t.Errorf("missing CONNECT line in %q", buf[:total])
			}
			if !bytes.Contains(buf[:total], []byte("SSTPVERSION: 1.0\r\n")) {
				t.Errorf("missing SSTPVERSION header in %q", buf[:total])
			}
			if !bytes.Contains(buf[:total], []byte("Proxy-Authorization: Basic dTpw\r\n")) {
				t.Errorf("missing proxy credentials in %q", buf[:total])
			}
			server.Write([]byte("HTTP/1.1 " + tc.status + " whatever\r\n\r\n"))
		}()

		err := proxyConnect(client, profile)
		if tc.wantOK {
			if err != nil {
				t.Fatalf("status %s: unexpected error: %v", tc.status, err)
			}
		} else {
			var connErr *ConnectError
			if !errors.As(err, &connErr) {
				t.Fatalf("status %s: expected ConnectError, got %v", tc.status, err)
			}
			if connErr.Where != model.WhereProxy || connErr.Result != tc.wantResult {
				t.Fatalf("status %s: got {%s, %s}", tc.status, connErr.Where, connErr.Result)
			}
		}
		client.Close()
		server.Close()
	}
}

func TestTransportReadPacketFraming(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	transport := &Transport{conn: client}

	pkt := []byte{0x10, 0x01, 0x00, 0x08, 0x00, 0x08, 0x00, 0x00}
	go server.Write(append(append([]byte{}, pkt...), 0x10, 0x00)) // next packet starts

	got, err := transport.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket() failed: %v", err)
	}
	if !bytes.Equal(got, pkt) {
		t.Fatalf("packet mismatch:\n got %x\nwant %x", got, pkt)
	}
}

func TestTransportReadPacketRejectsBadLength(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	transport := &Transport{conn: client}

	go server.Write([]byte{0x10, 0x01, 0x00, 0x02})

	if _, err := transport.ReadPacket(); !errors.Is(err, ErrPacketSize) {
		t.Fatalf("expected ErrPacketSize, got %v", err)
	}
}

func TestTransportSendIsSerialized(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	transport := &Transport{conn: client}

	done := make(chan error, 2)
	go func() { done <- transport.Send([]byte{1, 2, 3, 4}) }()
	go func() { done <- transport.Send([]byte{5, 6, 7, 8}) }()

	buf := make([]byte, 8)
	total := 0
	for total < 8 {
		n, err := server.Read(buf[total:])
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		total += n
	}
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("send failed: %v", err)
		}
	}
	// each 4-byte write arrives whole: the first byte of each half
	// determines the rest of the half
	first, second := buf[:4], buf[4:]
	if first[0] == 1 {
		first, second = second, first
	}
	if !bytes.Equal(second, []byte{1, 2, 3, 4}) || !bytes.Equal(first, []byte{5, 6, 7, 8}) {
		t.Fatalf("interleaved writes: %x", buf)
	}
}

func TestDuplexPostHappyPath(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	transport := &Transport{conn: client}

	go func() {
		buf := make([]byte, 4096)
		total := 0
		for !bytes.Contains(buf[:total], []byte("\r\n\r\n")) {
			n, err := server.Read(buf[total:])
			if err != nil {
				return
			}
			total += n
		}
		req := buf[:total]
		if !bytes.Contains(req, []byte("SSTP_DUPLEX_POST /sra_{BA195980-CD49-458b-9E23-C84EE0ADCD75}/ HTTP/1.1\r\n")) {
			t.Errorf("missing request line in %q", req)
		}
		if !bytes.Contains(req, []byte("Content-Length: 18446744073709551615\r\n")) {
			t.Errorf("missing content-length in %q", req)
		}
		if !bytes.Contains(req, []byte("SSTPCORRELATIONID: {guid-here}\r\n")) {
			t.Errorf("missing correlation id in %q", req)
		}
		server.Write([]byte("HTTP/1.1 200 OK\r\n\r\n"))
	}()

	if err := duplexPost(transport, "vpn.example.com", "guid-here"); err != nil {
		t.Fatalf("duplexPost() failed: %v", err)
	}
}
