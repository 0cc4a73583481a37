package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/minisstp/minisstp/internal/model"
)

func TestParsePPPFrameRoundTrip(t *testing.T) {
	raw := []byte{
		0xFF, 0x03, // HDLC
		0xC0, 0x21, // LCP
		0x01,       // Configure-Request
		0x07,       // id
		0x00, 0x0C, // length: 4 header + 8 options
		0x01, 0x04, 0x05, 0xDC, // MRU 1500
		0x03, 0x04, 0xC0, 0x23, // auth PAP
	}
	frame, err := ParsePPPFrame(raw)
	if err != nil {
		t.Fatalf("ParsePPPFrame() failed: %v", err)
	}
	if frame.Proto != model.ProtoLCP {
		t.Fatalf("expected LCP, got %s", frame.Proto)
	}
	if frame.Code != model.CodeConfigureRequest || frame.ID != 0x07 {
		t.Fatalf("bad header: code=%d id=%d", frame.Code, frame.ID)
	}

	out, err := MarshalPPPFrame(frame)
	if err != nil {
		t.Fatalf("MarshalPPPFrame() failed: %v", err)
	}
	if !bytes.Equal(out, raw) {
		t.Fatalf("round trip mismatch:\n got %x\nwant %x", out, raw)
	}
}

func TestParsePPPFrameRejectsBadHDLC(t *testing.T) {
	raw := []byte{0x00, 0x03, 0xC0, 0x21, 0x01, 0x01, 0x00, 0x04}
	if _, err := ParsePPPFrame(raw); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestParsePPPFrameRejectsLengthMismatch(t *testing.T) {
	raw := []byte{0xFF, 0x03, 0xC0, 0x21, 0x01, 0x01, 0x00, 0x05}
	if _, err := ParsePPPFrame(raw); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestLCPOptionsPreserveUnknownOptionOrder(t *testing.T) {
	raw := []byte{
		0x01, 0x04, 0x05, 0xDC, // MRU 1500
		0x0D, 0x03, 0xAA, // unknown type 13
		0x03, 0x05, 0xC2, 0x23, 0x81, // auth CHAP alg 0x81
		0x11, 0x02, // unknown type 17, empty value
	}
	options, err := ParseLCPOptions(raw)
	if err != nil {
		t.Fatalf("ParseLCPOptions() failed: %v", err)
	}
	if len(options) != 4 {
		t.Fatalf("expected 4 options, got %d", len(options))
	}
	out, err := MarshalOptions(options)
	if err != nil {
		t.Fatalf("MarshalOptions() failed: %v", err)
	}
	if !bytes.Equal(out, raw) {
		t.Fatalf("option round trip mismatch:\n got %x\nwant %x", out, raw)
	}
}

func TestLCPOptionsParseAuth(t *testing.T) {
	raw := []byte{0x03, 0x05, 0xC2, 0x23, 0x81}
	options, err := ParseLCPOptions(raw)
	if err != nil {
		t.Fatalf("ParseLCPOptions() failed: %v", err)
	}
	want := []model.Option{&model.AuthOption{Protocol: model.AuthProtoCHAP, Algorithm: 0x81}}
	if diff := cmp.Diff(want, options); diff != "" {
		t.Fatalf("option mismatch (-want +got):\n%s", diff)
	}
}

func TestLCPOptionsRejectTruncated(t *testing.T) {
	for _, raw := range [][]byte{
		{0x01},                   // lone type byte
		{0x01, 0x06, 0x05, 0xDC}, // declared length overflows buffer
		{0x01, 0x01},             // length below TLV header
		{0x01, 0x03, 0x05},       // MRU with 1-byte value
	} {
		if _, err := ParseLCPOptions(raw); !errors.Is(err, ErrParse) {
			t.Fatalf("expected ErrParse for %x, got %v", raw, err)
		}
	}
}

func TestIPCPOptionsRoundTrip(t *testing.T) {
	raw := []byte{
		0x03, 0x06, 0xC0, 0x00, 0x02, 0x0A, // IP 192.0.2.10
		0x81, 0x06, 0x08, 0x08, 0x08, 0x08, // DNS 8.8.8.8
	}
	options, err := ParseIPCPOptions(raw)
	if err != nil {
		t.Fatalf("ParseIPCPOptions() failed: %v", err)
	}
	want := []model.Option{
		&model.IPAddressOption{Addr: [4]byte{192, 0, 2, 10}},
		&model.DNSOption{Addr: [4]byte{8, 8, 8, 8}},
	}
	if diff := cmp.Diff(want, options); diff != "" {
		t.Fatalf("option mismatch (-want +got):\n%s", diff)
	}
	out, err := MarshalOptions(options)
	if err != nil {
		t.Fatalf("MarshalOptions() failed: %v", err)
	}
	if !bytes.Equal(out, raw) {
		t.Fatalf("round trip mismatch:\n got %x\nwant %x", out, raw)
	}
}

func TestIPv6CPOptionsRoundTrip(t *testing.T) {
	raw := []byte{0x01, 0x0A, 1, 2, 3, 4, 5, 6, 7, 8}
	options, err := ParseIPv6CPOptions(raw)
	if err != nil {
		t.Fatalf("ParseIPv6CPOptions() failed: %v", err)
	}
	want := []model.Option{&model.InterfaceIDOption{ID: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}}}
	if diff := cmp.Diff(want, options); diff != "" {
		t.Fatalf("option mismatch (-want +got):\n%s", diff)
	}
	out, err := MarshalOptions(options)
	if err != nil {
		t.Fatalf("MarshalOptions() failed: %v", err)
	}
	if !bytes.Equal(out, raw) {
		t.Fatalf("round trip mismatch:\n got %x\nwant %x", out, raw)
	}
}

func TestMarshalConfigureFrame(t *testing.T) {
	raw, err := MarshalConfigureFrame(model.ProtoIPCP, model.CodeConfigureRequest, 3, []model.Option{
		&model.IPAddressOption{Addr: [4]byte{10, 0, 0, 5}},
	})
	if err != nil {
		t.Fatalf("MarshalConfigureFrame() failed: %v", err)
	}
	want := []byte{
		0xFF, 0x03, 0x80, 0x21,
		0x01, 0x03, 0x00, 0x0A,
		0x03, 0x06, 10, 0, 0, 5,
	}
	if !bytes.Equal(raw, want) {
		t.Fatalf("frame mismatch:\n got %x\nwant %x", raw, want)
	}
}
