package packetmuxer

import (
	"bytes"
	"testing"
	"time"

	"github.com/minisstp/minisstp/internal/echotimer"
	"github.com/minisstp/minisstp/internal/model"
	"github.com/minisstp/minisstp/internal/workers"
	"github.com/minisstp/minisstp/pkg/config"
)

// fakeTun implements io.ReadWriteCloser over channels.
type fakeTun struct {
	incoming chan []byte
	written  [][]byte
}

func newFakeTun() *fakeTun {
	return &fakeTun{incoming: make(chan []byte, 16)}
}

func (ft *fakeTun) Read(p []byte) (int, error) {
	data, ok := <-ft.incoming
	if !ok {
		return 0, nil
	}
	return copy(p, data), nil
}

func (ft *fakeTun) Write(p []byte) (int, error) {
	ft.written = append(ft.written, append([]byte(nil), p...))
	return len(p), nil
}

func (ft *fakeTun) Close() error { return nil }

func newTestState(t *testing.T, profile *config.Profile) (*State, chan []byte, chan *model.ControlMessage) {
	t.Helper()

	logger := model.NewTestLogger()
	muxerToNetwork := make(chan []byte, 16)
	controlMessages := make(chan *model.ControlMessage, 16)

	ws := &State{
		logger:          logger,
		profile:         profile,
		mailboxes:       NewMailboxes(),
		muxerToNetwork:  muxerToNetwork,
		controlMessages: controlMessages,
		sstpTimer:       echotimer.New(time.Hour, func() error { return nil }),
		pppTimer:        echotimer.New(time.Hour, func() error { return nil }),
		workersManager:  workers.NewManager(logger),
	}
	return ws, muxerToNetwork, controlMessages
}

func TestHandleRawPacketRoutesLCPConfigureToMailbox(t *testing.T) {
	ws, _, _ := newTestState(t, config.NewProfile())

	lcp := make(chan *model.Frame, 1)
	ws.mailboxes.RegisterPPP(model.ProtoLCP, lcp)

	raw := []byte{
		0x10, 0x00, 0x00, 0x10,
		0xFF, 0x03, 0xC0, 0x21,
		0x01, 0x02, 0x00, 0x08,
		0x01, 0x04, 0x05, 0xDC,
	}
	if err := ws.handleRawPacket(append([]byte(nil), raw...)); err != nil {
		t.Fatalf("handleRawPacket() failed: %v", err)
	}

	select {
	case frame := <-lcp:
		if frame.Proto != model.ProtoLCP || frame.Code != model.CodeConfigureRequest || frame.ID != 2 {
			t.Fatalf("bad frame: %s", frame)
		}
	default:
		t.Fatal("expected a frame on the LCP mailbox")
	}
}

func TestHandleRawPacketRoutesLCPEchoToPPPControl(t *testing.T) {
	ws, _, _ := newTestState(t, config.NewProfile())

	lcp := make(chan *model.Frame, 1)
	pppControl := make(chan *model.Frame, 1)
	ws.mailboxes.RegisterPPP(model.ProtoLCP, lcp)
	ws.mailboxes.RegisterPPPControl(pppControl)

	raw := []byte{
		0x10, 0x00, 0x00, 0x10,
		0xFF, 0x03, 0xC0, 0x21,
		0x09, 0x07, 0x00, 0x08, // Echo-Request
		0x00, 0x00, 0x00, 0x00,
	}
	if err := ws.handleRawPacket(append([]byte(nil), raw...)); err != nil {
		t.Fatalf("handleRawPacket() failed: %v", err)
	}

	select {
	case frame := <-pppControl:
		if frame.Code != model.CodeEchoRequest {
			t.Fatalf("bad frame: %s", frame)
		}
	default:
		t.Fatal("expected a frame on the PPP control mailbox")
	}
	select {
	case <-lcp:
		t.Fatal("echo request must not reach the negotiator mailbox")
	default:
	}
}

func TestHandleRawPacketWritesEnabledIPv4ToTun(t *testing.T) {
	ws, _, _ := newTestState(t, config.NewProfile())

	tun := newFakeTun()
	ws.SetTun(tun)

	payload := []byte{0x45, 0x00, 0x00, 0x14, 0xAA}
	raw := append([]byte{0x10, 0x00, 0x00, 0x0D, 0xFF, 0x03, 0x00, 0x21}, payload...)
	if err := ws.handleRawPacket(append([]byte(nil), raw...)); err != nil {
		t.Fatalf("handleRawPacket() failed: %v", err)
	}
	if len(tun.written) != 1 || !bytes.Equal(tun.written[0], payload) {
		t.Fatalf("bad tun writes: %v", tun.written)
	}
}

func TestHandleRawPacketDropsDisabledIPv6Silently(t *testing.T) {
	profile := config.NewProfile()
	profile.PPPIPv6Enabled = false
	ws, _, controlMessages := newTestState(t, profile)

	tun := newFakeTun()
	ws.SetTun(tun)

	raw := []byte{0x10, 0x00, 0x00, 0x0C, 0xFF, 0x03, 0x00, 0x57, 0x60, 0x00, 0x00, 0x00}
	if err := ws.handleRawPacket(append([]byte(nil), raw...)); err != nil {
		t.Fatalf("handleRawPacket() failed: %v", err)
	}
	if len(tun.written) != 0 {
		t.Fatalf("expected drop, got writes: %v", tun.written)
	}
	select {
	case msg := <-controlMessages:
		t.Fatalf("expected silence, got %s", msg)
	default:
	}
}

func TestHandleRawPacketUnknownProtocolWithoutHandlerIsFatal(t *testing.T) {
	ws, _, controlMessages := newTestState(t, config.NewProfile())

	raw := []byte{0x10, 0x00, 0x00, 0x0A, 0xFF, 0x03, 0x80, 0xFD, 0x01, 0x01}
	if err := ws.handleRawPacket(append([]byte(nil), raw...)); err == nil {
		t.Fatal("expected an error")
	}
	select {
	case msg := <-controlMessages:
		if msg.Where != model.WhereIncoming || msg.Result != model.ErrUnknownType {
			t.Fatalf("got %s", msg)
		}
	default:
		t.Fatal("expected a control message")
	}
}

func TestHandleRawPacketUnknownProtocolPassesThroughToPPPControl(t *testing.T) {
	ws, _, _ := newTestState(t, config.NewProfile())

	pppControl := make(chan *model.Frame, 1)
	ws.mailboxes.RegisterPPPControl(pppControl)

	raw := []byte{0x10, 0x00, 0x00, 0x0A, 0xFF, 0x03, 0x80, 0xFD, 0x01, 0x01}
	if err := ws.handleRawPacket(append([]byte(nil), raw...)); err != nil {
		t.Fatalf("handleRawPacket() failed: %v", err)
	}
	select {
	case frame := <-pppControl:
		if frame.Proto != model.PPPProto(0x80FD) {
			t.Fatalf("bad passthrough frame: %s", frame)
		}
	default:
		t.Fatal("expected passthrough frame")
	}
}

func TestHandleRawPacketDataWithoutHDLCIsParseError(t *testing.T) {
	ws, _, controlMessages := newTestState(t, config.NewProfile())

	raw := []byte{0x10, 0x00, 0x00, 0x08, 0x00, 0x00, 0xC0, 0x21}
	if err := ws.handleRawPacket(append([]byte(nil), raw...)); err == nil {
		t.Fatal("expected an error")
	}
	select {
	case msg := <-controlMessages:
		if msg.Result != model.ErrParsingFailed {
			t.Fatalf("got %s", msg)
		}
	default:
		t.Fatal("expected a control message")
	}
}

func TestHandleRawPacketControlGoesToSSTPMailbox(t *testing.T) {
	ws, _, _ := newTestState(t, config.NewProfile())

	sstp := make(chan *model.SSTPMessage, 1)
	ws.mailboxes.RegisterSSTP(sstp)

	raw := []byte{0x10, 0x01, 0x00, 0x08, 0x00, 0x08, 0x00, 0x00} // EchoRequest
	if err := ws.handleRawPacket(append([]byte(nil), raw...)); err != nil {
		t.Fatalf("handleRawPacket() failed: %v", err)
	}
	select {
	case msg := <-sstp:
		if msg.Type != model.SSTPEchoRequest {
			t.Fatalf("bad message: %s", msg)
		}
	default:
		t.Fatal("expected an SSTP message")
	}
}

func TestAppendDatagramWrapsAndCoalesces(t *testing.T) {
	ws, _, _ := newTestState(t, config.NewProfile())

	tx := ws.appendDatagram(nil, []byte{0x45, 0x00, 0x00, 0x04})
	tx = ws.appendDatagram(tx, []byte{0x45, 0x00, 0x00, 0x08})

	want := []byte{
		0x10, 0x00, 0x00, 0x0C, 0xFF, 0x03, 0x00, 0x21, 0x45, 0x00, 0x00, 0x04,
		0x10, 0x00, 0x00, 0x0C, 0xFF, 0x03, 0x00, 0x21, 0x45, 0x00, 0x00, 0x08,
	}
	if !bytes.Equal(tx, want) {
		t.Fatalf("coalesced buffer mismatch:\n got %x\nwant %x", tx, want)
	}
}

func TestAppendDatagramReportsUnknownNibble(t *testing.T) {
	ws, _, controlMessages := newTestState(t, config.NewProfile())

	tx := ws.appendDatagram(nil, []byte{0x15, 0x00})
	if len(tx) != 0 {
		t.Fatalf("expected drop, got %x", tx)
	}
	select {
	case msg := <-controlMessages:
		if msg.Where != model.WhereOutgoing || msg.Result != model.ErrUnknownType {
			t.Fatalf("got %s", msg)
		}
	default:
		t.Fatal("expected a control message")
	}
}

func TestMoveUpWorkerReportsTimeoutWhenSSTPTimerDies(t *testing.T) {
	ws, _, controlMessages := newTestState(t, config.NewProfile())

	networkToMuxer := make(chan []byte, 1)
	ws.networkToMuxer = networkToMuxer

	// a timer whose echo emission fails dies on the first silence check
	ws.sstpTimer = echotimer.New(-time.Second, func() error {
		return errTestEcho
	})

	ws.workersManager.StartWorker(ws.moveUpWorker)

	// a liveness tick wakes the loop so it runs the checks
	networkToMuxer <- nil

	select {
	case msg := <-controlMessages:
		if msg.Where != model.WhereSSTPControl || msg.Result != model.ErrTimeout {
			t.Fatalf("got %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the control message")
	}
	ws.workersManager.WaitWorkersShutdown()
}

var errTestEcho = bytes.ErrTooLarge
