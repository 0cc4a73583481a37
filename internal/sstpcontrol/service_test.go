package sstpcontrol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/minisstp/minisstp/internal/model"
	"github.com/minisstp/minisstp/internal/session"
	"github.com/minisstp/minisstp/internal/wire"
	"github.com/minisstp/minisstp/internal/workers"
	"github.com/minisstp/minisstp/pkg/config"
)

type testHarness struct {
	t               *testing.T
	sessionManager  *session.Manager
	mailbox         chan *model.SSTPMessage
	muxerToNetwork  chan []byte
	controlMessages chan *model.ControlMessage
	workersManager  *workers.Manager
	service         *Service
	cfg             *config.Config
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	logger := model.NewTestLogger()
	cfg := config.NewConfig(config.WithLogger(logger))
	sm, err := session.NewManager(cfg)
	require.NoError(t, err)

	h := &testHarness{
		t:               t,
		sessionManager:  sm,
		mailbox:         make(chan *model.SSTPMessage, 8),
		muxerToNetwork:  make(chan []byte, 8),
		controlMessages: make(chan *model.ControlMessage, 8),
		workersManager:  workers.NewManager(logger),
		cfg:             cfg,
	}
	h.service = &Service{
		Mailbox:         h.mailbox,
		MuxerToNetwork:  &h.muxerToNetwork,
		ControlMessages: &h.controlMessages,
	}
	t.Cleanup(func() {
		h.workersManager.StartShutdown()
		h.workersManager.WaitWorkersShutdown()
	})
	return h
}

func (h *testHarness) expectMessage() *model.SSTPMessage {
	h.t.Helper()
	select {
	case pkt := <-h.muxerToNetwork:
		msg, err := wire.ParseSSTPControl(pkt)
		require.NoError(h.t, err)
		return msg
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for an outgoing message")
		return nil
	}
}

func (h *testHarness) expectOutcome() *model.ControlMessage {
	h.t.Helper()
	select {
	case msg := <-h.controlMessages:
		return msg
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for the outcome")
		return nil
	}
}

func TestRequestAckStoresNonceAndHashProtocol(t *testing.T) {
	h := newHarness(t)
	h.service.StartRequestWorker(h.cfg, h.workersManager, h.sessionManager)

	req := h.expectMessage()
	require.Equal(t, model.SSTPCallConnectRequest, req.Type)
	proto, ok := req.FindAttribute(model.AttrEncapsulatedProtocol).(*model.EncapsulatedProtocolAttribute)
	require.True(t, ok)
	require.Equal(t, model.EncapsulatedProtocolPPP, proto.Protocol)

	var nonce [32]byte
	for i := range nonce {
		nonce[i] = byte(0x80 + i)
	}
	h.mailbox <- &model.SSTPMessage{
		Type: model.SSTPCallConnectAck,
		Attributes: []model.Attribute{
			&model.CryptoBindingRequestAttribute{Bitmask: 0x02, Nonce: nonce},
		},
	}

	outcome := h.expectOutcome()
	require.Equal(t, model.WhereSSTPRequest, outcome.Where)
	require.Equal(t, model.Proceeded, outcome.Result)
	require.Equal(t, nonce, h.sessionManager.Nonce())
	require.Equal(t, model.HashProtocolSHA256, h.sessionManager.HashProtocol())
}

func TestRequestAckBitmaskSelection(t *testing.T) {
	tests := []struct {
		bitmask byte
		want    model.HashProtocol
		wantErr model.Result
	}{
		{0x01, model.HashProtocolSHA1, model.Proceeded},
		{0x02, model.HashProtocolSHA256, model.Proceeded},
		{0x03, model.HashProtocolSHA256, model.Proceeded},
		{0x00, 0, model.ErrUnknownType},
	}
	for _, tc := range tests {
		h := newHarness(t)
		h.service.StartRequestWorker(h.cfg, h.workersManager, h.sessionManager)
		_ = h.expectMessage()

		h.mailbox <- &model.SSTPMessage{
			Type: model.SSTPCallConnectAck,
			Attributes: []model.Attribute{
				&model.CryptoBindingRequestAttribute{Bitmask: tc.bitmask},
			},
		}
		outcome := h.expectOutcome()
		require.Equal(t, tc.wantErr, outcome.Result, "bitmask %#02x", tc.bitmask)
		if tc.wantErr == model.Proceeded {
			require.Equal(t, tc.want, h.sessionManager.HashProtocol(), "bitmask %#02x", tc.bitmask)
		}
	}
}

func TestRequestNakDisconnectAbortAndUnexpected(t *testing.T) {
	tests := []struct {
		reply model.SSTPMessageType
		want  model.Result
	}{
		{model.SSTPCallConnectNak, model.ErrNegativeAcknowledged},
		{model.SSTPCallDisconnect, model.ErrDisconnectRequested},
		{model.SSTPCallAbort, model.ErrAbortRequested},
		{model.SSTPEchoRequest, model.ErrUnexpectedMessage},
	}
	for _, tc := range tests {
		h := newHarness(t)
		h.service.StartRequestWorker(h.cfg, h.workersManager, h.sessionManager)
		_ = h.expectMessage()

		h.mailbox <- &model.SSTPMessage{Type: tc.reply}
		outcome := h.expectOutcome()
		require.Equal(t, model.WhereSSTPRequest, outcome.Where)
		require.Equal(t, tc.want, outcome.Result, "reply %s", tc.reply)
	}
}

func TestRequestRetriesThenTimesOut(t *testing.T) {
	oldInterval := requestInterval
	requestInterval = 20 * time.Millisecond
	defer func() { requestInterval = oldInterval }()

	h := newHarness(t)
	h.service.StartRequestWorker(h.cfg, h.workersManager, h.sessionManager)

	for i := 0; i < maxRequestAttempts; i++ {
		msg := h.expectMessage()
		require.Equal(t, model.SSTPCallConnectRequest, msg.Type)
	}
	outcome := h.expectOutcome()
	require.Equal(t, model.WhereSSTPRequest, outcome.Where)
	require.Equal(t, model.ErrTimeout, outcome.Result)
}

func TestControlWorkerEchoRequestGetsResponse(t *testing.T) {
	h := newHarness(t)
	h.service.StartControlWorker(h.cfg, h.workersManager, h.sessionManager)

	h.mailbox <- &model.SSTPMessage{Type: model.SSTPEchoRequest}
	resp := h.expectMessage()
	require.Equal(t, model.SSTPEchoResponse, resp.Type)

	// echo response is a no-op
	h.mailbox <- &model.SSTPMessage{Type: model.SSTPEchoResponse}
	select {
	case msg := <-h.controlMessages:
		t.Fatalf("expected silence, got %s", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestControlWorkerDisconnectReports(t *testing.T) {
	h := newHarness(t)
	h.service.StartControlWorker(h.cfg, h.workersManager, h.sessionManager)

	h.mailbox <- &model.SSTPMessage{Type: model.SSTPCallDisconnect}
	outcome := h.expectOutcome()
	require.Equal(t, model.WhereSSTPControl, outcome.Where)
	require.Equal(t, model.ErrDisconnectRequested, outcome.Result)
}

func TestControlWorkerUnexpectedMessageReports(t *testing.T) {
	h := newHarness(t)
	h.service.StartControlWorker(h.cfg, h.workersManager, h.sessionManager)

	h.mailbox <- &model.SSTPMessage{Type: model.SSTPCallConnectAck}
	outcome := h.expectOutcome()
	require.Equal(t, model.ErrUnexpectedMessage, outcome.Result)
}
