package sstpcontrol

import (
	"fmt"
	"time"

	"github.com/minisstp/minisstp/internal/model"
	"github.com/minisstp/minisstp/internal/session"
	"github.com/minisstp/minisstp/internal/wire"
	"github.com/minisstp/minisstp/internal/workers"
	"github.com/minisstp/minisstp/pkg/config"
)

var serviceName = "sstpcontrol"

// Variables to allow monkeypatching in tests.
var (
	// requestInterval is how long we wait for the Call-Connect-Ack before
	// retrying the request.
	requestInterval = 60 * time.Second
)

// maxRequestAttempts is the Call-Connect-Request retry budget.
const maxRequestAttempts = 3

// Service is the SSTP control service. Make sure you initialize the channels
// before invoking its start methods.
type Service struct {
	// Mailbox receives parsed SSTP control messages from the demuxer.
	Mailbox chan *model.SSTPMessage

	// MuxerToNetwork moves serialized packets down to the networkio layer.
	MuxerToNetwork *chan []byte

	// ControlMessages is the engine's control mailbox.
	ControlMessages *chan *model.ControlMessage
}

// StartRequestWorker starts the call-setup request task.
func (svc *Service) StartRequestWorker(
	config *config.Config,
	workersManager *workers.Manager,
	sessionManager *session.Manager,
) {
	ws := svc.newState(config, workersManager, sessionManager)
	workersManager.StartWorker(ws.requestWorker)
}

// StartControlWorker starts the post-connected control task.
func (svc *Service) StartControlWorker(
	config *config.Config,
	workersManager *workers.Manager,
	sessionManager *session.Manager,
) {
	ws := svc.newState(config, workersManager, sessionManager)
	workersManager.StartWorker(ws.controlWorker)
}

func (svc *Service) newState(
	config *config.Config,
	workersManager *workers.Manager,
	sessionManager *session.Manager,
) *workersState {
	return &workersState{
		logger:          config.Logger(),
		mailbox:         svc.Mailbox,
		muxerToNetwork:  *svc.MuxerToNetwork,
		controlMessages: *svc.ControlMessages,
		sessionManager:  sessionManager,
		workersManager:  workersManager,
	}
}

type workersState struct {
	logger          model.Logger
	mailbox         <-chan *model.SSTPMessage
	muxerToNetwork  chan<- []byte
	controlMessages chan<- *model.ControlMessage
	sessionManager  *session.Manager
	workersManager  *workers.Manager
}

func (ws *workersState) reportOutcome(msg *model.ControlMessage) {
	if msg == nil {
		return
	}
	select {
	case ws.controlMessages <- msg:
	case <-ws.workersManager.ShouldShutdown():
	}
}

func (ws *workersState) sendMessage(msg *model.SSTPMessage) bool {
	pkt, err := wire.MarshalSSTPControl(msg)
	if err != nil {
		ws.logger.Warnf("%s: marshal: %s", serviceName, err.Error())
		return false
	}
	select {
	case ws.muxerToNetwork <- pkt:
		return true
	case <-ws.workersManager.ShouldShutdown():
		return false
	}
}

// requestWorker sends the Call-Connect-Request and digests the reply.
func (ws *workersState) requestWorker() {
	workerName := fmt.Sprintf("%s: requestWorker", serviceName)
	defer ws.workersManager.OnWorkerDone(workerName)

	ws.logger.Debugf("%s: started", workerName)
	ws.reportOutcome(ws.runRequest())
}

func (ws *workersState) runRequest() *model.ControlMessage {
	interval := time.NewTimer(requestInterval)
	defer interval.Stop()

	for attempt := 0; attempt < maxRequestAttempts; attempt++ {
		if !ws.sendMessage(&model.SSTPMessage{
			Type: model.SSTPCallConnectRequest,
			Attributes: []model.Attribute{
				&model.EncapsulatedProtocolAttribute{Protocol: model.EncapsulatedProtocolPPP},
			},
		}) {
			return nil
		}
		if !interval.Stop() {
			select {
			case <-interval.C:
			default:
			}
		}
		interval.Reset(requestInterval)

		select {
		case msg := <-ws.mailbox:
			return ws.digestRequestReply(msg)

		case <-interval.C:
			// retry

		case <-ws.workersManager.ShouldShutdown():
			return nil
		}
	}
	return model.NewControlMessage(model.WhereSSTPRequest, model.ErrTimeout, nil)
}

func (ws *workersState) digestRequestReply(msg *model.SSTPMessage) *model.ControlMessage {
	where := model.WhereSSTPRequest
	switch msg.Type {
	case model.SSTPCallConnectAck:
		attr, ok := msg.FindAttribute(model.AttrCryptoBindingRequest).(*model.CryptoBindingRequestAttribute)
		if !ok {
			return model.NewControlMessage(where, model.ErrUnexpectedMessage,
				fmt.Errorf("ack without crypto binding request"))
		}
		var hashProto model.HashProtocol
		switch {
		case attr.Bitmask&0x02 != 0:
			hashProto = model.HashProtocolSHA256
		case attr.Bitmask == 0x01:
			hashProto = model.HashProtocolSHA1
		default:
			return model.NewControlMessage(where, model.ErrUnknownType,
				fmt.Errorf("hash protocol bitmask %#02x", attr.Bitmask))
		}
		ws.sessionManager.SetCryptoBindingRequest(attr.Nonce, hashProto)
		ws.logger.Infof("sstpcontrol: call acknowledged, binding hash %s", hashProto)
		return model.NewControlMessage(where, model.Proceeded, nil)

	case model.SSTPCallConnectNak:
		return model.NewControlMessage(where, model.ErrNegativeAcknowledged, nil)

	case model.SSTPCallDisconnect:
		return model.NewControlMessage(where, model.ErrDisconnectRequested, nil)

	case model.SSTPCallAbort:
		return model.NewControlMessage(where, model.ErrAbortRequested, nil)

	default:
		return model.NewControlMessage(where, model.ErrUnexpectedMessage,
			fmt.Errorf("message %s during call setup", msg.Type))
	}
}

// controlWorker handles the post-connected control traffic.
func (ws *workersState) controlWorker() {
	workerName := fmt.Sprintf("%s: controlWorker", serviceName)
	defer ws.workersManager.OnWorkerDone(workerName)

	ws.logger.Debugf("%s: started", workerName)

	for {
		select {
		case msg := <-ws.mailbox:
			if outcome := ws.digestControlMessage(msg); outcome != nil {
				ws.reportOutcome(outcome)
				return
			}

		case <-ws.workersManager.ShouldShutdown():
			return
		}
	}
}

func (ws *workersState) digestControlMessage(msg *model.SSTPMessage) *model.ControlMessage {
	where := model.WhereSSTPControl
	switch msg.Type {
	case model.SSTPEchoRequest:
		ws.sendMessage(&model.SSTPMessage{Type: model.SSTPEchoResponse})
		return nil

	case model.SSTPEchoResponse:
		return nil

	case model.SSTPCallDisconnect:
		return model.NewControlMessage(where, model.ErrDisconnectRequested, nil)

	case model.SSTPCallAbort:
		return model.NewControlMessage(where, model.ErrAbortRequested, nil)

	default:
		return model.NewControlMessage(where, model.ErrUnexpectedMessage,
			fmt.Errorf("message %s on the control channel", msg.Type))
	}
}

// MarshalEchoRequest serializes an SSTP Echo-Request, used by the liveness
// timer.
func MarshalEchoRequest() ([]byte, error) {
	return wire.MarshalSSTPControl(&model.SSTPMessage{Type: model.SSTPEchoRequest})
}

// MarshalDisconnect serializes a Call-Disconnect for teardown.
func MarshalDisconnect() ([]byte, error) {
	return wire.MarshalSSTPControl(&model.SSTPMessage{Type: model.SSTPCallDisconnect})
}

// MarshalAbort serializes a Call-Abort for teardown.
func MarshalAbort() ([]byte, error) {
	return wire.MarshalSSTPControl(&model.SSTPMessage{Type: model.SSTPCallAbort})
}
