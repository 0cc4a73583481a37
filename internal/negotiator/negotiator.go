// Package negotiator implements the PPP configure state machine shared by
// LCP, IPCP and IPv6CP. The machine is parameterised by a [Policy] that
// supplies the option codec and the per-protocol decisions; the loop itself
// only knows about Configure-Request/Ack/Nak/Reject, ids and retries.
package negotiator

import (
	"fmt"
	"time"

	"github.com/minisstp/minisstp/internal/model"
	"github.com/minisstp/minisstp/internal/session"
	"github.com/minisstp/minisstp/internal/wire"
	"github.com/minisstp/minisstp/internal/workers"
	"github.com/minisstp/minisstp/pkg/config"
)

var serviceName = "negotiator"

// maxRequests is the configure-request retry budget.
const maxRequests = 10

// Variables to allow monkeypatching in tests.
var (
	// requestInterval is how long we wait for a reply before resending the
	// configure request.
	requestInterval = 3 * time.Second

	// phaseTimeout bounds the whole negotiation.
	phaseTimeout = 30 * time.Second
)

// Policy supplies the per-protocol decisions of the configure machine.
type Policy interface {
	// Proto returns the PPP protocol this policy negotiates.
	Proto() model.PPPProto

	// Where tags the control messages this negotiator reports.
	Where() model.Where

	// ParseOptions decodes the option list of a configure frame body.
	ParseOptions(body []byte) ([]model.Option, error)

	// TryServerReject returns the subset of the server's request we must
	// Configure-Reject, or nil to proceed.
	TryServerReject(req []model.Option) []model.Option

	// TryServerNak returns the subset of the server's request we must
	// Configure-Nak with amended values, or nil to proceed.
	TryServerNak(req []model.Option) []model.Option

	// CreateServerAck returns the option list to echo in our Configure-Ack
	// and lets the policy adopt what the server asked for.
	CreateServerAck(req []model.Option) []model.Option

	// CreateClientRequest returns the option list for our next
	// Configure-Request.
	CreateClientRequest() []model.Option

	// AcceptClientNak digests the server's Nak of our request. A non-nil
	// return terminates the negotiation with that outcome.
	AcceptClientNak(opts []model.Option) *model.ControlMessage

	// AcceptClientReject digests the server's Reject of our request. A
	// non-nil return terminates the negotiation with that outcome.
	AcceptClientReject(opts []model.Option) *model.ControlMessage
}

// Service is a negotiator service. Make sure you initialize the channels
// before invoking [Service.StartWorkers].
type Service struct {
	// Mailbox receives this protocol's configure frames from the demuxer.
	Mailbox chan *model.Frame

	// MuxerToNetwork moves serialized packets down to the networkio layer.
	MuxerToNetwork *chan []byte

	// ControlMessages is the engine's control mailbox.
	ControlMessages *chan *model.ControlMessage
}

// StartWorkers starts the negotiation worker for the given policy.
func (svc *Service) StartWorkers(
	config *config.Config,
	workersManager *workers.Manager,
	sessionManager *session.Manager,
	policy Policy,
) {
	ws := &workersState{
		logger:          config.Logger(),
		mailbox:         svc.Mailbox,
		muxerToNetwork:  *svc.MuxerToNetwork,
		controlMessages: *svc.ControlMessages,
		sessionManager:  sessionManager,
		policy:          policy,
		workersManager:  workersManager,
	}
	workersManager.StartWorker(ws.negotiateWorker)
}

// workersState contains the negotiator worker state.
type workersState struct {
	logger          model.Logger
	mailbox         <-chan *model.Frame
	muxerToNetwork  chan<- []byte
	controlMessages chan<- *model.ControlMessage
	sessionManager  *session.Manager
	policy          Policy
	workersManager  *workers.Manager
}

// negotiateWorker runs the configure state machine until the link is open or
// a terminal outcome is reached.
func (ws *workersState) negotiateWorker() {
	workerName := fmt.Sprintf("%s: %s", serviceName, ws.policy.Proto())

	defer ws.workersManager.OnWorkerDone(workerName)

	ws.logger.Debugf("%s: started", workerName)

	outcome := ws.negotiate()
	if outcome == nil {
		// shutdown interrupted the negotiation
		return
	}
	select {
	case ws.controlMessages <- outcome:
	case <-ws.workersManager.ShouldShutdown():
	}
}

func (ws *workersState) negotiate() *model.ControlMessage {
	where := ws.policy.Where()

	clientReady, serverReady := false, false

	id, ok := ws.sendRequest()
	if !ok {
		return nil
	}
	counter := maxRequests

	deadline := time.NewTimer(phaseTimeout)
	defer deadline.Stop()

	interval := time.NewTimer(requestInterval)
	defer interval.Stop()

	for {
		if !interval.Stop() {
			select {
			case <-interval.C:
			default:
			}
		}
		interval.Reset(requestInterval)

		var frame *model.Frame
		select {
		case frame = <-ws.mailbox:

		case <-interval.C:
			clientReady = false
			counter--
			if counter < 0 {
				return model.NewControlMessage(where, model.ErrCountExhausted, nil)
			}
			if id, ok = ws.sendRequest(); !ok {
				return nil
			}
			continue

		case <-deadline.C:
			return model.NewControlMessage(where, model.ErrTimeout, nil)

		case <-ws.workersManager.ShouldShutdown():
			return nil
		}

		options, err := ws.policy.ParseOptions(frame.Body)
		if err != nil {
			return model.NewControlMessage(where, model.ErrParsingFailed, err)
		}

		if frame.Code == model.CodeConfigureRequest {
			serverReady = false
			if rejected := ws.policy.TryServerReject(options); len(rejected) > 0 {
				if !ws.sendReply(model.CodeConfigureReject, frame.ID, rejected) {
					return nil
				}
				continue
			}
			if naked := ws.policy.TryServerNak(options); len(naked) > 0 {
				if !ws.sendReply(model.CodeConfigureNak, frame.ID, naked) {
					return nil
				}
				continue
			}
			if !ws.sendReply(model.CodeConfigureAck, frame.ID, ws.policy.CreateServerAck(options)) {
				return nil
			}
			serverReady = true
		} else {
			if clientReady {
				// a late reply after we were already acked requires a
				// fresh request
				clientReady = false
				if id, ok = ws.sendRequest(); !ok {
					return nil
				}
				continue
			}
			if frame.ID != id {
				// stale reply for a superseded request
				continue
			}
			switch frame.Code {
			case model.CodeConfigureAck:
				clientReady = true
			case model.CodeConfigureNak:
				if outcome := ws.policy.AcceptClientNak(options); outcome != nil {
					return outcome
				}
				if id, ok = ws.sendRequest(); !ok {
					return nil
				}
			case model.CodeConfigureReject:
				if outcome := ws.policy.AcceptClientReject(options); outcome != nil {
					return outcome
				}
				if id, ok = ws.sendRequest(); !ok {
					return nil
				}
			default:
				ws.logger.Warnf("%s: unexpected code %d", serviceName, frame.Code)
				continue
			}
		}

		if clientReady && serverReady {
			ws.logger.Infof("%s: %s open", serviceName, ws.policy.Proto())
			return model.NewControlMessage(where, model.Proceeded, nil)
		}
	}
}

// sendRequest emits a fresh Configure-Request under a newly allocated id and
// returns that id. The second return is false when shutdown interrupted the
// send.
func (ws *workersState) sendRequest() (byte, bool) {
	id := ws.sessionManager.NextFrameID()
	return id, ws.sendReply(model.CodeConfigureRequest, id, ws.policy.CreateClientRequest())
}

// sendReply emits a configure frame wrapped in an SSTP DATA packet.
func (ws *workersState) sendReply(code model.Code, id byte, options []model.Option) bool {
	frame, err := wire.MarshalConfigureFrame(ws.policy.Proto(), code, id, options)
	if err != nil {
		ws.logger.Warnf("%s: marshal: %s", serviceName, err.Error())
		return false
	}
	pkt := wire.MarshalSSTPDataFrame(frame)
	select {
	case ws.muxerToNetwork <- pkt:
		return true
	case <-ws.workersManager.ShouldShutdown():
		return false
	}
}
