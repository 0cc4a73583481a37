package auth

import (
	"fmt"
	"time"

	"github.com/minisstp/minisstp/internal/model"
	"github.com/minisstp/minisstp/internal/session"
	"github.com/minisstp/minisstp/internal/wire"
	"github.com/minisstp/minisstp/internal/workers"
	"github.com/minisstp/minisstp/pkg/config"
)

var serviceName = "auth"

// Service is an authenticator service. Make sure you initialize the channels
// before invoking [Service.StartWorkers].
type Service struct {
	// Mailbox receives this protocol's frames from the demuxer.
	Mailbox chan *model.Frame

	// MuxerToNetwork moves serialized packets down to the networkio layer.
	MuxerToNetwork *chan []byte

	// ControlMessages is the engine's control mailbox.
	ControlMessages *chan *model.ControlMessage
}

// StartWorkers starts the authenticator worker matching the protocol
// negotiated by LCP.
func (svc *Service) StartWorkers(
	config *config.Config,
	workersManager *workers.Manager,
	sessionManager *session.Manager,
	proto model.AuthProto,
) {
	ws := &workersState{
		logger:          config.Logger(),
		profile:         config.Profile(),
		mailbox:         svc.Mailbox,
		muxerToNetwork:  *svc.MuxerToNetwork,
		controlMessages: *svc.ControlMessages,
		sessionManager:  sessionManager,
		workersManager:  workersManager,
	}
	switch proto {
	case model.AuthPAP:
		workersManager.StartWorker(ws.papWorker)
	case model.AuthMSCHAPv2:
		workersManager.StartWorker(ws.chapWorker)
	case model.AuthEAPMSCHAPv2:
		workersManager.StartWorker(ws.eapWorker)
	default:
		workersManager.StartWorker(func() {
			defer ws.workersManager.OnWorkerDone(serviceName)
			ws.reportOutcome(model.NewControlMessage(model.WhereEngine, model.ErrUnexpectedMessage,
				fmt.Errorf("no authentication protocol negotiated")))
		})
	}
}

type workersState struct {
	logger          model.Logger
	profile         *config.Profile
	mailbox         <-chan *model.Frame
	muxerToNetwork  chan<- []byte
	controlMessages chan<- *model.ControlMessage
	sessionManager  *session.Manager
	workersManager  *workers.Manager
}

// authDeadline returns the timer firing when the authentication budget is
// spent; the caller owns the timer.
func (ws *workersState) authDeadline() *time.Timer {
	return time.NewTimer(time.Duration(ws.profile.PPPAuthTimeout) * time.Second)
}

// receiveFrame awaits the next frame within the deadline. The outcome is
// non-nil on timeout; shutdown yields a nil frame and nil outcome.
func (ws *workersState) receiveFrame(deadline *time.Timer, where model.Where) (*model.Frame, *model.ControlMessage) {
	select {
	case frame := <-ws.mailbox:
		return frame, nil
	case <-deadline.C:
		return nil, model.NewControlMessage(where, model.ErrTimeout, nil)
	case <-ws.workersManager.ShouldShutdown():
		return nil, nil
	}
}

func (ws *workersState) sendFrame(frame *model.Frame) bool {
	raw, err := wire.MarshalPPPFrame(frame)
	if err != nil {
		ws.logger.Warnf("%s: marshal: %s", serviceName, err.Error())
		return false
	}
	pkt := wire.MarshalSSTPDataFrame(raw)
	select {
	case ws.muxerToNetwork <- pkt:
		return true
	case <-ws.workersManager.ShouldShutdown():
		return false
	}
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

// papWorker sends one Authenticate-Request and waits for the verdict.
func (ws *workersState) papWorker() {
	workerName := fmt.Sprintf("%s: papWorker", serviceName)
	defer ws.workersManager.OnWorkerDone(workerName)

	ws.logger.Debugf("%s: started", workerName)
	ws.reportOutcome(ws.runPAP())
}

func (ws *workersState) runPAP() *model.ControlMessage {
	body, err := wire.MarshalPAPRequest(ws.profile.Username, ws.profile.Password)
	if err != nil {
		return model.NewControlMessage(model.WherePAP, model.ErrParsingFailed, err)
	}
	if !ws.sendFrame(&model.Frame{
		Proto: model.ProtoPAP,
		Code:  model.CodeAuthenticateRequest,
		ID:    ws.sessionManager.NextFrameID(),
		Body:  body,
	}) {
		return nil
	}

	deadline := ws.authDeadline()
	defer deadline.Stop()

	for {
		frame, outcome := ws.receiveFrame(deadline, model.WherePAP)
		if frame == nil {
			return outcome
		}
		switch frame.Code {
		case model.CodeAuthenticateAck:
			// PAP produces no key material; the binding key is all zeros
			ws.sessionManager.SetHLAK([32]byte{})
			ws.logger.Info("auth: PAP accepted")
			return model.NewControlMessage(model.WherePAP, model.Proceeded, nil)
		case model.CodeAuthenticateNak:
			message, _ := wire.ParsePAPReply(frame.Body)
			ws.logger.Warnf("auth: PAP rejected: %s", message)
			return model.NewControlMessage(model.WherePAP, model.ErrAuthenticationFailed, nil)
		default:
			ws.logger.Warnf("auth: unexpected PAP code %d", frame.Code)
		}
	}
}

// chapWorker runs MS-CHAPv2 inside PPP CHAP.
func (ws *workersState) chapWorker() {
	workerName := fmt.Sprintf("%s: chapWorker", serviceName)
	defer ws.workersManager.OnWorkerDone(workerName)

	ws.logger.Debugf("%s: started", workerName)
	ws.reportOutcome(ws.runCHAP())
}

func (ws *workersState) runCHAP() *model.ControlMessage {
	deadline := ws.authDeadline()
	defer deadline.Stop()

	// phase 1: the server's challenge
	var authChallenge [16]byte
	var challengeID byte
	for {
		frame, outcome := ws.receiveFrame(deadline, model.WhereCHAP)
		if frame == nil {
			return outcome
		}
		if frame.Code != model.CodeChapChallenge {
			ws.logger.Warnf("auth: unexpected CHAP code %d", frame.Code)
			continue
		}
		challenge, err := wire.ParseChapChallenge(frame.Body)
		if err != nil {
			return model.NewControlMessage(model.WhereCHAP, model.ErrParsingFailed, err)
		}
		if len(challenge.Value) != 16 {
			return model.NewControlMessage(model.WhereCHAP, model.ErrUnexpectedMessage,
				fmt.Errorf("chap challenge value size %d", len(challenge.Value)))
		}
		copy(authChallenge[:], challenge.Value)
		challengeID = frame.ID
		break
	}

	// phase 2: our response
	peerChallenge, err := session.NewPeerChallenge()
	if err != nil {
		return model.NewControlMessage(model.WhereCHAP, model.ErrParsingFailed, err)
	}
	ntResponse := GenerateNTResponse(authChallenge, peerChallenge, ws.profile.Username, ws.profile.Password)
	if !ws.sendFrame(&model.Frame{
		Proto: model.ProtoCHAP,
		Code:  model.CodeChapResponse,
		ID:    challengeID,
		Body:  wire.MarshalChapResponse(peerChallenge, ntResponse, ws.profile.Username),
	}) {
		return nil
	}

	// phase 3: the verdict
	for {
		frame, outcome := ws.receiveFrame(deadline, model.WhereCHAP)
		if frame == nil {
			return outcome
		}
		switch frame.Code {
		case model.CodeChapSuccess:
			if !VerifyAuthenticatorResponse(ws.profile.Password, ntResponse, peerChallenge,
				authChallenge, ws.profile.Username, string(frame.Body)) {
				ws.logger.Warn("auth: authenticator response verification failed")
				return model.NewControlMessage(model.WhereCHAP, model.ErrAuthenticationFailed, nil)
			}
			ws.sessionManager.SetHLAK(HLAK(ws.profile.Password, ntResponse))
			ws.logger.Info("auth: MS-CHAPv2 accepted")
			return model.NewControlMessage(model.WhereCHAP, model.Proceeded, nil)
		case model.CodeChapFailure:
			ws.logger.Warnf("auth: MS-CHAPv2 rejected: %s", string(frame.Body))
			return model.NewControlMessage(model.WhereCHAP, model.ErrAuthenticationFailed, nil)
		default:
			ws.logger.Warnf("auth: unexpected CHAP code %d", frame.Code)
		}
	}
}

// eapWorker runs MS-CHAPv2 wrapped in EAP.
func (ws *workersState) eapWorker() {
	workerName := fmt.Sprintf("%s: eapWorker", serviceName)
	defer ws.workersManager.OnWorkerDone(workerName)

	ws.logger.Debugf("%s: started", workerName)
	ws.reportOutcome(ws.runEAP())
}

func (ws *workersState) runEAP() *model.ControlMessage {
	deadline := ws.authDeadline()
	defer deadline.Stop()

	var (
		authChallenge [16]byte
		peerChallenge [16]byte
		ntResponse    [24]byte
		responded     bool
	)

	for {
		frame, outcome := ws.receiveFrame(deadline, model.WhereEAP)
		if frame == nil {
			return outcome
		}
		switch frame.Code {
		case model.CodeEAPSuccess:
			if !responded {
				return model.NewControlMessage(model.WhereEAP, model.ErrUnexpectedMessage,
					fmt.Errorf("EAP success before the challenge exchange"))
			}
			ws.sessionManager.SetHLAK(HLAK(ws.profile.Password, ntResponse))
			ws.logger.Info("auth: EAP-MSCHAPv2 accepted")
			return model.NewControlMessage(model.WhereEAP, model.Proceeded, nil)

		case model.CodeEAPFailure:
			return model.NewControlMessage(model.WhereEAP, model.ErrAuthenticationFailed, nil)

		case model.CodeEAPRequest:
			payload := wire.ParseEAPPayload(frame.Body)
			switch payload.Type {
			case wire.EAPTypeIdentity:
				if !ws.sendFrame(&model.Frame{
					Proto: model.ProtoEAP,
					Code:  model.CodeEAPResponse,
					ID:    frame.ID,
					Body:  wire.MarshalEAPIdentity(ws.profile.Username),
				}) {
					return nil
				}

			case wire.EAPTypeMSAuth:
				step, err := wire.ParseEAPMSChapV2(payload.Data)
				if err != nil {
					return model.NewControlMessage(model.WhereEAP, model.ErrParsingFailed, err)
				}
				switch step.OpCode {
				case wire.MSChapV2OpChallenge:
					challenge, err := wire.ParseChapChallenge(step.Data)
					if err != nil {
						return model.NewControlMessage(model.WhereEAP, model.ErrParsingFailed, err)
					}
					if len(challenge.Value) != 16 {
						return model.NewControlMessage(model.WhereEAP, model.ErrUnexpectedMessage,
							fmt.Errorf("chap challenge value size %d", len(challenge.Value)))
					}
					copy(authChallenge[:], challenge.Value)
					fresh, err := session.NewPeerChallenge()
					if err != nil {
						return model.NewControlMessage(model.WhereEAP, model.ErrParsingFailed, err)
					}
					peerChallenge = fresh
					ntResponse = GenerateNTResponse(authChallenge, peerChallenge,
						ws.profile.Username, ws.profile.Password)
					responded = true
					if !ws.sendFrame(&model.Frame{
						Proto: model.ProtoEAP,
						Code:  model.CodeEAPResponse,
						ID:    frame.ID,
						Body: wire.MarshalEAPMSChapV2Response(step.ID, peerChallenge,
							ntResponse, ws.profile.Username),
					}) {
						return nil
					}

				case wire.MSChapV2OpSuccess:
					if !responded || !VerifyAuthenticatorResponse(ws.profile.Password, ntResponse,
						peerChallenge, authChallenge, ws.profile.Username, string(step.Data)) {
						ws.logger.Warn("auth: authenticator response verification failed")
						return model.NewControlMessage(model.WhereEAP, model.ErrAuthenticationFailed, nil)
					}
					if !ws.sendFrame(&model.Frame{
						Proto: model.ProtoEAP,
						Code:  model.CodeEAPResponse,
						ID:    frame.ID,
						Body:  wire.MarshalEAPMSChapV2SuccessResponse(),
					}) {
						return nil
					}

				case wire.MSChapV2OpFailure, wire.MSChapV2OpChangePassword:
					// password changes are not supported; the exchange ends here
					return model.NewControlMessage(model.WhereEAP, model.ErrAuthenticationFailed, nil)

				default:
					return model.NewControlMessage(model.WhereEAP, model.ErrUnexpectedMessage,
						fmt.Errorf("eap-mschapv2 opcode %d", step.OpCode))
				}

			default:
				// refuse any other EAP method
				if !ws.sendFrame(&model.Frame{
					Proto: model.ProtoEAP,
					Code:  model.CodeEAPResponse,
					ID:    frame.ID,
					Body:  []byte{wire.EAPTypeNak, wire.EAPTypeMSAuth},
				}) {
					return nil
				}
			}

		default:
			ws.logger.Warnf("auth: unexpected EAP code %d", frame.Code)
		}
	}
}
