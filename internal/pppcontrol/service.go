// Package pppcontrol handles the LCP codes outside the configure exchange:
// echo, discard, terminate, and the two reject notifications. It also turns
// frames of unclaimed PPP protocols into Protocol-Rejects.
package pppcontrol

import (
	"fmt"

	"github.com/minisstp/minisstp/internal/bytesx"
	"github.com/minisstp/minisstp/internal/model"
	"github.com/minisstp/minisstp/internal/session"
	"github.com/minisstp/minisstp/internal/wire"
	"github.com/minisstp/minisstp/internal/workers"
	"github.com/minisstp/minisstp/pkg/config"
)

var serviceName = "pppcontrol"

// Service is the PPP control service. Make sure you initialize the channels
// before invoking [Service.StartWorkers].
type Service struct {
	// Mailbox receives non-configure LCP frames and unclaimed-protocol
	// frames from the demuxer.
	Mailbox chan *model.Frame

	// MuxerToNetwork moves serialized packets down to the networkio layer.
	MuxerToNetwork *chan []byte

	// ControlMessages is the engine's control mailbox.
	ControlMessages *chan *model.ControlMessage
}

// StartWorkers starts the PPP control worker.
func (svc *Service) StartWorkers(
	config *config.Config,
	workersManager *workers.Manager,
	sessionManager *session.Manager,
) {
	ws := &workersState{
		logger:          config.Logger(),
		mailbox:         svc.Mailbox,
		muxerToNetwork:  *svc.MuxerToNetwork,
		controlMessages: *svc.ControlMessages,
		sessionManager:  sessionManager,
		workersManager:  workersManager,
	}
	workersManager.StartWorker(ws.controlWorker)
}

type workersState struct {
	logger          model.Logger
	mailbox         <-chan *model.Frame
	muxerToNetwork  chan<- []byte
	controlMessages chan<- *model.ControlMessage
	sessionManager  *session.Manager
	workersManager  *workers.Manager
}

func (ws *workersState) controlWorker() {
	workerName := fmt.Sprintf("%s: controlWorker", serviceName)

	defer ws.workersManager.OnWorkerDone(workerName)

	ws.logger.Debugf("%s: started", workerName)

	for {
		select {
		case frame := <-ws.mailbox:
			if outcome := ws.handleFrame(frame); outcome != nil {
				select {
				case ws.controlMessages <- outcome:
				case <-ws.workersManager.ShouldShutdown():
				}
				return
			}

		case <-ws.workersManager.ShouldShutdown():
			return
		}
	}
}

// handleFrame processes one frame; a non-nil return is terminal.
func (ws *workersState) handleFrame(frame *model.Frame) *model.ControlMessage {
	if frame.Proto != model.ProtoLCP {
		// an unclaimed protocol surfaced by the demuxer
		ws.sendProtocolReject(frame)
		return nil
	}

	switch frame.Code {
	case model.CodeEchoRequest:
		ws.sendFrame(&model.Frame{
			Proto: model.ProtoLCP,
			Code:  model.CodeEchoReply,
			ID:    frame.ID,
			Body:  frame.Body,
		})
		return nil

	case model.CodeEchoReply, model.CodeDiscardRequest:
		return nil

	case model.CodeTerminateRequest:
		ws.sendFrame(&model.Frame{
			Proto: model.ProtoLCP,
			Code:  model.CodeTerminateAck,
			ID:    frame.ID,
		})
		return model.NewControlMessage(model.WherePPPControl, model.ErrTerminateRequested, nil)

	case model.CodeProtocolReject:
		return model.NewControlMessage(model.WherePPPControl, model.ErrProtocolRejected, nil)

	case model.CodeCodeReject:
		return model.NewControlMessage(model.WherePPPControl, model.ErrCodeRejected, nil)

	default:
		ws.logger.Warnf("%s: unhandled LCP code %d", serviceName, frame.Code)
		return nil
	}
}

// sendProtocolReject reports an unclaimed protocol to the peer: the rejected
// protocol number followed by the rejected information field.
func (ws *workersState) sendProtocolReject(frame *model.Frame) {
	body := make([]byte, 2+len(frame.Body))
	bytesx.PutUint16(body[0:2], uint16(frame.Proto))
	copy(body[2:], frame.Body)
	ws.sendFrame(&model.Frame{
		Proto: model.ProtoLCP,
		Code:  model.CodeProtocolReject,
		ID:    ws.sessionManager.NextFrameID(),
		Body:  body,
	})
}

func (ws *workersState) sendFrame(frame *model.Frame) {
	raw, err := wire.MarshalPPPFrame(frame)
	if err != nil {
		ws.logger.Warnf("%s: marshal: %s", serviceName, err.Error())
		return
	}
	pkt := wire.MarshalSSTPDataFrame(raw)
	select {
	case ws.muxerToNetwork <- pkt:
	case <-ws.workersManager.ShouldShutdown():
	}
}
