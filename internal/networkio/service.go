package networkio

import (
	"errors"
	"fmt"

	"github.com/minisstp/minisstp/internal/model"
	"github.com/minisstp/minisstp/internal/workers"
	"github.com/minisstp/minisstp/pkg/config"
)

var serviceName = "networkio"

// Service is the network I/O service. Make sure you initialize the channels
// before invoking [Service.StartWorkers].
type Service struct {
	// MuxerToNetwork moves serialized packets down from the muxer to us.
	MuxerToNetwork chan []byte

	// NetworkToMuxer moves received packets up from us to the muxer.
	NetworkToMuxer *chan []byte

	// ControlMessages is the engine's control mailbox, used to report the
	// terminal transport errors.
	ControlMessages *chan *model.ControlMessage
}

// StartWorkers starts the network I/O workers on the given transport.
func (svc *Service) StartWorkers(
	config *config.Config,
	manager *workers.Manager,
	transport *Transport,
) {
	ws := &workersState{
		logger:          config.Logger(),
		manager:         manager,
		muxerToNetwork:  svc.MuxerToNetwork,
		networkToMuxer:  *svc.NetworkToMuxer,
		controlMessages: *svc.ControlMessages,
		transport:       transport,
	}
	manager.StartWorker(ws.moveUpWorker)
	manager.StartWorker(ws.moveDownWorker)
}

// workersState contains the service workers state.
type workersState struct {
	logger          model.Logger
	manager         *workers.Manager
	muxerToNetwork  <-chan []byte
	networkToMuxer  chan<- []byte
	controlMessages chan<- *model.ControlMessage
	transport       *Transport
}

// moveUpWorker reads framed packets from the transport and hands them to the
// demultiplexer.
func (ws *workersState) moveUpWorker() {
	workerName := fmt.Sprintf("%s: moveUpWorker", serviceName)

	defer func() {
		ws.manager.OnWorkerDone(workerName)
		ws.manager.StartShutdown()
	}()

	ws.logger.Debugf("%s: started", workerName)

	for {
		select {
		case <-ws.manager.ShouldShutdown():
			return
		default:
		}

		// POSSIBLY BLOCK on the transport to read a packet
		pkt, err := ws.transport.ReadPacket()
		if err != nil {
			// post-upgrade read timeouts merely give the demux loop a
			// chance to run its liveness checks
			if IsTemporary(err) {
				select {
				case ws.networkToMuxer <- nil:
				case <-ws.manager.ShouldShutdown():
					return
				}
				continue
			}
			if errors.Is(err, ErrPacketSize) {
				ws.report(model.NewControlMessage(model.WhereIncoming, model.ErrInvalidPacketSize, err))
				return
			}
			ws.logger.Infof("%s: ReadPacket: %s", workerName, err.Error())
			ws.report(model.NewControlMessage(model.WhereIncoming, model.ErrTimeout, err))
			return
		}

		// POSSIBLY BLOCK on the channel to deliver the packet
		select {
		case ws.networkToMuxer <- pkt:
		case <-ws.manager.ShouldShutdown():
			return
		}
	}
}

// moveDownWorker writes packets coming down from the muxer to the transport.
func (ws *workersState) moveDownWorker() {
	workerName := fmt.Sprintf("%s: moveDownWorker", serviceName)

	defer func() {
		ws.manager.OnWorkerDone(workerName)
		ws.manager.StartShutdown()
	}()

	ws.logger.Debugf("%s: started", workerName)

	for {
		select {
		case pkt := <-ws.muxerToNetwork:
			// POSSIBLY BLOCK on the transport write
			if err := ws.transport.Send(pkt); err != nil {
				ws.logger.Infof("%s: Send: %s", workerName, err.Error())
				return
			}

		case <-ws.manager.ShouldShutdown():
			return
		}
	}
}

// report delivers a control message to the engine without blocking shutdown.
func (ws *workersState) report(msg *model.ControlMessage) {
	select {
	case ws.controlMessages <- msg:
	case <-ws.manager.ShouldShutdown():
	}
}
