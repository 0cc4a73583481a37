// Package packetmuxer implements the two packet pumps: the incoming
// demultiplexer that classifies SSTP packets and routes PPP control frames
// to per-protocol mailboxes, and the outgoing multiplexer that wraps tun
// frames into SSTP DATA packets.
package packetmuxer

import (
	"fmt"
	"io"
	"sync"

	"github.com/minisstp/minisstp/internal/bytespool"
	"github.com/minisstp/minisstp/internal/bytesx"
	"github.com/minisstp/minisstp/internal/echotimer"
	"github.com/minisstp/minisstp/internal/model"
	"github.com/minisstp/minisstp/internal/wire"
	"github.com/minisstp/minisstp/internal/workers"
	"github.com/minisstp/minisstp/pkg/config"
)

var serviceName = "packetmuxer"

// Service is the packet-muxer service. Make sure you initialize the channels
// before invoking [Service.StartWorkers].
type Service struct {
	// NetworkToMuxer moves packets up to us from the networkio layer. A nil
	// element is a liveness tick emitted on a read timeout.
	NetworkToMuxer chan []byte

	// MuxerToNetwork moves serialized packets down to the networkio layer.
	MuxerToNetwork *chan []byte

	// ControlMessages is the engine's control mailbox.
	ControlMessages *chan *model.ControlMessage
}

// StartWorkers starts the incoming demultiplexer worker. The outgoing
// multiplexer starts later, once the tun device exists, via
// [Service.StartTunWorkers].
func (svc *Service) StartWorkers(
	config *config.Config,
	workersManager *workers.Manager,
	mailboxes *Mailboxes,
	sstpTimer *echotimer.Timer,
	pppTimer *echotimer.Timer,
) *State {
	ws := &State{
		logger:          config.Logger(),
		profile:         config.Profile(),
		mailboxes:       mailboxes,
		muxerToNetwork:  *svc.MuxerToNetwork,
		networkToMuxer:  svc.NetworkToMuxer,
		controlMessages: *svc.ControlMessages,
		sstpTimer:       sstpTimer,
		pppTimer:        pppTimer,
		workersManager:  workersManager,
	}
	workersManager.StartWorker(ws.moveUpWorker)
	return ws
}

// State contains the packet-muxer workers state. It is exported because the
// engine holds it to attach the tun stream once negotiated.
type State struct {
	logger          model.Logger
	profile         *config.Profile
	mailboxes       *Mailboxes
	muxerToNetwork  chan<- []byte
	networkToMuxer  <-chan []byte
	controlMessages chan<- *model.ControlMessage
	sstpTimer       *echotimer.Timer
	pppTimer        *echotimer.Timer
	workersManager  *workers.Manager

	// tunMu guards tun, which the engine sets after tun setup.
	tunMu sync.Mutex
	tun   io.ReadWriteCloser
}

// SetTun attaches the established tun stream; from here on incoming IP
// payloads are written to it.
func (ws *State) SetTun(tun io.ReadWriteCloser) {
	defer ws.tunMu.Unlock()
	ws.tunMu.Lock()
	ws.tun = tun
}

func (ws *State) tunStream() io.ReadWriteCloser {
	defer ws.tunMu.Unlock()
	ws.tunMu.Lock()
	return ws.tun
}

// moveUpWorker demultiplexes packets coming up from the transport.
func (ws *State) moveUpWorker() {
	workerName := fmt.Sprintf("%s: moveUpWorker", serviceName)

	defer func() {
		ws.workersManager.OnWorkerDone(workerName)
		ws.workersManager.StartShutdown()
	}()

	ws.logger.Debugf("%s: started", workerName)

	for {
		// POSSIBLY BLOCK awaiting the next packet or liveness tick
		select {
		case rawPacket := <-ws.networkToMuxer:
			if rawPacket != nil {
				if err := ws.handleRawPacket(rawPacket); err != nil {
					// error already reported
					return
				}
			}

		case <-ws.workersManager.ShouldShutdown():
			return
		}

		// every iteration checks both layers for liveness
		if !ws.sstpTimer.CheckAlive() {
			ws.report(model.NewControlMessage(model.WhereSSTPControl, model.ErrTimeout, nil))
			return
		}
		if !ws.pppTimer.CheckAlive() {
			ws.report(model.NewControlMessage(model.WherePPPControl, model.ErrTimeout, nil))
			return
		}
	}
}

// handleRawPacket classifies and routes one complete SSTP packet. A non-nil
// return means the error was terminal and already reported.
func (ws *State) handleRawPacket(rawPacket []byte) error {
	defer bytespool.Default.Put(rawPacket)

	// any packet at all proves SSTP liveness
	ws.sstpTimer.Tick()

	switch {
	case wire.IsSSTPData(rawPacket):
		return ws.handleDataPacket(rawPacket)

	case wire.IsSSTPControl(rawPacket):
		return ws.handleControlPacket(rawPacket)

	default:
		err := fmt.Errorf("unknown sstp packet type %#04x", bytesx.Uint16(rawPacket[0:2]))
		ws.report(model.NewControlMessage(model.WhereIncoming, model.ErrUnknownType, err))
		return err
	}
}

func (ws *State) handleDataPacket(rawPacket []byte) error {
	if len(rawPacket) < 8 || bytesx.Uint16(rawPacket[4:6]) != model.HDLCHeader {
		err := fmt.Errorf("%w: sstp data packet without HDLC header", wire.ErrParse)
		ws.report(model.NewControlMessage(model.WhereIncoming, model.ErrParsingFailed, err))
		return err
	}

	// only data packets bearing the HDLC header prove PPP liveness
	ws.pppTimer.Tick()

	proto := model.PPPProto(bytesx.Uint16(rawPacket[6:8]))
	switch proto {
	case model.ProtoIPv4, model.ProtoIPv6:
		ws.deliverIP(proto, rawPacket[8:])
		return nil

	case model.ProtoLCP, model.ProtoPAP, model.ProtoCHAP, model.ProtoEAP, model.ProtoIPCP, model.ProtoIPv6CP:
		frame, err := wire.ParsePPPFrame(rawPacket[4:])
		if err != nil {
			ws.report(model.NewControlMessage(model.WhereIncoming, model.ErrParsingFailed, err))
			return err
		}
		// the backing buffer goes back to the pool; detach the body
		frame.Body = append([]byte(nil), frame.Body...)
		ws.deliverFrame(frame)
		return nil

	default:
		// an unclaimed protocol is fatal; with PPP control running it
		// becomes a Protocol-Reject instead
		if ch := ws.mailboxes.LookupPPPControl(); ch != nil {
			frame := &model.Frame{
				Proto: proto,
				Body:  append([]byte(nil), rawPacket[8:]...),
			}
			select {
			case ch <- frame:
			default:
				ws.logger.Debugf("packetmuxer: ppp control mailbox full, dropping %s", proto)
			}
			return nil
		}
		err := fmt.Errorf("unknown ppp protocol %s", proto)
		ws.report(model.NewControlMessage(model.WhereIncoming, model.ErrUnknownType, err))
		return err
	}
}

// deliverIP writes an L3 payload to the tun stream, dropping it silently
// when the address family is disabled or the device is not attached yet.
func (ws *State) deliverIP(proto model.PPPProto, payload []byte) {
	if proto == model.ProtoIPv4 && !ws.profile.PPPIPv4Enabled {
		return
	}
	if proto == model.ProtoIPv6 && !ws.profile.PPPIPv6Enabled {
		return
	}
	tun := ws.tunStream()
	if tun == nil {
		return
	}
	if _, err := tun.Write(payload); err != nil {
		ws.logger.Warnf("packetmuxer: tun write: %s", err.Error())
	}
}

// deliverFrame routes a parsed PPP control frame to its mailbox. LCP frames
// split between the negotiator (configure codes) and PPP control (the rest).
func (ws *State) deliverFrame(frame *model.Frame) {
	var ch chan *model.Frame
	if frame.Proto == model.ProtoLCP && !frame.Code.IsConfigure() {
		ch = ws.mailboxes.LookupPPPControl()
	} else {
		ch = ws.mailboxes.LookupPPP(frame.Proto)
	}
	if ch == nil {
		ws.logger.Debugf("packetmuxer: no receiver for %s, dropping", frame)
		return
	}
	select {
	case ch <- frame:
	case <-ws.workersManager.ShouldShutdown():
	}
}

func (ws *State) handleControlPacket(rawPacket []byte) error {
	msg, err := wire.ParseSSTPControl(rawPacket)
	if err != nil {
		ws.report(model.NewControlMessage(model.WhereIncoming, model.ErrParsingFailed, err))
		return err
	}
	ch := ws.mailboxes.LookupSSTP()
	if ch == nil {
		ws.logger.Debugf("packetmuxer: no receiver for %s, dropping", msg)
		return nil
	}
	select {
	case ch <- msg:
	case <-ws.workersManager.ShouldShutdown():
	}
	return nil
}

// report delivers a control message to the engine without blocking shutdown.
func (ws *State) report(msg *model.ControlMessage) {
	select {
	case ws.controlMessages <- msg:
	case <-ws.workersManager.ShouldShutdown():
	}
}
