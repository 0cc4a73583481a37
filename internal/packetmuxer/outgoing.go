package packetmuxer

import (
	"fmt"
	"io"

	"github.com/minisstp/minisstp/internal/model"
	"github.com/minisstp/minisstp/internal/wire"
)

// sstpDataOverhead is the framing added to an L3 payload: SSTP header,
// HDLC header and PPP protocol.
const sstpDataOverhead = 8

// StartTunWorkers starts the outgoing multiplexer once the tun stream
// exists: a tun-reader that fills two alternating MTU-sized buffers and a
// wrapper that frames them into SSTP DATA packets, coalescing back-to-back
// datagrams into a single TLS write.
func (ws *State) StartTunWorkers(tun io.ReadWriteCloser) {
	ws.SetTun(tun)

	// the handoff channel deliberately has no capacity: one buffer is
	// refilling while the other is in flight
	handoff := make(chan []byte)

	ws.workersManager.StartWorker(func() { ws.tunReadWorker(tun, handoff) })
	ws.workersManager.StartWorker(func() { ws.moveDownWorker(handoff) })
}

// tunReadWorker reads L3 datagrams from the tun stream.
func (ws *State) tunReadWorker(tun io.ReadWriteCloser, handoff chan<- []byte) {
	workerName := fmt.Sprintf("%s: tunReadWorker", serviceName)

	defer func() {
		ws.workersManager.OnWorkerDone(workerName)
		ws.workersManager.StartShutdown()
	}()

	ws.logger.Debugf("%s: started", workerName)

	mtu := ws.profile.PPPMtu
	var bufs [2][]byte
	bufs[0] = make([]byte, mtu)
	bufs[1] = make([]byte, mtu)
	idx := 0

	for {
		select {
		case <-ws.workersManager.ShouldShutdown():
			return
		default:
		}

		// POSSIBLY BLOCK reading from the tun device
		n, err := tun.Read(bufs[idx])
		if err != nil {
			ws.logger.Infof("%s: tun read: %s", workerName, err.Error())
			return
		}
		if n == 0 {
			continue
		}

		// POSSIBLY BLOCK on the synchronous handoff
		select {
		case handoff <- bufs[idx][:n]:
			idx ^= 1
		case <-ws.workersManager.ShouldShutdown():
			return
		}
	}
}

// moveDownWorker wraps datagrams into SSTP DATA packets and pushes them to
// the networkio layer.
func (ws *State) moveDownWorker(handoff <-chan []byte) {
	workerName := fmt.Sprintf("%s: moveDownWorker", serviceName)

	defer func() {
		ws.workersManager.OnWorkerDone(workerName)
		ws.workersManager.StartShutdown()
	}()

	ws.logger.Debugf("%s: started", workerName)

	mtu := ws.profile.PPPMtu
	// room for a handful of coalesced frames
	txCap := 4 * (mtu + sstpDataOverhead)

	for {
		select {
		case datagram := <-handoff:
			tx := make([]byte, 0, txCap)
			tx = ws.appendDatagram(tx, datagram)

			// coalesce whatever is already waiting while a full frame
			// still fits
		coalesce:
			for cap(tx)-len(tx) > mtu+sstpDataOverhead {
				select {
				case next := <-handoff:
					tx = ws.appendDatagram(tx, next)
				default:
					break coalesce
				}
			}

			if len(tx) == 0 {
				continue
			}

			// POSSIBLY BLOCK writing to the networkio layer
			select {
			case ws.muxerToNetwork <- tx:
			case <-ws.workersManager.ShouldShutdown():
				return
			}

		case <-ws.workersManager.ShouldShutdown():
			return
		}
	}
}

// appendDatagram frames one L3 datagram, dropping those the profile does not
// route and reporting those we cannot classify.
func (ws *State) appendDatagram(tx []byte, datagram []byte) []byte {
	if len(datagram) == 0 {
		return tx
	}
	var proto model.PPPProto
	switch datagram[0] >> 4 {
	case 4:
		proto = model.ProtoIPv4
	case 6:
		proto = model.ProtoIPv6
	default:
		ws.report(model.NewControlMessage(model.WhereOutgoing, model.ErrUnknownType,
			fmt.Errorf("unknown IP version nibble %d", datagram[0]>>4)))
		return tx
	}
	if proto == model.ProtoIPv4 && !ws.profile.PPPIPv4Enabled {
		return tx
	}
	if proto == model.ProtoIPv6 && !ws.profile.PPPIPv6Enabled {
		return tx
	}
	return wire.AppendSSTPData(tx, proto, datagram)
}
