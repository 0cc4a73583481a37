// Package tunnel contains the engine: it owns the component lifecycle,
// sequences the call-setup phases, routes the terminal outcome to the host,
// and guarantees teardown of the transport and the tun device on every exit
// path.
package tunnel

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minisstp/minisstp/internal/auth"
	"github.com/minisstp/minisstp/internal/bytesx"
	"github.com/minisstp/minisstp/internal/echotimer"
	"github.com/minisstp/minisstp/internal/model"
	"github.com/minisstp/minisstp/internal/negotiator"
	"github.com/minisstp/minisstp/internal/networkio"
	"github.com/minisstp/minisstp/internal/packetmuxer"
	"github.com/minisstp/minisstp/internal/pppcontrol"
	"github.com/minisstp/minisstp/internal/session"
	"github.com/minisstp/minisstp/internal/sstpcontrol"
	"github.com/minisstp/minisstp/internal/wire"
	"github.com/minisstp/minisstp/internal/workers"
	"github.com/minisstp/minisstp/pkg/config"
)

// Phase budgets enforced by the engine on top of the per-task timers.
var (
	sstpRequestBudget = 3*60*time.Second + 5*time.Second
	negotiationBudget = 35 * time.Second
)

// connectFn allows monkeypatching the transport setup in tests.
var connectFn = networkio.Connect

// Engine drives one tunnel attempt. The zero value is invalid; construct
// with [NewEngine]. An engine runs once; the host decides about restarts.
type Engine struct {
	config     *config.Config
	logger     model.Logger
	device     model.TunDevice
	trustStore model.TrustStore
	reporter   model.Reporter

	sessionManager  *session.Manager
	workersManager  *workers.Manager
	mailboxes       *packetmuxer.Mailboxes
	controlMessages chan *model.ControlMessage
	muxerToNetwork  chan []byte
	networkToMuxer  chan []byte

	transport *networkio.Transport
	muxer     *packetmuxer.State
	tun       io.ReadWriteCloser
}

// NewEngine creates an engine for one tunnel attempt.
func NewEngine(cfg *config.Config, device model.TunDevice, trustStore model.TrustStore, reporter model.Reporter) (*Engine, error) {
	sessionManager, err := session.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{
		config:          cfg,
		logger:          cfg.Logger(),
		device:          device,
		trustStore:      trustStore,
		reporter:        reporter,
		sessionManager:  sessionManager,
		workersManager:  workers.NewManager(cfg.Logger()),
		mailboxes:       packetmuxer.NewMailboxes(),
		controlMessages: make(chan *model.ControlMessage, 16),
		muxerToNetwork:  make(chan []byte, 64),
		networkToMuxer:  make(chan []byte, 64),
	}, nil
}

// Run performs the tunnel attempt and blocks until it terminates. The
// returned message is the terminal outcome; cancelling the context tears the
// tunnel down and yields a PROCEEDED outcome tagged ENGINE.
func (e *Engine) Run(ctx context.Context) *model.ControlMessage {
	terminal := e.run(ctx)

	e.teardown()

	if terminal.IsError() {
		e.reporter.Notify(model.ReportError, terminal.String(), 0)
	}
	e.reporter.Notify(model.ReportDisconnect, terminal.String(), 0)
	e.logger.Infof("tunnel: terminated: %s", terminal)
	return terminal
}

func (e *Engine) run(ctx context.Context) *model.ControlMessage {
	profile := e.config.Profile()
	e.logger.Infof("tunnel: connecting %s:%d (guid %s)", profile.Hostname, profile.Port, e.sessionManager.GUID())

	// phase 1: TLS transport
	transport, err := connectFn(e.config, e.trustStore, e.reporter, e.sessionManager.GUID())
	if err != nil {
		if connErr, ok := err.(*networkio.ConnectError); ok {
			return model.NewControlMessage(connErr.Where, connErr.Result, connErr.Err)
		}
		return model.NewControlMessage(model.WhereTLS, model.ErrTimeout, err)
	}
	e.transport = transport
	e.logger.Info("tunnel: transport established")

	// the liveness timers emit their echoes through the muxer's send path
	sstpTimer := echotimer.New(echotimer.Interval, e.emitSSTPEcho)
	pppTimer := echotimer.New(echotimer.Interval, e.emitPPPEcho)

	// the packet pumps below the control logic
	networkioService := &networkio.Service{
		MuxerToNetwork:  e.muxerToNetwork,
		NetworkToMuxer:  &e.networkToMuxer,
		ControlMessages: &e.controlMessages,
	}
	networkioService.StartWorkers(e.config, e.workersManager, transport)

	muxerService := &packetmuxer.Service{
		NetworkToMuxer:  e.networkToMuxer,
		MuxerToNetwork:  &e.muxerToNetwork,
		ControlMessages: &e.controlMessages,
	}
	e.muxer = muxerService.StartWorkers(e.config, e.workersManager, e.mailboxes, sstpTimer, pppTimer)

	// phase 2: SSTP call setup
	sstpMailbox := make(chan *model.SSTPMessage, 8)
	e.mailboxes.RegisterSSTP(sstpMailbox)
	sstpService := &sstpcontrol.Service{
		Mailbox:         sstpMailbox,
		MuxerToNetwork:  &e.muxerToNetwork,
		ControlMessages: &e.controlMessages,
	}
	sstpService.StartRequestWorker(e.config, e.workersManager, e.sessionManager)
	if msg := e.awaitPhase(ctx, sstpRequestBudget, model.WhereSSTPRequest); msg != nil {
		return msg
	}
	e.logger.Info("tunnel: SSTP call acknowledged")

	// phase 3: LCP
	if msg := e.runNegotiation(ctx, model.ProtoLCP,
		negotiator.NewLCPPolicy(e.sessionManager, profile)); msg != nil {
		return msg
	}
	e.logger.Infof("tunnel: LCP open (mru %d, auth %s)",
		e.sessionManager.CurrentMRU(), e.sessionManager.CurrentAuth())

	// phase 4: authentication
	if msg := e.runAuthentication(ctx); msg != nil {
		return msg
	}
	e.logger.Infof("tunnel: authenticated via %s", e.sessionManager.CurrentAuth())

	// phase 5: network protocols, in parallel
	if msg := e.runNetworkPhase(ctx); msg != nil {
		return msg
	}

	// phase 6: tun setup
	tun, msg := e.setupTun()
	if msg != nil {
		return msg
	}
	e.tun = tun
	e.logger.Info("tunnel: device established")

	// phase 7: Call-Connected and the steady-state control tasks
	if msg := e.sendCallConnected(); msg != nil {
		return msg
	}
	sstpService.StartControlWorker(e.config, e.workersManager, e.sessionManager)

	pppControlMailbox := make(chan *model.Frame, 8)
	e.mailboxes.RegisterPPPControl(pppControlMailbox)
	pppControlService := &pppcontrol.Service{
		Mailbox:         pppControlMailbox,
		MuxerToNetwork:  &e.muxerToNetwork,
		ControlMessages: &e.controlMessages,
	}
	pppControlService.StartWorkers(e.config, e.workersManager, e.sessionManager)

	// phase 8: the outgoing pump; incoming has been running all along
	e.muxer.StartTunWorkers(tun)
	e.logger.Info("tunnel: up")

	// steady state: wait for the first terminal event
	for {
		select {
		case msg := <-e.controlMessages:
			if msg.IsError() {
				return msg
			}
			e.logger.Debugf("tunnel: ignoring %s in steady state", msg)

		case <-ctx.Done():
			return model.NewControlMessage(model.WhereEngine, model.Proceeded, nil)

		case <-e.workersManager.ShouldShutdown():
			return e.shutdownOutcome()
		}
	}
}

// shutdownOutcome prefers a pending error report over the generic "worker
// died" outcome when a task reported right before triggering shutdown.
func (e *Engine) shutdownOutcome() *model.ControlMessage {
	select {
	case msg := <-e.controlMessages:
		if msg.IsError() {
			return msg
		}
	default:
	}
	return model.NewControlMessage(model.WhereEngine, model.ErrTimeout,
		fmt.Errorf("a worker exited unexpectedly"))
}

// awaitPhase waits until every listed Where has reported PROCEEDED. Any
// error outcome, the budget expiring, or cancellation ends the phase.
func (e *Engine) awaitPhase(ctx context.Context, budget time.Duration, wants ...model.Where) *model.ControlMessage {
	pending := make(map[model.Where]bool, len(wants))
	for _, where := range wants {
		pending[where] = true
	}
	deadline := time.NewTimer(budget)
	defer deadline.Stop()

	for len(pending) > 0 {
		select {
		case msg := <-e.controlMessages:
			if msg.IsError() {
				return msg
			}
			delete(pending, msg.Where)

		case <-deadline.C:
			return model.NewControlMessage(wants[0], model.ErrTimeout, nil)

		case <-ctx.Done():
			return model.NewControlMessage(model.WhereEngine, model.Proceeded, nil)

		case <-e.workersManager.ShouldShutdown():
			return e.shutdownOutcome()
		}
	}
	return nil
}

// runNegotiation runs one configure negotiator with its mailbox registered
// for the duration of the phase.
func (e *Engine) runNegotiation(ctx context.Context, proto model.PPPProto, policy negotiator.Policy) *model.ControlMessage {
	mailbox := make(chan *model.Frame, 8)
	e.mailboxes.RegisterPPP(proto, mailbox)
	defer e.mailboxes.UnregisterPPP(proto)

	svc := &negotiator.Service{
		Mailbox:         mailbox,
		MuxerToNetwork:  &e.muxerToNetwork,
		ControlMessages: &e.controlMessages,
	}
	svc.StartWorkers(e.config, e.workersManager, e.sessionManager, policy)
	return e.awaitPhase(ctx, negotiationBudget, policy.Where())
}

// runAuthentication starts the authenticator selected by LCP.
func (e *Engine) runAuthentication(ctx context.Context) *model.ControlMessage {
	profile := e.config.Profile()

	var (
		proto model.PPPProto
		where model.Where
	)
	switch e.sessionManager.CurrentAuth() {
	case model.AuthPAP:
		proto, where = model.ProtoPAP, model.WherePAP
	case model.AuthMSCHAPv2:
		proto, where = model.ProtoCHAP, model.WhereCHAP
	case model.AuthEAPMSCHAPv2:
		proto, where = model.ProtoEAP, model.WhereEAP
	default:
		return model.NewControlMessage(model.WhereLCPAuth, model.ErrUnexpectedMessage,
			fmt.Errorf("no authentication protocol negotiated"))
	}

	mailbox := make(chan *model.Frame, 8)
	e.mailboxes.RegisterPPP(proto, mailbox)
	defer e.mailboxes.UnregisterPPP(proto)

	svc := &auth.Service{
		Mailbox:         mailbox,
		MuxerToNetwork:  &e.muxerToNetwork,
		ControlMessages: &e.controlMessages,
	}
	svc.StartWorkers(e.config, e.workersManager, e.sessionManager, e.sessionManager.CurrentAuth())

	budget := time.Duration(profile.PPPAuthTimeout)*time.Second + 5*time.Second
	return e.awaitPhase(ctx, budget, where)
}

// runNetworkPhase runs IPCP and IPv6CP, in parallel, as enabled.
func (e *Engine) runNetworkPhase(ctx context.Context) *model.ControlMessage {
	profile := e.config.Profile()

	var wants []model.Where
	if profile.PPPIPv4Enabled {
		mailbox := make(chan *model.Frame, 8)
		e.mailboxes.RegisterPPP(model.ProtoIPCP, mailbox)
		defer e.mailboxes.UnregisterPPP(model.ProtoIPCP)
		svc := &negotiator.Service{
			Mailbox:         mailbox,
			MuxerToNetwork:  &e.muxerToNetwork,
			ControlMessages: &e.controlMessages,
		}
		svc.StartWorkers(e.config, e.workersManager, e.sessionManager,
			negotiator.NewIPCPPolicy(e.sessionManager, profile))
		wants = append(wants, model.WhereIPCP)
	}
	if profile.PPPIPv6Enabled {
		mailbox := make(chan *model.Frame, 8)
		e.mailboxes.RegisterPPP(model.ProtoIPv6CP, mailbox)
		defer e.mailboxes.UnregisterPPP(model.ProtoIPv6CP)
		svc := &negotiator.Service{
			Mailbox:         mailbox,
			MuxerToNetwork:  &e.muxerToNetwork,
			ControlMessages: &e.controlMessages,
		}
		svc.StartWorkers(e.config, e.workersManager, e.sessionManager,
			negotiator.NewIPv6CPPolicy(e.sessionManager))
		wants = append(wants, model.WhereIPv6CP)
	}
	return e.awaitPhase(ctx, negotiationBudget, wants...)
}

// sendCallConnected assembles and emits the Call-Connected packet. The
// binding key must exist by now: the MS-CHAPv2 family sets it during
// authentication and PAP sets the all-zero key.
func (e *Engine) sendCallConnected() *model.ControlMessage {
	hlak, ok := e.sessionManager.HLAK()
	if !ok {
		return model.NewControlMessage(model.WhereSSTPControl, model.ErrUnexpectedMessage,
			fmt.Errorf("no binding key after authentication"))
	}
	packet, err := sstpcontrol.BuildCallConnected(
		e.sessionManager.HashProtocol(),
		e.sessionManager.Nonce(),
		hlak,
		e.transport.Leaf().Raw,
	)
	if err != nil {
		return model.NewControlMessage(model.WhereSSTPControl, model.ErrParsingFailed, err)
	}
	select {
	case e.muxerToNetwork <- packet:
	case <-e.workersManager.ShouldShutdown():
		return model.NewControlMessage(model.WhereSSTPControl, model.ErrTimeout, nil)
	}
	e.logger.Info("tunnel: Call-Connected sent")
	return nil
}

// emitSSTPEcho is the SSTP liveness probe.
func (e *Engine) emitSSTPEcho() error {
	pkt, err := sstpcontrol.MarshalEchoRequest()
	if err != nil {
		return err
	}
	select {
	case e.muxerToNetwork <- pkt:
		return nil
	default:
		return fmt.Errorf("tunnel: send queue full")
	}
}

// emitPPPEcho is the PPP liveness probe: an LCP Echo-Request with a zero
// magic number, since we never negotiate one.
func (e *Engine) emitPPPEcho() error {
	frame, err := wire.MarshalPPPFrame(&model.Frame{
		Proto: model.ProtoLCP,
		Code:  model.CodeEchoRequest,
		ID:    e.sessionManager.NextFrameID(),
		Body:  []byte{0, 0, 0, 0},
	})
	if err != nil {
		return err
	}
	select {
	case e.muxerToNetwork <- wire.MarshalSSTPDataFrame(frame):
		return nil
	default:
		return fmt.Errorf("tunnel: send queue full")
	}
}

// teardown cancels every task, best-effort notifies the peer, and releases
// the transport and the device.
func (e *Engine) teardown() {
	e.workersManager.StartShutdown()

	if e.transport != nil {
		// best effort: tell the peer we are leaving
		if pkt, err := sstpcontrol.MarshalDisconnect(); err == nil {
			_ = e.transport.Send(pkt)
		}
		if pkt, err := sstpcontrol.MarshalAbort(); err == nil {
			_ = e.transport.Send(pkt)
		}
		_ = e.transport.Close()
	}
	if e.tun != nil {
		_ = e.tun.Close()
	}

	e.workersManager.WaitWorkersShutdown()
}

// zeroIPv4 reports an unset address.
func zeroIPv4(addr [4]byte) bool {
	return bytesx.IsZero(addr[:])
}
