package packetmuxer

import (
	"sync"

	"github.com/minisstp/minisstp/internal/model"
)

// Mailboxes is the registry that routes parsed frames to the task that owns
// a protocol. The engine registers a mailbox when it starts the owning task
// and unregisters it on cancellation; a frame for an unregistered protocol
// is dropped silently, which absorbs late arrivals during phase changes.
type Mailboxes struct {
	mu         sync.Mutex
	ppp        map[model.PPPProto]chan *model.Frame
	pppControl chan *model.Frame
	sstp       chan *model.SSTPMessage
}

// NewMailboxes creates an empty registry.
func NewMailboxes() *Mailboxes {
	return &Mailboxes{
		ppp: make(map[model.PPPProto]chan *model.Frame),
	}
}

// RegisterPPP binds a mailbox to a PPP protocol.
func (mb *Mailboxes) RegisterPPP(proto model.PPPProto, ch chan *model.Frame) {
	defer mb.mu.Unlock()
	mb.mu.Lock()
	mb.ppp[proto] = ch
}

// UnregisterPPP unbinds the mailbox of a PPP protocol.
func (mb *Mailboxes) UnregisterPPP(proto model.PPPProto) {
	defer mb.mu.Unlock()
	mb.mu.Lock()
	delete(mb.ppp, proto)
}

// LookupPPP returns the mailbox bound to a PPP protocol, or nil.
func (mb *Mailboxes) LookupPPP(proto model.PPPProto) chan *model.Frame {
	defer mb.mu.Unlock()
	mb.mu.Lock()
	return mb.ppp[proto]
}

// RegisterPPPControl binds the mailbox handling non-configure LCP codes and
// unknown-protocol passthrough.
func (mb *Mailboxes) RegisterPPPControl(ch chan *model.Frame) {
	defer mb.mu.Unlock()
	mb.mu.Lock()
	mb.pppControl = ch
}

// LookupPPPControl returns the PPP control mailbox, or nil.
func (mb *Mailboxes) LookupPPPControl() chan *model.Frame {
	defer mb.mu.Unlock()
	mb.mu.Lock()
	return mb.pppControl
}

// RegisterSSTP binds the SSTP control mailbox.
func (mb *Mailboxes) RegisterSSTP(ch chan *model.SSTPMessage) {
	defer mb.mu.Unlock()
	mb.mu.Lock()
	mb.sstp = ch
}

// LookupSSTP returns the SSTP control mailbox, or nil.
func (mb *Mailboxes) LookupSSTP() chan *model.SSTPMessage {
	defer mb.mu.Unlock()
	mb.mu.Lock()
	return mb.sstp
}
