package negotiator

import (
	"github.com/minisstp/minisstp/internal/model"
	"github.com/minisstp/minisstp/internal/session"
	"github.com/minisstp/minisstp/internal/wire"
	"github.com/minisstp/minisstp/pkg/config"
)

// IPCPPolicy drives the IPv4 network phase: the interface address and,
// optionally, the DNS server.
type IPCPPolicy struct {
	sessionManager *session.Manager
	profile        *config.Profile
}

var _ Policy = &IPCPPolicy{}

// NewIPCPPolicy creates the IPCP policy.
func NewIPCPPolicy(sessionManager *session.Manager, profile *config.Profile) *IPCPPolicy {
	return &IPCPPolicy{
		sessionManager: sessionManager,
		profile:        profile,
	}
}

// Proto implements Policy.
func (p *IPCPPolicy) Proto() model.PPPProto { return model.ProtoIPCP }

// Where implements Policy.
func (p *IPCPPolicy) Where() model.Where { return model.WhereIPCP }

// ParseOptions implements Policy.
func (p *IPCPPolicy) ParseOptions(body []byte) ([]model.Option, error) {
	return wire.ParseIPCPOptions(body)
}

// TryServerReject implements Policy: unknown options are rejected, and so is
// any DNS option the server proposes, since the client does not serve DNS.
func (p *IPCPPolicy) TryServerReject(req []model.Option) []model.Option {
	var rejected []model.Option
	for _, opt := range req {
		switch opt.(type) {
		case *model.UnknownOption, *model.DNSOption:
			rejected = append(rejected, opt)
		}
	}
	return rejected
}

// TryServerNak implements Policy: never produced.
func (p *IPCPPolicy) TryServerNak(req []model.Option) []model.Option {
	return nil
}

// CreateServerAck implements Policy.
func (p *IPCPPolicy) CreateServerAck(req []model.Option) []model.Option {
	return req
}

// CreateClientRequest implements Policy: always the IPv4 address, plus the
// DNS option while it is wanted and not yet rejected.
func (p *IPCPPolicy) CreateClientRequest() []model.Option {
	options := []model.Option{
		&model.IPAddressOption{Addr: p.sessionManager.CurrentIPv4()},
	}
	if p.profile.DNSDoRequestAddress && !p.sessionManager.IsDNSRejected() {
		options = append(options, &model.DNSOption{Addr: p.sessionManager.ProposedDNS()})
	}
	return options
}

// AcceptClientNak implements Policy. A Nak of a statically requested address
// is fatal; otherwise the peer's proposals are adopted. The DNS address is
// stored exactly as received.
func (p *IPCPPolicy) AcceptClientNak(opts []model.Option) *model.ControlMessage {
	for _, opt := range opts {
		switch o := opt.(type) {
		case *model.IPAddressOption:
			if p.profile.PPPDoRequestStaticIPv4 {
				return model.NewControlMessage(model.WhereIPCP, model.ErrAddressRejected, nil)
			}
			p.sessionManager.SetCurrentIPv4(o.Addr)
		case *model.DNSOption:
			p.sessionManager.SetProposedDNS(o.Addr)
		}
	}
	return nil
}

// AcceptClientReject implements Policy: losing the address is fatal, losing
// DNS merely ends the DNS request.
func (p *IPCPPolicy) AcceptClientReject(opts []model.Option) *model.ControlMessage {
	for _, opt := range opts {
		switch opt.(type) {
		case *model.IPAddressOption:
			return model.NewControlMessage(model.WhereIPCPIP, model.ErrOptionRejected, nil)
		case *model.DNSOption:
			p.sessionManager.SetDNSRejected()
		}
	}
	return nil
}
