package negotiator

import (
	"github.com/minisstp/minisstp/internal/model"
	"github.com/minisstp/minisstp/internal/session"
	"github.com/minisstp/minisstp/internal/wire"
)

// IPv6CPPolicy drives the IPv6 network phase: the interface identifier.
type IPv6CPPolicy struct {
	sessionManager *session.Manager
}

var _ Policy = &IPv6CPPolicy{}

// NewIPv6CPPolicy creates the IPv6CP policy.
func NewIPv6CPPolicy(sessionManager *session.Manager) *IPv6CPPolicy {
	return &IPv6CPPolicy{sessionManager: sessionManager}
}

// Proto implements Policy.
func (p *IPv6CPPolicy) Proto() model.PPPProto { return model.ProtoIPv6CP }

// Where implements Policy.
func (p *IPv6CPPolicy) Where() model.Where { return model.WhereIPv6CP }

// ParseOptions implements Policy.
func (p *IPv6CPPolicy) ParseOptions(body []byte) ([]model.Option, error) {
	return wire.ParseIPv6CPOptions(body)
}

// TryServerReject implements Policy.
func (p *IPv6CPPolicy) TryServerReject(req []model.Option) []model.Option {
	var rejected []model.Option
	for _, opt := range req {
		if unknown, ok := opt.(*model.UnknownOption); ok {
			rejected = append(rejected, unknown)
		}
	}
	return rejected
}

// TryServerNak implements Policy.
func (p *IPv6CPPolicy) TryServerNak(req []model.Option) []model.Option {
	return nil
}

// CreateServerAck implements Policy.
func (p *IPv6CPPolicy) CreateServerAck(req []model.Option) []model.Option {
	return req
}

// CreateClientRequest implements Policy.
func (p *IPv6CPPolicy) CreateClientRequest() []model.Option {
	return []model.Option{
		&model.InterfaceIDOption{ID: p.sessionManager.CurrentIPv6()},
	}
}

// AcceptClientNak implements Policy: adopt the peer's identifier.
func (p *IPv6CPPolicy) AcceptClientNak(opts []model.Option) *model.ControlMessage {
	for _, opt := range opts {
		if id, ok := opt.(*model.InterfaceIDOption); ok {
			p.sessionManager.SetCurrentIPv6(id.ID)
		}
	}
	return nil
}

// AcceptClientReject implements Policy: the identifier is not optional.
func (p *IPv6CPPolicy) AcceptClientReject(opts []model.Option) *model.ControlMessage {
	for _, opt := range opts {
		if _, ok := opt.(*model.InterfaceIDOption); ok {
			return model.NewControlMessage(model.WhereIPv6CPIdentifier, model.ErrOptionRejected, nil)
		}
	}
	return nil
}
