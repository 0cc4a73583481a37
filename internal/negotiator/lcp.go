package negotiator

import (
	"github.com/minisstp/minisstp/internal/model"
	"github.com/minisstp/minisstp/internal/session"
	"github.com/minisstp/minisstp/internal/wire"
	"github.com/minisstp/minisstp/pkg/config"
)

// LCPPolicy drives the link phase: MRU and the authentication protocol.
type LCPPolicy struct {
	sessionManager *session.Manager
	profile        *config.Profile

	// isMRURejected records that the peer rejected our MRU option; further
	// requests must not carry it.
	isMRURejected bool
}

var _ Policy = &LCPPolicy{}

// NewLCPPolicy creates the LCP policy.
func NewLCPPolicy(sessionManager *session.Manager, profile *config.Profile) *LCPPolicy {
	return &LCPPolicy{
		sessionManager: sessionManager,
		profile:        profile,
	}
}

// Proto implements Policy.
func (p *LCPPolicy) Proto() model.PPPProto { return model.ProtoLCP }

// Where implements Policy.
func (p *LCPPolicy) Where() model.Where { return model.WhereLCP }

// ParseOptions implements Policy.
func (p *LCPPolicy) ParseOptions(body []byte) ([]model.Option, error) {
	return wire.ParseLCPOptions(body)
}

// TryServerReject implements Policy: any unknown option is rejected.
func (p *LCPPolicy) TryServerReject(req []model.Option) []model.Option {
	var rejected []model.Option
	for _, opt := range req {
		if unknown, ok := opt.(*model.UnknownOption); ok {
			rejected = append(rejected, unknown)
		}
	}
	return rejected
}

// preferredAuth returns the best enabled authentication protocol under the
// fixed priority EAP-MSCHAPv2 > MSCHAPv2 > PAP, regardless of what the
// server offered.
func (p *LCPPolicy) preferredAuth() (model.AuthProto, *model.AuthOption) {
	if p.profile.AuthEnabled(model.AuthEAPMSCHAPv2) {
		return model.AuthEAPMSCHAPv2, &model.AuthOption{Protocol: model.AuthProtoEAP}
	}
	if p.profile.AuthEnabled(model.AuthMSCHAPv2) {
		return model.AuthMSCHAPv2, &model.AuthOption{
			Protocol:  model.AuthProtoCHAP,
			Algorithm: model.ChapAlgorithmMSCHAPv2,
		}
	}
	return model.AuthPAP, &model.AuthOption{Protocol: model.AuthProtoPAP}
}

// serverAuthAcceptable maps the server's proposal to an enabled protocol.
func (p *LCPPolicy) serverAuthAcceptable(opt *model.AuthOption) (model.AuthProto, bool) {
	switch opt.Protocol {
	case model.AuthProtoPAP:
		if p.profile.AuthEnabled(model.AuthPAP) {
			return model.AuthPAP, true
		}
	case model.AuthProtoCHAP:
		if opt.Algorithm == model.ChapAlgorithmMSCHAPv2 && p.profile.AuthEnabled(model.AuthMSCHAPv2) {
			return model.AuthMSCHAPv2, true
		}
	case model.AuthProtoEAP:
		if p.profile.AuthEnabled(model.AuthEAPMSCHAPv2) {
			return model.AuthEAPMSCHAPv2, true
		}
	}
	return model.AuthNone, false
}

// TryServerNak implements Policy.
func (p *LCPPolicy) TryServerNak(req []model.Option) []model.Option {
	var naked []model.Option
	for _, opt := range req {
		switch o := opt.(type) {
		case *model.MRUOption:
			// the server's MRU is our send-side bound; insist on at least
			// the configured MTU
			if int(o.MRU) < p.profile.PPPMtu {
				naked = append(naked, &model.MRUOption{MRU: uint16(p.profile.PPPMtu)})
			}
		case *model.AuthOption:
			if _, ok := p.serverAuthAcceptable(o); !ok {
				_, proposal := p.preferredAuth()
				naked = append(naked, proposal)
			}
		}
	}
	return naked
}

// CreateServerAck implements Policy: echo the request and adopt the accepted
// authentication protocol.
func (p *LCPPolicy) CreateServerAck(req []model.Option) []model.Option {
	for _, opt := range req {
		if auth, ok := opt.(*model.AuthOption); ok {
			if proto, ok := p.serverAuthAcceptable(auth); ok {
				p.sessionManager.SetCurrentAuth(proto)
			}
		}
	}
	return req
}

// CreateClientRequest implements Policy.
func (p *LCPPolicy) CreateClientRequest() []model.Option {
	if p.isMRURejected {
		return nil
	}
	return []model.Option{&model.MRUOption{MRU: p.sessionManager.CurrentMRU()}}
}

// AcceptClientNak implements Policy: clamp the peer's MRU proposal into
// [MIN_MRU, config.MRU].
func (p *LCPPolicy) AcceptClientNak(opts []model.Option) *model.ControlMessage {
	for _, opt := range opts {
		if mru, ok := opt.(*model.MRUOption); ok {
			proposed := int(mru.MRU)
			if proposed < config.MinMRU {
				proposed = config.MinMRU
			}
			if proposed > p.profile.PPPMru {
				proposed = p.profile.PPPMru
			}
			p.sessionManager.SetCurrentMRU(uint16(proposed))
		}
	}
	return nil
}

// AcceptClientReject implements Policy.
func (p *LCPPolicy) AcceptClientReject(opts []model.Option) *model.ControlMessage {
	for _, opt := range opts {
		switch opt.(type) {
		case *model.MRUOption:
			p.isMRURejected = true
			// without the option the link runs at the protocol default,
			// which must fit our receive bound
			if config.DefaultMRU > p.profile.PPPMru {
				return model.NewControlMessage(model.WhereLCPMRU, model.ErrOptionRejected, nil)
			}
		case *model.AuthOption:
			return model.NewControlMessage(model.WhereLCPAuth, model.ErrOptionRejected, nil)
		}
	}
	return nil
}
