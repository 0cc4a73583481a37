package tunnel

import (
	"fmt"
	"io"
	"net"

	"github.com/minisstp/minisstp/internal/bytesx"
	"github.com/minisstp/minisstp/internal/model"
)

// The private ranges installed by ROUTE_DO_ROUTE_PRIVATE_ADDRESSES.
var (
	privateRangesV4 = []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}
	privateRangesV6 = []string{"fc00::/7"}
)

// setupTun configures the tun device from the negotiated session state and
// establishes it. The device must end up with a usable address for every
// enabled family.
func (e *Engine) setupTun() (io.ReadWriteCloser, *model.ControlMessage) {
	profile := e.config.Profile()

	// addresses
	if profile.PPPIPv4Enabled {
		addr := e.sessionManager.CurrentIPv4()
		if zeroIPv4(addr) {
			return nil, model.NewControlMessage(model.WhereTun, model.ErrInvalidAddress, nil)
		}
		if err := e.device.AddAddress(addr[:], 32); err != nil {
			return nil, model.NewControlMessage(model.WhereTun, model.ErrUnexpectedMessage, err)
		}
	}
	if profile.PPPIPv6Enabled {
		ifid := e.sessionManager.CurrentIPv6()
		if bytesx.IsZero(ifid[:]) {
			return nil, model.NewControlMessage(model.WhereTun, model.ErrInvalidAddress, nil)
		}
		// the negotiated identifier forms a link-local address
		addr := make([]byte, 16)
		addr[0], addr[1] = 0xFE, 0x80
		copy(addr[8:], ifid[:])
		if err := e.device.AddAddress(addr, 64); err != nil {
			return nil, model.NewControlMessage(model.WhereTun, model.ErrUnexpectedMessage, err)
		}
	}

	// DNS
	if dns, ok := e.selectDNS(); ok {
		if err := e.device.AddDNSServer(dns); err != nil {
			return nil, model.NewControlMessage(model.WhereTun, model.ErrUnexpectedMessage, err)
		}
	}

	// routes
	for _, cidr := range e.collectRoutes() {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return nil, model.NewControlMessage(model.WhereRoute, model.ErrParsingFailed,
				fmt.Errorf("bad route %q: %s", cidr, err))
		}
		if err := e.device.AddRoute(cidr); err != nil {
			return nil, model.NewControlMessage(model.WhereRoute, model.ErrUnexpectedMessage, err)
		}
	}

	// per-app rules
	if profile.RouteDoEnableAppBasedRule {
		for _, app := range profile.RouteAllowedApps {
			if err := e.device.AddAllowedApplication(app); err != nil {
				return nil, model.NewControlMessage(model.WhereTun, model.ErrUnexpectedMessage, err)
			}
		}
	}

	if err := e.device.SetMTU(profile.PPPMtu); err != nil {
		return nil, model.NewControlMessage(model.WhereTun, model.ErrUnexpectedMessage, err)
	}

	tun, err := e.device.Establish()
	if err != nil {
		return nil, model.NewControlMessage(model.WhereTun, model.ErrUnexpectedMessage, err)
	}
	return tun, nil
}

// selectDNS picks the resolver address: the custom server wins, then the
// server-proposed one.
func (e *Engine) selectDNS() ([]byte, bool) {
	profile := e.config.Profile()
	if profile.DNSDoUseCustomServer && !zeroIPv4(profile.DNSCustomAddress) {
		addr := profile.DNSCustomAddress
		return addr[:], true
	}
	if profile.DNSDoRequestAddress && !e.sessionManager.IsDNSRejected() {
		if proposed := e.sessionManager.ProposedDNS(); !zeroIPv4(proposed) {
			return proposed[:], true
		}
	}
	return nil, false
}

// collectRoutes assembles the route list in install order: default routes,
// private ranges, then the custom routes as configured.
func (e *Engine) collectRoutes() []string {
	profile := e.config.Profile()
	var routes []string
	if profile.RouteDoAddDefaultRoute {
		if profile.PPPIPv4Enabled {
			routes = append(routes, "0.0.0.0/0")
		}
		if profile.PPPIPv6Enabled {
			routes = append(routes, "::/0")
		}
	}
	if profile.RouteDoRoutePrivateAddresses {
		if profile.PPPIPv4Enabled {
			routes = append(routes, privateRangesV4...)
		}
		if profile.PPPIPv6Enabled {
			routes = append(routes, privateRangesV6...)
		}
	}
	if profile.RouteDoAddCustomRoutes {
		routes = append(routes, profile.RouteCustomRoutes...)
	}
	return routes
}
