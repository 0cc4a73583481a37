//go:build linux

package main

import (
	"fmt"
	"io"
	"net"
	"os/exec"

	"github.com/songgao/water"

	"github.com/minisstp/minisstp/internal/model"
)

// waterDevice implements model.TunDevice on top of a water TUN interface,
// applying addresses and routes with the ip(8) tool once established.
type waterDevice struct {
	logger    model.Logger
	addresses []string // CIDR form
	dns       []string
	routes    []string
	mtu       int
}

var _ model.TunDevice = &waterDevice{}

func newTunDevice(logger model.Logger) model.TunDevice {
	return &waterDevice{logger: logger, mtu: 1500}
}

// AddAddress implements model.TunDevice.
func (d *waterDevice) AddAddress(addr []byte, prefix int) error {
	ip := net.IP(addr)
	if ip.To4() == nil && ip.To16() == nil {
		return fmt.Errorf("bad address length %d", len(addr))
	}
	d.addresses = append(d.addresses, fmt.Sprintf("%s/%d", ip.String(), prefix))
	return nil
}

// AddDNSServer implements model.TunDevice. Resolver configuration is left to
// the host; the address is only logged.
func (d *waterDevice) AddDNSServer(addr []byte) error {
	d.dns = append(d.dns, net.IP(addr).String())
	return nil
}

// AddRoute implements model.TunDevice.
func (d *waterDevice) AddRoute(cidr string) error {
	d.routes = append(d.routes, cidr)
	return nil
}

// AddAllowedApplication implements model.TunDevice. Per-app routing needs a
// platform firewall; the CLI only records the intent.
func (d *waterDevice) AddAllowedApplication(id string) error {
	d.logger.Infof("tun: per-app rule for %s not supported on this platform", id)
	return nil
}

// SetMTU implements model.TunDevice.
func (d *waterDevice) SetMTU(mtu int) error {
	d.mtu = mtu
	return nil
}

// Establish implements model.TunDevice.
func (d *waterDevice) Establish() (io.ReadWriteCloser, error) {
	ifce, err := water.New(water.Config{DeviceType: water.TUN})
	if err != nil {
		return nil, fmt.Errorf("cannot create tun device: %w", err)
	}
	name := ifce.Name()

	cmds := [][]string{
		{"ip", "link", "set", "dev", name, "mtu", fmt.Sprintf("%d", d.mtu)},
		{"ip", "link", "set", "dev", name, "up"},
	}
	for _, addr := range d.addresses {
		cmds = append(cmds, []string{"ip", "addr", "add", addr, "dev", name})
	}
	for _, route := range d.routes {
		cmds = append(cmds, []string{"ip", "route", "add", route, "dev", name})
	}
	for _, cmd := range cmds {
		if out, err := exec.Command(cmd[0], cmd[1:]...).CombinedOutput(); err != nil { //#nosec G204
			ifce.Close()
			return nil, fmt.Errorf("%v: %w: %s", cmd, err, string(out))
		}
	}
	for _, dns := range d.dns {
		d.logger.Infof("tun: resolver %s (configure manually or via resolvconf)", dns)
	}
	d.logger.Infof("tun: %s up (mtu %d)", name, d.mtu)
	return ifce, nil
}
