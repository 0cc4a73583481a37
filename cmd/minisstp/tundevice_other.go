//go:build !linux

package main

import (
	"errors"
	"io"

	"github.com/minisstp/minisstp/internal/model"
)

// unsupportedDevice is the placeholder for platforms without a tun
// implementation in this CLI.
type unsupportedDevice struct{}

var _ model.TunDevice = unsupportedDevice{}

func newTunDevice(logger model.Logger) model.TunDevice {
	return unsupportedDevice{}
}

var errUnsupported = errors.New("tun devices are only supported on linux")

func (unsupportedDevice) AddAddress(addr []byte, prefix int) error { return errUnsupported }
func (unsupportedDevice) AddDNSServer(addr []byte) error           { return errUnsupported }
func (unsupportedDevice) AddRoute(cidr string) error               { return errUnsupported }
func (unsupportedDevice) AddAllowedApplication(id string) error    { return errUnsupported }
func (unsupportedDevice) SetMTU(mtu int) error                     { return errUnsupported }
func (unsupportedDevice) Establish() (io.ReadWriteCloser, error)   { return nil, errUnsupported }
