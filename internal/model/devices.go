package model

import "io"

// TunDevice is the platform virtual network device. The engine configures it
// during tun setup and then calls Establish exactly once to obtain the packet
// stream. Implementations are provided by the host.
type TunDevice interface {
	// AddAddress assigns an interface address. addr is 4 bytes for IPv4 and
	// 16 bytes for IPv6.
	AddAddress(addr []byte, prefix int) error

	// AddDNSServer adds a resolver address.
	AddDNSServer(addr []byte) error

	// AddRoute installs a route for the given CIDR.
	AddRoute(cidr string) error

	// AddAllowedApplication adds an application identifier to the per-app
	// allow list.
	AddAllowedApplication(id string) error

	// SetMTU sets the device MTU.
	SetMTU(mtu int) error

	// Establish finalizes the configuration and returns the L3 frame stream.
	Establish() (io.ReadWriteCloser, error)
}

// CACert is a PEM-encoded certificate authority together with the name of the
// file it came from, so parse failures can name their source.
type CACert struct {
	Name string
	PEM  []byte
}

// TrustStore enumerates the PEM CAs used to build a custom validator when the
// profile specifies its own trust.
type TrustStore interface {
	// ListCACerts returns the stored CA certificates.
	ListCACerts() ([]CACert, error)
}

// ReportChannel selects the host notification surface.
type ReportChannel string

const (
	ReportError       = ReportChannel("ERROR")
	ReportReconnect   = ReportChannel("RECONNECT")
	ReportDisconnect  = ReportChannel("DISCONNECT")
	ReportCertificate = ReportChannel("CERTIFICATE")
)

// Reporter is the host notification surface.
type Reporter interface {
	// Notify posts a message on the given channel. The id disambiguates
	// notifications of the same kind.
	Notify(channel ReportChannel, body string, id int)
}
