package networkio

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net"

	"github.com/minisstp/minisstp/internal/model"
	"github.com/minisstp/minisstp/pkg/config"

	tls "github.com/refraction-networking/utls"
)

var (
	// ErrBadTLSInit is returned when the TLS configuration cannot be built.
	ErrBadTLSInit = errors.New("networkio: TLS init error")

	// ErrCannotVerifyCertChain is returned for certificate chain failures.
	ErrCannotVerifyCertChain = errors.New("networkio: cannot verify chain")

	// ErrHostnameMismatch is returned when the peer certificate does not
	// match the configured hostname.
	ErrHostnameMismatch = errors.New("networkio: hostname mismatch")
)

// handshaker abstracts the TLS connection so tests can fake the handshake.
type handshaker interface {
	net.Conn
	Handshake() error
	ConnectionState() tls.ConnectionState
}

// defaultTLSFactory wraps the connection with the utls client.
func defaultTLSFactory(conn net.Conn, cfg *tls.Config) handshaker {
	return tls.Client(conn, cfg)
}

// tlsFactoryFn allows monkeypatching in tests.
var tlsFactoryFn = defaultTLSFactory

// tlsUpgrade performs the TLS handshake under the profile's trust policy and
// returns the transport wrapping the TLS stream.
func tlsUpgrade(tcpConn net.Conn, profile *config.Profile, trustStore model.TrustStore, reporter model.Reporter) (*Transport, error) {
	roots, err := buildRoots(profile, trustStore)
	if err != nil {
		return nil, err
	}

	// The leaf is captured before verification so that a failure can still
	// surface the certificate to the user.
	var leaf *x509.Certificate

	verify := func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("%w: no peer certificate", ErrCannotVerifyCertChain)
		}
		parsed, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("%w: %s", ErrCannotVerifyCertChain, err)
		}
		leaf = parsed

		opts := x509.VerifyOptions{Roots: roots}
		if len(rawCerts) > 1 {
			opts.Intermediates = x509.NewCertPool()
			for _, certDER := range rawCerts[1:] {
				cert, err := x509.ParseCertificate(certDER)
				if err != nil {
					return fmt.Errorf("%w: %s", ErrCannotVerifyCertChain, err)
				}
				opts.Intermediates.AddCert(cert)
			}
		}
		if _, err := leaf.Verify(opts); err != nil {
			return fmt.Errorf("%w: %s", ErrCannotVerifyCertChain, err)
		}

		// The hostname check targets the configured hostname, never the
		// custom SNI.
		if profile.SSLDoVerify {
			if err := leaf.VerifyHostname(profile.Hostname); err != nil {
				return fmt.Errorf("%w: %s", ErrHostnameMismatch, err)
			}
		}
		return nil
	}

	tlsConf := &tls.Config{
		ServerName: profile.Hostname,
		// crypto/tls wants either ServerName or InsecureSkipVerify set; we
		// pass our own verification function so that the hostname check can
		// diverge from the SNI.
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: verify,
	} //#nosec G402
	if profile.SSLDoUseCustomSNI && profile.SSLCustomSNI != "" {
		tlsConf.ServerName = profile.SSLCustomSNI
	}
	switch profile.SSLVersion {
	case config.TLSVersion12:
		tlsConf.MinVersion, tlsConf.MaxVersion = tls.VersionTLS12, tls.VersionTLS12
	case config.TLSVersion13:
		tlsConf.MinVersion, tlsConf.MaxVersion = tls.VersionTLS13, tls.VersionTLS13
	}
	if profile.SSLDoSelectSuites {
		suites, err := selectSuites(profile.SSLSuites)
		if err != nil {
			return nil, err
		}
		tlsConf.CipherSuites = suites
	}

	tlsConn := tlsFactoryFn(tcpConn, tlsConf)
	if err := tlsConn.Handshake(); err != nil {
		if leaf != nil && reporter != nil {
			// the user may decide to trust this certificate; hand it over
			reporter.Notify(model.ReportCertificate, string(pem.EncodeToMemory(&pem.Block{
				Type:  "CERTIFICATE",
				Bytes: leaf.Raw,
			})), 0)
		}
		return nil, connectError(model.WhereTLS, model.ErrVerificationFailed, err)
	}

	state := tlsConn.ConnectionState()
	if leaf == nil && len(state.PeerCertificates) > 0 {
		leaf = state.PeerCertificates[0]
	}
	return &Transport{conn: tlsConn, leaf: leaf}, nil
}

// buildRoots returns the certificate pool mandated by the profile: the trust
// store's PEM files when the profile pins its own trust, the system pool
// otherwise.
func buildRoots(profile *config.Profile, trustStore model.TrustStore) (*x509.CertPool, error) {
	if !profile.SSLDoSpecifyCert {
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, connectError(model.WhereTLS, model.ErrVerificationFailed, err)
		}
		return pool, nil
	}
	certs, err := trustStore.ListCACerts()
	if err != nil {
		return nil, connectError(model.WhereCert, model.ErrParsingFailed, err)
	}
	pool := x509.NewCertPool()
	for _, cert := range certs {
		if !pool.AppendCertsFromPEM(cert.PEM) {
			return nil, connectError(model.WhereCert, model.ErrParsingFailed,
				fmt.Errorf("cannot parse CA cert: %s", cert.Name))
		}
	}
	return pool, nil
}

// selectSuites intersects the configured suite names with the suites the TLS
// stack supports.
func selectSuites(names []string) ([]uint16, error) {
	supported := make(map[string]uint16)
	for _, suite := range tls.CipherSuites() {
		supported[suite.Name] = suite.ID
	}
	var out []uint16
	for _, name := range names {
		if id, ok := supported[name]; ok {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil, connectError(model.WhereTLS, model.ErrVerificationFailed,
			fmt.Errorf("%w: no usable cipher suites", ErrBadTLSInit))
	}
	return out, nil
}
