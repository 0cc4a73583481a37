package config

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/minisstp/minisstp/internal/model"
)

// ErrBadConfig is the generic error returned for invalid profiles.
var ErrBadConfig = errors.New("sstp: bad config")

// PPP MRU/MTU bounds.
const (
	MinMRU     = 68
	MaxMRU     = 2000
	DefaultMRU = 1500
)

// TLSVersion restricts the TLS protocol version.
type TLSVersion string

const (
	// TLSVersionDefault leaves protocol selection to the TLS stack.
	TLSVersionDefault = TLSVersion("DEFAULT")

	// TLSVersion12 pins TLSv1.2.
	TLSVersion12 = TLSVersion("TLSv1.2")

	// TLSVersion13 pins TLSv1.3.
	TLSVersion13 = TLSVersion("TLSv1.3")
)

// Proxy is the optional HTTP CONNECT proxy in front of the SSTP server.
type Proxy struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Profile carries every recognised option. Fields mirror the profile keys
// understood by [ReadProfileFile].
type Profile struct {
	Hostname string
	Port     int
	Username string
	Password string

	Proxy *Proxy

	SSLDoVerify       bool
	SSLDoSpecifyCert  bool
	SSLCertDir        string
	SSLVersion        TLSVersion
	SSLDoSelectSuites bool
	SSLSuites         []string
	SSLDoUseCustomSNI bool
	SSLCustomSNI      string

	PPPMru                  int
	PPPMtu                  int
	PPPAuthProtocols        []model.AuthProto
	PPPAuthTimeout          int
	PPPIPv4Enabled          bool
	PPPIPv6Enabled          bool
	PPPDoRequestStaticIPv4  bool
	PPPStaticIPv4           [4]byte

	DNSDoRequestAddress  bool
	DNSDoUseCustomServer bool
	DNSCustomAddress     [4]byte

	RouteDoAddDefaultRoute       bool
	RouteDoRoutePrivateAddresses bool
	RouteDoAddCustomRoutes       bool
	RouteCustomRoutes            []string
	RouteDoEnableAppBasedRule    bool
	RouteAllowedApps             []string

	ReconnectionEnabled  bool
	ReconnectionCount    int
	ReconnectionInterval int
}

// NewProfile returns a [Profile] with the defaults applied.
func NewProfile() *Profile {
	return &Profile{
		Port:                 443,
		SSLDoVerify:          true,
		SSLVersion:           TLSVersionDefault,
		PPPMru:               DefaultMRU,
		PPPMtu:               DefaultMRU,
		PPPAuthProtocols:     []model.AuthProto{model.AuthMSCHAPv2, model.AuthPAP},
		PPPAuthTimeout:       3,
		PPPIPv4Enabled:       true,
		DNSDoRequestAddress:  true,
		ReconnectionCount:    3,
		ReconnectionInterval: 10,
	}
}

// AuthEnabled returns whether the given protocol is in the allowed set.
func (p *Profile) AuthEnabled(proto model.AuthProto) bool {
	for _, allowed := range p.PPPAuthProtocols {
		if allowed == proto {
			return true
		}
	}
	return false
}

// SetCustomRoutesText splits a newline-separated CIDR list into the custom
// route slice, skipping blank lines. Syntax is validated at tun setup so a
// malformed line aborts the tunnel, not the profile load.
func (p *Profile) SetCustomRoutesText(text string) {
	p.RouteCustomRoutes = nil
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			p.RouteCustomRoutes = append(p.RouteCustomRoutes, line)
		}
	}
}

// Validate checks the profile against the recognised ranges.
func (p *Profile) Validate() error {
	if p.Hostname == "" {
		return fmt.Errorf("%w: %s", ErrBadConfig, "HOSTNAME is required")
	}
	if p.Port < 0 || p.Port > 65535 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "PORT must be within 0..65535")
	}
	if p.Proxy != nil && (p.Proxy.Port < 0 || p.Proxy.Port > 65535) {
		return fmt.Errorf("%w: %s", ErrBadConfig, "PROXY_PORT must be within 0..65535")
	}
	if p.PPPMru < MinMRU || p.PPPMru > MaxMRU {
		return fmt.Errorf("%w: the given MRU is out of %d..%d", ErrBadConfig, MinMRU, MaxMRU)
	}
	if p.PPPMtu < MinMRU || p.PPPMtu > MaxMRU {
		return fmt.Errorf("%w: the given MTU is out of %d..%d", ErrBadConfig, MinMRU, MaxMRU)
	}
	if len(p.PPPAuthProtocols) == 0 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "PPP_AUTH_PROTOCOLS must not be empty")
	}
	if p.PPPAuthTimeout < 1 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "PPP_AUTH_TIMEOUT must be at least 1 second")
	}
	if !p.PPPIPv4Enabled && !p.PPPIPv6Enabled {
		return fmt.Errorf("%w: %s", ErrBadConfig, "at least one of IPv4 and IPv6 must be enabled")
	}
	if p.ReconnectionEnabled && p.ReconnectionCount < 1 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "RECONNECTION_COUNT must be at least 1")
	}
	if p.ReconnectionEnabled && p.ReconnectionInterval < 0 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "RECONNECTION_INTERVAL must not be negative")
	}
	return nil
}

// ReadProfileFile parses the profile file at the given path. The format is
// one `KEY value` pair per line; blank lines and lines starting with '#' are
// ignored.
func ReadProfileFile(filePath string) (*Profile, error) {
	file, err := os.Open(filePath) //#nosec G304
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadConfig, err)
	}
	defer file.Close()

	profile := NewProfile()
	scanner := bufio.NewScanner(file)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		key, rest := fields[0], fields[1:]
		if err := parseProfileLine(profile, key, rest); err != nil {
			return nil, fmt.Errorf("%w (line %d)", err, lineno)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadConfig, err)
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}

func parseProfileLine(p *Profile, key string, args []string) error {
	switch key {
	case "HOSTNAME":
		return parseString(key, args, &p.Hostname)
	case "PORT":
		return parseInt(key, args, &p.Port)
	case "USERNAME":
		return parseString(key, args, &p.Username)
	case "PASSWORD":
		return parseString(key, args, &p.Password)
	case "PROXY_HOSTNAME":
		ensureProxy(p)
		return parseString(key, args, &p.Proxy.Host)
	case "PROXY_PORT":
		ensureProxy(p)
		return parseInt(key, args, &p.Proxy.Port)
	case "PROXY_USERNAME":
		ensureProxy(p)
		return parseString(key, args, &p.Proxy.Username)
	case "PROXY_PASSWORD":
		ensureProxy(p)
		return parseString(key, args, &p.Proxy.Password)
	case "SSL_DO_VERIFY":
		return parseBool(key, args, &p.SSLDoVerify)
	case "SSL_DO_SPECIFY_CERT":
		return parseBool(key, args, &p.SSLDoSpecifyCert)
	case "SSL_CERT_DIR":
		return parseString(key, args, &p.SSLCertDir)
	case "SSL_VERSION":
		return parseTLSVersion(args, p)
	case "SSL_DO_SELECT_SUITES":
		return parseBool(key, args, &p.SSLDoSelectSuites)
	case "SSL_SUITES":
		p.SSLSuites = append(p.SSLSuites, args...)
		return nil
	case "SSL_DO_USE_CUSTOM_SNI":
		return parseBool(key, args, &p.SSLDoUseCustomSNI)
	case "SSL_CUSTOM_SNI":
		return parseString(key, args, &p.SSLCustomSNI)
	case "PPP_MRU":
		return parseInt(key, args, &p.PPPMru)
	case "PPP_MTU":
		return parseInt(key, args, &p.PPPMtu)
	case "PPP_AUTH_PROTOCOLS":
		return parseAuthProtocols(args, p)
	case "PPP_AUTH_TIMEOUT":
		return parseInt(key, args, &p.PPPAuthTimeout)
	case "PPP_IPv4_ENABLED":
		return parseBool(key, args, &p.PPPIPv4Enabled)
	case "PPP_IPv6_ENABLED":
		return parseBool(key, args, &p.PPPIPv6Enabled)
	case "PPP_DO_REQUEST_STATIC_IPv4_ADDRESS":
		return parseBool(key, args, &p.PPPDoRequestStaticIPv4)
	case "PPP_STATIC_IPv4_ADDRESS":
		return parseIPv4(key, args, &p.PPPStaticIPv4)
	case "DNS_DO_REQUEST_ADDRESS":
		return parseBool(key, args, &p.DNSDoRequestAddress)
	case "DNS_DO_USE_CUSTOM_SERVER":
		return parseBool(key, args, &p.DNSDoUseCustomServer)
	case "DNS_CUSTOM_ADDRESS":
		return parseIPv4(key, args, &p.DNSCustomAddress)
	case "ROUTE_DO_ADD_DEFAULT_ROUTE":
		return parseBool(key, args, &p.RouteDoAddDefaultRoute)
	case "ROUTE_DO_ROUTE_PRIVATE_ADDRESSES":
		return parseBool(key, args, &p.RouteDoRoutePrivateAddresses)
	case "ROUTE_DO_ADD_CUSTOM_ROUTES":
		return parseBool(key, args, &p.RouteDoAddCustomRoutes)
	case "ROUTE_CUSTOM_ROUTE":
		// repeatable: one CIDR per line
		if len(args) != 1 {
			return fmt.Errorf("%w: ROUTE_CUSTOM_ROUTE needs one arg", ErrBadConfig)
		}
		p.RouteCustomRoutes = append(p.RouteCustomRoutes, args[0])
		return nil
	case "ROUTE_DO_ENABLE_APP_BASED_RULE":
		return parseBool(key, args, &p.RouteDoEnableAppBasedRule)
	case "ROUTE_ALLOWED_APP":
		if len(args) != 1 {
			return fmt.Errorf("%w: ROUTE_ALLOWED_APP needs one arg", ErrBadConfig)
		}
		p.RouteAllowedApps = append(p.RouteAllowedApps, args[0])
		return nil
	case "RECONNECTION_ENABLED":
		return parseBool(key, args, &p.ReconnectionEnabled)
	case "RECONNECTION_COUNT":
		return parseInt(key, args, &p.ReconnectionCount)
	case "RECONNECTION_INTERVAL":
		return parseInt(key, args, &p.ReconnectionInterval)
	default:
		return fmt.Errorf("%w: unknown option: %s", ErrBadConfig, key)
	}
}

func ensureProxy(p *Profile) {
	if p.Proxy == nil {
		p.Proxy = &Proxy{Port: 8080}
	}
}

func parseString(key string, args []string, out *string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: %s needs one arg", ErrBadConfig, key)
	}
	*out = args[0]
	return nil
}

func parseInt(key string, args []string, out *int) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: %s needs one arg", ErrBadConfig, key)
	}
	value, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("%w: %s: %s", ErrBadConfig, key, err)
	}
	*out = value
	return nil
}

func parseBool(key string, args []string, out *bool) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: %s needs one arg", ErrBadConfig, key)
	}
	switch strings.ToLower(args[0]) {
	case "true", "1", "yes":
		*out = true
	case "false", "0", "no":
		*out = false
	default:
		return fmt.Errorf("%w: %s: bad boolean: %s", ErrBadConfig, key, args[0])
	}
	return nil
}

func parseIPv4(key string, args []string, out *[4]byte) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: %s needs one arg", ErrBadConfig, key)
	}
	ip := net.ParseIP(args[0])
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("%w: %s: bad IPv4 address: %s", ErrBadConfig, key, args[0])
	}
	copy(out[:], ip.To4())
	return nil
}

func parseTLSVersion(args []string, p *Profile) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: SSL_VERSION needs one arg", ErrBadConfig)
	}
	switch TLSVersion(args[0]) {
	case TLSVersionDefault, TLSVersion12, TLSVersion13:
		p.SSLVersion = TLSVersion(args[0])
		return nil
	default:
		return fmt.Errorf("%w: unsupported SSL_VERSION: %s", ErrBadConfig, args[0])
	}
}

func parseAuthProtocols(args []string, p *Profile) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: PPP_AUTH_PROTOCOLS needs at least one arg", ErrBadConfig)
	}
	protos := make([]model.AuthProto, 0, len(args))
	for _, arg := range args {
		switch strings.ToUpper(arg) {
		case "PAP":
			protos = append(protos, model.AuthPAP)
		case "MSCHAPV2":
			protos = append(protos, model.AuthMSCHAPv2)
		case "EAP-MSCHAPV2", "EAP_MSCHAPV2":
			protos = append(protos, model.AuthEAPMSCHAPv2)
		default:
			return fmt.Errorf("%w: unsupported auth protocol: %s", ErrBadConfig, arg)
		}
	}
	p.PPPAuthProtocols = protos
	return nil
}
