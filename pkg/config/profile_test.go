package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/minisstp/minisstp/internal/model"
)

func writeProfileFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.conf")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	return path
}

func TestReadProfileFileFull(t *testing.T) {
	path := writeProfileFile(t, `
# a comment
HOSTNAME vpn.example.com
PORT 443
USERNAME alice
PASSWORD secret
PROXY_HOSTNAME proxy.local
PROXY_PORT 3128
SSL_VERSION TLSv1.2
SSL_DO_VERIFY true
SSL_DO_USE_CUSTOM_SNI true
SSL_CUSTOM_SNI cdn.example.net
PPP_MRU 1400
PPP_MTU 1400
PPP_AUTH_PROTOCOLS EAP-MSCHAPV2 MSCHAPV2 PAP
PPP_AUTH_TIMEOUT 10
PPP_IPv4_ENABLED true
PPP_IPv6_ENABLED true
PPP_DO_REQUEST_STATIC_IPv4_ADDRESS true
PPP_STATIC_IPv4_ADDRESS 10.0.0.5
DNS_DO_REQUEST_ADDRESS true
ROUTE_DO_ADD_DEFAULT_ROUTE true
ROUTE_DO_ADD_CUSTOM_ROUTES true
ROUTE_CUSTOM_ROUTE 192.168.1.0/24
ROUTE_CUSTOM_ROUTE 2001:db8::/32
RECONNECTION_ENABLED true
RECONNECTION_COUNT 5
RECONNECTION_INTERVAL 30
`)
	profile, err := ReadProfileFile(path)
	if err != nil {
		t.Fatalf("ReadProfileFile() failed: %v", err)
	}
	if profile.Hostname != "vpn.example.com" || profile.Port != 443 {
		t.Fatalf("bad server: %s:%d", profile.Hostname, profile.Port)
	}
	if profile.Proxy == nil || profile.Proxy.Host != "proxy.local" || profile.Proxy.Port != 3128 {
		t.Fatalf("bad proxy: %+v", profile.Proxy)
	}
	if profile.SSLVersion != TLSVersion12 || !profile.SSLDoUseCustomSNI || profile.SSLCustomSNI != "cdn.example.net" {
		t.Fatalf("bad tls options")
	}
	wantAuth := []model.AuthProto{model.AuthEAPMSCHAPv2, model.AuthMSCHAPv2, model.AuthPAP}
	if len(profile.PPPAuthProtocols) != 3 {
		t.Fatalf("bad auth protocols: %v", profile.PPPAuthProtocols)
	}
	for i, want := range wantAuth {
		if profile.PPPAuthProtocols[i] != want {
			t.Fatalf("auth protocol %d: got %s want %s", i, profile.PPPAuthProtocols[i], want)
		}
	}
	if profile.PPPStaticIPv4 != [4]byte{10, 0, 0, 5} {
		t.Fatalf("bad static address: %v", profile.PPPStaticIPv4)
	}
	if len(profile.RouteCustomRoutes) != 2 || profile.RouteCustomRoutes[1] != "2001:db8::/32" {
		t.Fatalf("bad custom routes: %v", profile.RouteCustomRoutes)
	}
	if profile.ReconnectionCount != 5 || profile.ReconnectionInterval != 30 {
		t.Fatalf("bad reconnection: %+v", profile)
	}
}

func TestReadProfileFileRejectsUnknownKey(t *testing.T) {
	path := writeProfileFile(t, "HOSTNAME x\nBOGUS_KEY 1\n")
	if _, err := ReadProfileFile(path); !errors.Is(err, ErrBadConfig) {
		t.Fatalf("expected ErrBadConfig, got %v", err)
	}
}

func TestValidateBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Profile)
	}{
		{"missing hostname", func(p *Profile) { p.Hostname = "" }},
		{"port too large", func(p *Profile) { p.Port = 70000 }},
		{"mru too small", func(p *Profile) { p.PPPMru = 67 }},
		{"mru too large", func(p *Profile) { p.PPPMru = 2001 }},
		{"mtu too small", func(p *Profile) { p.PPPMtu = 10 }},
		{"no auth protocols", func(p *Profile) { p.PPPAuthProtocols = nil }},
		{"auth timeout zero", func(p *Profile) { p.PPPAuthTimeout = 0 }},
		{"no ip families", func(p *Profile) { p.PPPIPv4Enabled = false; p.PPPIPv6Enabled = false }},
		{"reconnection count zero", func(p *Profile) { p.ReconnectionEnabled = true; p.ReconnectionCount = 0 }},
	}
	for _, tc := range tests {
		profile := NewProfile()
		profile.Hostname = "vpn.example.com"
		tc.mutate(profile)
		if err := profile.Validate(); !errors.Is(err, ErrBadConfig) {
			t.Fatalf("%s: expected ErrBadConfig, got %v", tc.name, err)
		}
	}
}

func TestValidateAcceptsBoundaryMRU(t *testing.T) {
	for _, mru := range []int{MinMRU, MaxMRU} {
		profile := NewProfile()
		profile.Hostname = "vpn.example.com"
		profile.PPPMru = mru
		profile.PPPMtu = mru
		if err := profile.Validate(); err != nil {
			t.Fatalf("mru %d: unexpected error: %v", mru, err)
		}
	}
}

func TestSetCustomRoutesTextSkipsBlankLines(t *testing.T) {
	profile := NewProfile()
	profile.SetCustomRoutesText("192.168.1.0/24\n\n  \n2001:db8::/32\n")
	if len(profile.RouteCustomRoutes) != 2 {
		t.Fatalf("bad routes: %v", profile.RouteCustomRoutes)
	}
}

func TestAuthEnabled(t *testing.T) {
	profile := NewProfile()
	profile.PPPAuthProtocols = []model.AuthProto{model.AuthPAP}
	if !profile.AuthEnabled(model.AuthPAP) || profile.AuthEnabled(model.AuthEAPMSCHAPv2) {
		t.Fatal("bad AuthEnabled behavior")
	}
}
