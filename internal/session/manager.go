// Package session holds the state shared by the tunnel tasks: the immutable
// configuration, the values negotiated so far, and the frame-id allocator.
package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/minisstp/minisstp/internal/bytesx"
	"github.com/minisstp/minisstp/internal/model"
	"github.com/minisstp/minisstp/internal/optional"
	"github.com/minisstp/minisstp/pkg/config"
)

// Manager manages the session state. The zero value is invalid. Please,
// construct using [NewManager]. This struct is concurrency safe; the engine
// is the sole mutator except where a negotiator owns a field during its
// phase (e.g. the IPCP negotiator writes the IPv4 address).
type Manager struct {
	config *config.Config
	logger model.Logger

	// mu protects all mutable state below.
	mu sync.RWMutex

	frameID       byte
	guid          string
	currentMRU    uint16
	currentAuth   model.AuthProto
	currentIPv4   [4]byte
	currentIPv6   [8]byte
	proposedDNS   [4]byte
	isDNSRejected bool
	hlak          optional.Value[[32]byte]
	nonce         [32]byte
	hashProtocol  model.HashProtocol
}

// NewManager returns a [Manager] ready to be used. The GUID identifying this
// tunnel attempt is allocated here.
func NewManager(config *config.Config) (*Manager, error) {
	profile := config.Profile()
	m := &Manager{
		config:      config,
		logger:      config.Logger(),
		guid:        uuid.NewString(),
		currentMRU:  uint16(profile.PPPMru),
		currentAuth: model.AuthNone,
	}
	if profile.PPPDoRequestStaticIPv4 {
		m.currentIPv4 = profile.PPPStaticIPv4
	}
	return m, nil
}

// Config returns the immutable configuration.
func (m *Manager) Config() *config.Config {
	return m.config
}

// GUID returns the correlation GUID of this tunnel attempt.
func (m *Manager) GUID() string {
	return m.guid
}

// NextFrameID allocates the next PPP frame id. IDs wrap modulo 256.
func (m *Manager) NextFrameID() byte {
	defer m.mu.Unlock()
	m.mu.Lock()
	id := m.frameID
	m.frameID++
	return id
}

// CurrentMRU returns the MRU negotiated so far.
func (m *Manager) CurrentMRU() uint16 {
	defer m.mu.RUnlock()
	m.mu.RLock()
	return m.currentMRU
}

// SetCurrentMRU records the MRU. Owned by the LCP negotiator during its phase.
func (m *Manager) SetCurrentMRU(mru uint16) {
	defer m.mu.Unlock()
	m.mu.Lock()
	m.currentMRU = mru
}

// CurrentAuth returns the authentication protocol negotiated by LCP.
func (m *Manager) CurrentAuth() model.AuthProto {
	defer m.mu.RUnlock()
	m.mu.RLock()
	return m.currentAuth
}

// SetCurrentAuth records the authentication protocol.
func (m *Manager) SetCurrentAuth(auth model.AuthProto) {
	defer m.mu.Unlock()
	m.mu.Lock()
	m.currentAuth = auth
}

// CurrentIPv4 returns the IPv4 address negotiated so far.
func (m *Manager) CurrentIPv4() [4]byte {
	defer m.mu.RUnlock()
	m.mu.RLock()
	return m.currentIPv4
}

// SetCurrentIPv4 records the IPv4 address. Owned by the IPCP negotiator.
func (m *Manager) SetCurrentIPv4(addr [4]byte) {
	defer m.mu.Unlock()
	m.mu.Lock()
	m.currentIPv4 = addr
}

// CurrentIPv6 returns the IPv6 interface identifier negotiated so far.
func (m *Manager) CurrentIPv6() [8]byte {
	defer m.mu.RUnlock()
	m.mu.RLock()
	return m.currentIPv6
}

// SetCurrentIPv6 records the IPv6 interface identifier. Owned by the IPv6CP
// negotiator.
func (m *Manager) SetCurrentIPv6(id [8]byte) {
	defer m.mu.Unlock()
	m.mu.Lock()
	m.currentIPv6 = id
}

// ProposedDNS returns the DNS address proposed by the server, which may be
// zero when none was proposed.
func (m *Manager) ProposedDNS() [4]byte {
	defer m.mu.RUnlock()
	m.mu.RLock()
	return m.proposedDNS
}

// SetProposedDNS records the server-proposed DNS address. The address is
// stored as received, without validation.
func (m *Manager) SetProposedDNS(addr [4]byte) {
	defer m.mu.Unlock()
	m.mu.Lock()
	m.proposedDNS = addr
}

// IsDNSRejected returns whether the peer rejected our DNS option.
func (m *Manager) IsDNSRejected() bool {
	defer m.mu.RUnlock()
	m.mu.RLock()
	return m.isDNSRejected
}

// SetDNSRejected records a peer DNS rejection; further configure requests
// must not carry the DNS option.
func (m *Manager) SetDNSRejected() {
	defer m.mu.Unlock()
	m.mu.Lock()
	m.isDNSRejected = true
}

// HLAK returns the higher-layer authentication key for the crypto binding.
// For PAP the key is all zeros; for the MS-CHAPv2 family it must have been
// set by the authenticator.
func (m *Manager) HLAK() ([32]byte, bool) {
	defer m.mu.RUnlock()
	m.mu.RLock()
	if m.hlak.IsNone() {
		return [32]byte{}, false
	}
	return m.hlak.Unwrap(), true
}

// SetHLAK records the higher-layer authentication key.
func (m *Manager) SetHLAK(hlak [32]byte) {
	defer m.mu.Unlock()
	m.mu.Lock()
	m.hlak = optional.Some(hlak)
}

// Nonce returns the nonce echoed from Call-Connect-Ack.
func (m *Manager) Nonce() [32]byte {
	defer m.mu.RUnlock()
	m.mu.RLock()
	return m.nonce
}

// HashProtocol returns the hash protocol chosen from Call-Connect-Ack.
func (m *Manager) HashProtocol() model.HashProtocol {
	defer m.mu.RUnlock()
	m.mu.RLock()
	return m.hashProtocol
}

// SetCryptoBindingRequest records the server's crypto-binding parameters.
func (m *Manager) SetCryptoBindingRequest(nonce [32]byte, hash model.HashProtocol) {
	defer m.mu.Unlock()
	m.mu.Lock()
	m.nonce = nonce
	m.hashProtocol = hash
}

// NewPeerChallenge draws a random 16-byte MS-CHAPv2 peer challenge.
func NewPeerChallenge() ([16]byte, error) {
	var out [16]byte
	buf, err := bytesx.GenRandomBytes(16)
	if err != nil {
		return out, err
	}
	copy(out[:], buf)
	return out, nil
}
