// Package sstpcontrol implements the SSTP control client: the call-setup
// request task, the post-connected control task, and the Call-Connected
// packet with its crypto binding.
package sstpcontrol

import (
	"crypto/hmac"
	"crypto/sha1" //#nosec G505 -- SHA-1 is a protocol-selectable binding hash
	"crypto/sha256"
	"fmt"
	"hash"

	"github.com/minisstp/minisstp/internal/model"
	"github.com/minisstp/minisstp/internal/wire"
)

// cmkSeed is the label of the compound-MAC key derivation.
var cmkSeed = []byte("SSTP inner method derived CMK")

// cmacOffset is where the compound MAC sits inside the serialized
// Call-Connected packet: the SSTP header (8), the attribute header (4),
// 3 reserved bytes, the hash protocol, the nonce and the cert hash.
const cmacOffset = 8 + 4 + 3 + 1 + 32 + 32

func bindingHash(proto model.HashProtocol) (func() hash.Hash, int, error) {
	switch proto {
	case model.HashProtocolSHA1:
		return sha1.New, sha1.Size, nil
	case model.HashProtocolSHA256:
		return sha256.New, sha256.Size, nil
	default:
		return nil, 0, fmt.Errorf("%w: hash protocol %d", wire.ErrMarshal, proto)
	}
}

// CertHash digests the server's leaf certificate (DER) for the binding,
// padded with trailing zeros to 32 bytes.
func CertHash(proto model.HashProtocol, leafDER []byte) ([32]byte, error) {
	var out [32]byte
	newHash, _, err := bindingHash(proto)
	if err != nil {
		return out, err
	}
	h := newHash()
	h.Write(leafDER)
	copy(out[:], h.Sum(nil))
	return out, nil
}

// compoundMAC computes CMAC = HMAC(CMK, packet) with
// CMK = HMAC(hlak, seed || uint16-le(cmacSize) || 0x01), both HMACs under
// the binding hash.
func compoundMAC(proto model.HashProtocol, hlak [32]byte, packet []byte) ([32]byte, error) {
	var out [32]byte
	newHash, size, err := bindingHash(proto)
	if err != nil {
		return out, err
	}

	seed := make([]byte, 0, len(cmkSeed)+3)
	seed = append(seed, cmkSeed...)
	seed = append(seed, byte(size), 0x00, 0x01)

	mac := hmac.New(newHash, hlak[:])
	mac.Write(seed)
	cmk := mac.Sum(nil)

	mac = hmac.New(newHash, cmk)
	mac.Write(packet)
	copy(out[:], mac.Sum(nil))
	return out, nil
}

// BuildCallConnected assembles the Call-Connected packet: the crypto binding
// echoes the server nonce, carries the leaf certificate hash and the
// compound MAC computed over the packet with a zeroed MAC field.
func BuildCallConnected(proto model.HashProtocol, nonce [32]byte, hlak [32]byte, leafDER []byte) ([]byte, error) {
	certHash, err := CertHash(proto, leafDER)
	if err != nil {
		return nil, err
	}

	msg := &model.SSTPMessage{
		Type: model.SSTPCallConnected,
		Attributes: []model.Attribute{
			&model.CryptoBindingAttribute{
				HashProtocol: proto,
				Nonce:        nonce,
				CertHash:     certHash,
			},
		},
	}
	packet, err := wire.MarshalSSTPControl(msg)
	if err != nil {
		return nil, err
	}

	cmac, err := compoundMAC(proto, hlak, packet)
	if err != nil {
		return nil, err
	}
	copy(packet[cmacOffset:cmacOffset+32], cmac[:])
	return packet, nil
}

// VerifyCallConnected recomputes the compound MAC of a serialized
// Call-Connected packet and compares it to the embedded one.
func VerifyCallConnected(proto model.HashProtocol, hlak [32]byte, packet []byte) bool {
	if len(packet) != cmacOffset+32 {
		return false
	}
	zeroed := append([]byte(nil), packet...)
	for i := cmacOffset; i < cmacOffset+32; i++ {
		zeroed[i] = 0
	}
	want, err := compoundMAC(proto, hlak, zeroed)
	if err != nil {
		return false
	}
	return hmac.Equal(want[:], packet[cmacOffset:cmacOffset+32])
}
