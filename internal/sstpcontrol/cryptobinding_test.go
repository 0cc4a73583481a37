package sstpcontrol

import (
	"crypto/hmac"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/minisstp/minisstp/internal/model"
	"github.com/minisstp/minisstp/internal/wire"
)

func TestBuildCallConnectedSHA256(t *testing.T) {
	var nonce [32]byte
	for i := range nonce {
		nonce[i] = byte(i)
	}
	var hlak [32]byte // PAP: all zeros
	leafDER := []byte{0x30, 0x82, 0x01, 0x00, 0xAA, 0xBB}

	packet, err := BuildCallConnected(model.HashProtocolSHA256, nonce, hlak, leafDER)
	require.NoError(t, err)
	require.Len(t, packet, 112) // 8 header + 104 attribute

	msg, err := wire.ParseSSTPControl(packet)
	require.NoError(t, err)
	require.Equal(t, model.SSTPCallConnected, msg.Type)

	attr, ok := msg.FindAttribute(model.AttrCryptoBinding).(*model.CryptoBindingAttribute)
	require.True(t, ok)
	require.Equal(t, model.HashProtocolSHA256, attr.HashProtocol)
	require.Equal(t, nonce, attr.Nonce)

	// cert hash is SHA-256 of the DER
	wantCert := sha256.Sum256(leafDER)
	require.Equal(t, wantCert[:], attr.CertHash[:])

	// independent recomputation of the compound MAC: CMK from the zero
	// HLAK with seed || 0x2000 little-endian || 0x01
	seed := append([]byte("SSTP inner method derived CMK"), 0x20, 0x00, 0x01)
	mac := hmac.New(sha256.New, hlak[:])
	mac.Write(seed)
	cmk := mac.Sum(nil)

	zeroed := append([]byte(nil), packet...)
	for i := cmacOffset; i < cmacOffset+32; i++ {
		zeroed[i] = 0
	}
	mac = hmac.New(sha256.New, cmk)
	mac.Write(zeroed)
	require.Equal(t, mac.Sum(nil), attr.CompoundMAC[:])
}

func TestBuildCallConnectedSHA1PadsDigests(t *testing.T) {
	var nonce, hlak [32]byte
	leafDER := []byte{1, 2, 3}

	packet, err := BuildCallConnected(model.HashProtocolSHA1, nonce, hlak, leafDER)
	require.NoError(t, err)

	msg, err := wire.ParseSSTPControl(packet)
	require.NoError(t, err)
	attr := msg.FindAttribute(model.AttrCryptoBinding).(*model.CryptoBindingAttribute)

	// SHA-1 digests are 20 bytes; the trailing 12 bytes stay zero
	require.Equal(t, make([]byte, 12), attr.CertHash[20:])
	require.Equal(t, make([]byte, 12), attr.CompoundMAC[20:])
}

func TestVerifyCallConnectedRoundTrip(t *testing.T) {
	var nonce, hlak [32]byte
	hlak[0] = 0x42

	for _, proto := range []model.HashProtocol{model.HashProtocolSHA1, model.HashProtocolSHA256} {
		packet, err := BuildCallConnected(proto, nonce, hlak, []byte{9, 9, 9})
		require.NoError(t, err)
		require.True(t, VerifyCallConnected(proto, hlak, packet), "proto %s", proto)

		// tampering breaks the MAC
		packet[10] ^= 0xFF
		require.False(t, VerifyCallConnected(proto, hlak, packet), "proto %s", proto)
	}
}

func TestBuildCallConnectedRejectsUnknownHash(t *testing.T) {
	var nonce, hlak [32]byte
	_, err := BuildCallConnected(model.HashProtocol(9), nonce, hlak, nil)
	require.Error(t, err)
}
