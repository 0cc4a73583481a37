package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The test vectors of RFC 2759 §9.2 and RFC 3079 §3.5.1.
var (
	testUsername      = "User"
	testPassword      = "clientPass"
	testAuthChallenge = [16]byte{
		0x5B, 0x5D, 0x7C, 0x7D, 0x7B, 0x3F, 0x2F, 0x3E,
		0x3C, 0x2C, 0x60, 0x21, 0x32, 0x26, 0x26, 0x28,
	}
	testPeerChallenge = [16]byte{
		0x21, 0x40, 0x23, 0x24, 0x25, 0x5E, 0x26, 0x2A,
		0x28, 0x29, 0x5F, 0x2B, 0x3A, 0x33, 0x7C, 0x7E,
	}
	testNTResponse = [24]byte{
		0x82, 0x30, 0x9E, 0xCD, 0x8D, 0x70, 0x8B, 0x5E,
		0xA0, 0x8F, 0xAA, 0x39, 0x81, 0xCD, 0x83, 0x54,
		0x42, 0x33, 0x11, 0x4A, 0x3D, 0x85, 0xD6, 0xDF,
	}
)

func TestNtPasswordHashVector(t *testing.T) {
	want := [16]byte{
		0x44, 0xEB, 0xBA, 0x8D, 0x53, 0x12, 0xB8, 0xD6,
		0x11, 0x47, 0x44, 0x11, 0xF5, 0x69, 0x89, 0xAE,
	}
	assert.Equal(t, want, ntPasswordHash(testPassword))
}

func TestChallengeHashVector(t *testing.T) {
	want := [8]byte{0xD0, 0x2E, 0x43, 0x86, 0xBC, 0xE9, 0x12, 0x26}
	assert.Equal(t, want, challengeHash(testPeerChallenge, testAuthChallenge, testUsername))
}

func TestGenerateNTResponseVector(t *testing.T) {
	got := GenerateNTResponse(testAuthChallenge, testPeerChallenge, testUsername, testPassword)
	assert.Equal(t, testNTResponse, got)
}

func TestGenerateAuthenticatorResponseVector(t *testing.T) {
	got := GenerateAuthenticatorResponse(testPassword, testNTResponse,
		testPeerChallenge, testAuthChallenge, testUsername)
	require.Equal(t, "S=407A5589115FD0D6209F510FE9C04566932CDA56", got)
}

func TestVerifyAuthenticatorResponseAcceptsTrailer(t *testing.T) {
	message := "S=407A5589115FD0D6209F510FE9C04566932CDA56 M=Welcome"
	assert.True(t, VerifyAuthenticatorResponse(testPassword, testNTResponse,
		testPeerChallenge, testAuthChallenge, testUsername, message))
	assert.False(t, VerifyAuthenticatorResponse(testPassword, testNTResponse,
		testPeerChallenge, testAuthChallenge, testUsername, "S=0000"))
}

func TestMasterKeyVector(t *testing.T) {
	want := [16]byte{
		0xFD, 0xEC, 0xE3, 0x71, 0x7A, 0x8C, 0x83, 0x8C,
		0xB3, 0x88, 0xE5, 0x27, 0xAE, 0x3C, 0xDD, 0x31,
	}
	assert.Equal(t, want, MasterKey(testPassword, testNTResponse))
}

func TestHLAKLayout(t *testing.T) {
	hlak := HLAK(testPassword, testNTResponse)
	master := MasterKey(testPassword, testNTResponse)
	assert.Equal(t, master[:], hlak[:16])
	assert.Equal(t, make([]byte, 16), hlak[16:])
}
