// Package auth implements the PPP authenticators: PAP, MS-CHAPv2 inside
// CHAP, and EAP-MSCHAPv2. The MS-CHAPv2 family derives the higher-layer
// authentication key consumed by the SSTP crypto binding.
package auth

import (
	"crypto/des"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"unicode/utf16"

	"golang.org/x/crypto/md4" //#nosec G501 -- mandated by RFC 2759
)

// The magic constants of RFC 2759 §8.2 and RFC 3079 §3.4.
var (
	authenticatorMagic1 = []byte{
		0x4D, 0x61, 0x67, 0x69, 0x63, 0x20, 0x73, 0x65, 0x72, 0x76,
		0x65, 0x72, 0x20, 0x74, 0x6F, 0x20, 0x63, 0x6C, 0x69, 0x65,
		0x6E, 0x74, 0x20, 0x73, 0x69, 0x67, 0x6E, 0x69, 0x6E, 0x67,
		0x20, 0x63, 0x6F, 0x6E, 0x73, 0x74, 0x61, 0x6E, 0x74,
	}
	authenticatorMagic2 = []byte{
		0x50, 0x61, 0x64, 0x20, 0x74, 0x6F, 0x20, 0x6D, 0x61, 0x6B,
		0x65, 0x20, 0x69, 0x74, 0x20, 0x64, 0x6F, 0x20, 0x6D, 0x6F,
		0x72, 0x65, 0x20, 0x74, 0x68, 0x61, 0x6E, 0x20, 0x6F, 0x6E,
		0x65, 0x20, 0x69, 0x74, 0x65, 0x72, 0x61, 0x74, 0x69, 0x6F,
		0x6E,
	}
	masterKeyMagic = []byte("This is the MPPE Master Key")
)

// utf16leBytes encodes a password the way MS-CHAPv2 wants it.
func utf16leBytes(s string) []byte {
	codes := utf16.Encode([]rune(s))
	out := make([]byte, 2*len(codes))
	for i, c := range codes {
		binary.LittleEndian.PutUint16(out[2*i:], c)
	}
	return out
}

// ntPasswordHash is NtPasswordHash of RFC 2759 §8.3.
func ntPasswordHash(password string) [16]byte {
	h := md4.New() //#nosec G401 -- mandated by RFC 2759
	h.Write(utf16leBytes(password))
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

// hashNtPasswordHash is HashNtPasswordHash of RFC 2759 §8.4.
func hashNtPasswordHash(hash [16]byte) [16]byte {
	h := md4.New() //#nosec G401 -- mandated by RFC 2759
	h.Write(hash[:])
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

// challengeHash is ChallengeHash of RFC 2759 §8.2.
func challengeHash(peerChallenge, authChallenge [16]byte, username string) [8]byte {
	h := sha1.New() //#nosec G401 -- mandated by RFC 2759
	h.Write(peerChallenge[:])
	h.Write(authChallenge[:])
	h.Write([]byte(username))
	var out [8]byte
	copy(out[:], h.Sum(nil))
	return out
}

// desKeyWithParity spreads a 7-byte key over the 8-byte DES key format,
// leaving the parity bits zero (DES ignores them).
func desKeyWithParity(key7 []byte) []byte {
	key8 := []byte{
		key7[0] >> 1,
		(key7[0]&0x01)<<6 | key7[1]>>2,
		(key7[1]&0x03)<<5 | key7[2]>>3,
		(key7[2]&0x07)<<4 | key7[3]>>4,
		(key7[3]&0x0F)<<3 | key7[4]>>5,
		(key7[4]&0x1F)<<2 | key7[5]>>6,
		(key7[5]&0x3F)<<1 | key7[6]>>7,
		key7[6] & 0x7F,
	}
	for i := range key8 {
		key8[i] <<= 1
	}
	return key8
}

// desEncryptBlock is DesEncrypt of RFC 2759 §8.6.
func desEncryptBlock(clear [8]byte, key7 []byte) [8]byte {
	cipher, err := des.NewCipher(desKeyWithParity(key7)) //#nosec G405 -- mandated by RFC 2759
	var out [8]byte
	if err != nil {
		return out
	}
	cipher.Encrypt(out[:], clear[:])
	return out
}

// challengeResponse is ChallengeResponse of RFC 2759 §8.5.
func challengeResponse(challenge [8]byte, passwordHash [16]byte) [24]byte {
	var zPasswordHash [21]byte
	copy(zPasswordHash[:], passwordHash[:])

	var out [24]byte
	for i := 0; i < 3; i++ {
		block := desEncryptBlock(challenge, zPasswordHash[7*i:7*i+7])
		copy(out[8*i:], block[:])
	}
	return out
}

// GenerateNTResponse is GenerateNTResponse of RFC 2759 §8.1.
func GenerateNTResponse(authChallenge, peerChallenge [16]byte, username, password string) [24]byte {
	challenge := challengeHash(peerChallenge, authChallenge, username)
	passwordHash := ntPasswordHash(password)
	return challengeResponse(challenge, passwordHash)
}

// GenerateAuthenticatorResponse is GenerateAuthenticatorResponse of RFC 2759
// §8.7, returned in the "S=<40 hex digits>" form the Success message uses.
func GenerateAuthenticatorResponse(password string, ntResponse [24]byte, peerChallenge, authChallenge [16]byte, username string) string {
	passwordHashHash := hashNtPasswordHash(ntPasswordHash(password))

	h := sha1.New() //#nosec G401 -- mandated by RFC 2759
	h.Write(passwordHashHash[:])
	h.Write(ntResponse[:])
	h.Write(authenticatorMagic1)
	digest := h.Sum(nil)

	challenge := challengeHash(peerChallenge, authChallenge, username)

	h = sha1.New() //#nosec G401 -- mandated by RFC 2759
	h.Write(digest)
	h.Write(challenge[:])
	h.Write(authenticatorMagic2)
	digest = h.Sum(nil)

	return "S=" + strings.ToUpper(hex.EncodeToString(digest))
}

// VerifyAuthenticatorResponse checks the "S=..." token at the start of a
// Success message against the locally computed value.
func VerifyAuthenticatorResponse(password string, ntResponse [24]byte, peerChallenge, authChallenge [16]byte, username, message string) bool {
	want := GenerateAuthenticatorResponse(password, ntResponse, peerChallenge, authChallenge, username)
	return strings.HasPrefix(strings.TrimSpace(message), want)
}

// MasterKey is GetMasterKey of RFC 3079 §3.4.
func MasterKey(password string, ntResponse [24]byte) [16]byte {
	passwordHashHash := hashNtPasswordHash(ntPasswordHash(password))

	h := sha1.New() //#nosec G401 -- mandated by RFC 3079
	h.Write(passwordHashHash[:])
	h.Write(ntResponse[:])
	h.Write(masterKeyMagic)

	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HLAK builds the 32-byte higher-layer authentication key from the MS-CHAPv2
// master key; the upper half stays zero.
func HLAK(password string, ntResponse [24]byte) [32]byte {
	master := MasterKey(password, ntResponse)
	var out [32]byte
	copy(out[:16], master[:])
	return out
}
