package wire

import (
	"fmt"

	"github.com/minisstp/minisstp/internal/bytesx"
)

// This file contains the codecs for the authentication frame bodies: PAP
// (RFC 1334), MS-CHAPv2 inside CHAP (RFC 2759), and the EAP encapsulation of
// MS-CHAPv2. The bodies parsed and produced here are the PPP frame body
// after the common {code, id, length} header.

// MarshalPAPRequest builds the Authenticate-Request body from UTF-8
// credentials.
func MarshalPAPRequest(username, password string) ([]byte, error) {
	if len(username) > 0xFF || len(password) > 0xFF {
		return nil, fmt.Errorf("%w: credentials too long", ErrMarshal)
	}
	buf := make([]byte, 0, 2+len(username)+len(password))
	buf = append(buf, byte(len(username)))
	buf = append(buf, username...)
	buf = append(buf, byte(len(password)))
	buf = append(buf, password...)
	return buf, nil
}

// ParsePAPReply extracts the optional message from an Authenticate-Ack or
// Authenticate-Nak body. An empty body is valid.
func ParsePAPReply(body []byte) (string, error) {
	if len(body) == 0 {
		return "", nil
	}
	msgLen := int(body[0])
	if msgLen > len(body)-1 {
		return "", fmt.Errorf("%w: pap message length %d overflows body", ErrParse, msgLen)
	}
	return string(body[1 : 1+msgLen]), nil
}

// ChapChallenge is the parsed CHAP Challenge body.
type ChapChallenge struct {
	Value []byte
	Name  string
}

// ParseChapChallenge parses a CHAP Challenge body: value-size, value, name.
func ParseChapChallenge(body []byte) (*ChapChallenge, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: empty chap challenge", ErrParse)
	}
	valueSize := int(body[0])
	if valueSize > len(body)-1 {
		return nil, fmt.Errorf("%w: chap value size %d overflows body", ErrParse, valueSize)
	}
	return &ChapChallenge{
		Value: append([]byte(nil), body[1:1+valueSize]...),
		Name:  string(body[1+valueSize:]),
	}, nil
}

// MS-CHAPv2 response layout inside the 49-byte CHAP response value.
const (
	chapResponseValueSize = 49
)

// MarshalChapResponse builds the CHAP Response body: a 49-byte value holding
// the 16-byte peer challenge, 8 reserved bytes, the 24-byte NT response and
// the flags byte, followed by the name.
func MarshalChapResponse(peerChallenge [16]byte, ntResponse [24]byte, name string) []byte {
	buf := make([]byte, 0, 1+chapResponseValueSize+len(name))
	buf = append(buf, chapResponseValueSize)
	buf = append(buf, peerChallenge[:]...)
	buf = append(buf, make([]byte, 8)...)
	buf = append(buf, ntResponse[:]...)
	buf = append(buf, 0) // flags
	buf = append(buf, name...)
	return buf
}

// EAP types we handle.
const (
	EAPTypeIdentity = byte(1)
	EAPTypeNak      = byte(3)
	EAPTypeMSAuth   = byte(26)
)

// MS-CHAPv2 opcodes inside EAP type 26.
const (
	MSChapV2OpChallenge      = byte(1)
	MSChapV2OpResponse       = byte(2)
	MSChapV2OpSuccess        = byte(3)
	MSChapV2OpFailure        = byte(4)
	MSChapV2OpChangePassword = byte(7)
)

// EAPPayload is the parsed EAP frame body: the type byte and its data.
type EAPPayload struct {
	Type byte
	Data []byte
}

// ParseEAPPayload splits an EAP Request/Response body into type and data.
// Success and Failure frames have an empty body and parse to a zero type.
func ParseEAPPayload(body []byte) *EAPPayload {
	if len(body) == 0 {
		return &EAPPayload{}
	}
	return &EAPPayload{Type: body[0], Data: body[1:]}
}

// MarshalEAPIdentity builds an EAP Identity response body.
func MarshalEAPIdentity(identity string) []byte {
	buf := make([]byte, 0, 1+len(identity))
	buf = append(buf, EAPTypeIdentity)
	return append(buf, identity...)
}

// EAPMSChapV2 is the parsed MS-CHAPv2 step embedded in an EAP type-26 frame:
// opcode, inner id, and the step payload after the inner length field.
type EAPMSChapV2 struct {
	OpCode byte
	ID     byte
	Data   []byte
}

// ParseEAPMSChapV2 parses the data of an EAP type-26 frame.
func ParseEAPMSChapV2(data []byte) (*EAPMSChapV2, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: eap-mschapv2 step too short: %d", ErrParse, len(data))
	}
	msLen := int(bytesx.Uint16(data[2:4]))
	if msLen < 4 || msLen > len(data) {
		return nil, fmt.Errorf("%w: eap-mschapv2 length %d out of range", ErrParse, msLen)
	}
	return &EAPMSChapV2{
		OpCode: data[0],
		ID:     data[1],
		Data:   data[4:msLen],
	}, nil
}

// MarshalEAPMSChapV2Response builds the EAP type-26 body carrying the
// MS-CHAPv2 response step.
func MarshalEAPMSChapV2Response(id byte, peerChallenge [16]byte, ntResponse [24]byte, name string) []byte {
	inner := MarshalChapResponse(peerChallenge, ntResponse, name)
	msLen := 4 + len(inner)
	buf := make([]byte, 0, 1+msLen)
	buf = append(buf, EAPTypeMSAuth)
	buf = append(buf, MSChapV2OpResponse, id)
	var lenBuf [2]byte
	bytesx.PutUint16(lenBuf[:], uint16(msLen))
	buf = append(buf, lenBuf[:]...)
	return append(buf, inner...)
}

// MarshalEAPMSChapV2SuccessResponse builds the EAP type-26 body
// acknowledging the server's success step.
func MarshalEAPMSChapV2SuccessResponse() []byte {
	return []byte{EAPTypeMSAuth, MSChapV2OpSuccess}
}
