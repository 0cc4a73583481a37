package model

import "fmt"

// SSTP packet framing constants. Every SSTP packet starts with the version
// byte 0x10 followed by the control flag, so the first two bytes read 0x1000
// for DATA and 0x1001 for CONTROL.
const (
	SSTPVersion    = byte(0x10)
	SSTPPacketData = uint16(0x1000)
	SSTPPacketCtrl = uint16(0x1001)
	SSTPHeaderSize = 4
	HDLCHeader     = uint16(0xFF03)
	PPPHeaderSize  = 4
)

// SSTPMessageType is the 2-byte SSTP control message type.
type SSTPMessageType uint16

const (
	SSTPCallConnectRequest = SSTPMessageType(1)
	SSTPCallConnectAck     = SSTPMessageType(2)
	SSTPCallConnectNak     = SSTPMessageType(3)
	SSTPCallConnected      = SSTPMessageType(4)
	SSTPCallAbort          = SSTPMessageType(5)
	SSTPCallDisconnect     = SSTPMessageType(6)
	SSTPCallDisconnectAck  = SSTPMessageType(7)
	SSTPEchoRequest        = SSTPMessageType(8)
	SSTPEchoResponse       = SSTPMessageType(9)
)

var sstpMessageNames = map[SSTPMessageType]string{
	SSTPCallConnectRequest: "CallConnectRequest",
	SSTPCallConnectAck:     "CallConnectAck",
	SSTPCallConnectNak:     "CallConnectNak",
	SSTPCallConnected:      "CallConnected",
	SSTPCallAbort:          "CallAbort",
	SSTPCallDisconnect:     "CallDisconnect",
	SSTPCallDisconnectAck:  "CallDisconnectAck",
	SSTPEchoRequest:        "EchoRequest",
	SSTPEchoResponse:       "EchoResponse",
}

// String implements fmt.Stringer.
func (t SSTPMessageType) String() string {
	if name, ok := sstpMessageNames[t]; ok {
		return name
	}
	return fmt.Sprintf("SSTPMessageType(%d)", uint16(t))
}

// AttributeID is the 1-byte SSTP attribute identifier.
type AttributeID byte

const (
	AttrEncapsulatedProtocol = AttributeID(1)
	AttrStatusInfo           = AttributeID(2)
	AttrCryptoBinding        = AttributeID(3)
	AttrCryptoBindingRequest = AttributeID(4)
)

var attributeNames = map[AttributeID]string{
	AttrEncapsulatedProtocol: "EncapsulatedProtocolId",
	AttrStatusInfo:           "StatusInfo",
	AttrCryptoBinding:        "CryptoBinding",
	AttrCryptoBindingRequest: "CryptoBindingRequest",
}

// String implements fmt.Stringer.
func (a AttributeID) String() string {
	if name, ok := attributeNames[a]; ok {
		return name
	}
	return fmt.Sprintf("AttributeID(%d)", byte(a))
}

// HashProtocol selects the digest used by the SSTP crypto binding.
type HashProtocol byte

const (
	HashProtocolSHA1   = HashProtocol(1)
	HashProtocolSHA256 = HashProtocol(2)
)

// String implements fmt.Stringer.
func (h HashProtocol) String() string {
	switch h {
	case HashProtocolSHA1:
		return "SHA1"
	case HashProtocolSHA256:
		return "SHA256"
	default:
		return fmt.Sprintf("HashProtocol(%d)", byte(h))
	}
}

// Attribute is an SSTP control attribute. Known attributes are typed
// variants; anything else is preserved verbatim as a [RawAttribute].
type Attribute interface {
	// AttributeID returns the attribute identifier.
	AttributeID() AttributeID
}

// EncapsulatedProtocolAttribute carries the 2-byte encapsulated protocol
// identifier; PPP is 1.
type EncapsulatedProtocolAttribute struct {
	Protocol uint16
}

// AttributeID implements Attribute.
func (*EncapsulatedProtocolAttribute) AttributeID() AttributeID { return AttrEncapsulatedProtocol }

// EncapsulatedProtocolPPP is the only encapsulated protocol we speak.
const EncapsulatedProtocolPPP = uint16(1)

// CryptoBindingRequestAttribute is the 40-byte Crypto-Binding-Request body:
// 3 reserved bytes, a hash-protocol bitmask, and a 32-byte nonce.
type CryptoBindingRequestAttribute struct {
	Bitmask byte
	Nonce   [32]byte
}

// AttributeID implements Attribute.
func (*CryptoBindingRequestAttribute) AttributeID() AttributeID { return AttrCryptoBindingRequest }

// CryptoBindingAttribute is the 104-byte Crypto-Binding body sent inside
// Call-Connected.
type CryptoBindingAttribute struct {
	HashProtocol HashProtocol
	Nonce        [32]byte
	CertHash     [32]byte
	CompoundMAC  [32]byte
}

// AttributeID implements Attribute.
func (*CryptoBindingAttribute) AttributeID() AttributeID { return AttrCryptoBinding }

// RawAttribute preserves an attribute we do not model. Body excludes the
// 4-byte attribute header.
type RawAttribute struct {
	ID   AttributeID
	Body []byte
}

// AttributeID implements Attribute.
func (a *RawAttribute) AttributeID() AttributeID { return a.ID }

// SSTPMessage is a parsed SSTP control packet.
type SSTPMessage struct {
	Type       SSTPMessageType
	Attributes []Attribute
}

// String implements fmt.Stringer.
func (m *SSTPMessage) String() string {
	return fmt.Sprintf("%s attrs=%d", m.Type, len(m.Attributes))
}

// FindAttribute returns the first attribute with the given ID, or nil.
func (m *SSTPMessage) FindAttribute(id AttributeID) Attribute {
	for _, attr := range m.Attributes {
		if attr.AttributeID() == id {
			return attr
		}
	}
	return nil
}
