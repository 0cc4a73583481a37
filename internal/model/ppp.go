package model

import "fmt"

// PPPProto is the 2-byte PPP protocol number carried after the HDLC header.
type PPPProto uint16

const (
	ProtoIPv4   = PPPProto(0x0021)
	ProtoIPv6   = PPPProto(0x0057)
	ProtoLCP    = PPPProto(0xC021)
	ProtoPAP    = PPPProto(0xC023)
	ProtoCHAP   = PPPProto(0xC223)
	ProtoEAP    = PPPProto(0xC227)
	ProtoIPCP   = PPPProto(0x8021)
	ProtoIPv6CP = PPPProto(0x8057)
)

var pppProtoNames = map[PPPProto]string{
	ProtoIPv4:   "IPv4",
	ProtoIPv6:   "IPv6",
	ProtoLCP:    "LCP",
	ProtoPAP:    "PAP",
	ProtoCHAP:   "CHAP",
	ProtoEAP:    "EAP",
	ProtoIPCP:   "IPCP",
	ProtoIPv6CP: "IPv6CP",
}

// String implements fmt.Stringer.
func (p PPPProto) String() string {
	if name, ok := pppProtoNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PPPProto(%#04x)", uint16(p))
}

// Code is the 1-byte PPP frame code.
type Code byte

// Configure codes shared by LCP, IPCP and IPv6CP.
const (
	CodeConfigureRequest = Code(1)
	CodeConfigureAck     = Code(2)
	CodeConfigureNak     = Code(3)
	CodeConfigureReject  = Code(4)
	CodeTerminateRequest = Code(5)
	CodeTerminateAck     = Code(6)
	CodeCodeReject       = Code(7)
	CodeProtocolReject   = Code(8)
	CodeEchoRequest      = Code(9)
	CodeEchoReply        = Code(10)
	CodeDiscardRequest   = Code(11)
)

// PAP codes.
const (
	CodeAuthenticateRequest = Code(1)
	CodeAuthenticateAck     = Code(2)
	CodeAuthenticateNak     = Code(3)
)

// CHAP codes.
const (
	CodeChapChallenge = Code(1)
	CodeChapResponse  = Code(2)
	CodeChapSuccess   = Code(3)
	CodeChapFailure   = Code(4)
)

// EAP codes.
const (
	CodeEAPRequest  = Code(1)
	CodeEAPResponse = Code(2)
	CodeEAPSuccess  = Code(3)
	CodeEAPFailure  = Code(4)
)

// IsConfigure returns true for the four Configure codes handled by the
// negotiator state machine.
func (c Code) IsConfigure() bool {
	return c >= CodeConfigureRequest && c <= CodeConfigureReject
}

// Frame is a parsed PPP control frame: the protocol number, the common
// {code, id} header, and the validated body after the 4-byte header. The body
// is owned by the frame; consumers parse it with their own option codec.
type Frame struct {
	Proto PPPProto
	Code  Code
	ID    byte
	Body  []byte
}

// String implements fmt.Stringer.
func (f *Frame) String() string {
	return fmt.Sprintf("%s code=%d id=%d len=%d", f.Proto, f.Code, f.ID, len(f.Body)+4)
}

// AuthProto identifies the PPP authentication protocol negotiated by LCP.
type AuthProto int

const (
	AuthNone AuthProto = iota
	AuthPAP
	AuthMSCHAPv2
	AuthEAPMSCHAPv2
)

var authProtoNames = map[AuthProto]string{
	AuthNone:        "none",
	AuthPAP:         "PAP",
	AuthMSCHAPv2:    "MSCHAPv2",
	AuthEAPMSCHAPv2: "EAP-MSCHAPv2",
}

// String implements fmt.Stringer.
func (a AuthProto) String() string {
	if name, ok := authProtoNames[a]; ok {
		return name
	}
	return fmt.Sprintf("AuthProto(%d)", int(a))
}

// Option is a PPP configure option. Known options are typed variants; anything
// else is preserved verbatim as an [UnknownOption] so that serializing a
// parsed option list reproduces the input bytes in order.
type Option interface {
	// OptionType returns the 1-byte option type.
	OptionType() byte
}

// Option types used by LCP.
const (
	OptionTypeMRU   = byte(1)
	OptionTypeAuth  = byte(3)
	OptionTypeMagic = byte(5)
)

// Option types used by IPCP.
const (
	OptionTypeIPAddress  = byte(3)
	OptionTypePrimaryDNS = byte(129)
)

// Option types used by IPv6CP.
const (
	OptionTypeInterfaceID = byte(1)
)

// MRUOption is the LCP Maximum-Receive-Unit option.
type MRUOption struct {
	MRU uint16
}

// OptionType implements Option.
func (*MRUOption) OptionType() byte { return OptionTypeMRU }

// Auth protocol numbers carried inside the LCP authentication option.
const (
	AuthProtoPAP  = uint16(0xC023)
	AuthProtoCHAP = uint16(0xC223)
	AuthProtoEAP  = uint16(0xC227)

	// ChapAlgorithmMSCHAPv2 is the only CHAP algorithm we accept.
	ChapAlgorithmMSCHAPv2 = byte(0x81)
)

// AuthOption is the LCP Authentication-Protocol option. Algorithm is only
// meaningful when Protocol is CHAP.
type AuthOption struct {
	Protocol  uint16
	Algorithm byte
}

// OptionType implements Option.
func (*AuthOption) OptionType() byte { return OptionTypeAuth }

// IPAddressOption is the IPCP IP-Address option.
type IPAddressOption struct {
	Addr [4]byte
}

// OptionType implements Option.
func (*IPAddressOption) OptionType() byte { return OptionTypeIPAddress }

// DNSOption is the IPCP Primary-DNS-Server option.
type DNSOption struct {
	Addr [4]byte
}

// OptionType implements Option.
func (*DNSOption) OptionType() byte { return OptionTypePrimaryDNS }

// InterfaceIDOption is the IPv6CP Interface-Identifier option.
type InterfaceIDOption struct {
	ID [8]byte
}

// OptionType implements Option.
func (*InterfaceIDOption) OptionType() byte { return OptionTypeInterfaceID }

// UnknownOption preserves an option we do not understand. Value excludes the
// 2-byte TLV header.
type UnknownOption struct {
	Type  byte
	Value []byte
}

// OptionType implements Option.
func (o *UnknownOption) OptionType() byte { return o.Type }
