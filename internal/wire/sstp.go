package wire

import (
	"fmt"

	"github.com/minisstp/minisstp/internal/bytesx"
	"github.com/minisstp/minisstp/internal/model"
)

// Attribute sizes on the wire, header included.
const (
	attrHeaderSize               = 4
	attrEncapsulatedProtocolSize = 6
	attrCryptoBindingReqSize     = 40
	attrCryptoBindingSize        = 104
)

// SSTPPacketLength returns the declared total length of the SSTP packet whose
// 4-byte header is at the start of b.
func SSTPPacketLength(b []byte) int {
	return int(bytesx.Uint16(b[2:4]) & 0x0FFF)
}

// IsSSTPControl reports whether the packet header declares a control packet.
func IsSSTPControl(b []byte) bool {
	return bytesx.Uint16(b[0:2]) == model.SSTPPacketCtrl
}

// IsSSTPData reports whether the packet header declares a data packet.
func IsSSTPData(b []byte) bool {
	return bytesx.Uint16(b[0:2]) == model.SSTPPacketData
}

// ParseSSTPControl parses a complete SSTP control packet, header included.
func ParseSSTPControl(b []byte) (*model.SSTPMessage, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("%w: sstp control packet too short: %d", ErrParse, len(b))
	}
	if !IsSSTPControl(b) {
		return nil, fmt.Errorf("%w: not an sstp control packet", ErrParse)
	}
	if SSTPPacketLength(b) != len(b) {
		return nil, fmt.Errorf("%w: sstp length %d does not match buffer %d", ErrParse, SSTPPacketLength(b), len(b))
	}
	msg := &model.SSTPMessage{
		Type: model.SSTPMessageType(bytesx.Uint16(b[4:6])),
	}
	if _, ok := sstpKnownMessages[msg.Type]; !ok {
		return nil, fmt.Errorf("%w: unknown sstp message type %d", ErrParse, uint16(msg.Type))
	}
	attrCount := int(bytesx.Uint16(b[6:8]))
	b = b[8:]
	for i := 0; i < attrCount; i++ {
		if len(b) < attrHeaderSize {
			return nil, fmt.Errorf("%w: truncated sstp attribute header", ErrParse)
		}
		id := model.AttributeID(b[1])
		attrLen := int(bytesx.Uint16(b[2:4]))
		if attrLen < attrHeaderSize || attrLen > len(b) {
			return nil, fmt.Errorf("%w: sstp attribute length %d out of range", ErrParse, attrLen)
		}
		attr, err := parseAttribute(id, b[:attrLen])
		if err != nil {
			return nil, err
		}
		msg.Attributes = append(msg.Attributes, attr)
		b = b[attrLen:]
	}
	if len(b) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after sstp attributes", ErrParse, len(b))
	}
	return msg, nil
}

var sstpKnownMessages = map[model.SSTPMessageType]bool{
	model.SSTPCallConnectRequest: true,
	model.SSTPCallConnectAck:     true,
	model.SSTPCallConnectNak:     true,
	model.SSTPCallConnected:      true,
	model.SSTPCallAbort:          true,
	model.SSTPCallDisconnect:     true,
	model.SSTPCallDisconnectAck:  true,
	model.SSTPEchoRequest:        true,
	model.SSTPEchoResponse:       true,
}

func parseAttribute(id model.AttributeID, b []byte) (model.Attribute, error) {
	switch id {
	case model.AttrEncapsulatedProtocol:
		if len(b) != attrEncapsulatedProtocolSize {
			return nil, fmt.Errorf("%w: bad encapsulated-protocol size %d", ErrParse, len(b))
		}
		return &model.EncapsulatedProtocolAttribute{Protocol: bytesx.Uint16(b[4:6])}, nil

	case model.AttrCryptoBindingRequest:
		if len(b) != attrCryptoBindingReqSize {
			return nil, fmt.Errorf("%w: bad crypto-binding-request size %d", ErrParse, len(b))
		}
		attr := &model.CryptoBindingRequestAttribute{Bitmask: b[7]}
		copy(attr.Nonce[:], b[8:40])
		return attr, nil

	case model.AttrCryptoBinding:
		if len(b) != attrCryptoBindingSize {
			return nil, fmt.Errorf("%w: bad crypto-binding size %d", ErrParse, len(b))
		}
		attr := &model.CryptoBindingAttribute{HashProtocol: model.HashProtocol(b[7])}
		copy(attr.Nonce[:], b[8:40])
		copy(attr.CertHash[:], b[40:72])
		copy(attr.CompoundMAC[:], b[72:104])
		return attr, nil

	default:
		return &model.RawAttribute{
			ID:   id,
			Body: append([]byte(nil), b[4:]...),
		}, nil
	}
}

func attributeSize(attr model.Attribute) int {
	switch a := attr.(type) {
	case *model.EncapsulatedProtocolAttribute:
		return attrEncapsulatedProtocolSize
	case *model.CryptoBindingRequestAttribute:
		return attrCryptoBindingReqSize
	case *model.CryptoBindingAttribute:
		return attrCryptoBindingSize
	case *model.RawAttribute:
		return attrHeaderSize + len(a.Body)
	default:
		return 0
	}
}

// MarshalSSTPControl serializes an SSTP control packet, header included.
func MarshalSSTPControl(msg *model.SSTPMessage) ([]byte, error) {
	total := 8
	for _, attr := range msg.Attributes {
		size := attributeSize(attr)
		if size == 0 {
			return nil, fmt.Errorf("%w: unhandled attribute %T", ErrMarshal, attr)
		}
		total += size
	}
	if total > 0xFFF {
		return nil, fmt.Errorf("%w: sstp control packet too large: %d", ErrMarshal, total)
	}

	buf := make([]byte, total)
	buf[0] = model.SSTPVersion
	buf[1] = 0x01
	bytesx.PutUint16(buf[2:4], uint16(total))
	bytesx.PutUint16(buf[4:6], uint16(msg.Type))
	bytesx.PutUint16(buf[6:8], uint16(len(msg.Attributes)))

	off := 8
	for _, attr := range msg.Attributes {
		off += marshalAttribute(buf[off:], attr)
	}
	return buf, nil
}

func marshalAttribute(dst []byte, attr model.Attribute) int {
	size := attributeSize(attr)
	dst[0] = 0 // reserved
	dst[1] = byte(attr.AttributeID())
	bytesx.PutUint16(dst[2:4], uint16(size))

	switch a := attr.(type) {
	case *model.EncapsulatedProtocolAttribute:
		bytesx.PutUint16(dst[4:6], a.Protocol)
	case *model.CryptoBindingRequestAttribute:
		dst[7] = a.Bitmask
		copy(dst[8:40], a.Nonce[:])
	case *model.CryptoBindingAttribute:
		dst[7] = byte(a.HashProtocol)
		copy(dst[8:40], a.Nonce[:])
		copy(dst[40:72], a.CertHash[:])
		copy(dst[72:104], a.CompoundMAC[:])
	case *model.RawAttribute:
		copy(dst[4:], a.Body)
	}
	return size
}

// AppendSSTPData appends an SSTP DATA packet wrapping an L3 payload for the
// given PPP protocol: SSTP header, HDLC header, protocol, payload.
func AppendSSTPData(dst []byte, proto model.PPPProto, payload []byte) []byte {
	total := model.SSTPHeaderSize + 4 + len(payload)
	var hdr [8]byte
	bytesx.PutUint16(hdr[0:2], model.SSTPPacketData)
	bytesx.PutUint16(hdr[2:4], uint16(total))
	bytesx.PutUint16(hdr[4:6], model.HDLCHeader)
	bytesx.PutUint16(hdr[6:8], uint16(proto))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// MarshalSSTPDataFrame wraps a serialized PPP frame (HDLC header onward)
// into an SSTP DATA packet.
func MarshalSSTPDataFrame(pppFrame []byte) []byte {
	total := model.SSTPHeaderSize + len(pppFrame)
	buf := make([]byte, total)
	bytesx.PutUint16(buf[0:2], model.SSTPPacketData)
	bytesx.PutUint16(buf[2:4], uint16(total))
	copy(buf[4:], pppFrame)
	return buf
}
