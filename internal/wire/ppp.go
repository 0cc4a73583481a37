// Package wire implements the byte-exact codecs: SSTP packets and
// attributes, PPP frames, and configure options. All integers are
// big-endian. Parsers reject any size mismatch; writers produce exactly the
// declared length.
package wire

import (
	"errors"
	"fmt"

	"github.com/minisstp/minisstp/internal/bytesx"
	"github.com/minisstp/minisstp/internal/model"
)

// ErrParse is the generic parse error; every parser failure wraps it.
var ErrParse = errors.New("wire: parse error")

// ErrMarshal is returned when a frame cannot be serialized.
var ErrMarshal = errors.New("wire: marshal error")

// ParsePPPFrame parses a PPP control frame starting at the HDLC header. The
// buffer must contain exactly the frame: HDLC (2), protocol (2), code (1),
// id (1), length (2), body. The declared PPP length covers code through body.
func ParsePPPFrame(b []byte) (*model.Frame, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("%w: ppp frame too short: %d", ErrParse, len(b))
	}
	if bytesx.Uint16(b[0:2]) != model.HDLCHeader {
		return nil, fmt.Errorf("%w: bad HDLC header %#04x", ErrParse, bytesx.Uint16(b[0:2]))
	}
	proto := model.PPPProto(bytesx.Uint16(b[2:4]))
	pppLen := int(bytesx.Uint16(b[6:8]))
	if pppLen < model.PPPHeaderSize {
		return nil, fmt.Errorf("%w: ppp length %d below header size", ErrParse, pppLen)
	}
	if len(b) != 4+pppLen {
		return nil, fmt.Errorf("%w: ppp length %d does not match buffer %d", ErrParse, pppLen, len(b))
	}
	frame := &model.Frame{
		Proto: proto,
		Code:  model.Code(b[4]),
		ID:    b[5],
		Body:  b[8:],
	}
	return frame, nil
}

// MarshalPPPFrame serializes a PPP control frame, HDLC header onward.
func MarshalPPPFrame(f *model.Frame) ([]byte, error) {
	pppLen := model.PPPHeaderSize + len(f.Body)
	if pppLen > 0xFFFF {
		return nil, fmt.Errorf("%w: ppp frame too large: %d", ErrMarshal, pppLen)
	}
	buf := make([]byte, 4+pppLen)
	bytesx.PutUint16(buf[0:2], model.HDLCHeader)
	bytesx.PutUint16(buf[2:4], uint16(f.Proto))
	buf[4] = byte(f.Code)
	buf[5] = f.ID
	bytesx.PutUint16(buf[6:8], uint16(pppLen))
	copy(buf[8:], f.Body)
	return buf, nil
}

// optionParser parses the value of a known option type. A nil return from
// the table means the type is unknown for this protocol.
type optionParser func(value []byte) (model.Option, error)

func parseOptions(b []byte, table map[byte]optionParser) ([]model.Option, error) {
	var options []model.Option
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, fmt.Errorf("%w: truncated option header", ErrParse)
		}
		optType, optLen := b[0], int(b[1])
		if optLen < 2 {
			return nil, fmt.Errorf("%w: option %d length %d too short", ErrParse, optType, optLen)
		}
		if optLen > len(b) {
			return nil, fmt.Errorf("%w: option %d length %d overflows buffer", ErrParse, optType, optLen)
		}
		value := b[2:optLen]
		b = b[optLen:]

		if parse, ok := table[optType]; ok {
			opt, err := parse(value)
			if err != nil {
				return nil, err
			}
			options = append(options, opt)
			continue
		}
		options = append(options, &model.UnknownOption{
			Type:  optType,
			Value: append([]byte(nil), value...),
		})
	}
	return options, nil
}

var lcpOptionParsers = map[byte]optionParser{
	model.OptionTypeMRU: func(value []byte) (model.Option, error) {
		if len(value) != 2 {
			return nil, fmt.Errorf("%w: bad MRU option size %d", ErrParse, len(value))
		}
		return &model.MRUOption{MRU: bytesx.Uint16(value)}, nil
	},
	model.OptionTypeAuth: func(value []byte) (model.Option, error) {
		if len(value) < 2 {
			return nil, fmt.Errorf("%w: bad auth option size %d", ErrParse, len(value))
		}
		opt := &model.AuthOption{Protocol: bytesx.Uint16(value[0:2])}
		if opt.Protocol == model.AuthProtoCHAP {
			if len(value) != 3 {
				return nil, fmt.Errorf("%w: bad CHAP auth option size %d", ErrParse, len(value))
			}
			opt.Algorithm = value[2]
		} else if len(value) != 2 {
			return nil, fmt.Errorf("%w: bad auth option size %d", ErrParse, len(value))
		}
		return opt, nil
	},
}

var ipcpOptionParsers = map[byte]optionParser{
	model.OptionTypeIPAddress: func(value []byte) (model.Option, error) {
		if len(value) != 4 {
			return nil, fmt.Errorf("%w: bad IP address option size %d", ErrParse, len(value))
		}
		opt := &model.IPAddressOption{}
		copy(opt.Addr[:], value)
		return opt, nil
	},
	model.OptionTypePrimaryDNS: func(value []byte) (model.Option, error) {
		if len(value) != 4 {
			return nil, fmt.Errorf("%w: bad DNS option size %d", ErrParse, len(value))
		}
		opt := &model.DNSOption{}
		copy(opt.Addr[:], value)
		return opt, nil
	},
}

var ipv6cpOptionParsers = map[byte]optionParser{
	model.OptionTypeInterfaceID: func(value []byte) (model.Option, error) {
		if len(value) != 8 {
			return nil, fmt.Errorf("%w: bad interface-id option size %d", ErrParse, len(value))
		}
		opt := &model.InterfaceIDOption{}
		copy(opt.ID[:], value)
		return opt, nil
	},
}

// ParseLCPOptions parses an LCP configure option list.
func ParseLCPOptions(b []byte) ([]model.Option, error) {
	return parseOptions(b, lcpOptionParsers)
}

// ParseIPCPOptions parses an IPCP configure option list.
func ParseIPCPOptions(b []byte) ([]model.Option, error) {
	return parseOptions(b, ipcpOptionParsers)
}

// ParseIPv6CPOptions parses an IPv6CP configure option list.
func ParseIPv6CPOptions(b []byte) ([]model.Option, error) {
	return parseOptions(b, ipv6cpOptionParsers)
}

// MarshalOptions serializes an option list in order. Unknown options are
// emitted verbatim, so write(parse(b)) == b for any valid option list.
func MarshalOptions(options []model.Option) ([]byte, error) {
	var buf []byte
	for _, opt := range options {
		switch o := opt.(type) {
		case *model.MRUOption:
			var v [4]byte
			v[0], v[1] = model.OptionTypeMRU, 4
			bytesx.PutUint16(v[2:4], o.MRU)
			buf = append(buf, v[:]...)
		case *model.AuthOption:
			if o.Protocol == model.AuthProtoCHAP {
				var v [5]byte
				v[0], v[1] = model.OptionTypeAuth, 5
				bytesx.PutUint16(v[2:4], o.Protocol)
				v[4] = o.Algorithm
				buf = append(buf, v[:]...)
				continue
			}
			var v [4]byte
			v[0], v[1] = model.OptionTypeAuth, 4
			bytesx.PutUint16(v[2:4], o.Protocol)
			buf = append(buf, v[:]...)
		case *model.IPAddressOption:
			buf = append(buf, model.OptionTypeIPAddress, 6)
			buf = append(buf, o.Addr[:]...)
		case *model.DNSOption:
			buf = append(buf, model.OptionTypePrimaryDNS, 6)
			buf = append(buf, o.Addr[:]...)
		case *model.InterfaceIDOption:
			buf = append(buf, model.OptionTypeInterfaceID, 10)
			buf = append(buf, o.ID[:]...)
		case *model.UnknownOption:
			if len(o.Value)+2 > 0xFF {
				return nil, fmt.Errorf("%w: option %d too large", ErrMarshal, o.Type)
			}
			buf = append(buf, o.Type, byte(len(o.Value)+2))
			buf = append(buf, o.Value...)
		default:
			return nil, fmt.Errorf("%w: unhandled option %T", ErrMarshal, opt)
		}
	}
	return buf, nil
}

// MarshalConfigureFrame builds a configure frame for the given protocol from
// an option list.
func MarshalConfigureFrame(proto model.PPPProto, code model.Code, id byte, options []model.Option) ([]byte, error) {
	body, err := MarshalOptions(options)
	if err != nil {
		return nil, err
	}
	return MarshalPPPFrame(&model.Frame{Proto: proto, Code: code, ID: id, Body: body})
}
