package lanlink

import (
	"fmt"
	"net/netip"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// ProtocolVersion is the envelope version written by Encode. Decode
	// accepts every version up to and including it.
	ProtocolVersion = 1

	protocolMagic uint32 = 0x4C4E4B31 // "LNK1"

	// One Ethernet MTU minus IPv4 and UDP headers.
	maxMessageSize = 1472
)

// Envelope fields.
const (
	fieldMagic      protowire.Number = 1
	fieldVersion    protowire.Number = 2
	fieldConnection protowire.Number = 3
)

// Connection fields. Exactly one is present.
const (
	fieldServerList protowire.Number = 1
	fieldServerInfo protowire.Number = 2
)

// ServerInfo fields.
const (
	fieldName             protowire.Number = 1
	fieldAddress          protowire.Number = 2
	fieldPasswordRequired protowire.Number = 3
	fieldID               protowire.Number = 4
)

// EncodeServerList returns the encoded discovery query. The result never
// changes, so callers encode it once and reuse the bytes.
func EncodeServerList() []byte {
	var conn []byte
	conn = protowire.AppendTag(conn, fieldServerList, protowire.BytesType)
	conn = protowire.AppendBytes(conn, nil)
	return appendEnvelope(nil, conn)
}

// EncodeServerInfo encodes a discovery reply carrying info.
// Values Decode would reject are refused here instead.
func EncodeServerInfo(info ServerInfo) ([]byte, error) {
	if !utf8.ValidString(info.Name) {
		return nil, fmt.Errorf("server name %q is not valid UTF-8", info.Name)
	}

	var body []byte
	body = protowire.AppendTag(body, fieldName, protowire.BytesType)
	body = protowire.AppendString(body, info.Name)
	if info.Address != nil {
		addr, err := encodeAddress(*info.Address)
		if err != nil {
			return nil, err
		}
		body = protowire.AppendTag(body, fieldAddress, protowire.BytesType)
		body = protowire.AppendString(body, addr)
	}
	if info.PasswordRequired {
		body = protowire.AppendTag(body, fieldPasswordRequired, protowire.VarintType)
		body = protowire.AppendVarint(body, protowire.EncodeBool(true))
	}
	if info.ID != "" {
		body = protowire.AppendTag(body, fieldID, protowire.BytesType)
		body = protowire.AppendString(body, info.ID)
	}

	var conn []byte
	conn = protowire.AppendTag(conn, fieldServerInfo, protowire.BytesType)
	conn = protowire.AppendBytes(conn, body)

	b := appendEnvelope(nil, conn)
	if len(b) > maxMessageSize {
		return nil, fmt.Errorf("server info encodes to %d bytes, limit is %d", len(b), maxMessageSize)
	}
	return b, nil
}

// Encode encodes msg for the wire.
func Encode(msg Message) ([]byte, error) {
	switch msg.Kind {
	case KindServerList:
		return EncodeServerList(), nil
	case KindServerInfo:
		if msg.Info == nil {
			return nil, fmt.Errorf("%s message without info", msg.Kind)
		}
		return EncodeServerInfo(*msg.Info)
	default:
		return nil, fmt.Errorf("cannot encode message kind %d", msg.Kind)
	}
}

func appendEnvelope(b, conn []byte) []byte {
	b = protowire.AppendTag(b, fieldMagic, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, protocolMagic)
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, ProtocolVersion)
	b = protowire.AppendTag(b, fieldConnection, protowire.BytesType)
	return protowire.AppendBytes(b, conn)
}

// Decode parses a datagram. Foreign or damaged input yields an error wrapping
// ErrMalformedMessage, or ErrUnsupportedVersion for newer envelopes.
func Decode(b []byte) (Message, error) {
	var (
		magic     uint32
		version   uint64
		conn      []byte
		haveMagic bool
		haveConn  bool
	)
	err := rangeFields(b, func(f field) error {
		switch f.num {
		case fieldMagic:
			if err := f.expect(protowire.Fixed32Type); err != nil {
				return err
			}
			magic, haveMagic = f.fixed32, true
		case fieldVersion:
			if err := f.expect(protowire.VarintType); err != nil {
				return err
			}
			version = f.varint
		case fieldConnection:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			conn, haveConn = f.bytes, true
		}
		return nil
	})
	if err != nil {
		return Message{}, malformed(err)
	}

	if !haveMagic || magic != protocolMagic {
		return Message{}, fmt.Errorf("%w: bad magic %#x", ErrMalformedMessage, magic)
	}
	if version == 0 {
		return Message{}, fmt.Errorf("%w: missing version", ErrMalformedMessage)
	}
	if version > ProtocolVersion {
		return Message{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	if !haveConn {
		return Message{}, fmt.Errorf("%w: missing connection body", ErrMalformedMessage)
	}

	return decodeConnection(conn)
}

func decodeConnection(b []byte) (Message, error) {
	var (
		msg   Message
		kinds int
	)
	err := rangeFields(b, func(f field) error {
		switch f.num {
		case fieldServerList:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			msg.Kind = KindServerList
			kinds++
		case fieldServerInfo:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			info, err := decodeServerInfo(f.bytes)
			if err != nil {
				return err
			}
			msg.Kind, msg.Info = KindServerInfo, &info
			kinds++
		}
		return nil
	})
	if err != nil {
		return Message{}, malformed(err)
	}
	if kinds != 1 {
		return Message{}, fmt.Errorf("%w: connection carries %d kinds", ErrMalformedMessage, kinds)
	}
	return msg, nil
}

// encodeAddress renders addr as the "ip:port" text decodeServerInfo parses
// back to the same value.
func encodeAddress(addr netip.AddrPort) (string, error) {
	if !addr.IsValid() {
		return "", fmt.Errorf("server address is not a valid ip:port")
	}
	text := addr.String()
	if parsed, err := netip.ParseAddrPort(text); err != nil || parsed != addr {
		return "", fmt.Errorf("server address %q does not survive parsing", text)
	}
	return text, nil
}

func decodeServerInfo(b []byte) (ServerInfo, error) {
	var info ServerInfo
	err := rangeFields(b, func(f field) error {
		switch f.num {
		case fieldName:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			if !utf8.Valid(f.bytes) {
				return fmt.Errorf("name is not valid UTF-8")
			}
			info.Name = string(f.bytes)
		case fieldAddress:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			addr, err := netip.ParseAddrPort(string(f.bytes))
			if err != nil {
				return fmt.Errorf("address: %w", err)
			}
			info.Address = &addr
		case fieldPasswordRequired:
			if err := f.expect(protowire.VarintType); err != nil {
				return err
			}
			info.PasswordRequired = protowire.DecodeBool(f.varint)
		case fieldID:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			info.ID = string(f.bytes)
		}
		return nil
	})
	return info, err
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
}

type field struct {
	num     protowire.Number
	typ     protowire.Type
	varint  uint64
	fixed32 uint32
	bytes   []byte
}

func (f field) expect(typ protowire.Type) error {
	if f.typ != typ {
		return fmt.Errorf("field %d: wire type %d, want %d", f.num, f.typ, typ)
	}
	return nil
}

// rangeFields calls fn for every top-level field in b. Fields of unknown
// wire types are skipped.
func rangeFields(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			f.fixed32, n = protowire.ConsumeFixed32(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}
