// Package od4 speaks the OD4 session protocol used on the vehicle: cluon
// envelopes carrying protobuf-encoded opendlv messages over UDP multicast.
//
// Wire layout of one datagram:
//
//	0x0D 0xA4 | len (3 bytes, little endian) | Envelope (len bytes, protobuf)
//
// Signed integers are zigzag encoded, floats are fixed32.
package od4

import (
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	headerMagic0 = 0x0D
	headerMagic1 = 0xA4
	headerSize   = 5
	// MaxPayload is the largest envelope the 3-byte length can describe.
	MaxPayload = 1<<24 - 1
)

var (
	// ErrBadHeader is returned when a datagram does not start with the OD4 magic.
	ErrBadHeader = errors.New("od4: bad header")
	// ErrShortPayload is returned when a datagram is shorter than its header claims.
	ErrShortPayload = errors.New("od4: short payload")
)

// Envelope wraps one serialized message with its routing metadata.
type Envelope struct {
	DataType    int32
	Payload     []byte
	Sent        time.Time
	Received    time.Time
	Sampled     time.Time
	SenderStamp uint32
}

// MarshalEnvelope encodes the envelope body without the frame header.
func MarshalEnvelope(e Envelope) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(e.DataType)))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Payload)
	b = appendTimeStamp(b, 3, e.Sent)
	b = appendTimeStamp(b, 4, e.Received)
	b = appendTimeStamp(b, 5, e.Sampled)
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.SenderStamp))
	return b
}

// UnmarshalEnvelope decodes an envelope body. Unknown fields are skipped.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Envelope{}, errors.Wrap(protowire.ParseError(n), "envelope tag")
		}
		b = b[n:]

		switch {
		case num == 1 && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return Envelope{}, errors.Wrap(protowire.ParseError(m), "envelope dataType")
			}
			e.DataType = int32(protowire.DecodeZigZag(v))
			n = m
		case num == 2 && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Envelope{}, errors.Wrap(protowire.ParseError(m), "envelope serializedData")
			}
			e.Payload = append([]byte(nil), v...)
			n = m
		case num >= 3 && num <= 5 && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Envelope{}, errors.Wrapf(protowire.ParseError(m), "envelope timestamp %d", num)
			}
			ts, err := parseTimeStamp(v)
			if err != nil {
				return Envelope{}, err
			}
			switch num {
			case 3:
				e.Sent = ts
			case 4:
				e.Received = ts
			case 5:
				e.Sampled = ts
			}
			n = m
		case num == 6 && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return Envelope{}, errors.Wrap(protowire.ParseError(m), "envelope senderStamp")
			}
			e.SenderStamp = uint32(v)
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Envelope{}, errors.Wrapf(protowire.ParseError(n), "envelope field %d", num)
			}
		}
		b = b[n:]
	}
	return e, nil
}

// Frame prefixes an encoded envelope with the OD4 header.
func Frame(e Envelope) ([]byte, error) {
	body := MarshalEnvelope(e)
	if len(body) > MaxPayload {
		return nil, errors.Errorf("od4: envelope of %d bytes exceeds %d", len(body), MaxPayload)
	}
	out := make([]byte, headerSize, headerSize+len(body))
	out[0] = headerMagic0
	out[1] = headerMagic1
	out[2] = byte(len(body))
	out[3] = byte(len(body) >> 8)
	out[4] = byte(len(body) >> 16)
	return append(out, body...), nil
}

// Unframe decodes every envelope in a datagram.
func Unframe(datagram []byte) ([]Envelope, error) {
	var out []Envelope
	for len(datagram) > 0 {
		if len(datagram) < headerSize {
			return out, errors.Wrapf(ErrShortPayload, "%d header bytes", len(datagram))
		}
		if datagram[0] != headerMagic0 || datagram[1] != headerMagic1 {
			return out, errors.Wrapf(ErrBadHeader, "magic %#02x %#02x", datagram[0], datagram[1])
		}
		size := int(datagram[2]) | int(datagram[3])<<8 | int(datagram[4])<<16
		if len(datagram) < headerSize+size {
			return out, errors.Wrapf(ErrShortPayload, "have %d bytes, header says %d", len(datagram)-headerSize, size)
		}

		e, err := UnmarshalEnvelope(datagram[headerSize : headerSize+size])
		if err != nil {
			return out, err
		}
		out = append(out, e)
		datagram = datagram[headerSize+size:]
	}
	return out, nil
}

func appendTimeStamp(b []byte, num protowire.Number, t time.Time) []byte {
	var sec, usec int64
	if !t.IsZero() {
		sec = t.Unix()
		usec = int64(t.Nanosecond() / 1000)
	}
	var ts []byte
	ts = protowire.AppendTag(ts, 1, protowire.VarintType)
	ts = protowire.AppendVarint(ts, protowire.EncodeZigZag(int64(int32(sec))))
	ts = protowire.AppendTag(ts, 2, protowire.VarintType)
	ts = protowire.AppendVarint(ts, protowire.EncodeZigZag(usec))

	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, ts)
}

func parseTimeStamp(b []byte) (time.Time, error) {
	var sec, usec int64
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return time.Time{}, errors.Wrap(protowire.ParseError(n), "timestamp tag")
		}
		b = b[n:]
		if typ != protowire.VarintType || (num != 1 && num != 2) {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return time.Time{}, errors.Wrap(protowire.ParseError(n), "timestamp field")
			}
			b = b[n:]
			continue
		}
		v, m := protowire.ConsumeVarint(b)
		if m < 0 {
			return time.Time{}, errors.Wrap(protowire.ParseError(m), "timestamp value")
		}
		if num == 1 {
			sec = int64(int32(protowire.DecodeZigZag(v)))
		} else {
			usec = int64(int32(protowire.DecodeZigZag(v)))
		}
		b = b[m:]
	}
	if sec == 0 && usec == 0 {
		return time.Time{}, nil
	}
	return time.Unix(sec, usec*1000), nil
}
