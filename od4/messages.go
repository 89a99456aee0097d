package od4

import (
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Message identifiers of the opendlv standard message set.
const (
	AngleReadingID          int32 = 1038
	DistanceReadingID       int32 = 1039
	GroundSteeringRequestID int32 = 1090
)

// Message is an opendlv message that can travel in an envelope.
type Message interface {
	ID() int32
	Marshal() []byte
	Unmarshal(b []byte) error
}

// AngleReading carries the estimated steering angle in radians.
type AngleReading struct {
	Angle float32
}

func (AngleReading) ID() int32 { return AngleReadingID }
func (m AngleReading) Marshal() []byte { return marshalFloat(m.Angle) }
func (m *AngleReading) Unmarshal(b []byte) error { return unmarshalFloat(b, &m.Angle) }

// GroundSteeringRequest asks the actuation layer for a steering angle in radians.
type GroundSteeringRequest struct {
	GroundSteering float32
}

func (GroundSteeringRequest) ID() int32 { return GroundSteeringRequestID }
func (m GroundSteeringRequest) Marshal() []byte { return marshalFloat(m.GroundSteering) }
func (m *GroundSteeringRequest) Unmarshal(b []byte) error {
	return unmarshalFloat(b, &m.GroundSteering)
}

// DistanceReading is one ultrasonic or infrared range in meters. The sensor
// is identified by the envelope sender stamp.
type DistanceReading struct {
	Distance float32
}

func (DistanceReading) ID() int32 { return DistanceReadingID }
func (m DistanceReading) Marshal() []byte { return marshalFloat(m.Distance) }
func (m *DistanceReading) Unmarshal(b []byte) error { return unmarshalFloat(b, &m.Distance) }

// Extract decodes the payload of e into m after checking the data type.
func Extract(e Envelope, m Message) error {
	if e.DataType != m.ID() {
		return errors.Errorf("od4: envelope carries %d, want %d", e.DataType, m.ID())
	}
	return m.Unmarshal(e.Payload)
}

func marshalFloat(v float32) []byte {
	b := protowire.AppendTag(nil, 1, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

// unmarshalFloat reads field 1 as a float and skips everything else. A
// missing field leaves v at zero.
func unmarshalFloat(b []byte, v *float32) error {
	*v = 0
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "od4: message tag")
		}
		b = b[n:]
		if num == 1 && typ == protowire.Fixed32Type {
			bits, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return errors.Wrap(protowire.ParseError(m), "od4: float field")
			}
			*v = math.Float32frombits(bits)
			b = b[m:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "od4: field %d", num)
		}
		b = b[n:]
	}
	return nil
}
