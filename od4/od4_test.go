package od4

import (
	"context"
	"math"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/nvr-ai/go-lanekeeper/controller"
	"github.com/nvr-ai/go-lanekeeper/telemetry"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	in := Envelope{
		DataType:    AngleReadingID,
		Payload:     (&AngleReading{Angle: -0.25}).Marshal(),
		Sent:        time.Unix(1700000000, 123456000),
		Sampled:     time.Unix(1700000000, 100000000),
		SenderStamp: 7,
	}

	out, err := UnmarshalEnvelope(MarshalEnvelope(in))
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("envelope mismatch (-want +got):\n%s", diff)
	}
}

func TestEnvelopeNegativeDataTypeIsZigZag(t *testing.T) {
	b := MarshalEnvelope(Envelope{DataType: -1})

	num, typ, n := protowire.ConsumeTag(b)
	require.Greater(t, n, 0)
	assert.Equal(t, protowire.Number(1), num)
	assert.Equal(t, protowire.VarintType, typ)
	v, _ := protowire.ConsumeVarint(b[n:])
	assert.Equal(t, uint64(1), v)

	e, err := UnmarshalEnvelope(b)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), e.DataType)
}

func TestUnmarshalEnvelopeSkipsUnknownFields(t *testing.T) {
	b := protowire.AppendTag(nil, 42, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("ignored"))
	b = append(b, MarshalEnvelope(Envelope{DataType: DistanceReadingID, SenderStamp: 3})...)

	e, err := UnmarshalEnvelope(b)
	require.NoError(t, err)
	assert.Equal(t, DistanceReadingID, e.DataType)
	assert.Equal(t, uint32(3), e.SenderStamp)

	_, err = UnmarshalEnvelope([]byte{0x0a})
	assert.Error(t, err)
}

func TestFrameHeader(t *testing.T) {
	e := Envelope{DataType: AngleReadingID, Payload: make([]byte, 300)}
	frame, err := Frame(e)
	require.NoError(t, err)

	body := MarshalEnvelope(e)
	require.Len(t, frame, headerSize+len(body))
	assert.Equal(t, byte(0x0D), frame[0])
	assert.Equal(t, byte(0xA4), frame[1])
	assert.Equal(t, len(body), int(frame[2])|int(frame[3])<<8|int(frame[4])<<16)
}

func TestUnframe(t *testing.T) {
	a, err := Frame(Envelope{DataType: AngleReadingID, SenderStamp: 1})
	require.NoError(t, err)
	b, err := Frame(Envelope{DataType: DistanceReadingID, SenderStamp: 2})
	require.NoError(t, err)

	envs, err := Unframe(append(append([]byte(nil), a...), b...))
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, AngleReadingID, envs[0].DataType)
	assert.Equal(t, uint32(2), envs[1].SenderStamp)

	_, err = Unframe([]byte{0x0D, 0xA5, 0, 0, 0})
	assert.True(t, errors.Is(err, ErrBadHeader))

	_, err = Unframe([]byte{0x0D, 0xA4, 1})
	assert.True(t, errors.Is(err, ErrShortPayload))

	_, err = Unframe(a[:len(a)-1])
	assert.True(t, errors.Is(err, ErrShortPayload))
}

func TestMessages(t *testing.T) {
	tests := []struct {
		in  Message
		out Message
		id  int32
	}{
		{&AngleReading{Angle: 0.5}, &AngleReading{}, 1038},
		{&GroundSteeringRequest{GroundSteering: -0.1}, &GroundSteeringRequest{}, 1090},
		{&DistanceReading{Distance: 1.25}, &DistanceReading{}, 1039},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.id, tt.in.ID())
		e := Envelope{DataType: tt.in.ID(), Payload: tt.in.Marshal()}
		require.NoError(t, Extract(e, tt.out))
		assert.Equal(t, tt.in, tt.out)
	}
}

func TestAngleReadingWire(t *testing.T) {
	b := (&AngleReading{Angle: 1}).Marshal()
	// Field 1, fixed32, then IEEE-754 little endian.
	assert.Equal(t, []byte{0x0d, 0x00, 0x00, 0x80, 0x3f}, b)

	var ar AngleReading
	require.NoError(t, ar.Unmarshal(nil))
	assert.Equal(t, float32(0), ar.Angle)
}

func TestExtractWrongType(t *testing.T) {
	var dr DistanceReading
	err := Extract(Envelope{DataType: AngleReadingID}, &dr)
	assert.Error(t, err)
}

func TestGroupAddr(t *testing.T) {
	addr, err := GroupAddr(112)
	require.NoError(t, err)
	assert.Equal(t, "225.0.0.112:12175", addr.String())

	_, err = GroupAddr(256)
	assert.Error(t, err)
}

// loopback returns a session that receives its own datagrams over 127.0.0.1.
func loopback(t *testing.T) *Session {
	t.Helper()
	recv, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	send, err := net.Dial("udp4", recv.LocalAddr().String())
	require.NoError(t, err)
	return NewSession(recv, send)
}

func TestSessionDispatchesDistances(t *testing.T) {
	s := loopback(t)
	defer s.Close()

	cache := telemetry.NewDistanceCache()
	s.Handle(DistanceReadingID, DistanceHandler(cache))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	sampled := time.Unix(1700000000, 0)
	require.NoError(t, s.Send(&DistanceReading{Distance: 0.42}, sampled, uint32(telemetry.Right)))
	require.NoError(t, s.Send(&GroundSteeringRequest{GroundSteering: 1}, sampled, 0))

	require.Eventually(t, func() bool {
		_, ok := cache.Snapshot().Get(telemetry.Right)
		return ok
	}, time.Second, 5*time.Millisecond)

	r, _ := cache.Snapshot().Get(telemetry.Right)
	assert.Equal(t, float32(0.42), r.Distance)
	assert.True(t, r.Sampled.Equal(sampled))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}

	sent, received, dropped := s.Stats()
	assert.Equal(t, uint64(2), sent)
	assert.GreaterOrEqual(t, received, uint64(1))
	assert.Zero(t, dropped)
}

func TestPublisher(t *testing.T) {
	s := loopback(t)
	defer s.Close()

	angles := make(chan Envelope, 4)
	s.Handle(AngleReadingID, func(e Envelope) { angles <- e })
	s.Handle(GroundSteeringRequestID, func(e Envelope) { angles <- e })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	p := NewPublisher(s, true)
	require.NoError(t, p.Publish(ctx, controller.Steering{Angle: math.Pi / 8, SenderStamp: 5}))

	got := map[int32]float32{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-angles:
			assert.Equal(t, uint32(5), e.SenderStamp)
			var ar AngleReading
			require.NoError(t, ar.Unmarshal(e.Payload))
			got[e.DataType] = ar.Angle
		case <-time.After(time.Second):
			t.Fatal("envelope not received")
		}
	}
	assert.InDelta(t, math.Pi/8, got[AngleReadingID], 1e-6)
	assert.InDelta(t, math.Pi/8, got[GroundSteeringRequestID], 1e-6)

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	assert.Error(t, p.Publish(cancelled, controller.Steering{}))
}
