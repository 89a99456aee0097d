package od4

import (
	"context"
	"time"

	"github.com/nvr-ai/go-lanekeeper/controller"
	"github.com/nvr-ai/go-lanekeeper/monitoring"
	"github.com/nvr-ai/go-lanekeeper/telemetry"
)

// DistanceHandler stores every DistanceReading in cache under the sensor
// given by the envelope sender stamp.
func DistanceHandler(cache *telemetry.DistanceCache) Handler {
	return func(e Envelope) {
		var dr DistanceReading
		if err := Extract(e, &dr); err != nil {
			monitoring.L().Debug("distance reading dropped", "error", err)
			return
		}
		sampled := e.Sampled
		if sampled.IsZero() {
			sampled = e.Received
		}
		cache.Update(telemetry.Reading{
			Sensor:   telemetry.Sensor(e.SenderStamp),
			Distance: dr.Distance,
			Sampled:  sampled,
		})
	}
}

// Publisher sends steering estimates as AngleReading and, optionally, as
// GroundSteeringRequest.
type Publisher struct {
	session  *Session
	steering bool
}

// NewPublisher returns a publisher on session. When steering is set every
// estimate is also sent as a GroundSteeringRequest.
func NewPublisher(session *Session, steering bool) *Publisher {
	return &Publisher{session: session, steering: steering}
}

// Publish implements controller.Publisher.
func (p *Publisher) Publish(ctx context.Context, st controller.Steering) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sampled := st.Sampled
	if sampled.IsZero() {
		sampled = time.Now()
	}

	if err := p.session.Send(&AngleReading{Angle: float32(st.Angle)}, sampled, st.SenderStamp); err != nil {
		return err
	}
	if p.steering {
		return p.session.Send(&GroundSteeringRequest{GroundSteering: float32(st.Angle)}, sampled, st.SenderStamp)
	}
	return nil
}
