package od4

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-lanekeeper/monitoring"
)

// Port is the UDP port every OD4 session uses.
const Port = 12175

const maxDatagram = 65507

// Handler receives envelopes of one data type. It runs on the receive
// goroutine and must not block.
type Handler func(Envelope)

// Session sends and receives envelopes for one conference id.
type Session struct {
	recv net.PacketConn
	send net.Conn

	mu       sync.RWMutex
	handlers map[int32]Handler

	sent     atomic.Uint64
	received atomic.Uint64
	dropped  atomic.Uint64

	closeOnce sync.Once
}

// GroupAddr returns the multicast group of a conference id.
func GroupAddr(cid int) (*net.UDPAddr, error) {
	if cid < 0 || cid > 255 {
		return nil, errors.Errorf("od4: cid %d out of range 0..255", cid)
	}
	return net.ResolveUDPAddr("udp4", fmt.Sprintf("225.0.0.%d:%d", cid, Port))
}

// Open joins the multicast group of cid for both directions.
func Open(cid int) (*Session, error) {
	group, err := GroupAddr(cid)
	if err != nil {
		return nil, err
	}

	recv, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return nil, errors.Wrapf(err, "od4: join %s", group)
	}
	send, err := net.DialUDP("udp4", nil, group)
	if err != nil {
		_ = recv.Close()
		return nil, errors.Wrapf(err, "od4: dial %s", group)
	}

	monitoring.L().Info("od4 session open", "cid", cid, "group", group.String())
	return NewSession(recv, send), nil
}

// NewSession builds a session on existing sockets. Datagrams written to send
// are expected to come back on recv when the session should see its own traffic.
func NewSession(recv net.PacketConn, send net.Conn) *Session {
	return &Session{
		recv:     recv,
		send:     send,
		handlers: make(map[int32]Handler),
	}
}

// Handle registers h for envelopes of dataType, replacing any previous handler.
func (s *Session) Handle(dataType int32, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[dataType] = h
}

// Send wraps m in an envelope and writes it to the session.
//
// Arguments:
//   - m: The message to send.
//   - sampled: Sample time of the data carried by m.
//   - senderStamp: Identifies the sending instance or sensor.
//
// Returns:
//   - error: If encoding or the socket write fails.
func (s *Session) Send(m Message, sampled time.Time, senderStamp uint32) error {
	frame, err := Frame(Envelope{
		DataType:    m.ID(),
		Payload:     m.Marshal(),
		Sent:        time.Now(),
		Sampled:     sampled,
		SenderStamp: senderStamp,
	})
	if err != nil {
		return err
	}
	if _, err := s.send.Write(frame); err != nil {
		return errors.Wrapf(err, "od4: send %d", m.ID())
	}
	s.sent.Add(1)
	return nil
}

// Run dispatches received envelopes to their handlers until ctx is done or
// the session is closed.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := s.recv.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Wrap(err, "od4: receive")
		}

		received := time.Now()
		envelopes, err := Unframe(buf[:n])
		if err != nil {
			s.dropped.Add(1)
			monitoring.L().Debug("od4 datagram dropped", "bytes", n, "error", err)
		}
		for _, e := range envelopes {
			e.Received = received
			s.received.Add(1)
			s.dispatch(e)
		}
	}
}

func (s *Session) dispatch(e Envelope) {
	s.mu.RLock()
	h, ok := s.handlers[e.DataType]
	s.mu.RUnlock()
	if ok {
		h(e)
	}
}

// Stats reports envelope counters.
func (s *Session) Stats() (sent, received, dropped uint64) {
	return s.sent.Load(), s.received.Load(), s.dropped.Load()
}

// Close releases both sockets. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.recv.Close()
		if sendErr := s.send.Close(); err == nil {
			err = sendErr
		}
	})
	return err
}
