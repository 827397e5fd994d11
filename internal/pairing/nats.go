package pairing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"dotbeacon/internal/protocol"
)

// DefaultSubjectPrefix namespaces pairing channels on the relay
const DefaultSubjectPrefix = "dotbeacon.pairing"

// Subject returns the relay subject for a pairing channel
func Subject(prefix, channel string) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return fmt.Sprintf("%s.%s", prefix, channel)
}

// NATSTransport relays requests to the wallet with NATS request/reply
type NATSTransport struct {
	nc       *nats.Conn
	subject  string
	ownsConn bool
}

// NewNATSTransport connects to the relay at url and uses subject for requests
func NewNATSTransport(url, subject string, opts ...nats.Option) (*NATSTransport, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}
	return &NATSTransport{nc: nc, subject: subject, ownsConn: true}, nil
}

// NewNATSTransportWithConn shares an existing connection. Close leaves it open.
func NewNATSTransportWithConn(nc *nats.Conn, subject string) *NATSTransport {
	return &NATSTransport{nc: nc, subject: subject}
}

func (t *NATSTransport) Request(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	data, err := msg.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	out := &nats.Msg{
		Subject: t.subject,
		Data:    data,
		Header: nats.Header{
			"Type":      []string{msg.Type},
			"Sender-ID": []string{msg.SenderID},
		},
	}

	in, err := t.nc.RequestMsgWithContext(ctx, out)
	if err != nil {
		switch {
		case errors.Is(err, nats.ErrNoResponders):
			return nil, fmt.Errorf("%w: no wallet listening on %s", ErrTransportFailure, t.subject)
		default:
			return nil, fmt.Errorf("%w: %v", ErrTransportFailure, err)
		}
	}

	reply, err := protocol.DecodeMessage(in.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding reply: %v", ErrTransportFailure, err)
	}
	return reply, nil
}

func (t *NATSTransport) Close() error {
	if t.ownsConn {
		t.nc.Close()
	}
	return nil
}

// Responder serves wallet-side requests arriving on a relay subject
type Responder struct {
	mu      sync.Mutex
	nc      *nats.Conn
	sub     *nats.Subscription
	handler Handler
	logger  logrus.FieldLogger
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	closed  bool
}

// NewResponder creates a responder for handler on nc
func NewResponder(nc *nats.Conn, handler Handler, logger logrus.FieldLogger) *Responder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Responder{nc: nc, handler: handler, logger: logger}
}

// Serve subscribes to subject. Each request is handled on its own goroutine
// because answering may wait for the wallet holder.
func (r *Responder) Serve(ctx context.Context, subject string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil {
		return fmt.Errorf("responder already serving %s", r.sub.Subject)
	}

	ctx, cancel := context.WithCancel(ctx)
	r.closed = false
	sub, err := r.nc.Subscribe(subject, func(m *nats.Msg) {
		r.dispatch(ctx, m)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	r.sub = sub
	r.cancel = cancel
	r.logger.WithField("subject", subject).Info("Wallet responder listening")
	return nil
}

// dispatch starts handling m unless the responder is closed. It reports
// whether m was accepted.
func (r *Responder) dispatch(ctx context.Context, m *nats.Msg) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		r.handle(ctx, m)
	}()
	return true
}

func (r *Responder) handle(ctx context.Context, m *nats.Msg) {
	req, err := protocol.DecodeMessage(m.Data)
	if err != nil {
		r.logger.WithError(err).Warn("Dropping undecodable relay message")
		return
	}

	reply := r.handler.HandleMessage(ctx, req)
	if reply == nil {
		return
	}

	data, err := reply.Encode()
	if err != nil {
		r.logger.WithError(err).WithField("request_id", req.ID).Error("Failed to encode reply")
		return
	}
	if err := m.Respond(data); err != nil {
		r.logger.WithError(err).WithField("request_id", req.ID).Warn("Failed to send reply")
	}
}

// Close unsubscribes and waits for in-flight requests
func (r *Responder) Close() error {
	r.mu.Lock()
	sub, cancel := r.sub, r.cancel
	r.sub, r.cancel = nil, nil
	r.closed = true
	r.mu.Unlock()

	var err error
	if sub != nil {
		cancel()
		err = sub.Unsubscribe()
	}
	r.wg.Wait()
	return err
}
