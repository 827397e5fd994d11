package pairing

import (
	"context"
	"fmt"

	"dotbeacon/internal/protocol"
)

// Transport delivers a request to the paired wallet and waits for its reply
type Transport interface {
	Request(ctx context.Context, msg *protocol.Message) (*protocol.Message, error)
	Close() error
}

// Handler answers relay requests on the wallet side. A nil reply means no answer.
type Handler interface {
	HandleMessage(ctx context.Context, msg *protocol.Message) *protocol.Message
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, msg *protocol.Message) *protocol.Message

func (f HandlerFunc) HandleMessage(ctx context.Context, msg *protocol.Message) *protocol.Message {
	return f(ctx, msg)
}

// LoopbackTransport hands requests to an in-process handler, going through the
// wire encoding so both sides see exactly what a relay would carry
type LoopbackTransport struct {
	handler Handler
}

// NewLoopbackTransport creates a transport that talks to handler directly
func NewLoopbackTransport(handler Handler) *LoopbackTransport {
	return &LoopbackTransport{handler: handler}
}

func (t *LoopbackTransport) Request(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	data, err := msg.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := protocol.DecodeMessage(data)
	if err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}

	type result struct {
		reply *protocol.Message
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply := t.handler.HandleMessage(ctx, req)
		if reply == nil {
			done <- result{err: fmt.Errorf("%w: no reply to %s", ErrTransportFailure, req.Type)}
			return
		}
		encoded, err := reply.Encode()
		if err != nil {
			done <- result{err: fmt.Errorf("%w: encoding reply: %v", ErrTransportFailure, err)}
			return
		}
		decoded, err := protocol.DecodeMessage(encoded)
		if err != nil {
			done <- result{err: fmt.Errorf("%w: decoding reply: %v", ErrTransportFailure, err)}
			return
		}
		done <- result{reply: decoded}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTransportFailure, ctx.Err())
	case r := <-done:
		return r.reply, r.err
	}
}

func (t *LoopbackTransport) Close() error {
	return nil
}
