package pairing

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dotbeacon/internal/protocol"
)

func TestResponderDropsRequestsAfterClose(t *testing.T) {
	var handled atomic.Int32
	handler := HandlerFunc(func(_ context.Context, msg *protocol.Message) *protocol.Message {
		handled.Add(1)
		return nil
	})
	r := NewResponder(nil, handler, nil)

	msg, err := protocol.NewMessage(protocol.MessageTypeDisconnect, "dapp", nil)
	require.NoError(t, err)
	data, err := msg.Encode()
	require.NoError(t, err)

	assert.True(t, r.dispatch(context.Background(), &nats.Msg{Data: data}))
	require.NoError(t, r.Close())
	assert.Equal(t, int32(1), handled.Load())

	assert.False(t, r.dispatch(context.Background(), &nats.Msg{Data: data}))
	r.wg.Wait()
	assert.Equal(t, int32(1), handled.Load())
}
