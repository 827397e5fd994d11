package pairing

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dotbeacon/internal/identity"
	"dotbeacon/internal/protocol"
)

const alicePub = "0xd43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"

// fakeWallet answers relay messages with canned replies
type fakeWallet struct {
	version   string
	signature string
	signErr   string
	calls     atomic.Int32
	lastSign  atomic.Value
	block     chan struct{}
}

func (w *fakeWallet) HandleMessage(ctx context.Context, msg *protocol.Message) *protocol.Message {
	w.calls.Add(1)
	switch msg.Type {
	case protocol.MessageTypePermissionRequest:
		version := w.version
		if version == "" {
			version = protocol.CurrentVersion
		}
		reply, _ := protocol.NewReply(msg, protocol.MessageTypePermissionResponse, "wallet", protocol.PermissionResponse{
			PublicKey:     alicePub,
			Address:       "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY",
			Scopes:        []string{protocol.ScopeSignPayload},
			WalletName:    "fake",
			WalletVersion: version,
		})
		return reply
	case protocol.MessageTypeSignPayloadRequest:
		if w.block != nil {
			select {
			case <-w.block:
			case <-ctx.Done():
				return nil
			}
		}
		var req protocol.SignPayloadRequest
		if err := msg.DecodePayload(&req); err != nil {
			return protocol.NewErrorReply(msg, "wallet", protocol.ErrorTypeUnknown, err.Error())
		}
		w.lastSign.Store(req)
		if w.signErr != "" {
			return protocol.NewErrorReply(msg, "wallet", w.signErr, "")
		}
		reply, _ := protocol.NewReply(msg, protocol.MessageTypeSignPayloadResponse, "wallet", protocol.SignPayloadResponse{Signature: w.signature})
		return reply
	case protocol.MessageTypeDisconnect:
		reply, _ := protocol.NewReply(msg, protocol.MessageTypeAcknowledge, "wallet", nil)
		return reply
	}
	return nil
}

func newTestClient(t *testing.T, w Handler, opts Options) *DAppClient {
	t.Helper()
	if opts.Identity == nil {
		opts.Identity = identity.New("test dapp", "", "")
	}
	client, err := NewDAppClient(NewLoopbackTransport(w), NewMemoryStore(), opts)
	require.NoError(t, err)
	return client
}

type recordingMetrics struct {
	outcomes []string
}

func (m *recordingMetrics) ObserveRequest(msgType, outcome string, _ time.Duration) {
	m.outcomes = append(m.outcomes, msgType+":"+outcome)
}

func TestRequestPermissions(t *testing.T) {
	ctx := context.Background()
	metrics := &recordingMetrics{}
	client := newTestClient(t, &fakeWallet{}, Options{Network: "westend", Metrics: metrics})

	account, err := client.GetActiveAccount(ctx)
	require.NoError(t, err)
	assert.Nil(t, account)

	account, err = client.RequestPermissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, alicePub, account.PublicKey)
	assert.Equal(t, "westend", account.Network)
	assert.Equal(t, "fake", account.WalletName)
	assert.False(t, account.ConnectedAt.IsZero())

	stored, err := client.GetActiveAccount(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, account.PublicKey, stored.PublicKey)

	assert.Equal(t, []string{"permission_request:ok"}, metrics.outcomes)
}

func TestRequestPermissionsIncompatibleWallet(t *testing.T) {
	client := newTestClient(t, &fakeWallet{version: "1.4.0"}, Options{})

	_, err := client.RequestPermissions(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIncompatibleWallet))

	account, err := client.GetActiveAccount(context.Background())
	require.NoError(t, err)
	assert.Nil(t, account)
}

func TestRequestSignPayload(t *testing.T) {
	ctx := context.Background()

	t.Run("no active account", func(t *testing.T) {
		wallet := &fakeWallet{signature: "0xsig"}
		client := newTestClient(t, wallet, Options{})

		_, err := client.RequestSignPayload(ctx, SignPayloadRequest{Payload: "0xdeadbeef"})
		assert.True(t, errors.Is(err, ErrPairingUnavailable))
		assert.Equal(t, int32(0), wallet.calls.Load())
	})

	t.Run("signed", func(t *testing.T) {
		wallet := &fakeWallet{signature: "0xsig1"}
		client := newTestClient(t, wallet, Options{})
		_, err := client.RequestPermissions(ctx)
		require.NoError(t, err)

		resp, err := client.RequestSignPayload(ctx, SignPayloadRequest{Payload: "0xdeadbeef"})
		require.NoError(t, err)
		assert.Equal(t, "0xsig1", resp.Signature)

		sent := wallet.lastSign.Load().(protocol.SignPayloadRequest)
		assert.Equal(t, "0xdeadbeef", sent.Payload)
		assert.Equal(t, "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY", sent.SourceAddress)
	})

	errorCases := []struct {
		name     string
		wireType string
		want     error
	}{
		{"aborted", protocol.ErrorTypeAborted, ErrUserRejected},
		{"not granted", protocol.ErrorTypeNotGranted, ErrPairingUnavailable},
		{"no active account", protocol.ErrorTypeNoActiveAccount, ErrPairingUnavailable},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, &fakeWallet{signErr: tc.wireType}, Options{})
			_, err := client.RequestPermissions(ctx)
			require.NoError(t, err)

			resp, err := client.RequestSignPayload(ctx, SignPayloadRequest{Payload: "0x01"})
			assert.Nil(t, resp)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	t.Run("timeout", func(t *testing.T) {
		wallet := &fakeWallet{signature: "0xsig", block: make(chan struct{})}
		defer close(wallet.block)
		client := newTestClient(t, wallet, Options{RequestTimeout: 50 * time.Millisecond})
		_, err := client.RequestPermissions(ctx)
		require.NoError(t, err)

		_, err = client.RequestSignPayload(ctx, SignPayloadRequest{Payload: "0x01"})
		assert.True(t, errors.Is(err, ErrTransportFailure))
		assert.Equal(t, "transport", Outcome(err))
	})
}

func TestReplyMustMatchRequest(t *testing.T) {
	handler := HandlerFunc(func(_ context.Context, msg *protocol.Message) *protocol.Message {
		reply, _ := protocol.NewMessage(protocol.MessageTypePermissionResponse, "wallet", protocol.PermissionResponse{
			PublicKey:     alicePub,
			WalletVersion: protocol.CurrentVersion,
		})
		return reply
	})
	client := newTestClient(t, handler, Options{})

	_, err := client.RequestPermissions(context.Background())
	assert.True(t, errors.Is(err, ErrTransportFailure))
}

func TestClearActiveAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("acknowledged", func(t *testing.T) {
		wallet := &fakeWallet{}
		client := newTestClient(t, wallet, Options{})
		_, err := client.RequestPermissions(ctx)
		require.NoError(t, err)

		require.NoError(t, client.ClearActiveAccount(ctx))
		assert.Equal(t, int32(2), wallet.calls.Load())

		account, err := client.GetActiveAccount(ctx)
		require.NoError(t, err)
		assert.Nil(t, account)
	})

	t.Run("wallet unreachable", func(t *testing.T) {
		granted := false
		handler := HandlerFunc(func(ctx context.Context, msg *protocol.Message) *protocol.Message {
			if granted {
				return nil
			}
			granted = true
			return (&fakeWallet{}).HandleMessage(ctx, msg)
		})
		client := newTestClient(t, handler, Options{})
		_, err := client.RequestPermissions(ctx)
		require.NoError(t, err)

		require.NoError(t, client.ClearActiveAccount(ctx))
		account, err := client.GetActiveAccount(ctx)
		require.NoError(t, err)
		assert.Nil(t, account)
	})

	t.Run("nothing to clear", func(t *testing.T) {
		wallet := &fakeWallet{}
		client := newTestClient(t, wallet, Options{})
		require.NoError(t, client.ClearActiveAccount(ctx))
		assert.Equal(t, int32(0), wallet.calls.Load())
	})
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "rejected", Outcome(walletError(&protocol.ErrorPayload{Type: protocol.ErrorTypeAborted})))
	assert.Equal(t, "unavailable", Outcome(walletError(&protocol.ErrorPayload{Type: protocol.ErrorTypeNotGranted})))
	assert.Equal(t, "error", Outcome(walletError(&protocol.ErrorPayload{Type: protocol.ErrorTypeUnknown})))
	assert.Equal(t, "error", Outcome(errors.New("boom")))
}

func TestMemoryStoreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	account := &AccountInfo{PublicKey: alicePub}
	require.NoError(t, store.Save(ctx, account))
	account.PublicKey = "changed"

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, alicePub, loaded.PublicKey)

	require.NoError(t, store.Clear(ctx))
	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "dotbeacon.pairing.abc", Subject("", "abc"))
	assert.Equal(t, "relay.abc", Subject("relay", "abc"))
}
