package peer

import (
	"context"
	"errors"
	"testing"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dotbeacon/internal/address"
	"dotbeacon/internal/crypto"
	"dotbeacon/internal/identity"
	"dotbeacon/internal/pairing"
	"dotbeacon/internal/protocol"
	"dotbeacon/internal/test/testutil"
)

func newWallet(t *testing.T, approver Approver) *Wallet {
	t.Helper()
	w, err := NewWallet(signature.TestKeyringPairAlice, Options{
		Codec:    address.NewCodec(42),
		Approver: approver,
		Logger:   testutil.NewTestLogger(t).Logger(),
	})
	require.NoError(t, err)
	return w
}

func newClient(t *testing.T, transport pairing.Transport) *pairing.DAppClient {
	t.Helper()
	client, err := pairing.NewDAppClient(transport, pairing.NewMemoryStore(), pairing.Options{
		Identity: identity.New("wallet test", "", ""),
		Network:  "westend",
	})
	require.NoError(t, err)
	return client
}

func TestWalletGrantsAndSigns(t *testing.T) {
	ctx := testutil.Context(t)
	w := newWallet(t, AutoApprove)
	client := newClient(t, pairing.NewLoopbackTransport(w))

	assert.Equal(t, testutil.AliceAddress, w.Address())

	account, err := client.RequestPermissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, testutil.AlicePublicKey, account.PublicKey)
	assert.Equal(t, testutil.AliceAddress, account.Address)
	assert.Equal(t, "westend", account.Network)
	assert.Len(t, w.Sessions(), 1)

	payload := "0x0400d43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"
	resp, err := client.RequestSignPayload(ctx, pairing.SignPayloadRequest{Payload: payload})
	require.NoError(t, err)

	data, err := codec.HexDecodeString(payload)
	require.NoError(t, err)
	sig, err := codec.HexDecodeString(resp.Signature)
	require.NoError(t, err)
	ok, err := crypto.VerifySr25519(data, sig, signature.TestKeyringPairAlice.PublicKey)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, client.ClearActiveAccount(ctx))
	assert.Empty(t, w.Sessions())
}

func TestWalletDenies(t *testing.T) {
	ctx := testutil.Context(t)
	logs := testutil.NewTestLogger(t)
	w, err := NewWallet(signature.TestKeyringPairAlice, Options{
		Codec:    address.NewCodec(42),
		Approver: DenyAll,
		Logger:   logs.Logger(),
	})
	require.NoError(t, err)
	client := newClient(t, pairing.NewLoopbackTransport(w))

	_, err = client.RequestPermissions(ctx)
	assert.True(t, errors.Is(err, pairing.ErrUserRejected))
	assert.Empty(t, w.Sessions())
	logs.RequireEntry(t, logrus.InfoLevel, "Permission request denied")
}

func TestWalletDeniesSigning(t *testing.T) {
	ctx := testutil.Context(t)
	approver := ApproverFunc(func(_ context.Context, req Request) (bool, error) {
		return req.Type == protocol.MessageTypePermissionRequest, nil
	})
	w := newWallet(t, approver)
	client := newClient(t, pairing.NewLoopbackTransport(w))

	_, err := client.RequestPermissions(ctx)
	require.NoError(t, err)

	_, err = client.RequestSignPayload(ctx, pairing.SignPayloadRequest{Payload: "0x01"})
	assert.True(t, errors.Is(err, pairing.ErrUserRejected))
}

func TestWalletRejectsUnpairedSender(t *testing.T) {
	w := newWallet(t, AutoApprove)

	msg, err := protocol.NewMessage(protocol.MessageTypeSignPayloadRequest, "stranger", protocol.SignPayloadRequest{Payload: "0x01"})
	require.NoError(t, err)

	reply := w.HandleMessage(context.Background(), msg)
	require.NotNil(t, reply)
	assert.Equal(t, msg.ID, reply.ID)
	assert.Equal(t, protocol.MessageTypeError, reply.Type)
	assert.Equal(t, protocol.ErrorTypeNotGranted, reply.Error.Type)
}

func TestWalletRejectsForeignSourceAddress(t *testing.T) {
	ctx := testutil.Context(t)
	w := newWallet(t, AutoApprove)
	client := newClient(t, pairing.NewLoopbackTransport(w))
	_, err := client.RequestPermissions(ctx)
	require.NoError(t, err)

	_, err = client.RequestSignPayload(ctx, pairing.SignPayloadRequest{
		Payload:       "0x01",
		SourceAddress: testutil.BobAddress,
	})
	assert.True(t, errors.Is(err, pairing.ErrPairingUnavailable))
}

func TestWalletRejectsEmptyPayload(t *testing.T) {
	ctx := testutil.Context(t)
	w := newWallet(t, AutoApprove)
	client := newClient(t, pairing.NewLoopbackTransport(w))
	_, err := client.RequestPermissions(ctx)
	require.NoError(t, err)

	_, err = client.RequestSignPayload(ctx, pairing.SignPayloadRequest{Payload: "0x"})
	require.Error(t, err)
	assert.Equal(t, "error", pairing.Outcome(err))
}

func TestWalletBlocksRepeatedlyDeniedDApp(t *testing.T) {
	w := newWallet(t, DenyAll)
	w.opts.Blocklist.maxDenials = 2

	send := func() *protocol.Message {
		msg, err := protocol.NewMessage(protocol.MessageTypePermissionRequest, "pushy-dapp", protocol.PermissionRequest{})
		require.NoError(t, err)
		return w.HandleMessage(context.Background(), msg)
	}

	assert.Equal(t, protocol.ErrorTypeAborted, send().Error.Type)
	assert.Equal(t, protocol.ErrorTypeAborted, send().Error.Type)
	assert.Equal(t, protocol.ErrorTypeNotGranted, send().Error.Type)
}

func TestWalletUnknownMessage(t *testing.T) {
	w := newWallet(t, AutoApprove)
	msg, err := protocol.NewMessage("gossip", "dapp", nil)
	require.NoError(t, err)

	reply := w.HandleMessage(context.Background(), msg)
	assert.Equal(t, protocol.ErrorTypeUnknown, reply.Error.Type)
}

func TestWalletOverNATS(t *testing.T) {
	url := testutil.RequireEnv(t, "NATS_TEST_URL")
	ctx := testutil.Context(t)

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	subject := pairing.Subject("", nats.NewInbox()[len(nats.InboxPrefix):])
	w := newWallet(t, AutoApprove)
	responder, err := w.Serve(ctx, nc, subject)
	require.NoError(t, err)
	defer responder.Close()

	client := newClient(t, pairing.NewNATSTransportWithConn(nc, subject))
	_, err = client.RequestPermissions(ctx)
	require.NoError(t, err)

	resp, err := client.RequestSignPayload(ctx, pairing.SignPayloadRequest{Payload: "0xdeadbeef"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Signature)
}
