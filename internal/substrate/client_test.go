package substrate

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dotbeacon/internal/signer"
)

// getTestEndpoint returns the node to test against, skipping when none is configured
func getTestEndpoint(t *testing.T) string {
	t.Helper()
	endpoint := os.Getenv("SUBSTRATE_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("SUBSTRATE_TEST_ENDPOINT not set")
	}
	return endpoint
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNewClient(t *testing.T) {
	endpoint := getTestEndpoint(t)

	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{"valid config", Config{Endpoint: endpoint, SS58Format: 42}, false},
		{"invalid endpoint", Config{Endpoint: "invalid://endpoint", SS58Format: 42}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			client, err := NewClient(ctx, tt.config)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer client.Close()

			assert.NotNil(t, client.GetMetadata())
			assert.NotEqual(t, [32]byte{}, [32]byte(client.GenesisHash()))

			rv, err := client.RuntimeVersion()
			require.NoError(t, err)
			assert.NotZero(t, rv.SpecVersion)
		})
	}
}

func TestClosedClient(t *testing.T) {
	client := newTestClient(t, Config{Endpoint: getTestEndpoint(t)})
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, err := client.AccountNonce(aliceID(t))
	assert.ErrorIs(t, err, ErrNotConnected)
}

// TestTransferOnDevChain needs a --dev node where Alice is funded
func TestTransferOnDevChain(t *testing.T) {
	endpoint := getTestEndpoint(t)
	if os.Getenv("SUBSTRATE_TEST_DEV_CHAIN") == "" {
		t.Skip("SUBSTRATE_TEST_DEV_CHAIN not set")
	}

	client := newTestClient(t, Config{Endpoint: endpoint, SS58Format: 42, VerifySignatures: true})

	bob, err := signature.KeyringPairFromSecret("//Bob", 42)
	require.NoError(t, err)
	bobID, err := accountID(bob.Address)
	require.NoError(t, err)

	before, err := client.FreeBalance(bobID)
	require.NoError(t, err)

	var stages []TxStage
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := client.Transfer(ctx, TransferRequest{
		From:   signature.TestKeyringPairAlice.Address,
		To:     bob.Address,
		Amount: big.NewInt(1_000_000_000),
	}, signer.NewKeyringSigner(signature.TestKeyringPairAlice), func(s TxStatus) {
		stages = append(stages, s.Stage)
	})
	require.NoError(t, err)
	assert.Equal(t, StageInBlock, result.Stage)
	assert.NotEmpty(t, result.BlockHash)
	assert.Equal(t, StageSigning, stages[0])

	after, err := client.FreeBalance(bobID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.Cmp(before))
}
