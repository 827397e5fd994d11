// Package substrate is the chain RPC client: chain state queries, transfer
// construction and submission of extrinsics signed by a pluggable signer.
package substrate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/sirupsen/logrus"
)

// ErrNotConnected is returned after Close
var ErrNotConnected = errors.New("client not connected")

// Config holds the configuration for the Substrate client
type Config struct {
	// WebSocket endpoint URL (e.g. "wss://westend-rpc.polkadot.io")
	Endpoint string

	// SS58 prefix of the network. Senders must be encoded with it.
	SS58Format uint16

	// Verify signatures locally before submitting
	VerifySignatures bool

	// Wait for finality instead of returning once the extrinsic is in a block
	WaitFinalized bool

	Logger logrus.FieldLogger
}

// Client manages the connection to a Substrate node
type Client struct {
	mu sync.RWMutex

	api *gsrpc.SubstrateAPI

	// Cached chain metadata and genesis
	metadata    *types.Metadata
	genesis     types.Hash
	specVersion types.U32

	config Config
	logger logrus.FieldLogger

	connected bool
}

// NewClient connects to the node and caches its metadata and genesis hash
func NewClient(ctx context.Context, config Config) (*Client, error) {
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	type dialResult struct {
		api *gsrpc.SubstrateAPI
		err error
	}
	done := make(chan dialResult, 1)
	go func() {
		api, err := gsrpc.NewSubstrateAPI(config.Endpoint)
		done <- dialResult{api, err}
	}()

	var api *gsrpc.SubstrateAPI
	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				r.api.Client.Close()
			}
		}()
		return nil, fmt.Errorf("connecting to %s: %w", config.Endpoint, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("failed to create substrate API: %w", r.err)
		}
		api = r.api
	}

	client := &Client{
		api:       api,
		config:    config,
		logger:    config.Logger.WithField("endpoint", config.Endpoint),
		connected: true,
	}

	if err := client.updateMetadata(); err != nil {
		api.Client.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}

	genesis, err := api.RPC.Chain.GetBlockHash(0)
	if err != nil {
		api.Client.Close()
		return nil, fmt.Errorf("getting genesis hash: %w", err)
	}
	client.genesis = genesis

	client.logger.WithField("genesis", genesis.Hex()).Info("Connected to chain")
	return client, nil
}

// updateMetadata fetches and caches the latest chain metadata
func (c *Client) updateMetadata() error {
	meta, err := c.api.RPC.State.GetMetadataLatest()
	if err != nil {
		return fmt.Errorf("failed to get metadata: %w", err)
	}

	c.mu.Lock()
	c.metadata = meta
	c.mu.Unlock()
	return nil
}

// GetMetadata returns the cached chain metadata
func (c *Client) GetMetadata() *types.Metadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metadata
}

// GenesisHash returns the chain's genesis block hash
func (c *Client) GenesisHash() types.Hash {
	return c.genesis
}

// RuntimeVersion fetches the current runtime version. Metadata is refreshed
// when the spec version has moved on since the last fetch.
func (c *Client) RuntimeVersion() (*types.RuntimeVersion, error) {
	if err := c.checkConnected(); err != nil {
		return nil, err
	}

	rv, err := c.api.RPC.State.GetRuntimeVersionLatest()
	if err != nil {
		return nil, fmt.Errorf("getting runtime version: %w", err)
	}

	c.mu.RLock()
	known := c.specVersion
	c.mu.RUnlock()

	if known != 0 && known != rv.SpecVersion {
		c.logger.WithFields(logrus.Fields{
			"from": known,
			"to":   rv.SpecVersion,
		}).Info("Runtime upgraded, refreshing metadata")
		if err := c.updateMetadata(); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	c.specVersion = rv.SpecVersion
	c.mu.Unlock()
	return rv, nil
}

// Close closes the connection to the Substrate node
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}

	c.connected = false
	c.api.Client.Close()
	return nil
}

func (c *Client) checkConnected() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return ErrNotConnected
	}
	return nil
}
