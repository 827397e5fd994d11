// Package pairing implements the dApp side of the wallet pairing protocol:
// permission requests, remote payload signing and the persisted session.
package pairing

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dotbeacon/internal/identity"
	"dotbeacon/internal/protocol"
)

// Wire payloads re-exported for callers that only depend on this package
type (
	SignPayloadRequest  = protocol.SignPayloadRequest
	SignPayloadResponse = protocol.SignPayloadResponse
)

// DefaultRequestTimeout bounds a single round trip to the wallet
const DefaultRequestTimeout = 2 * time.Minute

// Client is the wallet-pairing capability consumed by signers and the controller
type Client interface {
	GetActiveAccount(ctx context.Context) (*AccountInfo, error)
	RequestPermissions(ctx context.Context) (*AccountInfo, error)
	RequestSignPayload(ctx context.Context, req SignPayloadRequest) (*SignPayloadResponse, error)
	ClearActiveAccount(ctx context.Context) error
}

// Metrics observes pairing round trips
type Metrics interface {
	ObserveRequest(msgType, outcome string, elapsed time.Duration)
}

// Options configures a DAppClient
type Options struct {
	Identity         *identity.Identity
	Network          string
	Scopes           []string
	RequestTimeout   time.Duration
	MinWalletVersion string
	Logger           logrus.FieldLogger
	Metrics          Metrics
}

// DAppClient talks to a paired wallet over a Transport and keeps the granted
// account in a SessionStore
type DAppClient struct {
	transport Transport
	store     SessionStore
	opts      Options
	logger    logrus.FieldLogger

	// serializes permission and disconnect flows against each other
	sessionMu sync.Mutex
}

// NewDAppClient creates a pairing client
func NewDAppClient(transport Transport, store SessionStore, opts Options) (*DAppClient, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if opts.Identity == nil {
		opts.Identity = identity.New("dotbeacon", "", "")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.MinWalletVersion == "" {
		opts.MinWalletVersion = protocol.MinCompatibleVersion
	}
	if len(opts.Scopes) == 0 {
		opts.Scopes = []string{protocol.ScopeSignPayload, protocol.ScopeTransfer}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	return &DAppClient{
		transport: transport,
		store:     store,
		opts:      opts,
		logger:    opts.Logger.WithField("sender_id", opts.Identity.GetID()),
	}, nil
}

// SetNetwork changes the network announced with later permission requests
func (c *DAppClient) SetNetwork(network string) {
	c.sessionMu.Lock()
	c.opts.Network = network
	c.sessionMu.Unlock()
}

// GetActiveAccount returns the persisted account, or nil when not paired
func (c *DAppClient) GetActiveAccount(ctx context.Context) (*AccountInfo, error) {
	account, err := c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading active account: %w", err)
	}
	return account, nil
}

// RequestPermissions asks the wallet to share an account and stores it as active
func (c *DAppClient) RequestPermissions(ctx context.Context) (*AccountInfo, error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	req := protocol.PermissionRequest{
		AppMetadata: c.opts.Identity.Metadata(),
		Network:     c.opts.Network,
		Scopes:      c.opts.Scopes,
	}

	reply, err := c.roundTrip(ctx, protocol.MessageTypePermissionRequest, req, protocol.MessageTypePermissionResponse)
	if err != nil {
		return nil, err
	}

	var resp protocol.PermissionResponse
	if err := reply.DecodePayload(&resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}

	ok, err := protocol.IsCompatible(resp.WalletVersion, c.opts.MinWalletVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompatibleWallet, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: wallet %s, need >= %s", ErrIncompatibleWallet, resp.WalletVersion, c.opts.MinWalletVersion)
	}

	pub, err := hex.DecodeString(strings.TrimPrefix(resp.PublicKey, "0x"))
	if err != nil || len(pub) != 32 {
		return nil, fmt.Errorf("wallet returned invalid public key %q", resp.PublicKey)
	}

	account := &AccountInfo{
		PublicKey:     "0x" + hex.EncodeToString(pub),
		Address:       resp.Address,
		Network:       resp.Network,
		Scopes:        resp.Scopes,
		WalletName:    resp.WalletName,
		WalletVersion: resp.WalletVersion,
		ConnectedAt:   time.Now().UTC(),
	}
	if account.Network == "" {
		account.Network = c.opts.Network
	}

	if err := c.store.Save(ctx, account); err != nil {
		return nil, fmt.Errorf("saving active account: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"public_key": account.PublicKey,
		"wallet":     account.WalletName,
		"network":    account.Network,
	}).Info("Wallet paired")

	return account, nil
}

// RequestSignPayload asks the paired wallet to sign req.Payload
func (c *DAppClient) RequestSignPayload(ctx context.Context, req SignPayloadRequest) (*SignPayloadResponse, error) {
	account, err := c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading active account: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("%w: no active account", ErrPairingUnavailable)
	}
	if req.SourceAddress == "" {
		req.SourceAddress = account.Address
	}

	reply, err := c.roundTrip(ctx, protocol.MessageTypeSignPayloadRequest, req, protocol.MessageTypeSignPayloadResponse)
	if err != nil {
		return nil, err
	}

	var resp SignPayloadResponse
	if err := reply.DecodePayload(&resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}
	if resp.Signature == "" {
		return nil, fmt.Errorf("%w: wallet returned an empty signature", ErrTransportFailure)
	}
	return &resp, nil
}

// ClearActiveAccount tells the wallet the session is over and forgets it locally.
// The local session is cleared even when the wallet cannot be reached.
func (c *DAppClient) ClearActiveAccount(ctx context.Context) error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	account, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading active account: %w", err)
	}
	if account != nil {
		if _, err := c.roundTrip(ctx, protocol.MessageTypeDisconnect, nil, protocol.MessageTypeAcknowledge); err != nil {
			c.logger.WithError(err).Warn("Wallet did not acknowledge disconnect")
		}
	}

	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing active account: %w", err)
	}
	return nil
}

// Close releases the transport and the session store
func (c *DAppClient) Close() error {
	terr := c.transport.Close()
	serr := c.store.Close()
	if terr != nil {
		return terr
	}
	return serr
}

func (c *DAppClient) roundTrip(ctx context.Context, msgType string, payload any, wantType string) (*protocol.Message, error) {
	msg, err := protocol.NewMessage(msgType, c.opts.Identity.GetID(), payload)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	start := time.Now()
	reply, err := c.exchange(ctx, msg, wantType)
	elapsed := time.Since(start)

	if c.opts.Metrics != nil {
		c.opts.Metrics.ObserveRequest(msgType, Outcome(err), elapsed)
	}

	log := c.logger.WithFields(logrus.Fields{
		"request_id": msg.ID,
		"type":       msgType,
		"elapsed":    elapsed,
	})
	if err != nil {
		log.WithError(err).Debug("Pairing request failed")
		return nil, err
	}
	log.Debug("Pairing request answered")
	return reply, nil
}

func (c *DAppClient) exchange(ctx context.Context, msg *protocol.Message, wantType string) (*protocol.Message, error) {
	reply, err := c.transport.Request(ctx, msg)
	if err != nil {
		return nil, err
	}
	if reply.ID != msg.ID {
		return nil, fmt.Errorf("%w: reply %s does not match request %s", ErrTransportFailure, reply.ID, msg.ID)
	}
	if reply.Type == protocol.MessageTypeError {
		return nil, walletError(reply.Error)
	}
	if reply.Type != wantType {
		return nil, fmt.Errorf("%w: expected %s reply, got %s", ErrTransportFailure, wantType, reply.Type)
	}
	return reply, nil
}
