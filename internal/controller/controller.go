// Package controller holds the application state behind the UI: the selected
// network, the connected signer sources and the transfer form, and drives
// transfers through the chain client with the active signer.
package controller

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dotbeacon/internal/address"
	"dotbeacon/internal/database"
	"dotbeacon/internal/network"
	"dotbeacon/internal/pairing"
	"dotbeacon/internal/signer"
	"dotbeacon/internal/substrate"
)

// Connection statuses shown to the user
const (
	StatusConnecting   = "connecting..."
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Signer entry keys
const (
	KeyExtension = "extension"
	KeyPairing   = "pairing"
)

var (
	ErrNotConnected       = errors.New("chain client not connected")
	ErrNoAddress          = errors.New("no account address selected")
	ErrNoSigner           = errors.New("no active signer")
	ErrUnknownNetwork     = errors.New("unknown network")
	ErrUnknownSigner      = errors.New("unknown signer")
	ErrNoExtensionAccount = errors.New("no extension accounts available")
	ErrInvalidTransfer    = errors.New("invalid transfer")
)

// Chain is the chain client the controller submits transfers through
type Chain interface {
	Transfer(ctx context.Context, req substrate.TransferRequest, s signer.Signer, onStatus substrate.StatusCallback) (*substrate.SubmitResult, error)
	Close() error
}

// Dialer connects a chain client for a network
type Dialer func(ctx context.Context, n network.Network) (Chain, error)

// AccountSource is a local account provider, the way a browser extension is
type AccountSource interface {
	Accounts() []signer.Account
	SignerFor(addr string) (signer.Signer, error)
	SetCodec(codec address.Codec)
}

// Metrics observes transfers
type Metrics interface {
	ObserveTransfer(network, signerKey, outcome string, elapsed time.Duration)
}

// SignerEntry is one connected signer source
type SignerEntry struct {
	Name      string        `json:"name"`
	Key       string        `json:"key"`
	Disabled  bool          `json:"disabled"`
	Address   string        `json:"address"`
	PublicKey []byte        `json:"-"`
	Signer    signer.Signer `json:"-"`
}

// State is a snapshot of the controller
type State struct {
	Status       string            `json:"status"`
	Network      network.Network   `json:"network"`
	Networks     []network.Network `json:"networks"`
	Address      string            `json:"address,omitempty"`
	Recipient    string            `json:"recipient"`
	Amount       string            `json:"amount"`
	Signers      []SignerEntry     `json:"signers"`
	ActiveSigner string            `json:"active_signer,omitempty"`
}

// Options configures a Controller
type Options struct {
	Registry  *network.Registry
	Dial      Dialer
	Pairing   pairing.Client
	Accounts  AccountSource
	Transfers database.TransferLog
	Events    Publisher
	Metrics   Metrics
	Logger    logrus.FieldLogger
}

// Controller is safe for concurrent use. Blocking chain and wallet calls run
// without holding its lock.
type Controller struct {
	mu sync.Mutex

	registry  *network.Registry
	dial      Dialer
	pairing   pairing.Client
	accounts  AccountSource
	transfers database.TransferLog
	events    Publisher
	metrics   Metrics
	logger    logrus.FieldLogger

	status    string
	network   network.Network
	chain     Chain
	startGen  uint64
	address   string
	recipient string
	amount    *big.Int
	signers   []SignerEntry
	active    string
}

// New creates a controller on the registry's default network. Call Start to connect.
func New(opts Options) (*Controller, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("network registry is required")
	}
	if opts.Dial == nil {
		return nil, fmt.Errorf("chain dialer is required")
	}
	if opts.Pairing == nil {
		return nil, fmt.Errorf("pairing client is required")
	}
	if opts.Transfers == nil {
		opts.Transfers = database.NewMemoryTransferLog()
	}
	if opts.Events == nil {
		opts.Events = nopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	c := &Controller{
		registry:  opts.Registry,
		dial:      opts.Dial,
		pairing:   opts.Pairing,
		accounts:  opts.Accounts,
		transfers: opts.Transfers,
		events:    opts.Events,
		metrics:   opts.Metrics,
		logger:    opts.Logger.WithField("component", "controller"),
		status:    StatusDisconnected,
		network:   opts.Registry.Default(),
		amount:    new(big.Int),
	}
	c.applyCodec(c.network)
	return c, nil
}

// State returns a snapshot of the controller
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	signers := make([]SignerEntry, len(c.signers))
	copy(signers, c.signers)
	return State{
		Status:       c.status,
		Network:      c.network,
		Networks:     c.registry.All(),
		Address:      c.address,
		Recipient:    c.recipient,
		Amount:       c.amount.String(),
		Signers:      signers,
		ActiveSigner: c.active,
	}
}

// NetworkChanged switches to the network with the given value and reconnects
func (c *Controller) NetworkChanged(ctx context.Context, value string) error {
	n, ok := c.registry.Find(value)
	if !ok || n.Disabled {
		return fmt.Errorf("%w: %s", ErrUnknownNetwork, value)
	}

	c.mu.Lock()
	c.network = n
	codec := n.Codec()
	for i := range c.signers {
		if len(c.signers[i].PublicKey) == 0 {
			continue
		}
		if addr, err := codec.Encode(c.signers[i].PublicKey); err == nil {
			if c.address == c.signers[i].Address {
				c.address = addr
			}
			c.signers[i].Address = addr
		}
	}
	c.mu.Unlock()

	c.applyCodec(n)
	c.logger.WithField("network", n.Value).Info("Network changed")
	c.publish(Event{Type: EventNetwork, Network: n.Value})

	return c.Start(ctx)
}

// SignerChanged makes the signer entry with key active
func (c *Controller) SignerChanged(key string) error {
	c.mu.Lock()
	idx := c.indexOf(key)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSigner, key)
	}
	c.active = key
	c.mu.Unlock()

	c.logger.WithField("signer", key).Info("Signer changed")
	c.publish(Event{Type: EventSigners, Signer: key})
	return nil
}

// Start connects the chain client for the active network, replacing any
// previous connection, and restores a persisted wallet pairing
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	c.startGen++
	gen := c.startGen
	n := c.network
	old := c.chain
	c.chain = nil
	c.status = StatusConnecting
	c.mu.Unlock()

	c.publish(Event{Type: EventStatus, Status: StatusConnecting, Network: n.Value})
	if old != nil {
		if err := old.Close(); err != nil {
			c.logger.WithError(err).Warn("Closing previous chain client")
		}
	}

	log := c.logger.WithFields(logrus.Fields{"network": n.Value, "url": n.URL})
	chain, err := c.dial(ctx, n)
	if err != nil {
		c.setStatus(gen, StatusDisconnected, n.Value)
		log.WithError(err).Error("Failed to connect to chain")
		return fmt.Errorf("connecting to %s: %w", n.Name, err)
	}

	c.mu.Lock()
	if gen != c.startGen {
		// a newer Start owns the connection
		c.mu.Unlock()
		chain.Close()
		return nil
	}
	c.chain = chain
	c.status = StatusConnected
	codec := c.network.Codec()
	c.mu.Unlock()

	log.Info("Connected")
	c.publish(Event{Type: EventStatus, Status: StatusConnected, Network: n.Value})

	account, err := c.pairing.GetActiveAccount(ctx)
	if err != nil {
		log.WithError(err).Warn("Could not read active pairing account")
		return nil
	}
	if account != nil {
		entry, err := c.pairingEntry(account, codec)
		if err != nil {
			log.WithError(err).Warn("Ignoring invalid pairing account")
			return nil
		}
		c.AddSigner(entry)
	}
	return nil
}

// ConnectExtension adds the first local account as the extension signer
func (c *Controller) ConnectExtension(ctx context.Context) error {
	if c.accounts == nil {
		c.setAddress("")
		return ErrNoExtensionAccount
	}

	var first *signer.Account
	for _, account := range c.accounts.Accounts() {
		if account.Source == signer.DefaultSource {
			first = &account
			break
		}
	}
	if first == nil {
		c.setAddress("")
		return ErrNoExtensionAccount
	}

	s, err := c.accounts.SignerFor(first.Address)
	if err != nil {
		return fmt.Errorf("finding signer for %s: %w", first.Address, err)
	}
	pub, _, err := address.Decode(first.Address)
	if err != nil {
		return err
	}

	c.setAddress(first.Address)
	c.AddSigner(SignerEntry{
		Name:      "Extension",
		Key:       KeyExtension,
		Address:   first.Address,
		PublicKey: pub,
		Signer:    s,
	})
	return nil
}

// ConnectPairing pairs with a wallet unless already paired and adds the
// pairing signer
func (c *Controller) ConnectPairing(ctx context.Context) error {
	account, err := c.pairing.GetActiveAccount(ctx)
	if err != nil {
		return err
	}
	if account == nil {
		if _, err := c.pairing.RequestPermissions(ctx); err != nil {
			return err
		}
		if account, err = c.pairing.GetActiveAccount(ctx); err != nil {
			return err
		}
	}
	if account == nil {
		c.setAddress("")
		return fmt.Errorf("%w: wallet granted no account", pairing.ErrPairingUnavailable)
	}

	c.mu.Lock()
	codec := c.network.Codec()
	c.mu.Unlock()

	entry, err := c.pairingEntry(account, codec)
	if err != nil {
		return err
	}
	c.setAddress(entry.Address)
	c.AddSigner(entry)
	return nil
}

// AddSigner adds entry unless one with the same key exists. The first signer
// added becomes active. It reports whether entry was added.
func (c *Controller) AddSigner(entry SignerEntry) bool {
	c.mu.Lock()
	if c.indexOf(entry.Key) >= 0 {
		c.mu.Unlock()
		return false
	}
	c.signers = append(c.signers, entry)
	if c.active == "" {
		c.active = entry.Key
	}
	active := c.active
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{"signer": entry.Key, "address": entry.Address}).Info("Signer added")
	c.publish(Event{Type: EventSigners, Signer: active})
	return true
}

// DisconnectPairing ends the wallet pairing and removes its signer. When it
// was active the first remaining signer takes over.
func (c *Controller) DisconnectPairing(ctx context.Context) error {
	if err := c.pairing.ClearActiveAccount(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.address = ""
	if idx := c.indexOf(KeyPairing); idx >= 0 {
		c.signers = append(c.signers[:idx], c.signers[idx+1:]...)
	}
	if c.active == KeyPairing {
		c.active = ""
		if len(c.signers) > 0 {
			c.active = c.signers[0].Key
		}
	}
	active := c.active
	c.mu.Unlock()

	c.logger.Info("Wallet pairing disconnected")
	c.publish(Event{Type: EventSigners, Signer: active})
	return nil
}

// SetTransfer sets the transfer form
func (c *Controller) SetTransfer(recipient string, amount *big.Int) error {
	recipient = strings.TrimSpace(recipient)
	if recipient != "" && !address.Valid(recipient) {
		return fmt.Errorf("%w: recipient %q is not an address", ErrInvalidTransfer, recipient)
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: amount must be zero or more", ErrInvalidTransfer)
	}

	c.mu.Lock()
	c.recipient = recipient
	c.amount = new(big.Int).Set(amount)
	c.mu.Unlock()
	return nil
}

// Sign transfers the form amount to the recipient from the active signer's
// account. It blocks until the transfer is in a block or fails.
func (c *Controller) Sign(ctx context.Context) (*substrate.SubmitResult, error) {
	c.mu.Lock()
	chain := c.chain
	n := c.network
	addr := c.address
	recipient := c.recipient
	amount := new(big.Int).Set(c.amount)
	var entry *SignerEntry
	if idx := c.indexOf(c.active); idx >= 0 {
		e := c.signers[idx]
		entry = &e
	}
	c.mu.Unlock()

	switch {
	case chain == nil:
		return nil, ErrNotConnected
	case addr == "":
		return nil, ErrNoAddress
	case entry == nil:
		return nil, ErrNoSigner
	}
	if recipient == "" {
		return nil, fmt.Errorf("%w: no recipient", ErrInvalidTransfer)
	}

	record := &database.Transfer{
		Network: n.Value,
		Signer:  entry.Key,
		From:    entry.Address,
		To:      recipient,
		Amount:  amount,
		Stage:   string(substrate.StageSigning),
	}
	if err := c.transfers.RecordTransfer(ctx, record); err != nil {
		c.logger.WithError(err).Warn("Failed to record transfer")
	}

	log := c.logger.WithFields(logrus.Fields{
		"network": n.Value,
		"signer":  entry.Key,
		"from":    entry.Address,
		"to":      recipient,
		"amount":  amount.String(),
	})
	log.Info("Submitting transfer")

	start := time.Now()
	result, err := chain.Transfer(ctx, substrate.TransferRequest{
		From:   entry.Address,
		To:     recipient,
		Amount: amount,
	}, entry.Signer, func(st substrate.TxStatus) {
		c.publish(Event{Type: EventTransaction, Network: n.Value, Signer: entry.Key, Tx: &st})
	})
	elapsed := time.Since(start)

	outcome := "ok"
	if result != nil {
		record.TxHash = result.TxHash
		record.BlockHash = result.BlockHash
		record.Stage = string(result.Stage)
	}
	if err != nil {
		outcome = transferOutcome(err)
		record.Error = err.Error()
		if result == nil {
			record.Stage = "failed"
		}
		log.WithError(err).Warn("Transfer failed")
	} else {
		log.WithField("tx_hash", result.TxHash).Info("Transfer included")
	}

	if record.ID != 0 {
		// the caller may have given up, the outcome is still recorded
		if rerr := c.transfers.RecordTransfer(context.WithoutCancel(ctx), record); rerr != nil {
			c.logger.WithError(rerr).Warn("Failed to update transfer record")
		}
	}
	if c.metrics != nil {
		c.metrics.ObserveTransfer(n.Value, entry.Key, outcome, elapsed)
	}
	return result, err
}

// Transfers lists recorded transfers, newest first
func (c *Controller) Transfers(ctx context.Context, limit int) ([]database.Transfer, error) {
	return c.transfers.ListTransfers(ctx, limit)
}

// Close disconnects the chain client
func (c *Controller) Close() error {
	c.mu.Lock()
	chain := c.chain
	c.chain = nil
	c.status = StatusDisconnected
	c.startGen++
	c.mu.Unlock()

	if chain != nil {
		return chain.Close()
	}
	return nil
}

func (c *Controller) pairingEntry(account *pairing.AccountInfo, codec address.Codec) (SignerEntry, error) {
	addr, err := codec.EncodeHex(account.PublicKey)
	if err != nil {
		return SignerEntry{}, fmt.Errorf("encoding pairing address: %w", err)
	}
	pub, err := codec.Decode(addr)
	if err != nil {
		return SignerEntry{}, err
	}
	return SignerEntry{
		Name:      "Wallet Pairing",
		Key:       KeyPairing,
		Address:   addr,
		PublicKey: pub,
		Signer:    signer.NewPairingSigner(c.pairing),
	}, nil
}

func (c *Controller) applyCodec(n network.Network) {
	if c.accounts != nil {
		c.accounts.SetCodec(n.Codec())
	}
	if setter, ok := c.pairing.(interface{ SetNetwork(string) }); ok {
		setter.SetNetwork(n.Value)
	}
}

func (c *Controller) setAddress(addr string) {
	c.mu.Lock()
	c.address = addr
	c.mu.Unlock()
}

func (c *Controller) setStatus(gen uint64, status, networkValue string) {
	c.mu.Lock()
	if gen != c.startGen {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.mu.Unlock()
	c.publish(Event{Type: EventStatus, Status: status, Network: networkValue})
}

// indexOf must be called with c.mu held
func (c *Controller) indexOf(key string) int {
	for i, s := range c.signers {
		if s.Key == key {
			return i
		}
	}
	return -1
}

func (c *Controller) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	c.events.Publish(e)
}

func transferOutcome(err error) string {
	switch {
	case errors.Is(err, pairing.ErrUserRejected):
		return "rejected"
	case errors.Is(err, pairing.ErrPairingUnavailable), errors.Is(err, pairing.ErrTransportFailure):
		return "unavailable"
	case errors.Is(err, substrate.ErrTxFailed):
		return "dropped"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
