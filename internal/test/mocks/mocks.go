// Package mocks provides hand-written test doubles for the chain client,
// the pairing client and local account sources.
package mocks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"dotbeacon/internal/address"
	"dotbeacon/internal/controller"
	"dotbeacon/internal/network"
	"dotbeacon/internal/pairing"
	"dotbeacon/internal/signer"
	"dotbeacon/internal/substrate"
)

// MockChain implements controller.Chain. Transfer signs a fixed payload with
// the given signer so signer errors surface the way they do on a real chain.
type MockChain struct {
	mu       sync.Mutex
	Network  network.Network
	Requests []substrate.TransferRequest
	Stages   []substrate.TxStage
	Err      error
	closed   bool
}

// NewMockChain creates a chain that includes every transfer in a block
func NewMockChain(n network.Network) *MockChain {
	return &MockChain{
		Network: n,
		Stages:  []substrate.TxStage{substrate.StageReady, substrate.StageInBlock},
	}
}

// Transfer implements controller.Chain
func (m *MockChain) Transfer(ctx context.Context, req substrate.TransferRequest, s signer.Signer, onStatus substrate.StatusCallback) (*substrate.SubmitResult, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, substrate.ErrNotConnected
	}
	m.Requests = append(m.Requests, req)
	n := len(m.Requests)
	stages := append([]substrate.TxStage{}, m.Stages...)
	failure := m.Err
	m.mu.Unlock()

	onStatus(substrate.TxStatus{Stage: substrate.StageSigning})
	if _, err := s.SignRaw(ctx, signer.PayloadRaw{Address: req.From, Data: "0x0400deadbeef", Type: "payload"}); err != nil {
		return nil, err
	}

	result := &substrate.SubmitResult{TxHash: fmt.Sprintf("0x%064x", n), Stage: substrate.StageSubmitted}
	onStatus(substrate.TxStatus{Stage: substrate.StageSubmitted, TxHash: result.TxHash})
	for _, stage := range stages {
		result.Stage = stage
		if stage == substrate.StageInBlock || stage == substrate.StageFinalized {
			result.BlockHash = fmt.Sprintf("0x%064x", 1)
		}
		onStatus(substrate.TxStatus{Stage: stage, TxHash: result.TxHash, BlockHash: result.BlockHash})
		if stage.Failed() {
			return result, fmt.Errorf("%w: %s", substrate.ErrTxFailed, stage)
		}
	}
	if failure != nil {
		return result, failure
	}
	return result, nil
}

// Close implements controller.Chain
func (m *MockChain) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called
func (m *MockChain) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// TransferCount returns the number of transfers received
func (m *MockChain) TransferCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// MockDialer hands out MockChains and remembers them
type MockDialer struct {
	mu     sync.Mutex
	Chains []*MockChain
	Err    error
}

// Dial implements controller.Dialer
func (d *MockDialer) Dial(_ context.Context, n network.Network) (controller.Chain, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	chain := NewMockChain(n)
	d.Chains = append(d.Chains, chain)
	return chain, nil
}

// Last returns the most recently dialed chain
func (d *MockDialer) Last() *MockChain {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Chains) == 0 {
		return nil
	}
	return d.Chains[len(d.Chains)-1]
}

// MockPairingClient implements pairing.Client with a scripted wallet
type MockPairingClient struct {
	mu sync.Mutex

	// Grant is the account RequestPermissions stores. Nil grants nothing.
	Grant      *pairing.AccountInfo
	PermErr    error
	Signature  string
	SignErr    error
	ClearErr   error
	Network    string
	active     *pairing.AccountInfo
	SignCalls  []pairing.SignPayloadRequest
	PermCalls  int
	ClearCalls int
}

// SetActive sets the persisted account directly
func (m *MockPairingClient) SetActive(account *pairing.AccountInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = account
}

func (m *MockPairingClient) GetActiveAccount(context.Context) (*pairing.AccountInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil, nil
	}
	account := *m.active
	return &account, nil
}

func (m *MockPairingClient) RequestPermissions(context.Context) (*pairing.AccountInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PermCalls++
	if m.PermErr != nil {
		return nil, m.PermErr
	}
	if m.Grant == nil {
		return nil, nil
	}
	account := *m.Grant
	m.active = &account
	return &account, nil
}

func (m *MockPairingClient) RequestSignPayload(_ context.Context, req pairing.SignPayloadRequest) (*pairing.SignPayloadResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SignCalls = append(m.SignCalls, req)
	if m.active == nil {
		return nil, pairing.ErrPairingUnavailable
	}
	if m.SignErr != nil {
		return nil, m.SignErr
	}
	return &pairing.SignPayloadResponse{Signature: m.Signature}, nil
}

func (m *MockPairingClient) ClearActiveAccount(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClearCalls++
	if m.ClearErr != nil {
		return m.ClearErr
	}
	m.active = nil
	return nil
}

// SetNetwork records the network the controller announced
func (m *MockPairingClient) SetNetwork(network string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Network = network
}

// MockAccountSource implements controller.AccountSource over fixed accounts
type MockAccountSource struct {
	mu       sync.Mutex
	accounts []signer.Account
	signers  map[string]signer.Signer
	Codec    address.Codec
}

// NewMockAccountSource creates an empty source
func NewMockAccountSource() *MockAccountSource {
	return &MockAccountSource{signers: make(map[string]signer.Signer)}
}

// Add registers an account and the signer for it
func (m *MockAccountSource) Add(account signer.Account, s signer.Signer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = append(m.accounts, account)
	m.signers[account.Address] = s
}

func (m *MockAccountSource) Accounts() []signer.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]signer.Account{}, m.accounts...)
}

func (m *MockAccountSource) SignerFor(addr string) (signer.Signer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signers[addr]
	if !ok {
		return nil, signer.ErrUnknownAccount
	}
	return s, nil
}

func (m *MockAccountSource) SetCodec(codec address.Codec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Codec = codec
}

// EventRecorder implements controller.Publisher
type EventRecorder struct {
	mu     sync.Mutex
	events []controller.Event
}

func (r *EventRecorder) Publish(e controller.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns the events published so far
func (r *EventRecorder) Events() []controller.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]controller.Event{}, r.events...)
}

// Stages returns the transaction stages published so far
func (r *EventRecorder) Stages() []substrate.TxStage {
	var stages []substrate.TxStage
	for _, e := range r.Events() {
		if e.Type == controller.EventTransaction && e.Tx != nil {
			stages = append(stages, e.Tx.Stage)
		}
	}
	return stages
}

// ErrMock is a generic failure for scripted mocks
var ErrMock = errors.New("mock failure")
