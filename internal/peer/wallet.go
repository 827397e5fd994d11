// Package peer implements the wallet end of a pairing: a development wallet
// that grants its account to dApps and signs their payloads with a local key.
package peer

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"dotbeacon/internal/address"
	"dotbeacon/internal/pairing"
	"dotbeacon/internal/protocol"
)

// Request is what the wallet holder is asked to approve
type Request struct {
	Type     string
	SenderID string
	AppName  string
	Network  string
	Payload  string
}

// Approver decides whether the wallet holder accepts a request
type Approver interface {
	Approve(ctx context.Context, req Request) (bool, error)
}

// ApproverFunc adapts a function to Approver
type ApproverFunc func(ctx context.Context, req Request) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, req Request) (bool, error) {
	return f(ctx, req)
}

var (
	// AutoApprove accepts every request
	AutoApprove Approver = ApproverFunc(func(context.Context, Request) (bool, error) { return true, nil })
	// DenyAll rejects every request
	DenyAll Approver = ApproverFunc(func(context.Context, Request) (bool, error) { return false, nil })
)

// Options configures a Wallet
type Options struct {
	Name      string
	Version   string
	Codec     address.Codec
	Approver  Approver
	Blocklist *Blocklist
	Logger    logrus.FieldLogger
}

// Wallet answers pairing requests for a single sr25519 key
type Wallet struct {
	pair    signature.KeyringPair
	opts    Options
	address string
	logger  logrus.FieldLogger

	mu       sync.RWMutex
	sessions map[string]protocol.AppMetadata
}

// NewWallet creates a wallet for pair
func NewWallet(pair signature.KeyringPair, opts Options) (*Wallet, error) {
	if len(pair.PublicKey) != 32 {
		return nil, fmt.Errorf("wallet key must be 32 bytes, got %d", len(pair.PublicKey))
	}
	if opts.Name == "" {
		opts.Name = "dotbeacon dev wallet"
	}
	if opts.Version == "" {
		opts.Version = protocol.CurrentVersion
	}
	if opts.Approver == nil {
		opts.Approver = AutoApprove
	}
	if opts.Blocklist == nil {
		opts.Blocklist = NewBlocklist()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	addr, err := opts.Codec.Encode(pair.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("encoding wallet address: %w", err)
	}

	return &Wallet{
		pair:     pair,
		opts:     opts,
		address:  addr,
		logger:   opts.Logger.WithFields(logrus.Fields{"component": "wallet", "address": addr}),
		sessions: make(map[string]protocol.AppMetadata),
	}, nil
}

// Address returns the wallet account address
func (w *Wallet) Address() string {
	return w.address
}

// Sessions returns the dApps currently granted access
func (w *Wallet) Sessions() []protocol.AppMetadata {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]protocol.AppMetadata, 0, len(w.sessions))
	for _, meta := range w.sessions {
		out = append(out, meta)
	}
	return out
}

// HandleMessage implements pairing.Handler
func (w *Wallet) HandleMessage(ctx context.Context, msg *protocol.Message) *protocol.Message {
	log := w.logger.WithFields(logrus.Fields{"request_id": msg.ID, "type": msg.Type, "sender_id": msg.SenderID})

	if w.opts.Blocklist.IsBlocked(msg.SenderID) {
		log.Warn("Refusing request from blocked dApp")
		return protocol.NewErrorReply(msg, w.address, protocol.ErrorTypeNotGranted, "dApp is blocked")
	}

	switch msg.Type {
	case protocol.MessageTypePermissionRequest:
		return w.handlePermission(ctx, log, msg)
	case protocol.MessageTypeSignPayloadRequest:
		return w.handleSign(ctx, log, msg)
	case protocol.MessageTypeDisconnect:
		w.mu.Lock()
		delete(w.sessions, msg.SenderID)
		w.mu.Unlock()
		log.Info("dApp disconnected")
		reply, err := protocol.NewReply(msg, protocol.MessageTypeAcknowledge, w.address, nil)
		if err != nil {
			return protocol.NewErrorReply(msg, w.address, protocol.ErrorTypeUnknown, err.Error())
		}
		return reply
	default:
		log.Warn("Unknown message type")
		return protocol.NewErrorReply(msg, w.address, protocol.ErrorTypeUnknown, "unsupported message type "+msg.Type)
	}
}

func (w *Wallet) handlePermission(ctx context.Context, log *logrus.Entry, msg *protocol.Message) *protocol.Message {
	var req protocol.PermissionRequest
	if err := msg.DecodePayload(&req); err != nil {
		return protocol.NewErrorReply(msg, w.address, protocol.ErrorTypeUnknown, err.Error())
	}

	ok, err := w.opts.Approver.Approve(ctx, Request{
		Type:     msg.Type,
		SenderID: msg.SenderID,
		AppName:  req.AppMetadata.Name,
		Network:  req.Network,
	})
	if err != nil {
		return protocol.NewErrorReply(msg, w.address, protocol.ErrorTypeUnknown, err.Error())
	}
	if !ok {
		w.opts.Blocklist.RecordDenial(msg.SenderID)
		log.Info("Permission request denied")
		return protocol.NewErrorReply(msg, w.address, protocol.ErrorTypeAborted, "permission request denied")
	}

	w.mu.Lock()
	w.sessions[msg.SenderID] = req.AppMetadata
	w.mu.Unlock()

	reply, err := protocol.NewReply(msg, protocol.MessageTypePermissionResponse, w.address, protocol.PermissionResponse{
		PublicKey:     "0x" + hex.EncodeToString(w.pair.PublicKey),
		Address:       w.address,
		Network:       req.Network,
		Scopes:        req.Scopes,
		WalletName:    w.opts.Name,
		WalletVersion: w.opts.Version,
	})
	if err != nil {
		return protocol.NewErrorReply(msg, w.address, protocol.ErrorTypeUnknown, err.Error())
	}
	log.WithField("app", req.AppMetadata.Name).Info("Permission granted")
	return reply
}

func (w *Wallet) handleSign(ctx context.Context, log *logrus.Entry, msg *protocol.Message) *protocol.Message {
	w.mu.RLock()
	meta, granted := w.sessions[msg.SenderID]
	w.mu.RUnlock()
	if !granted {
		return protocol.NewErrorReply(msg, w.address, protocol.ErrorTypeNotGranted, "dApp has no permission")
	}

	var req protocol.SignPayloadRequest
	if err := msg.DecodePayload(&req); err != nil {
		return protocol.NewErrorReply(msg, w.address, protocol.ErrorTypeUnknown, err.Error())
	}
	if req.SourceAddress != "" {
		pub, _, err := address.Decode(req.SourceAddress)
		if err != nil || !bytes.Equal(pub, w.pair.PublicKey) {
			return protocol.NewErrorReply(msg, w.address, protocol.ErrorTypeNoActiveAccount, "unknown source address "+req.SourceAddress)
		}
	}

	data, err := codec.HexDecodeString(req.Payload)
	if err != nil || len(data) == 0 {
		return protocol.NewErrorReply(msg, w.address, protocol.ErrorTypeUnknown, "payload must be non-empty hex")
	}

	ok, err := w.opts.Approver.Approve(ctx, Request{
		Type:     msg.Type,
		SenderID: msg.SenderID,
		AppName:  meta.Name,
		Payload:  req.Payload,
	})
	if err != nil {
		return protocol.NewErrorReply(msg, w.address, protocol.ErrorTypeUnknown, err.Error())
	}
	if !ok {
		w.opts.Blocklist.RecordDenial(msg.SenderID)
		log.Info("Sign request denied")
		return protocol.NewErrorReply(msg, w.address, protocol.ErrorTypeAborted, "sign request denied")
	}

	sig, err := signature.Sign(data, w.pair.URI)
	if err != nil {
		log.WithError(err).Error("Signing failed")
		return protocol.NewErrorReply(msg, w.address, protocol.ErrorTypeUnknown, "signing failed")
	}

	reply, err := protocol.NewReply(msg, protocol.MessageTypeSignPayloadResponse, w.address, protocol.SignPayloadResponse{
		Signature: codec.HexEncodeToString(sig),
	})
	if err != nil {
		return protocol.NewErrorReply(msg, w.address, protocol.ErrorTypeUnknown, err.Error())
	}
	log.WithField("bytes", len(data)).Info("Payload signed")
	return reply
}

// Serve answers pairing requests arriving on subject until ctx is done or
// the returned responder is closed
func (w *Wallet) Serve(ctx context.Context, nc *nats.Conn, subject string) (*pairing.Responder, error) {
	responder := pairing.NewResponder(nc, w, w.logger)
	if err := responder.Serve(ctx, subject); err != nil {
		return nil, err
	}
	return responder, nil
}
