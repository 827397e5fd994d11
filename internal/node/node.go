// Package node wires the service together: session store, pairing client,
// keyring, controller, HTTP API, status stream and metrics.
package node

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"dotbeacon/internal/config"
	"dotbeacon/internal/controller"
	"dotbeacon/internal/database"
	"dotbeacon/internal/identity"
	"dotbeacon/internal/network"
	"dotbeacon/internal/pairing"
	"dotbeacon/internal/signer"
	"dotbeacon/internal/substrate"
)

const shutdownTimeout = 10 * time.Second

// Option overrides a dependency NewNode would otherwise build from config
type Option func(*Node)

// WithTransport uses t instead of connecting to the NATS relay
func WithTransport(t pairing.Transport) Option {
	return func(n *Node) { n.transport = t }
}

// WithDialer uses d to connect chain clients
func WithDialer(d controller.Dialer) Option {
	return func(n *Node) { n.dial = d }
}

// WithLogger uses logger instead of one built from config
func WithLogger(logger *logrus.Logger) Option {
	return func(n *Node) { n.logger = logger }
}

type Node struct {
	mu sync.RWMutex

	ctx        context.Context
	config     *config.Config
	logger     *logrus.Logger
	registry   *network.Registry
	identity   *identity.Identity
	transport  pairing.Transport
	transfers  database.TransferLog
	pairing    *pairing.DAppClient
	keyring    *signer.Keyring
	dial       controller.Dialer
	ctrl       *controller.Controller
	wsManager  *WSManager
	metrics    *Metrics
	promReg    *prometheus.Registry
	limiter    *rate.Limiter
	router     *gin.Engine
	httpServer *http.Server

	startTime time.Time
	running   bool
}

func NewNode(ctx context.Context, cfg *config.Config, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	n := &Node{ctx: ctx, config: cfg, startTime: time.Now()}
	for _, opt := range opts {
		opt(n)
	}

	if n.logger == nil {
		logger, err := cfg.Logger()
		if err != nil {
			return nil, err
		}
		n.logger = logger
	}

	registry, err := cfg.Networks()
	if err != nil {
		return nil, fmt.Errorf("failed to load networks: %w", err)
	}
	n.registry = registry
	n.identity = identity.New(cfg.AppName, cfg.AppIconURL, cfg.AppURL)

	store, transfers, err := openStore(ctx, cfg, n.logger)
	if err != nil {
		return nil, err
	}
	n.transfers = transfers

	if n.transport == nil {
		t, err := pairing.NewNATSTransport(cfg.NATSURL, cfg.PairingSubject(),
			nats.Name(cfg.AppName),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			store.Close()
			return nil, err
		}
		n.transport = t
	}

	n.promReg = prometheus.NewRegistry()
	n.metrics = NewMetrics(n.promReg)

	n.pairing, err = pairing.NewDAppClient(n.transport, store, pairing.Options{
		Identity:         n.identity,
		Network:          cfg.DefaultNetwork,
		RequestTimeout:   cfg.RequestTimeout,
		MinWalletVersion: cfg.MinWalletVersion,
		Logger:           n.logger,
		Metrics:          n.metrics,
	})
	if err != nil {
		n.transport.Close()
		store.Close()
		return nil, fmt.Errorf("failed to create pairing client: %w", err)
	}

	defaultNetwork, _ := registry.Find(cfg.DefaultNetwork)
	n.keyring, err = loadKeyring(cfg, defaultNetwork)
	if err != nil {
		n.pairing.Close()
		return nil, err
	}

	if n.dial == nil {
		n.dial = substrateDialer(cfg, n.logger)
	}

	n.wsManager = NewWSManager(n.logger, func(count int) {
		n.metrics.WSClients.Set(float64(count))
	})

	n.ctrl, err = controller.New(controller.Options{
		Registry:  registry,
		Dial:      n.dial,
		Pairing:   n.pairing,
		Accounts:  n.keyring,
		Transfers: transfers,
		Events:    controller.PublisherFunc(n.publish),
		Metrics:   n.metrics,
		Logger:    n.logger,
	})
	if err != nil {
		n.pairing.Close()
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}

	if cfg.Recipient != "" {
		if err := n.ctrl.SetTransfer(cfg.Recipient, new(big.Int)); err != nil {
			n.pairing.Close()
			return nil, err
		}
	}

	n.limiter = rate.NewLimiter(rate.Limit(cfg.TransferRate), cfg.TransferBurst)
	n.router = n.setupRouter()

	return n, nil
}

// Handler returns the HTTP API
func (n *Node) Handler() http.Handler {
	return n.router
}

// Controller returns the node's controller
func (n *Node) Controller() *controller.Controller {
	return n.ctrl
}

// Connect connects the chain client for the configured network. A failed
// connection is reported in the state and does not stop the node.
func (n *Node) Connect(ctx context.Context) {
	var err error
	if n.ctrl.State().Network.Value != n.config.DefaultNetwork {
		err = n.ctrl.NetworkChanged(ctx, n.config.DefaultNetwork)
	} else {
		err = n.ctrl.Start(ctx)
	}
	if err != nil {
		n.logger.WithError(err).Warn("Chain client not connected")
	}
}

// Start connects to the chain and serves the HTTP API
func (n *Node) Start() error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return fmt.Errorf("node already running")
	}
	n.running = true
	n.httpServer = &http.Server{
		Addr:              n.config.ListenAddr(),
		Handler:           n.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := n.httpServer
	n.mu.Unlock()

	n.Connect(n.ctx)

	go func() {
		n.logger.WithField("addr", server.Addr).Info("HTTP API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.WithError(err).Error("HTTP server error")
		}
	}()
	return nil
}

func (n *Node) Stop() error {
	n.mu.Lock()
	server := n.httpServer
	n.httpServer = nil
	n.running = false
	n.mu.Unlock()

	var errs []error
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop HTTP server: %w", err))
		}
	}
	if err := n.wsManager.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop WebSocket manager: %w", err))
	}
	if err := n.ctrl.Close(); err != nil {
		errs = append(errs, err)
	}
	// closes the transport and the session store
	if err := n.pairing.Close(); err != nil {
		errs = append(errs, err)
	}
	n.metrics.Close()

	return errors.Join(errs...)
}

func (n *Node) publish(e controller.Event) {
	if e.Type == controller.EventStatus {
		connected := 0.0
		if e.Status == controller.StatusConnected {
			connected = 1
		}
		n.metrics.ChainConnected.Set(connected)
	}
	n.wsManager.Publish(e)
}

// openStore returns the session store and the transfer log for the
// configured store kind. Only Postgres keeps the transfer log durably.
func openStore(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (pairing.SessionStore, database.TransferLog, error) {
	switch cfg.Store {
	case config.StoreBadger:
		store, err := database.NewBadgerStore(cfg.BadgerDir, cfg.SessionKey, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, database.NewMemoryTransferLog(), nil
	case config.StoreRedis:
		store, err := database.NewRedisStore(ctx, cfg.Redis, cfg.SessionKey, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, database.NewMemoryTransferLog(), nil
	case config.StorePostgres:
		store, err := database.OpenPostgresStore(ctx, cfg.Database.ToDBConfig(), cfg.SessionKey)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return pairing.NewMemoryStore(), database.NewMemoryTransferLog(), nil
	}
}

func loadKeyring(cfg *config.Config, n network.Network) (*signer.Keyring, error) {
	keyring := signer.NewKeyring(n.Codec())
	for i, uri := range cfg.DevAccounts {
		name := strings.TrimLeft(uri, "/")
		if name == "" || strings.Contains(name, " ") {
			name = fmt.Sprintf("account-%d", i+1)
		}
		if _, err := keyring.AddURI(name, uri); err != nil {
			return nil, err
		}
	}
	if cfg.KeyDir != "" {
		if _, err := keyring.LoadDir(cfg.KeyDir); err != nil {
			return nil, err
		}
	}
	return keyring, nil
}

func substrateDialer(cfg *config.Config, logger logrus.FieldLogger) controller.Dialer {
	return func(ctx context.Context, n network.Network) (controller.Chain, error) {
		ctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
		client, err := substrate.NewClient(ctx, substrate.Config{
			Endpoint:         n.URL,
			SS58Format:       n.Prefix,
			VerifySignatures: cfg.VerifySignatures,
			WaitFinalized:    cfg.WaitFinalized,
			Logger:           logger.WithField("network", n.Value),
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}
