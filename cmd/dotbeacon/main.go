package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"dotbeacon/internal/config"
	"dotbeacon/internal/node"
	"dotbeacon/internal/peer"
	"dotbeacon/internal/protocol"
)

func main() {
	app := &cli.App{
		Name:  "dotbeacon",
		Usage: "Substrate transfer service with wallet pairing",
		Description: `Serves a transfer API for Substrate chains. Transfers are signed either by
a local account or by a wallet paired over the NATS relay.

The wallet command runs a development wallet answering pairing requests
with a single key.`,
		Version: protocol.CurrentVersion,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "Env file to load before reading DOTBEACON_ variables (repeatable)",
			},
			&cli.StringFlag{
				Name:  "network",
				Usage: "Override the default network value",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serveCommand,
			},
			{
				Name:  "wallet",
				Usage: "Run a development wallet on the pairing relay",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "uri",
						Usage: "Secret URI or mnemonic of the wallet key (defaults to DOTBEACON_WALLET_URI)",
					},
					&cli.BoolFlag{
						Name:  "auto-approve",
						Usage: "Approve every request without asking",
					},
				},
				Action: walletCommand,
			},
			{
				Name:   "networks",
				Usage:  "List the configured networks",
				Action: networksCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.StringSlice("env-file")...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if v := c.String("network"); v != "" {
		cfg.DefaultNetwork = v
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func serveCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, err := node.NewNode(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	if err := n.Start(); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	<-ctx.Done()
	logrus.Info("Shutting down...")
	return n.Stop()
}

func walletCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	registry, err := cfg.Networks()
	if err != nil {
		return err
	}
	net, _ := registry.Find(cfg.DefaultNetwork)

	if uri := c.String("uri"); uri != "" {
		cfg.WalletURI = uri
	}
	if err := cfg.ValidateWallet(); err != nil {
		return err
	}
	pair, err := signature.KeyringPairFromSecret(cfg.WalletURI, net.Prefix)
	if err != nil {
		return fmt.Errorf("invalid wallet key: %w", err)
	}

	approver := peer.Approver(newPromptApprover(os.Stdin))
	if c.Bool("auto-approve") || cfg.WalletAutoApprove {
		approver = peer.AutoApprove
	}

	wallet, err := peer.NewWallet(pair, peer.Options{
		Codec:    net.Codec(),
		Approver: approver,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	nc, err := nats.Connect(cfg.NATSURL, nats.Name(cfg.AppName+"-wallet"), nats.MaxReconnects(-1))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	responder, err := wallet.Serve(ctx, nc, cfg.PairingSubject())
	if err != nil {
		return err
	}
	defer responder.Close()

	logger.WithFields(logrus.Fields{
		"address": wallet.Address(),
		"subject": cfg.PairingSubject(),
		"network": net.Value,
	}).Info("Wallet ready")

	<-ctx.Done()
	return nil
}

func networksCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	registry, err := cfg.Networks()
	if err != nil {
		return err
	}
	for _, n := range registry.All() {
		marker := " "
		if n.Value == cfg.DefaultNetwork {
			marker = "*"
		}
		status := ""
		if n.Disabled {
			status = " (disabled)"
		}
		fmt.Fprintf(c.App.Writer, "%s %-8s %-10s prefix=%-3d %s%s\n", marker, n.Value, n.Name, n.Prefix, n.URL, status)
	}
	return nil
}

// promptApprover asks on the terminal. Requests are asked one at a time.
type promptApprover struct {
	mu    sync.Mutex
	lines chan string
}

func newPromptApprover(in *os.File) *promptApprover {
	p := &promptApprover{lines: make(chan string)}
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			p.lines <- strings.ToLower(strings.TrimSpace(scanner.Text()))
		}
		close(p.lines)
	}()
	return p
}

func (p *promptApprover) Approve(ctx context.Context, req peer.Request) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch req.Type {
	case protocol.MessageTypePermissionRequest:
		fmt.Printf("\n%s (%s) asks for your account on %s. Approve? [y/N] ", req.AppName, req.SenderID, req.Network)
	default:
		fmt.Printf("\n%s asks you to sign %s. Approve? [y/N] ", req.AppName, req.Payload)
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			return false, fmt.Errorf("no terminal input")
		}
		return line == "y" || line == "yes", nil
	}
}
