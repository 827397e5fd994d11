package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/sirupsen/logrus"

	"dotbeacon/internal/pairing"
)

const (
	badgerSessionPrefix  = "session:"
	badgerSchemaKey      = "metadata:schema_version"
	badgerSchemaVersion  = "v1"
	badgerGCInterval     = 5 * time.Minute
	badgerGCDiscardRatio = 0.5
)

// ErrStoreClosed is returned by stores used after Close
var ErrStoreClosed = errors.New("store closed")

// BadgerStore keeps the paired session in a local Badger database
type BadgerStore struct {
	db         *badgerdb.DB
	sessionKey []byte
	logger     logrus.FieldLogger

	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewBadgerStore opens (or creates) the database at dir
func NewBadgerStore(dir, sessionKey string, logger logrus.FieldLogger) (*BadgerStore, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if sessionKey == "" {
		sessionKey = DefaultSessionKey
	}

	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	logger = logger.WithField("component", "badger")
	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = badgerLogger{logger}
	opts.SyncWrites = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	s := &BadgerStore{
		db:         db,
		sessionKey: []byte(badgerSessionPrefix + sessionKey),
		logger:     logger,
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.gcCancel = cancel
	s.gcWg.Add(1)
	go s.runGC(ctx)

	logger.WithField("path", absPath).Info("Session store opened")
	return s, nil
}

func (s *BadgerStore) initSchema() error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(badgerSchemaKey))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return txn.Set([]byte(badgerSchemaKey), []byte(badgerSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		version, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}
		if string(version) != badgerSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", version, badgerSchemaVersion)
		}
		return nil
	})
}

func (s *BadgerStore) runGC(ctx context.Context) {
	defer s.gcWg.Done()

	ticker := time.NewTicker(badgerGCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := s.db.RunValueLogGC(badgerGCDiscardRatio)
			if err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
				s.logger.WithError(err).Warn("Badger GC error")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *BadgerStore) Load(_ context.Context) (*pairing.AccountInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var account *pairing.AccountInfo
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(s.sessionKey)
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			account = new(pairing.AccountInfo)
			return json.Unmarshal(val, account)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return account, nil
}

func (s *BadgerStore) Save(_ context.Context, account *pairing.AccountInfo) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	if err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(s.sessionKey, data)
	}); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (s *BadgerStore) Clear(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	if err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(s.sessionKey)
	}); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

// Close stops GC and closes the database. Closing twice is a no-op.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.gcCancel()
	s.gcWg.Wait()
	return s.db.Close()
}

// badgerLogger routes Badger's logs to logrus, one level down so its
// routine compaction chatter stays out of info logs
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}
