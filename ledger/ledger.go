package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fedcoord/fedledger/logging"
)

// Ledger owns the whole incentive state: participant registry, round
// controller, update ledger, reputation and rewards.
//
// Every public operation runs under a single mutex. Preconditions are checked
// against committed state first and all writes of the operation are then
// committed as one batch, so an operation either applies completely or
// leaves the state untouched.
type Ledger struct {
	cfg      Config
	operator Identity

	mu sync.Mutex
	db *database

	// backupMu serializes writers of the backup directory.
	backupMu sync.Mutex
}

type newLedgerOptionFunc func(*newLedgerOptions)

type newLedgerOptions struct {
	cfg Config
}

func WithConfig(cfg Config) newLedgerOptionFunc {
	return func(opts *newLedgerOptions) {
		opts.cfg = cfg
	}
}

// New opens (or creates) the ledger stored under dbdir. The operator is the
// only identity allowed to start and aggregate rounds.
func New(ctx context.Context, dbdir string, operator Identity, opts ...newLedgerOptionFunc) (*Ledger, error) {
	options := newLedgerOptions{
		cfg: DefaultConfig(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if operator == "" {
		return nil, errors.New("operator identity is required")
	}
	if err := options.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ledger config: %w", err)
	}

	db, err := openDatabase(filepath.Join(dbdir, "ledger"), options.cfg.ParticipantCacheSize)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}
	s, err := db.status()
	if err != nil {
		db.Close()
		return nil, err
	}

	participantsMetric.Set(float64(s.TotalRegisteredParticipants))
	roundMetric.Set(float64(s.CurrentRound))
	logging.FromContext(ctx).Info(
		"opened ledger",
		zap.Stringer("operator", operator),
		zap.Object("status", s),
		zap.Object("config", options.cfg),
	)

	return &Ledger{
		cfg:      options.cfg,
		operator: operator,
		db:       db,
	}, nil
}

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}

func (l *Ledger) Operator() Identity {
	return l.operator
}

func (l *Ledger) Config() Config {
	return l.cfg
}

// commit persists t together with the new scalars s.
func (l *Ledger) commit(t *txn, s Status) error {
	if err := t.putStatus(s); err != nil {
		return err
	}
	start := time.Now()
	if err := l.db.commit(t); err != nil {
		return err
	}
	commitLatencyMetric.Observe(time.Since(start).Seconds())
	return nil
}

// Status returns the current scalars.
func (l *Ledger) Status(ctx context.Context) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.status()
}
