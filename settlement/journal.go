package settlement

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	xdr "github.com/nullstyle/go-xdr/xdr3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"go.uber.org/zap"

	"github.com/fedcoord/fedledger/ledger"
	"github.com/fedcoord/fedledger/logging"
)

//go:generate mockgen -package mocks -destination mocks/settler.go . Settler

// Settler moves claimed rewards out of the ledger. The ledger has already
// cleared the balance when Settle is called.
type Settler interface {
	Settle(ctx context.Context, recipient ledger.Identity, amount uint64) (uuid.UUID, error)
}

var (
	ErrNotFound       = errors.New("payout not found")
	ErrAlreadySettled = errors.New("payout already settled")

	pendingPayoutsMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fedledger",
		Subsystem: "settlement",
		Name:      "pending_payouts",
		Help:      "Number of journaled payouts not yet settled by the treasury",
	})
)

// Payout is one journaled withdrawal.
type Payout struct {
	ID        uuid.UUID
	Recipient []byte
	Amount    uint64
	CreatedAt int64
	Settled   bool
}

// Journal is a Settler that durably records payouts for an external
// treasury to execute and acknowledge.
type Journal struct {
	db *leveldb.DB
}

var _ Settler = (*Journal)(nil)

func NewJournal(dbPath string) (*Journal, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open payout journal @ %s: %w", dbPath, err)
	}
	j := &Journal{db: db}
	pending, err := j.Pending(context.Background())
	if err != nil {
		db.Close()
		return nil, err
	}
	pendingPayoutsMetric.Set(float64(len(pending)))
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) Settle(ctx context.Context, recipient ledger.Identity, amount uint64) (uuid.UUID, error) {
	p := Payout{
		ID:        uuid.New(),
		Recipient: recipient.Bytes(),
		Amount:    amount,
		CreatedAt: time.Now().UnixNano(),
	}
	if err := j.put(nil, p); err != nil {
		return uuid.Nil, err
	}
	pendingPayoutsMetric.Inc()
	logging.FromContext(ctx).Info(
		"journaled payout",
		zap.Stringer("id", p.ID),
		zap.Stringer("recipient", recipient),
		zap.Uint64("amount", amount),
	)
	return p.ID, nil
}

// Pending returns payouts the treasury has not acknowledged yet.
func (j *Journal) Pending(ctx context.Context) ([]Payout, error) {
	iter := j.db.NewIterator(nil, nil)
	defer iter.Release()
	var pending []Payout
	for iter.Next() {
		var p Payout
		if _, err := xdr.Unmarshal(bytes.NewReader(iter.Value()), &p); err != nil {
			return nil, fmt.Errorf("failed to deserialize payout %x: %w", iter.Key(), err)
		}
		if !p.Settled {
			pending = append(pending, p)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterating payouts: %w", err)
	}
	return pending, nil
}

func (j *Journal) Get(ctx context.Context, id uuid.UUID) (*Payout, error) {
	data, err := j.db.Get(id[:], nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("get payout %s from DB: %w", id, err)
	}
	p := &Payout{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), p); err != nil {
		return nil, fmt.Errorf("failed to deserialize payout %s: %w", id, err)
	}
	return p, nil
}

// MarkSettled acknowledges that the treasury executed the payout.
func (j *Journal) MarkSettled(ctx context.Context, id uuid.UUID) error {
	trans, err := j.db.OpenTransaction()
	if err != nil {
		return err
	}
	data, err := trans.Get(id[:], nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		trans.Discard()
		return ErrNotFound
	case err != nil:
		trans.Discard()
		return fmt.Errorf("querying payout %s: %w", id, err)
	}
	var p Payout
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &p); err != nil {
		trans.Discard()
		return fmt.Errorf("failed to deserialize payout %s: %w", id, err)
	}
	if p.Settled {
		trans.Discard()
		return ErrAlreadySettled
	}
	p.Settled = true
	if err := j.put(trans, p); err != nil {
		trans.Discard()
		return err
	}
	if err := trans.Commit(); err != nil {
		return fmt.Errorf("committing payout %s: %w", id, err)
	}
	pendingPayoutsMetric.Dec()
	logging.FromContext(ctx).Info("payout settled", zap.Stringer("id", id), zap.Uint64("amount", p.Amount))
	return nil
}

type putter interface {
	Put(key, value []byte, wo *opt.WriteOptions) error
}

func (j *Journal) put(w putter, p Payout) error {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, p); err != nil {
		return fmt.Errorf("serialization failure: %w", err)
	}
	if w == nil {
		w = j.db
	}
	if err := w.Put(p.ID[:], buf.Bytes(), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("storing payout %s: %w", p.ID, err)
	}
	return nil
}
