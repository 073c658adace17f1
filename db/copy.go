// Package db holds leveldb helpers shared by the ledger stores.
package db

import (
	"context"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/fedcoord/fedledger/logging"
)

// Source is anything a copy can iterate: an open database or a snapshot of one.
type Source interface {
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

// Copy writes every key of src into a new database at targetDir and returns
// the number of keys copied. The target must not exist yet. The write is a
// single transaction, so an interrupted copy leaves no partial data behind.
func Copy(ctx context.Context, src Source, targetDir string) (int, error) {
	log := logging.FromContext(ctx)
	log.Info("copying DB", zap.String("targetDbDir", targetDir))

	targetDb, err := leveldb.OpenFile(targetDir, &opt.Options{ErrorIfExist: true})
	if err != nil {
		return 0, fmt.Errorf("opening target DB: %w", err)
	}
	defer targetDb.Close()

	tx, err := targetDb.OpenTransaction()
	if err != nil {
		return 0, fmt.Errorf("opening new DB transaction: %w", err)
	}
	iter := src.NewIterator(nil, nil)
	defer iter.Release()
	copied := 0
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			tx.Discard()
			return 0, err
		}
		if err := tx.Put(iter.Key(), iter.Value(), nil); err != nil {
			tx.Discard()
			return 0, fmt.Errorf("copying key %X: %w", iter.Key(), err)
		}
		copied++
	}
	if err := iter.Error(); err != nil {
		tx.Discard()
		return 0, fmt.Errorf("iterating source DB: %w", err)
	}
	iter.Release()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing DB transaction: %w", err)
	}

	log.Info("DB copied", zap.String("targetDbDir", targetDir), zap.Int("keys", copied))
	return copied, nil
}
