package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fedcoord/fedledger/db"
	"github.com/fedcoord/fedledger/logging"
)

var ErrBackupsDisabled = errors.New("no backup directory configured")

// Backup is a consistent copy of the ledger database.
type Backup struct {
	Path   string
	Height uint64
	// Keys is zero when an existing copy was reused.
	Keys int
}

// Backup copies the committed state into Config.BackupDir, in a directory
// named after the current height. Only the operator may request it. A backup
// of an unchanged ledger reuses the existing copy.
func (l *Ledger) Backup(ctx context.Context, caller Identity) (b Backup, err error) {
	defer func() { observeRejected("backup", err) }()
	if caller != l.operator {
		return Backup{}, ErrNotAuthorized
	}
	if l.cfg.BackupDir == "" {
		return Backup{}, ErrBackupsDisabled
	}

	// Commits are atomic batches, so any snapshot is a consistent state. The
	// lock only pairs the snapshot with the height it is named after.
	l.mu.Lock()
	s, err := l.db.status()
	if err != nil {
		l.mu.Unlock()
		return Backup{}, err
	}
	snap, err := l.db.db.GetSnapshot()
	l.mu.Unlock()
	if err != nil {
		return Backup{}, fmt.Errorf("taking ledger snapshot: %w", err)
	}
	defer snap.Release()

	b = Backup{
		Path:   filepath.Join(l.cfg.BackupDir, fmt.Sprintf("height-%d", s.Height)),
		Height: s.Height,
	}
	logger := logging.FromContext(ctx).With(zap.String("path", b.Path), zap.Uint64("height", s.Height))

	l.backupMu.Lock()
	defer l.backupMu.Unlock()
	if _, err := os.Stat(b.Path); err == nil {
		logger.Info("backup at this height already exists")
		return b, nil
	}
	if err := os.MkdirAll(l.cfg.BackupDir, 0o700); err != nil {
		return Backup{}, fmt.Errorf("creating backup directory: %w", err)
	}
	b.Keys, err = db.Copy(ctx, snap, b.Path)
	if err != nil {
		if rmErr := os.RemoveAll(b.Path); rmErr != nil {
			logger.Warn("failed to remove incomplete backup", zap.Error(rmErr))
		}
		return Backup{}, fmt.Errorf("backing up ledger: %w", err)
	}
	logger.Info("ledger backed up", zap.Int("keys", b.Keys))
	return b, nil
}
