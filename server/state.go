package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	xdr "github.com/nullstyle/go-xdr/xdr3"
	"go.uber.org/zap"

	"github.com/fedcoord/fedledger/ledger"
	"github.com/fedcoord/fedledger/logging"
)

const (
	stateFilename   = "state.bin"
	operatorIDBytes = 32
)

// state is the daemon state kept outside the ledger database.
type state struct {
	Operator []byte
}

func (s *state) operator() ledger.Identity {
	return ledger.Identity(s.Operator)
}

// loadState reads the persisted state from datadir. A missing file yields a
// fresh state whose operator is the configured one, or a random identity if
// none was configured. A configured operator must match a persisted one.
func loadState(ctx context.Context, datadir, configured string) (*state, error) {
	logger := logging.FromContext(ctx)
	s := &state{}
	err := load(filepath.Join(datadir, stateFilename), s)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Info("state file not found, initializing")
	case err != nil:
		return nil, err
	}

	var want ledger.Identity
	if configured != "" {
		want, err = ledger.ParseIdentity(configured)
		if err != nil {
			return nil, fmt.Errorf("parsing operator: %w", err)
		}
	}

	switch {
	case len(s.Operator) != 0 && want != "" && s.operator() != want:
		return nil, fmt.Errorf("configured operator %s differs from the persisted operator %s", want, s.operator())
	case len(s.Operator) != 0:
	case want != "":
		s.Operator = want.Bytes()
	default:
		s.Operator = make([]byte, operatorIDBytes)
		if _, err := rand.Read(s.Operator); err != nil {
			return nil, fmt.Errorf("generating operator identity: %w", err)
		}
		logger.Info("generated operator identity", zap.Stringer("operator", s.operator()))
	}
	return s, nil
}

func saveState(datadir string, s *state) error {
	return persist(filepath.Join(datadir, stateFilename), s)
}

func persist(filename string, v any) error {
	var w bytes.Buffer
	if _, err := xdr.Marshal(&w, v); err != nil {
		return fmt.Errorf("serializing: %w", err)
	}
	if err := atomic.WriteFile(filename, &w); err != nil {
		return fmt.Errorf("writing to disk: %w", err)
	}
	return nil
}

func load(filename string, v any) error {
	data, err := os.ReadFile(filename) //#nosec G304
	if err != nil {
		return fmt.Errorf("loading file: %w", err)
	}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), v); err != nil {
		return fmt.Errorf("deserializing: %w", err)
	}
	return nil
}
