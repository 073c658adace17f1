// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Copyright (c) 2017-2023 The Spacemesh developers

package server

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/fedcoord/fedledger/ledger"
	"github.com/fedcoord/fedledger/logging"
)

const (
	defaultDbDirName      = "db"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultBackupDirname  = "backups"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10
	defaultRPCPort        = 50102
	defaultRESTPort       = 8180

	defaultShutdownTimeout = 10 * time.Second
)

// Config defines the configuration options for the ledger daemon.
type Config struct {
	LedgerDir       string  `long:"ledgerdir"      description:"The base directory that contains the ledger's data, logs, configuration file, etc."`
	ConfigFile      string  `long:"configfile"     description:"Path to configuration file"                                                            short:"c"`
	DataDir         string  `long:"datadir"        description:"The directory to store the daemon state within."                                       short:"b"`
	DbDir           string  `long:"dbdir"          description:"The directory to store DBs within"`
	LogDir          string  `long:"logdir"         description:"Directory to log output."`
	DebugLog        bool    `long:"debuglog"       description:"Enable debug logs"`
	JSONLog         bool    `long:"jsonlog"        description:"Whether to log in JSON format"`
	MaxLogFiles     int     `long:"maxlogfiles"    description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize  int     `long:"maxlogfilesize" description:"Maximum logfile size in MB"`
	RawRPCListener  string  `long:"rpclisten"      description:"The interface/port/socket to listen for RPC connections"                               short:"r"`
	RawRESTListener string  `long:"restlisten"     description:"The interface/port/socket to listen for REST connections"                              short:"w"`
	MetricsPort     *uint16 `long:"metrics-port"   description:"The port to expose metrics"`

	Profile string `long:"profile" description:"Enable HTTP profiling on given port -- must be between 1024 and 65535"`

	Operator        string        `long:"operator"         description:"Base58 identity of the round operator. Generated on first start if not given"`
	ShutdownTimeout time.Duration `long:"shutdown-timeout" description:"How long to wait for in-flight requests on shutdown"`

	Ledger ledger.Config `group:"Ledger"`
}

// DefaultConfig returns a config with default hardcoded values.
func DefaultConfig() *Config {
	ledgerDir := "./fedledger"
	cacheDir, err := os.UserCacheDir()
	if err == nil {
		ledgerDir = filepath.Join(cacheDir, "fedledger")
	}

	return &Config{
		LedgerDir:       ledgerDir,
		DataDir:         filepath.Join(ledgerDir, defaultDataDirname),
		DbDir:           filepath.Join(ledgerDir, defaultDbDirName),
		LogDir:          filepath.Join(ledgerDir, defaultLogDirname),
		MaxLogFiles:     defaultMaxLogFiles,
		MaxLogFileSize:  defaultMaxLogFileSize,
		RawRPCListener:  fmt.Sprintf("localhost:%d", defaultRPCPort),
		RawRESTListener: fmt.Sprintf("localhost:%d", defaultRESTPort),
		ShutdownTimeout: defaultShutdownTimeout,
		Ledger:          ledger.DefaultConfig(),
	}
}

// ParseFlags reads values from command line arguments.
func ParseFlags(preCfg *Config) (*Config, error) {
	if _, err := flags.Parse(preCfg); err != nil {
		return nil, err
	}
	return preCfg, nil
}

// ReadConfigFile reads config from an ini file.
// It uses the provided `cfg` as a base config and overrides it with the values
// from the config file.
func ReadConfigFile(cfg *Config) (*Config, error) {
	if cfg.ConfigFile == "" {
		return cfg, nil
	}
	logging.FromContext(context.Background()).Sugar().Debugf("reading config from %s", cfg.ConfigFile)
	if err := flags.IniParse(cfg.ConfigFile, cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from %v: %w", cfg.ConfigFile, err)
	}

	return cfg, nil
}

// SetupConfig expands paths and initializes filesystem.
func SetupConfig(cfg *Config) (*Config, error) {
	// Directories left at their defaults follow a non-default base directory.
	defaultCfg := DefaultConfig()
	if cfg.LedgerDir != defaultCfg.LedgerDir {
		if cfg.DataDir == defaultCfg.DataDir {
			cfg.DataDir = filepath.Join(cfg.LedgerDir, defaultDataDirname)
		}
		if cfg.LogDir == defaultCfg.LogDir {
			cfg.LogDir = filepath.Join(cfg.LedgerDir, defaultLogDirname)
		}
		if cfg.DbDir == defaultCfg.DbDir {
			cfg.DbDir = filepath.Join(cfg.LedgerDir, defaultDbDirName)
		}
	}

	if err := cfg.Ledger.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.LedgerDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create %v: %w", cfg.LedgerDir, err)
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.DbDir = cleanAndExpandPath(cfg.DbDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	if cfg.Ledger.BackupDir == "" {
		cfg.Ledger.BackupDir = filepath.Join(cfg.LedgerDir, defaultBackupDirname)
	}
	cfg.Ledger.BackupDir = cleanAndExpandPath(cfg.Ledger.BackupDir)

	return cfg, nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	if strings.HasPrefix(path, "~") {
		var homeDir string
		user, err := user.Current()
		if err == nil {
			homeDir = user.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
