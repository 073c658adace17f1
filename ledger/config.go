package ledger

import (
	"errors"

	"go.uber.org/zap/zapcore"
)

const (
	// DefaultMinStake is the smallest stake accepted at registration.
	DefaultMinStake uint64 = 1_000_000
	// DefaultQuorum is both the number of registered participants needed to
	// start a round and the number of submissions needed to aggregate it.
	DefaultQuorum uint64 = 3
	// DefaultRewardPerUpdate is the base reward before the reputation multiplier.
	DefaultRewardPerUpdate uint64 = 100_000

	// InitialReputation is granted to new entrants.
	InitialReputation uint64 = 10
	// SubmissionReputation is added for every accepted update.
	SubmissionReputation uint64 = 5
)

func DefaultConfig() Config {
	return Config{
		MinStake:             DefaultMinStake,
		Quorum:               DefaultQuorum,
		RewardPerUpdate:      DefaultRewardPerUpdate,
		ParticipantCacheSize: 4096,
	}
}

//nolint:lll
type Config struct {
	MinStake             uint64 `long:"min-stake"              description:"The minimum stake required to register"`
	Quorum               uint64 `long:"quorum"                 description:"The number of participants to start and of submissions to aggregate a round"`
	RewardPerUpdate      uint64 `long:"reward-per-update"      description:"The base reward credited for an accepted update"`
	ParticipantCacheSize int    `long:"participant-cache-size" description:"The number of participant records kept decoded in memory"`
	BackupDir            string `long:"backup-dir"             description:"The directory operator-requested backups are written to"`
}

// Validate rejects settings that would let a round start or close without
// any participant.
func (c Config) Validate() error {
	if c.Quorum == 0 {
		return errors.New("quorum must be at least 1")
	}
	return nil
}

// implement zap.ObjectMarshaler interface.
func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("min-stake", c.MinStake)
	enc.AddUint64("quorum", c.Quorum)
	enc.AddUint64("reward-per-update", c.RewardPerUpdate)
	enc.AddInt("participant-cache-size", c.ParticipantCacheSize)
	enc.AddString("backup-dir", c.BackupDir)
	return nil
}
