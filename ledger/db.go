package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Storage key prefixes.
const (
	participantPrefix = 'p'
	updatePrefix      = 'u'
	globalModelPrefix = 'g'
	rewardPrefix      = 'r'
	statusKey         = 's'
)

type database struct {
	db *leveldb.DB

	// participants caches decoded records. It is only written after a
	// successful commit so it never holds uncommitted state.
	participants *lru.Cache
}

func openDatabase(path string, cacheSize int) (*database, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database @ %s: %w", path, err)
	}
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating participant cache: %w", err)
	}
	return &database{db: db, participants: cache}, nil
}

func (d *database) Close() error {
	d.participants.Purge()
	return d.db.Close()
}

func participantKey(id Identity) []byte {
	return append([]byte{participantPrefix}, id...)
}

func roundBytes(round uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], round)
	return b[:]
}

func updateRoundPrefix(round uint64) []byte {
	return append([]byte{updatePrefix}, roundBytes(round)...)
}

func updateKey(round uint64, id Identity) []byte {
	return append(updateRoundPrefix(round), id...)
}

func globalModelKey(round uint64) []byte {
	return append([]byte{globalModelPrefix}, roundBytes(round)...)
}

func rewardKey(id Identity) []byte {
	return append([]byte{rewardPrefix}, id...)
}

// get returns (nil, nil) when key is absent.
func (d *database) get(key []byte) ([]byte, error) {
	data, err := d.db.Get(key, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return data, nil
}

func (d *database) status() (Status, error) {
	var s Status
	data, err := d.get([]byte{statusKey})
	if err != nil {
		return s, fmt.Errorf("reading ledger status: %w", err)
	}
	if data == nil {
		return s, nil
	}
	if err := decodeRecord(data, &s); err != nil {
		return s, fmt.Errorf("ledger status: %w", err)
	}
	return s, nil
}

func (d *database) participant(id Identity) (Participant, bool, error) {
	if cached, ok := d.participants.Get(id); ok {
		return cached.(Participant), true, nil
	}
	var p Participant
	data, err := d.get(participantKey(id))
	if err != nil {
		return p, false, fmt.Errorf("reading participant %s: %w", id, err)
	}
	if data == nil {
		return p, false, nil
	}
	if err := decodeRecord(data, &p); err != nil {
		return p, false, fmt.Errorf("participant %s: %w", id, err)
	}
	d.participants.Add(id, p)
	return p, true, nil
}

func (d *database) update(round uint64, id Identity) (ModelUpdate, bool, error) {
	var u ModelUpdate
	data, err := d.get(updateKey(round, id))
	if err != nil {
		return u, false, fmt.Errorf("reading update of %s in round %d: %w", id, round, err)
	}
	if data == nil {
		return u, false, nil
	}
	if err := decodeRecord(data, &u); err != nil {
		return u, false, fmt.Errorf("update of %s in round %d: %w", id, round, err)
	}
	return u, true, nil
}

// roundUpdates iterates all updates stored for round, ordered by identity bytes.
func (d *database) roundUpdates(round uint64, fn func(Identity, ModelUpdate) error) error {
	prefix := updateRoundPrefix(round)
	iter := d.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		var u ModelUpdate
		if err := decodeRecord(iter.Value(), &u); err != nil {
			return fmt.Errorf("update in round %d: %w", round, err)
		}
		id := Identity(append([]byte{}, iter.Key()[len(prefix):]...))
		if err := fn(id, u); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (d *database) globalModel(round uint64) (GlobalModel, bool, error) {
	var g GlobalModel
	data, err := d.get(globalModelKey(round))
	if err != nil {
		return g, false, fmt.Errorf("reading global model of round %d: %w", round, err)
	}
	if data == nil {
		return g, false, nil
	}
	if err := decodeRecord(data, &g); err != nil {
		return g, false, fmt.Errorf("global model of round %d: %w", round, err)
	}
	return g, true, nil
}

func (d *database) pendingReward(id Identity) (uint64, error) {
	data, err := d.get(rewardKey(id))
	if err != nil {
		return 0, fmt.Errorf("reading pending reward of %s: %w", id, err)
	}
	if data == nil {
		return 0, nil
	}
	return decodeAmount(data)
}

// txn collects the writes of one ledger operation. Nothing is visible
// until commit writes the batch.
type txn struct {
	batch        *leveldb.Batch
	participants map[Identity]Participant
}

func newTxn() *txn {
	return &txn{
		batch:        new(leveldb.Batch),
		participants: make(map[Identity]Participant),
	}
}

func (t *txn) putParticipant(id Identity, p Participant) error {
	data, err := encodeRecord(&p)
	if err != nil {
		return err
	}
	t.batch.Put(participantKey(id), data)
	t.participants[id] = p
	return nil
}

func (t *txn) putUpdate(round uint64, id Identity, u ModelUpdate) error {
	data, err := encodeRecord(&u)
	if err != nil {
		return err
	}
	t.batch.Put(updateKey(round, id), data)
	return nil
}

func (t *txn) putGlobalModel(round uint64, g GlobalModel) error {
	data, err := encodeRecord(&g)
	if err != nil {
		return err
	}
	t.batch.Put(globalModelKey(round), data)
	return nil
}

func (t *txn) putReward(id Identity, amount uint64) error {
	data, err := encodeAmount(amount)
	if err != nil {
		return err
	}
	t.batch.Put(rewardKey(id), data)
	return nil
}

func (t *txn) deleteReward(id Identity) {
	t.batch.Delete(rewardKey(id))
}

func (t *txn) putStatus(s Status) error {
	data, err := encodeRecord(&s)
	if err != nil {
		return err
	}
	t.batch.Put([]byte{statusKey}, data)
	return nil
}

// commit atomically writes the batch and refreshes the participant cache.
func (d *database) commit(t *txn) error {
	if err := d.db.Write(t.batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("committing ledger batch: %w", err)
	}
	for id, p := range t.participants {
		d.participants.Add(id, p)
	}
	return nil
}
