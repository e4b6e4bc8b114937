package blocklog

import (
	"bytes"
	"encoding/binary"

	"github.com/orbisnet/orbisd/wire"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	ldbErrors "github.com/syndtr/goleveldb/leveldb/errors"
)

var (
	blockKeyPrefix  = []byte("blk:")
	numberKeyPrefix = []byte("num:")
)

// BlockLog is the persistent append-only block store backed by leveldb.
// Blocks are stored under their id and additionally indexed by number so
// that the main chain can be walked without the fork database.
type BlockLog struct {
	ldb *leveldb.DB
}

// Open opens the block log at the given path, creating it if it does not
// exist. A corrupted database is recovered in place.
func Open(path string) (*BlockLog, error) {
	ldb, err := leveldb.OpenFile(path, nil)

	// If the database is corrupted, attempt to recover.
	if _, corrupted := err.(*ldbErrors.ErrCorrupted); corrupted {
		log.Warnf("Block log corruption detected for path %s: %s", path, err)
		ldb, err = leveldb.RecoverFile(path, nil)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		log.Warnf("Block log recovered from corruption for path %s", path)
	}

	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &BlockLog{ldb: ldb}, nil
}

// Close closes the underlying database.
func (bl *BlockLog) Close() error {
	return errors.WithStack(bl.ldb.Close())
}

func blockKey(id wire.BlockID) []byte {
	return append(blockKeyPrefix, id[:]...)
}

func numberKey(blockNum uint32) []byte {
	key := make([]byte, len(numberKeyPrefix)+4)
	copy(key, numberKeyPrefix)
	binary.BigEndian.PutUint32(key[len(numberKeyPrefix):], blockNum)
	return key
}

// Store persists a block under its id and records the id under the block's
// number. Storing the same id twice overwrites in place.
func (bl *BlockLog) Store(id wire.BlockID, block *wire.SignedBlock) error {
	var buf bytes.Buffer
	err := block.Serialize(&buf)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(blockKey(id), buf.Bytes())
	batch.Put(numberKey(id.BlockNum()), id[:])
	return errors.WithStack(bl.ldb.Write(batch, nil))
}

// FetchOptional returns the block stored under the given id, or nil if no
// such block is stored.
func (bl *BlockLog) FetchOptional(id wire.BlockID) (*wire.SignedBlock, error) {
	data, err := bl.ldb.Get(blockKey(id), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}
	block := &wire.SignedBlock{}
	err = block.Deserialize(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return block, nil
}

// FetchBlockID returns the id stored under the given block number, or the
// zero id if the number is unknown.
func (bl *BlockLog) FetchBlockID(blockNum uint32) (wire.BlockID, error) {
	data, err := bl.ldb.Get(numberKey(blockNum), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return wire.ZeroBlockID, nil
		}
		return wire.ZeroBlockID, errors.WithStack(err)
	}
	var id wire.BlockID
	if len(data) != len(id) {
		return wire.ZeroBlockID, errors.Errorf(
			"malformed block number index entry for %d [length %d]",
			blockNum, len(data))
	}
	copy(id[:], data)
	return id, nil
}

// FetchByNumber returns the block stored under the given number, or nil if
// the number is unknown.
func (bl *BlockLog) FetchByNumber(blockNum uint32) (*wire.SignedBlock, error) {
	id, err := bl.FetchBlockID(blockNum)
	if err != nil {
		return nil, err
	}
	if id.IsZero() {
		return nil, nil
	}
	return bl.FetchOptional(id)
}
