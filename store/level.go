package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/blockberries/ckptberry/logger"
	"github.com/blockberries/ckptberry/types"
)

// Errors
var (
	ErrNotFound = errors.New("checkpoint not found")
	ErrExists   = errors.New("checkpoint already stored")
	ErrClosed   = errors.New("store closed")
	ErrCorrupt  = errors.New("corrupt checkpoint record")
)

var (
	prefixCheckpoint = []byte("c/")
	prefixHeight     = []byte("h/")
)

var defaultOptions = opt.Options{
	// values are already zstd compressed
	Compression: opt.NoCompression,
}

// LevelStore stores checkpoints in a LevelDB database.
type LevelStore struct {
	mu     sync.Mutex
	db     *leveldb.DB
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	closed bool
	log    *zap.Logger
}

// NewLevelStore opens or creates the database at path.
func NewLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, &defaultOptions)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store %s: %w", path, err)
	}
	return newLevelStore(db)
}

// NewMemLevelStore returns a store backed by memory, for tests and devnets.
func NewMemLevelStore() *LevelStore {
	db, err := leveldb.Open(storage.NewMemStorage(), &defaultOptions)
	if err != nil {
		panic(fmt.Sprintf("open memory store: %v", err))
	}
	s, err := newLevelStore(db)
	if err != nil {
		panic(err)
	}
	return s
}

func newLevelStore(db *leveldb.DB) (*LevelStore, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &LevelStore{db: db, enc: enc, dec: dec, log: logger.Named("store")}, nil
}

func checkpointKey(id types.Hash) []byte {
	return append(append([]byte(nil), prefixCheckpoint...), id[:]...)
}

func heightKey(height uint64) []byte {
	key := make([]byte, len(prefixHeight)+8)
	copy(key, prefixHeight)
	binary.BigEndian.PutUint64(key[len(prefixHeight):], height)
	return key
}

// Save stores ckpt. It fails with ErrExists when its identifier or height
// is already taken.
func (s *LevelStore) Save(ckpt *types.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	id := ckpt.ID()
	hk, ck := heightKey(ckpt.Height), checkpointKey(id)
	for _, key := range [][]byte{hk, ck} {
		has, err := s.db.Has(key, nil)
		if err != nil {
			return err
		}
		if has {
			return fmt.Errorf("%w: %s at height %d", ErrExists, id.Short(), ckpt.Height)
		}
	}

	raw, err := types.EncodeCheckpoint(ckpt)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(ck, s.enc.EncodeAll(raw, nil))
	batch.Put(hk, id[:])
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", id.Short(), err)
	}
	s.log.Debug("saved checkpoint", zap.Object("checkpoint", ckpt), zap.Int("bytes", len(raw)))
	return nil
}

// ExtractByID loads a checkpoint by identifier.
func (s *LevelStore) ExtractByID(id types.Hash) (*types.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.load(id)
}

// Extract loads the checkpoint stored at height.
func (s *LevelStore) Extract(height uint64) (*types.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	idBytes, err := s.db.Get(heightKey(height), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("%w: height %d", ErrNotFound, height)
	}
	if err != nil {
		return nil, err
	}
	id, err := types.NewHash(idBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: height %d: %v", ErrCorrupt, height, err)
	}
	return s.load(id)
}

// Latest loads the checkpoint with the greatest height.
func (s *LevelStore) Latest() (*types.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	it := s.db.NewIterator(util.BytesPrefix(prefixHeight), nil)
	defer it.Release()
	if !it.Last() {
		if err := it.Error(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	id, err := types.NewHash(it.Value())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return s.load(id)
}

// Heights returns the stored heights in ascending order.
func (s *LevelStore) Heights() ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	it := s.db.NewIterator(util.BytesPrefix(prefixHeight), nil)
	defer it.Release()
	var out []uint64
	for it.Next() {
		out = append(out, binary.BigEndian.Uint64(it.Key()[len(prefixHeight):]))
	}
	return out, it.Error()
}

func (s *LevelStore) load(id types.Hash) (*types.Checkpoint, error) {
	blob, err := s.db.Get(checkpointKey(id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id.Short())
	}
	if err != nil {
		return nil, err
	}
	raw, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, id.Short(), err)
	}
	ckpt, err := types.DecodeCheckpoint(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, id.Short(), err)
	}
	if ckpt.ID() != id {
		return nil, fmt.Errorf("%w: stored under %s, decodes to %s", ErrCorrupt, id.Short(), ckpt.ID().Short())
	}
	return ckpt, nil
}

// Close releases the database. Further calls return ErrClosed.
func (s *LevelStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.dec.Close()
	s.enc.Close()
	return s.db.Close()
}
