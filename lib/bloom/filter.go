package bloom

import (
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/dchest/siphash"
	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-darkstar/lib/util"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

const (
	// DefaultBitCount is the filter size used when none is configured.
	DefaultBitCount = 512
	// DefaultHashCount is the number of seeded hashes per key.
	DefaultHashCount = 3
	// DefaultFilename is the name of the persisted filter in a working directory.
	DefaultFilename = "bloom.json"

	// seeds stay below 2^31 so the JSON document is portable.
	maxSeed = 1 << 31
)

var log = logger.GetGoI2PLogger()

var (
	ErrInvalidParameters = errors.New("bloom filter needs at least one bit and one hash")
	ErrCorruptState      = errors.New("persisted bloom filter is corrupt")
)

// Filter is a Bloom filter safe for concurrent use. Inserts and the following
// persist happen under one write lock; lookups take a read lock.
type Filter struct {
	mu    sync.RWMutex
	bits  []bool
	seeds []uint64
	path  string
}

// persistedFilter is the on-disk document.
type persistedFilter struct {
	Data  []bool  `json:"data"`
	Seeds []int64 `json:"seeds"`
}

// New creates an in-memory filter with fresh random seeds.
func New(bitCount, hashCount int) (*Filter, error) {
	if bitCount <= 0 || hashCount <= 0 {
		return nil, oops.Wrapf(ErrInvalidParameters, "bits=%d hashes=%d", bitCount, hashCount)
	}
	seeds := make([]uint64, hashCount)
	for i := range seeds {
		n, err := rand.CryptoInt(rand.Reader, big.NewInt(maxSeed))
		if err != nil {
			return nil, oops.Wrapf(err, "drawing bloom seed")
		}
		seeds[i] = n.Uint64()
	}
	return NewWithSeeds(bitCount, seeds)
}

// NewWithSeeds creates an in-memory filter with caller-chosen seeds.
func NewWithSeeds(bitCount int, seeds []uint64) (*Filter, error) {
	if bitCount <= 0 || len(seeds) == 0 {
		return nil, oops.Wrapf(ErrInvalidParameters, "bits=%d hashes=%d", bitCount, len(seeds))
	}
	return &Filter{
		bits:  make([]bool, bitCount),
		seeds: append([]uint64(nil), seeds...),
	}, nil
}

// Load reads the filter at path. If no file exists, a fresh filter with the
// given parameters is created and persisted immediately. An existing file
// keeps its own size and seeds.
func Load(path string, bitCount, hashCount int) (*Filter, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		f, err := decode(data)
		if err != nil {
			return nil, oops.Wrapf(err, "loading %s", path)
		}
		f.path = path
		log.WithFields(logger.Fields{
			"at":         "bloom.Load",
			"path":       path,
			"bits":       len(f.bits),
			"hashes":     len(f.seeds),
			"saturation": f.Saturation(),
		}).Debug("loaded replay filter")
		return f, nil
	}
	if !os.IsNotExist(err) {
		return nil, oops.Wrapf(err, "reading %s", path)
	}

	f, err := New(bitCount, hashCount)
	if err != nil {
		return nil, err
	}
	f.path = path
	if err := f.Persist(); err != nil {
		return nil, err
	}
	log.WithFields(logger.Fields{
		"at":     "bloom.Load",
		"path":   path,
		"bits":   bitCount,
		"hashes": hashCount,
	}).Debug("created replay filter")
	return f, nil
}

func decode(data []byte) (*Filter, error) {
	var doc persistedFilter
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, oops.Wrapf(ErrCorruptState, "%v", err)
	}
	if len(doc.Data) == 0 || len(doc.Seeds) == 0 {
		return nil, oops.Wrapf(ErrCorruptState, "bits=%d seeds=%d", len(doc.Data), len(doc.Seeds))
	}
	seeds := make([]uint64, len(doc.Seeds))
	for i, s := range doc.Seeds {
		if s < 0 {
			return nil, oops.Wrapf(ErrCorruptState, "negative seed %d", s)
		}
		seeds[i] = uint64(s)
	}
	return &Filter{bits: doc.Data, seeds: seeds}, nil
}

// Path is where the filter persists itself; empty for in-memory filters.
func (f *Filter) Path() string {
	return f.path
}

func (f *Filter) BitCount() int {
	return len(f.bits)
}

func (f *Filter) HashCount() int {
	return len(f.seeds)
}

func (f *Filter) index(seed uint64, key []byte) int {
	return int(siphash.Hash(seed, 0, key) % uint64(len(f.bits)))
}

// Contains reports whether every seeded bit for key is set.
func (f *Filter) Contains(key []byte) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.containsLocked(key)
}

func (f *Filter) containsLocked(key []byte) bool {
	for _, seed := range f.seeds {
		if !f.bits[f.index(seed, key)] {
			return false
		}
	}
	return true
}

// Insert sets the bits for key and persists the filter.
func (f *Filter) Insert(key []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertLocked(key)
	return f.persistLocked()
}

func (f *Filter) insertLocked(key []byte) {
	for _, seed := range f.seeds {
		f.bits[f.index(seed, key)] = true
	}
}

// CheckAndInsert reports whether key was already present and, if it was not,
// inserts and persists it. Concurrent callers with the same key see exactly
// one false result.
func (f *Filter) CheckAndInsert(key []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.containsLocked(key) {
		return true, nil
	}
	f.insertLocked(key)
	return false, f.persistLocked()
}

// Persist writes the filter to its path. In-memory filters ignore it.
func (f *Filter) Persist() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.persistLocked()
}

func (f *Filter) persistLocked() error {
	if f.path == "" {
		return nil
	}
	doc := persistedFilter{
		Data:  f.bits,
		Seeds: make([]int64, len(f.seeds)),
	}
	for i, s := range f.seeds {
		doc.Seeds[i] = int64(s)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return oops.Wrapf(err, "encoding bloom filter")
	}

	if err := util.EnsureDir(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	// Write then rename so a crash never leaves a truncated filter.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return oops.Wrapf(err, "writing %s", tmp)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return oops.Wrapf(err, "replacing %s", f.path)
	}
	return nil
}

// Saturation is the fraction of bits set.
func (f *Filter) Saturation() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	set := 0
	for _, b := range f.bits {
		if b {
			set++
		}
	}
	return float64(set) / float64(len(f.bits))
}
