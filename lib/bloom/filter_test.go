package bloom

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-i2p/crypto/rand"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestFilter_EmptyContainsNothing(t *testing.T) {
	f, err := New(DefaultBitCount, DefaultHashCount)
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		assert.False(t, f.Contains(randomKey(t)))
	}
	assert.Zero(t, f.Saturation())
}

func TestFilter_NoFalseNegatives(t *testing.T) {
	f, err := New(DefaultBitCount, DefaultHashCount)
	require.NoError(t, err)

	var inserted [][]byte
	for i := 0; i < 100; i++ {
		key := randomKey(t)
		require.NoError(t, f.Insert(key))
		assert.True(t, f.Contains(key), "key must be present right after insert")
		inserted = append(inserted, key)
	}
	for _, key := range inserted {
		assert.True(t, f.Contains(key))
	}
}

func TestFilter_FalsePositiveRate(t *testing.T) {
	const (
		inserts = 50
		queries = 20000
	)
	f, err := New(DefaultBitCount, DefaultHashCount)
	require.NoError(t, err)
	for i := 0; i < inserts; i++ {
		require.NoError(t, f.Insert(randomKey(t)))
	}

	hits := 0
	for i := 0; i < queries; i++ {
		if f.Contains(randomKey(t)) {
			hits++
		}
	}

	m, k, n := float64(DefaultBitCount), float64(DefaultHashCount), float64(inserts)
	expected := math.Pow(1-math.Exp(-k*n/m), k)
	observed := float64(hits) / queries
	assert.InDelta(t, expected, observed, 0.02, "expected ~%.4f, observed %.4f", expected, observed)
}

func TestFilter_CheckAndInsert(t *testing.T) {
	f, err := New(DefaultBitCount, DefaultHashCount)
	require.NoError(t, err)
	key := randomKey(t)

	seen, err := f.CheckAndInsert(key)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = f.CheckAndInsert(key)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestFilter_ConcurrentCheckAndInsert(t *testing.T) {
	f, err := New(DefaultBitCount, DefaultHashCount)
	require.NoError(t, err)
	key := randomKey(t)

	var fresh int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen, err := f.CheckAndInsert(key)
			assert.NoError(t, err)
			if !seen {
				atomic.AddInt32(&fresh, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fresh, "exactly one racer may see the key as new")
}

func TestFilter_Saturates(t *testing.T) {
	f, err := NewWithSeeds(8, []uint64{1, 2, 3})
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		require.NoError(t, f.Insert([]byte(fmt.Sprintf("key-%d", i))))
	}
	assert.Equal(t, 1.0, f.Saturation())
	assert.True(t, f.Contains(randomKey(t)), "a saturated filter reports everything as seen")
}

func TestNew_RejectsBadParameters(t *testing.T) {
	_, err := New(0, 3)
	assert.ErrorIs(t, err, ErrInvalidParameters)
	_, err = New(512, 0)
	assert.ErrorIs(t, err, ErrInvalidParameters)
	_, err = NewWithSeeds(512, nil)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestLoad_CreatesAndPersistsFreshFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", DefaultFilename)

	f, err := Load(path, DefaultBitCount, DefaultHashCount)
	require.NoError(t, err)
	assert.Equal(t, DefaultBitCount, f.BitCount())
	assert.Equal(t, DefaultHashCount, f.HashCount())

	data, err := os.ReadFile(path)
	require.NoError(t, err, "fresh filter must be written immediately")

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "data")
	assert.Contains(t, doc, "seeds")
}

func TestLoad_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFilename)
	key := randomKey(t)

	first, err := Load(path, DefaultBitCount, DefaultHashCount)
	require.NoError(t, err)
	require.NoError(t, first.Insert(key))

	// Parameters passed on reload are ignored in favour of the persisted ones.
	second, err := Load(path, 64, 1)
	require.NoError(t, err)
	assert.Equal(t, DefaultBitCount, second.BitCount())
	assert.Equal(t, DefaultHashCount, second.HashCount())
	assert.True(t, second.Contains(key))
	assert.Equal(t, first.seeds, second.seeds)
}

func TestLoad_ReadsDocumentFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFilename)
	doc := `{"data":[true,true,true,true],"seeds":[7,11]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	f, err := Load(path, DefaultBitCount, DefaultHashCount)
	require.NoError(t, err)
	assert.Equal(t, 4, f.BitCount())
	assert.Equal(t, []uint64{7, 11}, f.seeds)
	assert.True(t, f.Contains([]byte("anything")))
}

func TestLoad_RejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	for name, doc := range map[string]string{
		"garbage":  "not json",
		"empty":    `{"data":[],"seeds":[1]}`,
		"noseeds":  `{"data":[false],"seeds":[]}`,
		"negative": `{"data":[false],"seeds":[-4]}`,
	} {
		path := filepath.Join(dir, name+".json")
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
		_, err := Load(path, DefaultBitCount, DefaultHashCount)
		assert.ErrorIs(t, err, ErrCorruptState, name)
	}
}

func TestFilter_InMemoryPersistIsNoop(t *testing.T) {
	f, err := New(DefaultBitCount, DefaultHashCount)
	require.NoError(t, err)
	assert.Empty(t, f.Path())
	assert.NoError(t, f.Persist())
}
