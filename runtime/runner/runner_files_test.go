package runner

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malchev/fully-homomorphic-encryption/runtime/gates"
)

func TestNewFromFiles(t *testing.T) {
	t.Parallel()

	scheme := gates.NewCleartext()
	r, err := NewFromFiles(
		filepath.Join("testdata", "reverse2.ir"),
		filepath.Join("testdata", "reverse2.json"),
		scheme, Config{Workers: 2})
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, "reverse2", r.Function().Name())
	assert.Equal(t, "reverse", r.Package().Name())

	args := map[string][]gates.Ciphertext{"x": scheme.Encrypt([]uint8{1, 0})}
	result := scheme.Encrypt([]uint8{0, 0})
	_, err = r.Run(result, args, scheme.Key())
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 1}, scheme.Decrypt(result))
}

func TestNewFromFilesMissing(t *testing.T) {
	t.Parallel()

	_, err := NewFromFiles("testdata/nope.ir", "testdata/reverse2.json",
		gates.NewCleartext(), Config{Workers: 1})
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeInvalidIR))

	_, err = NewFromFiles("testdata/reverse2.ir", "testdata/nope.json",
		gates.NewCleartext(), Config{Workers: 1})
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeMetadataMismatch))
}

func TestConcurrentRunsSerialize(t *testing.T) {
	t.Parallel()

	scheme := gates.NewCleartext()
	r, err := NewFromFiles(
		filepath.Join("testdata", "reverse2.ir"),
		filepath.Join("testdata", "reverse2.json"),
		scheme, Config{Workers: 4})
	require.NoError(t, err)
	defer r.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			args := map[string][]gates.Ciphertext{"x": scheme.Encrypt([]uint8{1, 0})}
			result := scheme.Encrypt([]uint8{0, 0})
			_, err := r.Run(result, args, scheme.Key())
			assert.NoError(t, err)
			assert.Equal(t, []uint8{0, 1}, scheme.Decrypt(result))
		}()
	}
	wg.Wait()
}
