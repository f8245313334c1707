package vectorindex

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(f float32) []float32 {
	out := make([]float32, 8)
	for i := range out {
		out[i] = f + float32(i)*0.01
	}
	return out
}

func TestInsertBatch_ThenSearch_FindsNearest(t *testing.T) {
	idx := New()
	require.NoError(t, idx.InsertBatch([]string{"a", "b", "c"}, [][]float32{vec(1), vec(5), vec(1.01)}))

	results, err := idx.Search(vec(1), 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].ID)
}

func TestDelete_RemovesFromSubsequentResults(t *testing.T) {
	idx := New()
	require.NoError(t, idx.InsertBatch([]string{"a", "b"}, [][]float32{vec(1), vec(5)}))
	idx.Delete([]string{"a"})
	assert.Equal(t, 1, idx.Count())
}

func TestSaveThenLoad_RoundTripsVectors(t *testing.T) {
	dir := t.TempDir()
	idx := New()
	require.NoError(t, idx.InsertBatch([]string{"a", "b", "c"}, [][]float32{vec(1), vec(2), vec(3)}))
	require.NoError(t, idx.Save(dir, "test"))
	require.NoError(t, idx.Close())

	loaded, err := Load(dir, "test")
	require.NoError(t, err)
	defer loaded.Close()

	assert.Equal(t, 3, loaded.Count())
	results, err := loaded.Search(vec(1), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestLoad_TamperedGraphFile_ChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	idx := New()
	require.NoError(t, idx.InsertBatch([]string{"a"}, [][]float32{vec(1)}))
	require.NoError(t, idx.Save(dir, "test"))
	require.NoError(t, idx.Close())

	graphPath, _, _, _ := filePaths(dir, "test")
	require.NoError(t, appendByte(graphPath))

	_, err := Load(dir, "test")
	require.Error(t, err)
}

func TestCountVectors_ReadsIDMapOnly(t *testing.T) {
	dir := t.TempDir()
	idx := New()
	require.NoError(t, idx.InsertBatch([]string{"a", "b"}, [][]float32{vec(1), vec(2)}))
	require.NoError(t, idx.Save(dir, "test"))
	require.NoError(t, idx.Close())

	count, err := CountVectors(dir, "test")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestInsertBatch_MismatchedLengths_ReturnsError(t *testing.T) {
	idx := New()
	err := idx.InsertBatch([]string{"a", "b"}, [][]float32{vec(1)})
	assert.Error(t, err)
}

func appendByte(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	data = append(data, 0xFF)
	return os.WriteFile(path, data, 0o600)
}
