package utils

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateChecksum(t *testing.T) {
	tests := []struct {
		alg  Algorithm
		want string
	}{
		{SHA1, "a9993e364706816aba3e25717850c26c9cd0d89d"},
		{RMD160, "8eb208f7e05d987a9b044a8e98c6b087f15a0bfc"},
		{MD5, "900150983cd24fb0d6963f7d28e17f72"},
	}

	for _, tt := range tests {
		t.Run(tt.alg.String(), func(t *testing.T) {
			sum, err := CalculateChecksum([]byte("abc"), tt.alg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, hex.EncodeToString(sum))
			assert.Len(t, sum, tt.alg.Size())
		})
	}

	sum, err := CalculateChecksum([]byte("abc"), SHAKE128)
	require.NoError(t, err)
	assert.Len(t, sum, 20)
}

func TestAlgorithmFromSuffix(t *testing.T) {
	alg, rest, err := AlgorithmFromSuffix("abcd-rmd160")
	require.NoError(t, err)
	assert.Equal(t, RMD160, alg)
	assert.Equal(t, "abcd", rest)

	alg, rest, err = AlgorithmFromSuffix("abcd")
	require.NoError(t, err)
	assert.Equal(t, SHA1, alg)
	assert.Equal(t, "abcd", rest)

	_, _, err = AlgorithmFromSuffix("abcd-sha256")
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint([]byte("abc"))
	assert.Equal(t, "A9:99:3E:36:47:06:81:6A:BA:3E:25:71:78:50:C2:6C:9C:D0:D8:9D", fp)
}

func TestZlibRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("cvmfs certificate "), 100)

	compressed, err := ZlibCompress(data)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(data))

	out, err := ZlibDecompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	_, err = ZlibDecompress([]byte("plain text"))
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, time.March, 26, 11, 9, 46, 0, time.UTC)
	for _, s := range []string{
		"Tue Mar 26 11:09:46 UTC 2024",
		"Tue, 26 Mar 2024 11:09:46 +0000",
		"2024-03-26T11:09:46Z",
		"2024-03-26T12:09:46+01:00",
	} {
		got, err := ParseDate(s)
		require.NoError(t, err, s)
		require.NotNil(t, got, s)
		assert.True(t, want.Equal(*got), "%s parsed as %s", s, got)
	}

	got, err := ParseDate("  ")
	assert.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseDate("yesterday")
	assert.Error(t, err)
}

func TestReadFileLimited(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "file")
	require.NoError(t, WriteFile(path, []byte("0123456789"), 0644))
	assert.True(t, IsRegularFile(path))
	assert.False(t, IsRegularFile(dir))

	data, err := ReadFileLimited(path, 10)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))

	_, err = ReadFileLimited(path, 9)
	assert.Error(t, err)

	_, err = ReadFileLimited(filepath.Join(dir, "missing"), 10)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
