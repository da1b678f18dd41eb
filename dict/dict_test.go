package dict

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestValid(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "words.txt")
	require.NoError(t, os.WriteFile(fn, []byte("Apple\nbanana\n\ncherry\n"), 0644))

	d, err := New(fn, discardLog())
	require.NoError(t, err)

	assert.True(t, d.Valid("apple"))
	assert.True(t, d.Valid("APPLE"))
	assert.True(t, d.Valid("cherry"))
	assert.False(t, d.Valid("durian"))
	assert.False(t, d.Valid(""))
}

func TestMissingFileAllowsEverything(t *testing.T) {
	d, err := New(filepath.Join(t.TempDir(), "nope.txt"), discardLog())
	require.NoError(t, err)
	assert.True(t, d.Valid("anything"))
}
