package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	l := With("syncer")
	l.Info().Str("session_id", "abc").Msg("session started")

	assert.Contains(t, buf.String(), `"component":"syncer"`)
	assert.Contains(t, buf.String(), `"session_id":"abc"`)
}

func TestInitWritesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(Config{Level: "debug", Format: "json", Dir: dir}))
	t.Cleanup(func() { Close() })

	Info().Msg("hello file")

	data, err := os.ReadFile(filepath.Join(dir, "dbinventory.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
}
