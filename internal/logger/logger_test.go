package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesConsoleAndJSONFile(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "scan.log")

	closer, err := SetupWriter(&console, Config{Level: "debug", File: file, JSONFormat: true})
	require.NoError(t, err)

	log.Debug().Str("url", "http://x.test/").Msg("Scanning")
	require.NoError(t, closer.Close())

	assert.Contains(t, console.String(), "Scanning")
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"url":"http://x.test/"`)
	assert.Contains(t, string(data), `"message":"Scanning"`)
}

func TestSetLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	SetLevel("warn")
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	SetLevel("bogus")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	SetLevel("")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestSetupBadFile(t *testing.T) {
	_, err := Setup(Config{File: filepath.Join(t.TempDir(), "missing", "scan.log")})
	assert.Error(t, err)
}
