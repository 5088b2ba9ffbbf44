package logging

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDefaultsToInfoOnInvalidLevel(t *testing.T) {
	logger, err := Setup(Config{Level: "not-a-level"})
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

func TestSetupHonorsExplicitLevel(t *testing.T) {
	logger, err := Setup(Config{Level: "debug"})
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())
}

func TestSetupWithFileSinkCreatesRotatingWriter(t *testing.T) {
	dir := t.TempDir()
	logger, err := Setup(Config{Level: "warn", FilePath: filepath.Join(dir, "server.log")})
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
}
