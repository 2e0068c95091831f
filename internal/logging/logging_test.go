package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Level(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, New(Config{Level: "DEBUG"}).GetLevel())
	assert.Equal(t, logrus.InfoLevel, New(Config{Level: "nonsense"}).GetLevel())
}

func TestNew_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "widthbot.log")
	logger := New(Config{Level: "info", File: path})
	logger.Info("cycle committed")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cycle committed")
}
