package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("STORAGE_QUOTA_BYTES", "not-a-number")

	LoadConfig()

	assert.Equal(t, 5*1024*1024, AppConfig.StorageQuotaBytes)
	assert.Equal(t, "gemini-3-pro-preview", AppConfig.ChatModel)
	assert.Equal(t, 32768, AppConfig.ThinkingBudget)
	assert.ErrorIs(t, RequireGeminiKey(), ErrMissingAPIKey)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("STORAGE_QUOTA_BYTES", "2048")
	t.Setenv("STORAGE_BACKEND", "memory")

	LoadConfig()

	assert.Equal(t, 2048, AppConfig.StorageQuotaBytes)
	assert.Equal(t, "memory", AppConfig.StorageBackend)
	require.NoError(t, RequireGeminiKey())
}
