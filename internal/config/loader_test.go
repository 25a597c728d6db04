package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.configPath)
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nonexistent.json")

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.NotNil(t, cfg)
		assert.Equal(t, 0.80, cfg.Consolidation.MergeThreshold)
		assert.Equal(t, tmpDir, cfg.DataDir)
	})

	t.Run("load config from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{
			"embedding": {
				"provider": "hash",
				"dimension": 256
			},
			"consolidation": {
				"merge_threshold": 0.85
			},
			"retrieval": {
				"k": 8
			}
		}`
		err := os.WriteFile(configPath, []byte(testConfig), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, "hash", cfg.Embedding.Provider)
		assert.Equal(t, 256, cfg.Embedding.Dimension)
		assert.Equal(t, 0.85, cfg.Consolidation.MergeThreshold)
		assert.Equal(t, 8, cfg.Retrieval.K)
		// untouched sections keep their defaults
		assert.Equal(t, 20, cfg.Retrieval.CandidateDepth)
		assert.Equal(t, "@every 6h", cfg.Decay.Schedule)
	})

	t.Run("set default paths", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		err := os.WriteFile(configPath, []byte(`{"embedding": {"provider": "hash"}}`), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, filepath.Join(tmpDir, "recall.db"), cfg.DBPath)
		assert.Equal(t, filepath.Join(tmpDir, "recall.log"), cfg.Logging.File)
		assert.Equal(t, filepath.Join(tmpDir, "audit.log"), cfg.Audit.File)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		err := os.WriteFile(configPath, []byte(`{"consolidation": {"merge_threshold": 0.85}}`), 0644)
		require.NoError(t, err)

		t.Setenv("RECALL_CONSOLIDATION_MERGE_THRESHOLD", "0.9")
		t.Setenv("RECALL_EMBEDDING_API_KEY", "sk-from-env")

		cfg, err := Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, 0.9, cfg.Consolidation.MergeThreshold)
		assert.Equal(t, "sk-from-env", cfg.Embedding.APIKey)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "invalid.json")

		err := os.WriteFile(configPath, []byte("invalid json"), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		_, err = loader.Load()

		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	t.Run("save config to file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		cfg := DefaultConfig()
		cfg.Embedding.Provider = "hash"
		cfg.Embedding.Dimension = 64
		cfg.Retrieval.CandidateDepth = 40

		loader := NewLoader(configPath)
		err := loader.Save(cfg)

		require.NoError(t, err)

		_, err = os.Stat(configPath)
		assert.NoError(t, err)

		loadedCfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)
		assert.Equal(t, "hash", loadedCfg.Embedding.Provider)
		assert.Equal(t, 64, loadedCfg.Embedding.Dimension)
		assert.Equal(t, 40, loadedCfg.Retrieval.CandidateDepth)
	})

	t.Run("create directory if not exists", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "subdir", "config.json")

		loader := NewLoader(configPath)
		err := loader.Save(DefaultConfig())

		require.NoError(t, err)

		_, err = os.Stat(filepath.Dir(configPath))
		assert.NoError(t, err)
	})
}

func TestLoaderGetConfigPath(t *testing.T) {
	t.Run("custom path", func(t *testing.T) {
		loader := NewLoader("/custom/path/config.json")
		path := loader.GetConfigPath()
		assert.Equal(t, "/custom/path/config.json", path)
	})

	t.Run("default path", func(t *testing.T) {
		loader := NewLoader("")
		path := loader.GetConfigPath()
		assert.NotEmpty(t, path)
		assert.Contains(t, path, ".recall")
	})
}
