package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	regerrors "github.com/regscope/regscope/internal/errors"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 1536, cfg.VectorIndex.Dimension)
	assert.Equal(t, 1500, cfg.Ingestion.MaxChunkTokens)
	assert.Equal(t, 0.15, cfg.Ingestion.OverlapRatio)
	assert.Equal(t, 64, cfg.Embedding.BatchSize)
	assert.Equal(t, 50, cfg.Retrieval.TopK)
	assert.True(t, cfg.SourceEnabled("federal"))
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "regscope.yaml")
	yml := `
vector_index:
  name: regulations-staging
  dimension: 768
ingestion:
  enabled_sources: [federal, state]
  federal_titles: [21, 40]
retrieval:
  top_k: 30
  final_top_k: 10
  min_retrieval_score: 0.5
  recency_weight: 0.2
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "regulations-staging", cfg.VectorIndex.Name)
	assert.Equal(t, 768, cfg.VectorIndex.Dimension)
	assert.Equal(t, []int{21, 40}, cfg.Ingestion.FederalTitles)
	assert.False(t, cfg.SourceEnabled("county"))
	assert.Equal(t, 30, cfg.Retrieval.TopK)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("REGSCOPE_VECTOR_INDEX", "regulations-prod")
	t.Setenv("REGSCOPE_VECTOR_DIMENSION", "3072")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "regulations-prod", cfg.VectorIndex.Name)
	assert.Equal(t, 3072, cfg.VectorIndex.Dimension)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Ingestion.OverlapRatio = 1.5
	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, regerrors.ErrCodeConfig, regerrors.GetCode(err))

	cfg = Default()
	cfg.Retrieval.FinalTopK = cfg.Retrieval.TopK + 1
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Ingestion.EnabledSources = []string{"galactic"}
	require.Error(t, cfg.Validate())
}

func TestRequireCredentials(t *testing.T) {
	cfg := Default()
	cfg.Embedding.APIKey = ""
	cfg.VectorIndex.APIKey = ""

	err := cfg.RequireIngestCredentials()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
	assert.Contains(t, err.Error(), "VECTOR_INDEX_API_KEY")

	cfg.Embedding.APIKey = "sk-test"
	cfg.VectorIndex.APIKey = "vk-test"
	cfg.ObjectStore.Bucket = "corpus"
	assert.NoError(t, cfg.RequireIngestCredentials())
}

func TestSave_BacksUpPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "regscope.yaml")

	cfg := Default()
	cfg.VectorIndex.Name = "regulations-v1"
	require.NoError(t, cfg.Save(path))

	// No backup on first write.
	_, err := os.Stat(path + ".bak")
	assert.True(t, os.IsNotExist(err))

	cfg.VectorIndex.Name = "regulations-v2"
	require.NoError(t, cfg.Save(path))

	bak, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	assert.Contains(t, string(bak), "regulations-v1")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "regulations-v2", loaded.VectorIndex.Name)
}
