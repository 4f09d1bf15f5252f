package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"EDURAG_DB", "DEEPSEEK_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
		"GEMINI_API_KEY", "PINECONE_API_KEY", "PINECONE_INDEX_NAME",
		"PINECONE_HOST", "QDRANT_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "config.yaml", `
basic_config:
  file_base_dir: uploads
databases:
  sqlite3:
    dsn: data/test.db
ingestion:
  chunk_size: 500
  chunk_overlap: 50
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	dir := filepath.Dir(path)
	assert.Equal(t, ":8090", cfg.BasicConfig.ServerAddress)
	assert.Equal(t, "sqlite3", cfg.BasicConfig.Database)
	assert.Equal(t, filepath.Join(dir, "uploads"), cfg.BasicConfig.FileBaseDir)
	assert.Equal(t, filepath.Join(dir, "data/test.db"), cfg.Databases["sqlite3"].DSN)
	assert.Equal(t, 500, cfg.Ingestion.ChunkSize)
	assert.Equal(t, 50, cfg.Ingestion.ChunkOverlap)
	assert.Equal(t, 5, cfg.Ingestion.BatchSize)
	assert.Equal(t, int64(10<<20), cfg.Ingestion.MaxUploadBytes)
	assert.Equal(t, []string{"pdf", "docx", "doc", "txt", "csv", "xlsx"}, cfg.Ingestion.AllowedTypes)
	assert.Equal(t, 3, cfg.Retrieval.MaxResults)
	assert.InDelta(t, 0.5, cfg.Retrieval.RelevanceFloor, 1e-9)
	assert.Equal(t, "memory", cfg.VectorStore.Type)
	assert.Equal(t, "local", cfg.Embedding.Provider)
	assert.Equal(t, 384, cfg.Embedding.Dimensions)
	assert.Equal(t, "https://api.deepseek.com/v1", cfg.Providers["deepseek"].BaseURL)
	assert.Equal(t, "edurag", cfg.Observability.ServiceName)
}

func TestLoadJSON(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "config.json", `{
  "basic_config": {"server_address": ":9000", "database": "sqlite"},
  "databases": {"sqlite": {"dsn": ":memory:"}},
  "embedding": {"provider": "openai"}
}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.BasicConfig.ServerAddress)
	assert.Equal(t, ":memory:", cfg.Databases["sqlite"].DSN)
	assert.Equal(t, "text-embedding-ada-002", cfg.Embedding.Model)
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)
}

func TestExplicitZeroTunablesAreKept(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "config.yaml", `
ingestion:
  chunk_size: 150
  chunk_overlap: 0
  batch_pause_ms: 0
  max_retries: 0
retrieval:
  relevance_floor: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 150, cfg.Ingestion.ChunkSize)
	assert.Equal(t, 0, cfg.Ingestion.ChunkOverlap)
	assert.Equal(t, 0, cfg.Ingestion.BatchPauseMillis)
	assert.Equal(t, 0, cfg.Ingestion.MaxRetries)
	assert.Zero(t, cfg.Retrieval.RelevanceFloor)
}

func TestOmittedTunablesGetDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "config.yaml", "basic_config:\n  log_mode: dev\n"))
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Ingestion.ChunkOverlap)
	assert.Equal(t, 500, cfg.Ingestion.BatchPauseMillis)
	assert.Equal(t, 2, cfg.Ingestion.MaxRetries)
	assert.InDelta(t, 0.5, cfg.Retrieval.RelevanceFloor, 1e-9)

	empty, err := Load(writeConfig(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, 200, empty.Ingestion.ChunkOverlap)
}

func TestEnvOverridesSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("DEEPSEEK_API_KEY", "ds-env")
	t.Setenv("EDURAG_DB", "sqlite")
	path := writeConfig(t, "config.yaml", `
providers:
  deepseek:
    api_key: ds-file
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.BasicConfig.Database)
	assert.Equal(t, "ds-file", cfg.Providers["deepseek"].APIKey)
	assert.Equal(t, "sk-env", cfg.Providers["openai"].APIKey)
	assert.Equal(t, "sk-env", cfg.Embedding.APIKey)
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "overlap not below size",
			body: "ingestion:\n  chunk_size: 100\n  chunk_overlap: 150\n",
			want: "chunk_overlap",
		},
		{
			name: "negative overlap",
			body: "ingestion:\n  chunk_overlap: -5\n",
			want: "must not be negative",
		},
		{
			name: "negative batch pause",
			body: "ingestion:\n  batch_pause_ms: -1\n",
			want: "must not be negative",
		},
		{
			name: "unknown vector store",
			body: "vector_store:\n  type: faiss\n",
			want: "vector_store.type",
		},
		{
			name: "compatible embedder without base url",
			body: "embedding:\n  provider: compatible\n",
			want: "base_url",
		},
		{
			name: "missing database section",
			body: "basic_config:\n  database: mysql\n",
			want: "database config for mysql",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(writeConfig(t, "config.yaml", tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestDefaultIsUsable(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "./data/edurag.db", cfg.Databases["sqlite3"].DSN)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
