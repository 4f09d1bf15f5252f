package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edurag/internal/config"
	"edurag/internal/models"
	"edurag/internal/progress"
	"edurag/internal/service/documents"
	"edurag/internal/service/ingest"
	"edurag/internal/service/qa"
	"edurag/internal/worker"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	for _, env := range []string{"DEEPSEEK_API_KEY", "OPENAI_API_KEY", "EDURAG_DB"} {
		t.Setenv(env, "")
	}
	cfg := config.Default()
	cfg.BasicConfig.Database = "sqlite"
	cfg.Databases["sqlite"] = config.DatabaseConfig{DSN: filepath.Join(t.TempDir(), "edurag.db")}
	cfg.BasicConfig.FileBaseDir = t.TempDir()
	cfg.Embedding.Dimensions = 64
	return cfg
}

func TestBuildWithoutChatModel(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	results := map[string]error{}
	for _, chk := range a.HealthChecks() {
		results[chk.Name] = chk.Check(ctx)
	}
	assert.NoError(t, results["database"])
	assert.NoError(t, results["vector_store"])
	assert.Error(t, results["generator"])

	_, err = a.QA.Ask(ctx, qa.Request{Question: "What is osmosis?"})
	assert.ErrorIs(t, err, qa.ErrAnswerUnavailable)
}

func TestBuiltPipelineIngestsAndWorkersRun(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	doc, err := a.Documents.Create(ctx, documents.NewDocument{Filename: "n.txt", OriginalName: "n.txt", FileType: "txt", FileSize: 11})
	require.NoError(t, err)
	out, err := a.Pipeline.Ingest(ctx, ingest.Request{DocumentID: doc.ID, Filename: "n.txt", Format: "txt", Data: []byte("hello world")})
	require.NoError(t, err)
	assert.Equal(t, 1, out.ChunkCount)

	workers := a.NewWorkers()
	sctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, workers.Shutdown(sctx))
}

func TestBuildRejectsUnknownVectorStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.VectorStore.Type = "weaviate"
	_, err := Build(context.Background(), cfg, nil)
	assert.Error(t, err)
}

type recordingQueue struct {
	mu    sync.Mutex
	busy  int
	tasks []worker.IngestTask
}

func (q *recordingQueue) Enqueue(_ context.Context, task worker.IngestTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.busy > 0 {
		q.busy--
		return worker.ErrDispatcherBusy
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func TestRecoverSettlesLeftoverDocuments(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	a, err := Build(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	stored := filepath.Join(cfg.BasicConfig.FileBaseDir, "1700000000_notes.txt")
	require.NoError(t, os.WriteFile(stored, []byte("cells divide"), 0o600))

	create := func(name, path string) *models.Document {
		doc, err := a.Documents.Create(ctx, documents.NewDocument{
			Filename: name, OriginalName: name, FileType: "txt", FileSize: 12, StoredPath: path,
		})
		require.NoError(t, err)
		return doc
	}
	stuck := create("stuck.txt", stored)
	require.NoError(t, a.Documents.MarkProcessing(ctx, stuck.ID))
	waiting := create("notes.txt", stored)
	gone := create("gone.txt", filepath.Join(cfg.BasicConfig.FileBaseDir, "missing.txt"))

	queue := &recordingQueue{busy: 1}
	rep, err := a.Recover(ctx, queue)
	require.NoError(t, err)
	assert.Equal(t, []int64{stuck.ID}, rep.Interrupted)
	assert.Equal(t, []int64{waiting.ID}, rep.Requeued)
	assert.Equal(t, []int64{gone.ID}, rep.Abandoned)

	require.Len(t, queue.tasks, 1)
	assert.Equal(t, worker.IngestTask{DocumentID: waiting.ID, Filename: "notes.txt", Format: "txt", Path: stored}, queue.tasks[0])

	got, err := a.Documents.Get(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.Metadata.Error, "interrupted")

	entry, ok, err := a.Tracker.Get(ctx, stuck.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, progress.StageFailed, entry.Stage)

	got, err = a.Documents.Get(ctx, gone.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)

	_, err = a.Documents.ResetForRetry(ctx, stuck.ID)
	assert.NoError(t, err)
}
