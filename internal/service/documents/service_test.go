package documents

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edurag/internal/models"
	"edurag/internal/storage"

	_ "modernc.org/sqlite"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.Migrate(db, "sqlite"))
	return NewService(db, "sqlite", nil)
}

func createDoc(t *testing.T, svc *Service, name string) *models.Document {
	t.Helper()
	doc, err := svc.Create(context.Background(), NewDocument{
		Filename:     "1700000000_" + name,
		OriginalName: name,
		FileType:     "TXT",
		FileSize:     42,
		StoredPath:   "/tmp/" + name,
	})
	require.NoError(t, err)
	return doc
}

func TestCreateAndGet(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	doc := createDoc(t, svc, "notes.txt")
	assert.Positive(t, doc.ID)
	assert.Equal(t, models.StatusPending, doc.Status)
	assert.Equal(t, "txt", doc.FileType)

	got, err := svc.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", got.OriginalName)
	assert.Equal(t, "/tmp/notes.txt", got.StoredPath)
	assert.Equal(t, 1, got.Attempts)
	assert.Empty(t, got.VectorIDs)
	assert.WithinDuration(t, doc.UploadedAt, got.UploadedAt, time.Second)

	_, err = svc.Get(ctx, doc.ID+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRequiresName(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Create(context.Background(), NewDocument{})
	assert.Error(t, err)
}

func TestListNewestFirst(t *testing.T) {
	svc := newTestService(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"a.txt", "b.txt", "c.txt"} {
		at := base.Add(time.Duration(i) * time.Minute)
		svc.now = func() time.Time { return at }
		createDoc(t, svc, name)
	}

	docs, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "c.txt", docs[0].OriginalName)
	assert.Equal(t, "a.txt", docs[2].OriginalName)
}

func TestStatusTransitions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	doc := createDoc(t, svc, "lecture.txt")

	require.NoError(t, svc.MarkProcessing(ctx, doc.ID))
	err := svc.MarkProcessing(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	meta := models.DocumentMetadata{TextLength: 2400, ProcessedAt: "2024-05-01T12:00:00Z", ProcessingTime: 1.5}
	require.NoError(t, svc.MarkCompleted(ctx, doc.ID, 3, []string{"1_0", "1_1", "1_2"}, meta))

	got, err := svc.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 3, got.ChunkCount)
	assert.Equal(t, []string{"1_0", "1_1", "1_2"}, got.VectorIDs)
	assert.Equal(t, meta, got.Metadata)

	assert.ErrorIs(t, svc.MarkFailed(ctx, doc.ID, models.DocumentMetadata{Error: "late"}), ErrInvalidTransition)
	_, err = svc.ResetForRetry(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.ErrorIs(t, svc.MarkProcessing(ctx, 999), ErrNotFound)
}

func TestFailAndRetry(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	doc := createDoc(t, svc, "broken.pdf")

	require.NoError(t, svc.MarkProcessing(ctx, doc.ID))
	require.NoError(t, svc.MarkFailed(ctx, doc.ID, models.DocumentMetadata{Error: "no content", FailedAt: "now"}))

	failed, err := svc.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Equal(t, "no content", failed.Metadata.Error)
	assert.Empty(t, failed.VectorIDs)
	assert.Zero(t, failed.ChunkCount)

	retried, err := svc.ResetForRetry(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, retried.Status)
	assert.Equal(t, 2, retried.Attempts)
	assert.Empty(t, retried.Metadata.Error)

	require.NoError(t, svc.MarkProcessing(ctx, doc.ID))
}

func TestFailInterrupted(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	stuck := createDoc(t, svc, "stuck.txt")
	waiting := createDoc(t, svc, "waiting.txt")
	done := createDoc(t, svc, "done.txt")
	require.NoError(t, svc.MarkProcessing(ctx, stuck.ID))
	require.NoError(t, svc.MarkProcessing(ctx, done.ID))
	require.NoError(t, svc.MarkCompleted(ctx, done.ID, 1, []string{"v1"}, models.DocumentMetadata{}))

	pending, err := svc.ListByStatus(ctx, models.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, waiting.ID, pending[0].ID)

	failed, err := svc.FailInterrupted(ctx, "interrupted")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, stuck.ID, failed[0].ID)

	got, err := svc.Get(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "interrupted", got.Metadata.Error)
	assert.NotEmpty(t, got.Metadata.FailedAt)

	got, err = svc.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)

	again, err := svc.FailInterrupted(ctx, "interrupted")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestCompletedIDs(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	a := createDoc(t, svc, "a.txt")
	b := createDoc(t, svc, "b.txt")
	c := createDoc(t, svc, "c.txt")

	for _, d := range []*models.Document{a, c} {
		require.NoError(t, svc.MarkProcessing(ctx, d.ID))
		require.NoError(t, svc.MarkCompleted(ctx, d.ID, 1, []string{"x"}, models.DocumentMetadata{}))
	}
	require.NoError(t, svc.MarkProcessing(ctx, b.ID))

	ids, err := svc.CompletedIDs(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID, c.ID}, ids)

	ids, err = svc.CompletedIDs(ctx, []int64{b.ID, c.ID})
	require.NoError(t, err)
	assert.Equal(t, []int64{c.ID}, ids)
}

func TestDelete(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	doc := createDoc(t, svc, "gone.txt")

	deleted, err := svc.Delete(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "gone.txt", deleted.OriginalName)

	_, err = svc.Delete(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueryLogAndStats(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a := createDoc(t, svc, "a.txt")
	createDoc(t, svc, "b.txt")
	require.NoError(t, svc.MarkProcessing(ctx, a.ID))
	require.NoError(t, svc.MarkCompleted(ctx, a.ID, 2, []string{"1_0", "1_1"}, models.DocumentMetadata{}))

	logged, err := svc.LogQuery(ctx, models.QueryLog{Query: "what?", Response: "this", SourcesUsed: []int64{a.ID}, ResponseTime: 1})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSessionID, logged.SessionID)
	_, err = svc.LogQuery(ctx, models.QueryLog{Query: "why?", Response: "because", ResponseTime: 2, SessionID: "s1"})
	require.NoError(t, err)

	recent, err := svc.RecentQueries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "why?", recent[0].Query)
	assert.Equal(t, []int64{a.ID}, recent[1].SourcesUsed)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents.Total)
	assert.Equal(t, 1, stats.Documents.Completed)
	assert.Equal(t, 1, stats.Documents.Pending)
	assert.InDelta(t, 50.0, stats.Documents.SuccessRate, 1e-9)
	assert.Equal(t, 2, stats.Queries.Total)
	assert.InDelta(t, 1.5, stats.Queries.AverageResponseTime, 1e-9)
}

func TestCleanupExpiredFiles(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dir := t.TempDir()

	old := time.Now().UTC().Add(-48 * time.Hour)
	svc.now = func() time.Time { return old }

	mk := func(name string) *models.Document {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
		doc, err := svc.Create(ctx, NewDocument{Filename: name, OriginalName: name, FileType: "txt", FileSize: 4, StoredPath: path})
		require.NoError(t, err)
		return doc
	}
	done := mk("done.txt")
	waiting := mk("waiting.txt")
	require.NoError(t, svc.MarkProcessing(ctx, done.ID))
	require.NoError(t, svc.MarkCompleted(ctx, done.ID, 1, []string{"x"}, models.DocumentMetadata{}))

	svc.now = func() time.Time { return time.Now().UTC() }
	n, err := svc.CleanupExpiredFiles(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.Stat(done.StoredPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(waiting.StoredPath)
	assert.NoError(t, err)

	got, err := svc.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Empty(t, got.StoredPath)
}

func TestEstimateProcessingTime(t *testing.T) {
	const mb = 1024 * 1024
	assert.Equal(t, "< 10 seconds", EstimateProcessingTime(100*1024, "pdf"))
	assert.Equal(t, "~30 seconds", EstimateProcessingTime(mb, "pdf"))
	assert.Equal(t, "~40 seconds", EstimateProcessingTime(2*mb, "unknown"))
	// 175 seconds rounds down to whole minutes
	assert.Equal(t, "~2 minutes", EstimateProcessingTime(5*mb, "xlsx"))
	assert.Equal(t, "~3 minutes", EstimateProcessingTime(6*mb, "pdf"))
}
