package viewer

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/kapiw0n/terraform-log-viewer/tflog"
)

func ingest(t *testing.T, env *testEnv, session, body string) *IngestResult {
	t.Helper()
	res, err := env.svc.Ingest(context.Background(), session, "terraform.log", strings.NewReader(body))
	require.NoError(t, err)
	return res
}

func TestService_Ingest(t *testing.T) {
	env := newTestEnv(t, tflog.Options{})
	res := ingest(t, env, "s1", terraformLog)

	assert.False(t, res.Duplicate)
	assert.Equal(t, 5, res.File.EntryCount)
	assert.Equal(t, "terraform.log", res.File.Filename)
	assert.Equal(t, 2, res.Statistics.ErrorsCount)
	assert.Equal(t, 5, res.Statistics.TotalEntries)
	assert.FileExists(t, res.File.StoredPath)

	files, err := env.svc.Files(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, res.File.ID, files[0].ID)
}

func TestService_IngestDuplicate(t *testing.T) {
	env := newTestEnv(t, tflog.Options{})
	first := ingest(t, env, "s1", terraformLog)
	second := ingest(t, env, "s1", terraformLog)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.File.ID, second.File.ID)
	assert.Equal(t, first.Statistics, second.Statistics)

	entries, err := os.ReadDir(env.files.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "duplicate upload must not stay on disk")

	other := ingest(t, env, "s2", terraformLog)
	assert.False(t, other.Duplicate)
	assert.NotEqual(t, first.File.ID, other.File.ID)
}

func TestService_IngestTooLarge(t *testing.T) {
	env := newTestEnv(t, tflog.Options{})
	_, err := env.svc.Ingest(context.Background(), "s1", "big.log", strings.NewReader(strings.Repeat("x", 2<<20)))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestService_IngestLongLine(t *testing.T) {
	env := newTestEnv(t, tflog.Options{MaxLineBytes: 64})
	ctx := context.Background()
	res, err := env.svc.Ingest(ctx, "s1", "long.log", strings.NewReader(strings.Repeat("y", 200)+"\n"+`{"@message":"next"}`+"\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.File.EntryCount)

	page, err := env.svc.Logs(ctx, "s1", res.File.ID, tflog.Filter{})
	require.NoError(t, err)
	require.Len(t, page.Logs, 2)
	assert.Equal(t, strings.Repeat("y", 64), page.Logs[0].Message)
	assert.Equal(t, "next", page.Logs[1].Message)
}

func TestService_IngestCancelledLeavesNothing(t *testing.T) {
	env := newTestEnv(t, tflog.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := env.svc.Ingest(ctx, "s1", "terraform.log", strings.NewReader(terraformLog))
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(env.files.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
	files, err := env.svc.Files(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestService_Logs(t *testing.T) {
	env := newTestEnv(t, tflog.Options{})
	ctx := context.Background()
	id := ingest(t, env, "s1", terraformLog).File.ID

	page, err := env.svc.Logs(ctx, "s1", id, tflog.Filter{Level: "error", PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, "terraform.log", page.CurrentFile)
	assert.Equal(t, 2, page.TotalCount)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Logs, 1)
	assert.Equal(t, "log_2", page.Logs[0].ID)

	page, err = env.svc.Logs(ctx, "s1", id, tflog.Filter{BodyFilter: tflog.HasRequestBody})
	require.NoError(t, err)
	require.Len(t, page.Logs, 1)
	assert.Equal(t, "log_4", page.Logs[0].ID)
	assert.True(t, page.Logs[0].HasJSONBodies)

	_, err = env.svc.Logs(ctx, "s1", id, tflog.Filter{TimeFrom: "noon"})
	assert.ErrorIs(t, err, tflog.ErrInvalidFilter)

	_, err = env.svc.Logs(ctx, "s2", id, tflog.Filter{})
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = env.svc.Logs(ctx, "s1", "no-such-file", tflog.Filter{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_LogsFromStoreAfterEviction(t *testing.T) {
	env := newTestEnv(t, tflog.Options{})
	ctx := context.Background()
	id := ingest(t, env, "s1", terraformLog).File.ID

	cached, err := env.svc.Logs(ctx, "s1", id, tflog.Filter{})
	require.NoError(t, err)
	env.svc.cache.Purge()
	loaded, err := env.svc.Logs(ctx, "s1", id, tflog.Filter{})
	require.NoError(t, err)
	assert.Equal(t, cached, loaded)
}

func TestService_Bodies(t *testing.T) {
	env := newTestEnv(t, tflog.Options{})
	ctx := context.Background()
	id := ingest(t, env, "s1", terraformLog).File.ID
	want := []tflog.EmbeddedBody{{FieldName: "tf_http_res_body", JSONData: map[string]any{"raw_string": "not json at all"}}}

	bodies, err := env.svc.Bodies(ctx, "s1", id, "log_5")
	require.NoError(t, err)
	assert.Equal(t, want, bodies)

	env.svc.cache.Purge()
	bodies, err = env.svc.Bodies(ctx, "s1", id, "log_5")
	require.NoError(t, err)
	assert.Equal(t, want, bodies)

	bodies, err = env.svc.Bodies(ctx, "s1", id, "raw_3")
	require.NoError(t, err)
	assert.NotNil(t, bodies)
	assert.Empty(t, bodies)

	_, err = env.svc.Bodies(ctx, "s2", id, "log_5")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestService_Statistics(t *testing.T) {
	env := newTestEnv(t, tflog.Options{})
	ctx := context.Background()
	res := ingest(t, env, "s1", terraformLog)

	stats, err := env.svc.Statistics(ctx, "s1", res.File.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Statistics, stats)
	assert.Equal(t, 2, stats.ByLevel[tflog.LevelDebug])
}

func TestService_Clear(t *testing.T) {
	env := newTestEnv(t, tflog.Options{})
	ctx := context.Background()
	a := ingest(t, env, "s1", terraformLog).File
	b := ingest(t, env, "s1", terraformLog+`{"@message":"one more"}`+"\n").File
	c := ingest(t, env, "s2", terraformLog).File

	_, err := env.svc.Clear(ctx, "s2", a.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)

	n, err := env.svc.Clear(ctx, "s1", "unknown")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = env.svc.Clear(ctx, "s1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, a.StoredPath)
	// cleared uploads are not recovered from disk
	_, err = env.svc.Logs(ctx, "s1", a.ID, tflog.Filter{})
	assert.ErrorIs(t, err, ErrNotFound)

	n, err = env.svc.Clear(ctx, "s1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, b.StoredPath)

	files, err := env.svc.Files(ctx, "s2")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, c.ID, files[0].ID)
}

func TestService_Cleanup(t *testing.T) {
	env := newTestEnv(t, tflog.Options{})
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	env.svc.now = func() time.Time { return base }
	old := ingest(t, env, "s1", terraformLog).File
	env.svc.now = func() time.Time { return base.Add(20 * time.Hour) }
	fresh := ingest(t, env, "s2", terraformLog).File

	env.svc.now = func() time.Time { return base.Add(25 * time.Hour) }
	n, err := env.svc.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, old.StoredPath)

	_, err = env.store.File(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.store.File(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestService_RunCleanupStopsOnCancel(t *testing.T) {
	env := newTestEnv(t, tflog.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		env.svc.RunCleanup(ctx, 10*time.Millisecond, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunCleanup did not return after cancel")
	}

	// negative retention keeps everything and returns at once
	env.svc.RunCleanup(context.Background(), time.Millisecond, -1)
}

func TestService_RecoversUploadFromDisk(t *testing.T) {
	env := newTestEnv(t, tflog.Options{})
	ctx := context.Background()
	file := ingest(t, env, "s1", terraformLog).File

	require.NoError(t, env.store.DeleteFile(ctx, file.ID))
	env.svc.cache.Purge()

	page, err := env.svc.Logs(ctx, "s9", file.ID, tflog.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 5, page.TotalCount)
	assert.Equal(t, "terraform.log", page.CurrentFile)

	got, err := env.store.File(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, "s9", got.SessionID)
	assert.Equal(t, file.SHA256, got.SHA256)

	_, err = env.svc.Logs(ctx, "s1", file.ID, tflog.Filter{})
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestService_RecoveryNeedsExactFileID(t *testing.T) {
	env := newTestEnv(t, tflog.Options{})
	ctx := context.Background()
	owned, err := env.svc.Ingest(ctx, "owner", "my_app.log", strings.NewReader(terraformLog))
	require.NoError(t, err)
	id := owned.File.ID

	for _, guess := range []string{id + "_my", id + "_my_app.log", strings.ToUpper(id), "{" + id + "}"} {
		_, err := env.svc.Logs(ctx, "intruder", guess, tflog.Filter{})
		assert.ErrorIs(t, err, ErrNotFound, guess)
		_, err = env.store.File(ctx, guess)
		assert.ErrorIs(t, err, ErrNotFound, "no row adopted for %s", guess)
	}

	page, err := env.svc.Logs(ctx, "owner", id, tflog.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 5, page.TotalCount)
	assert.Equal(t, "my_app.log", page.CurrentFile)
}

func TestService_RecoverKeepsExistingRow(t *testing.T) {
	env := newTestEnv(t, tflog.Options{})
	ctx := context.Background()
	file := ingest(t, env, "s1", terraformLog).File

	got, err := env.svc.recoverFromDisk(ctx, "s9", file.ID)
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)

	_, err = env.svc.Logs(ctx, "s9", file.ID, tflog.Filter{})
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestService_ConcurrentRecovery(t *testing.T) {
	env := newTestEnv(t, tflog.Options{})
	ctx := context.Background()
	file := ingest(t, env, "s1", terraformLog).File
	require.NoError(t, env.store.DeleteFile(ctx, file.ID))
	env.svc.cache.Purge()

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			page, err := env.svc.Logs(ctx, "s9", file.ID, tflog.Filter{})
			if err != nil {
				return err
			}
			if page.TotalCount != 5 {
				return fmt.Errorf("got %d records", page.TotalCount)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var rows int64
	require.NoError(t, env.store.db.Model(&LogFile{}).Where("id = ?", file.ID).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
	var entries int64
	require.NoError(t, env.store.db.Model(&LogEntry{}).Where("file_id = ?", file.ID).Count(&entries).Error)
	assert.Equal(t, int64(5), entries)
}
