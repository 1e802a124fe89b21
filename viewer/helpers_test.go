package viewer

import (
	"io"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/kapiw0n/terraform-log-viewer/tflog"
)

const terraformLog = `{"@level":"info","@message":"Terraform version: 1.5.7","@timestamp":"2023-08-01T10:22:30.100000+00:00"}
{"@level":"error","@message":"Failed to apply resource","tf_req_id":"abc-123"}
plain text line with no JSON, error occurred at 10:22:31
{"@level":"debug","@message":"HTTP Request Sent","@timestamp":"2023-08-01T10:22:32.000Z","tf_req_id":"abc-123","tf_http_req_body":"{\"a\":1.50,\"b\":[true,null]}","tf_rpc":"ApplyResourceChange"}
{"@level":"debug","@message":"HTTP Response Received","@timestamp":"2023-08-01T10:22:33.500Z","tf_req_id":"abc-123","tf_http_res_body":"not json at all"}
`

func init() {
	log.SetOutput(io.Discard)
}

type testEnv struct {
	dir   string
	store *Store
	files *FileStore
	svc   *Service
}

func newTestEnv(t *testing.T, opts tflog.Options) *testEnv {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "db", "tflog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	files, err := NewFileStore(filepath.Join(dir, "uploads"), 1<<20)
	require.NoError(t, err)

	svc, err := NewService(store, files, tflog.NewParser(opts), ServiceOptions{CacheEntries: 4})
	require.NoError(t, err)
	return &testEnv{dir: dir, store: store, files: files, svc: svc}
}
