package viewer

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kapiw0n/terraform-log-viewer/tflog"
)

type testClient struct {
	t       *testing.T
	handler http.Handler
	session string
}

func newTestClient(t *testing.T, env *testEnv, maxUpload int64) *testClient {
	srv := NewServer(env.svc, ServerOptions{MaxUploadBytes: maxUpload})
	return &testClient{t: t, handler: srv.Handler()}
}

func (c *testClient) do(req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	c.t.Helper()
	if c.session != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: c.session})
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == sessionCookie {
			c.session = ck.Value
		}
	}
	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec, body
}

func (c *testClient) upload(name, content string) (*httptest.ResponseRecorder, map[string]any) {
	c.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(uploadField, name)
	require.NoError(c.t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(c.t, err)
	require.NoError(c.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req)
}

func (c *testClient) post(path string, form url.Values) (*httptest.ResponseRecorder, map[string]any) {
	c.t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func TestServer_UploadAndQuery(t *testing.T) {
	env := newTestEnv(t, tflog.Options{})
	c := newTestClient(t, env, 1<<20)

	rec, body := c.upload("terraform.log", terraformLog)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "File processed. Entries: 5", body["message"])
	assert.EqualValues(t, 5, body["count"])
	assert.Equal(t, false, body["duplicate"])
	assert.NotEmpty(t, c.session)
	assert.Equal(t, c.session, body["session_id"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	fileID := body["file_id"].(string)

	rec, body = c.post("/logs/", url.Values{
		"action": {"get_logs"}, "file_id": {fileID}, "level": {"error"}, "page_size": {"1"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, body["total_count"])
	assert.EqualValues(t, 2, body["total_pages"])
	assert.Equal(t, "terraform.log", body["current_file"])
	logs := body["logs"].([]any)
	require.Len(t, logs, 1)
	assert.Equal(t, "log_2", logs[0].(map[string]any)["id"])

	rec, body = c.post("/logs/json-bodies/", url.Values{
		"action": {"get_json_bodies"}, "file_id": {fileID}, "log_id": {"log_4"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	bodies := body["json_bodies"].([]any)
	require.Len(t, bodies, 1)
	first := bodies[0].(map[string]any)
	assert.Equal(t, "tf_http_req_body", first["field_name"])
	assert.Equal(t, map[string]any{"a": 1.5, "b": []any{true, nil}}, first["json_data"])

	rec, body = c.post("/logs/", url.Values{"action": {"get_statistics"}, "file_id": {fileID}})
	require.Equal(t, http.StatusOK, rec.Code)
	stats := body["statistics"].(map[string]any)
	assert.EqualValues(t, 5, stats["total_entries"])
	assert.EqualValues(t, 2, stats["errors_count"])

	rec, body = c.post("/logs/", url.Values{"action": {"get_session"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, c.session, body["session_id"])

	rec, body = c.upload("again.log", terraformLog)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["duplicate"])
	assert.Equal(t, fileID, body["file_id"])

	rec, body = c.post("/logs/", url.Values{"action": {"clear_data"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Data cleared", body["message"])
	assert.EqualValues(t, 1, body["files"])
}

func TestServer_EmptyResponses(t *testing.T) {
	env := newTestEnv(t, tflog.Options{})
	c := newTestClient(t, env, 0)

	_, body := c.post("/logs/", url.Values{"action": {"get_logs"}})
	assert.Equal(t, map[string]any{"logs": []any{}, "total_count": 0.0, "current_file": nil}, body)

	_, body = c.post("/logs/", url.Values{"action": {"get_logs"}, "file_id": {"gone"}})
	assert.Equal(t, map[string]any{"logs": []any{}, "total_count": 0.0, "current_file": nil}, body)

	_, body = c.post("/logs/json-bodies/", url.Values{"action": {"get_json_bodies"}, "file_id": {"gone"}, "log_id": {"log_1"}})
	assert.Equal(t, map[string]any{"json_bodies": []any{}}, body)

	_, body = c.post("/logs/", url.Values{"action": {"get_statistics"}, "file_id": {"gone"}})
	assert.Equal(t, map[string]any{"statistics": map[string]any{}}, body)
}

func TestServer_Errors(t *testing.T) {
	env := newTestEnv(t, tflog.Options{})
	owner := newTestClient(t, env, 1<<10)
	_, body := owner.upload("terraform.log", terraformLog)
	fileID := body["file_id"].(string)

	intruder := newTestClient(t, env, 1<<10)
	intruder.session = "someone-else"
	rec, body := intruder.post("/logs/", url.Values{"action": {"get_logs"}, "file_id": {fileID}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "error", body["status"])
	rec, _ = intruder.post("/logs/", url.Values{"action": {"clear_data"}, "file_id": {fileID}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	cases := []url.Values{
		{"action": {"explode"}},
		{"action": {"get_logs"}, "file_id": {fileID}, "page": {"zero"}},
		{"action": {"get_logs"}, "file_id": {fileID}, "page_size": {"-5"}},
		{"action": {"get_logs"}, "file_id": {fileID}, "body_filter": {"has_headers"}},
		{"action": {"get_logs"}, "file_id": {fileID}, "time_to": {"later"}},
	}
	for _, form := range cases {
		rec, body := owner.post("/logs/", form)
		assert.Equal(t, http.StatusBadRequest, rec.Code, form.Encode())
		assert.Equal(t, "error", body["status"], form.Encode())
	}

	// passes the request limit, trips the storage limit
	roomy := newTestClient(t, env, 8<<20)
	rec, body = roomy.upload("big.log", strings.Repeat("x", 2<<20))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "error", body["status"])
}

func TestServer_Healthz(t *testing.T) {
	env := newTestEnv(t, tflog.Options{})
	srv := NewServer(env.svc, ServerOptions{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
