package api

import (
	stdzip "archive/zip"
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-workshop/storage/pkg/metrics"
)

func seedStoredFile(t *testing.T, root, rel string, content []byte) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, content, 0o644))
}

func multipartBody(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func assertZipMember(t *testing.T, zipPath, member string, content []byte) {
	t.Helper()
	zr, err := stdzip.OpenReader(zipPath)
	require.NoError(t, err)
	defer zr.Close()
	require.Len(t, zr.File, 1)
	assert.Equal(t, member, zr.File[0].Name)
	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestFileDownload(t *testing.T) {
	ts := newTestServer(t, &stubArchiver{})
	seedStoredFile(t, ts.root, "img/avatars/7.png", []byte("png-payload"))
	seedStoredFile(t, ts.root, "img/nested/dir/x.txt", []byte("x"))

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/download/weird/a.png", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid type", rec.Body.String())

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/download/img/missing.png", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "File not found", rec.Body.String())

	// Directories are not served.
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/download/img/nested/dir", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Encoded dot segments survive the mux path cleaning and must be
	// caught when the path resolves outside the type root.
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/download/img/%2e%2e/secret.txt", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Access denied", rec.Body.String())

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/download/img/avatars/7.png", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png-payload", rec.Body.String())
	assert.Empty(t, rec.Header().Get("Content-Disposition"))

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/download/img/avatars/7.png?filename=avatar_01", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="avatar_01.png"`, rec.Header().Get("Content-Disposition"))

	// Requested names with characters outside the allowed set are ignored.
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/download/img/avatars/7.png?filename=..evil", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Disposition"))
}

func TestFileDownloadModAccess(t *testing.T) {
	ts := newTestServer(t, &stubArchiver{})
	seedStoredFile(t, ts.root, "archive/mod/5/pack.zip", []byte("mod-archive"))
	seedStoredFile(t, ts.root, "archive/free/tool.zip", []byte("tool"))

	get := func(path, cookie string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if cookie != "" {
			req.AddCookie(&http.Cookie{Name: "userID", Value: cookie})
		}
		return ts.do(req)
	}

	ts.accessIDs = []int64{5}
	rec := get("/download/archive/mod/5/pack.zip", "3")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mod-archive", rec.Body.String())

	ts.accessIDs = nil
	rec = get("/download/archive/mod/5/pack.zip", "3")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Access denied", rec.Body.String())

	// Anonymous readers go through the same check as user 0.
	ts.accessIDs = []int64{5}
	rec = get("/download/archive/mod/5/pack.zip", "")
	require.Equal(t, http.StatusOK, rec.Code)

	ts.accessStatus = http.StatusInternalServerError
	rec = get("/download/archive/mod/5/pack.zip", "3")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Manager unavailable", rec.Body.String())

	// Archives outside mod/ never consult the manager; the check above
	// would fail if they did.
	rec = get("/download/archive/free/tool.zip", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tool", rec.Body.String())
}

func TestFileUpload(t *testing.T) {
	ts := newTestServer(t, &stubArchiver{})

	post := func(fields map[string]string, filename string, content []byte) *httptest.ResponseRecorder {
		body, ct := multipartBody(t, fields, filename, content)
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", ct)
		return ts.do(req)
	}

	rec := post(map[string]string{"token": "wrong", "type": "img", "path": "a.png"}, "a.png", []byte("x"))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Access denied", rec.Body.String())

	rec = post(map[string]string{"token": testUploadToken, "type": "weird", "path": "a.png"}, "a.png", []byte("x"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid type", rec.Body.String())

	// An empty path resolves to the type root itself.
	rec = post(map[string]string{"token": testUploadToken, "type": "img", "path": ""}, "a.png", []byte("x"))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Access denied", rec.Body.String())

	// Not a multipart request at all.
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("token=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = ts.do(req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid form", rec.Body.String())

	// Non-archive types store the payload verbatim.
	rec = post(map[string]string{"token": testUploadToken, "type": "img", "path": "avatars/9.png"}, "9.png", []byte("img-bytes"))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "avatars/9.png", rec.Body.String())
	data, err := os.ReadFile(filepath.Join(ts.root, "img", "avatars", "9.png"))
	require.NoError(t, err)
	assert.Equal(t, "img-bytes", string(data))
}

func TestFileUploadArchiveWrap(t *testing.T) {
	ts := newTestServer(t, &stubArchiver{})
	raw := []byte("not-actually-a-zip")

	post := func(fields map[string]string, filename string, content []byte) *httptest.ResponseRecorder {
		body, ct := multipartBody(t, fields, filename, content)
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", ct)
		return ts.do(req)
	}

	// Extensionless target: the member inherits the upload's extension.
	rec := post(map[string]string{"token": testUploadToken, "type": "archive", "path": "mod/7/cool"}, "cool.7z", raw)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "mod/7/cool.zip", rec.Body.String())
	assertZipMember(t, filepath.Join(ts.root, "archive", "mod", "7", "cool.zip"), "cool.7z", raw)

	// Target paths with an extension keep it as the member name.
	rec = post(map[string]string{"token": testUploadToken, "type": "archive", "path": "mod/7/pack.rar"}, "whatever.bin", raw)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "mod/7/pack.zip", rec.Body.String())
	assertZipMember(t, filepath.Join(ts.root, "archive", "mod", "7", "pack.zip"), "pack.rar", raw)

	// Zips pass through untouched.
	rec = post(map[string]string{"token": testUploadToken, "type": "archive", "path": "mod/8/ready.zip"}, "ready.zip", raw)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "mod/8/ready.zip", rec.Body.String())
	data, err := os.ReadFile(filepath.Join(ts.root, "archive", "mod", "8", "ready.zip"))
	require.NoError(t, err)
	assert.Equal(t, raw, data)

	// The spool file used while wrapping never survives.
	entries, err := os.ReadDir(filepath.Join(ts.root, "archive", "mod", "7"))
	require.NoError(t, err)
	for _, ent := range entries {
		assert.False(t, strings.HasSuffix(ent.Name(), ".tmp"), "leftover spool file %s", ent.Name())
	}
}

func TestFileDelete(t *testing.T) {
	ts := newTestServer(t, &stubArchiver{})
	seedStoredFile(t, ts.root, "resource/maps/depth/one.json", []byte("{}"))
	seedStoredFile(t, ts.root, "resource/maps/keep.json", []byte("{}"))

	del := func(form url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodDelete, "/delete", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return ts.do(req)
	}

	rec := del(url.Values{"token": {"wrong"}, "type": {"resource"}, "path": {"maps/depth/one.json"}})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Access denied", rec.Body.String())

	rec = del(url.Values{"token": {testDeleteToken}, "type": {"weird"}, "path": {"x"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid type", rec.Body.String())

	rec = del(url.Values{"token": {testDeleteToken}, "type": {"resource"}, "path": {"missing.json"}})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "File not found", rec.Body.String())

	rec = del(url.Values{"token": {testDeleteToken}, "type": {"resource"}, "path": {"maps/depth/one.json"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "File deleted", rec.Body.String())

	// depth/ became empty and was pruned; maps/ still holds keep.json.
	_, err := os.Stat(filepath.Join(ts.root, "resource", "maps", "depth"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(ts.root, "resource", "maps", "keep.json"))
	assert.NoError(t, err)
}

func TestCORSAndRequestID(t *testing.T) {
	ts := newTestServer(t, &stubArchiver{})

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Content-Type,Content-Disposition", rec.Header().Get("Access-Control-Expose-Headers"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	// Preflights short-circuit before routing; even unregistered paths
	// answer 200.
	rec = ts.do(httptest.NewRequest(http.MethodOptions, "/transfer/upload", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
	assert.Empty(t, rec.Body.String())
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, &stubArchiver{})

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", decodeBody(t, rec)["status"])

	metrics.SetComponent("archiver", true, "")
	metrics.SetComponent("storage_root", true, "")
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decodeBody(t, rec)["status"])

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ow_storage_api_requests_total")
}
