package api

import (
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/open-workshop/storage/pkg/archive"
	"github.com/open-workshop/storage/pkg/fsguard"
	"github.com/open-workshop/storage/pkg/metrics"
	"github.com/open-workshop/storage/pkg/types"
)

// plainText answers the legacy file endpoints, which predate the JSON
// transfer surface and keep their original text bodies.
func plainText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// downloadName validates the requested download filename. Only word
// characters and dashes are accepted, the extension always comes from the
// stored file; anything else falls back to the browser default.
func downloadName(requested, realPath string) string {
	if requested == "" {
		return ""
	}
	for _, ch := range requested {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '_', ch == '-':
		default:
			return ""
		}
	}
	return requested + filepath.Ext(realPath)
}

// handleFileDownload serves a stored file. Mod archives additionally go
// through a manager access check keyed by the userID cookie.
func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	typ := r.PathValue("type")
	rel := r.PathValue("path")
	if !types.IsAllowedType(typ) {
		plainText(w, http.StatusBadRequest, "Invalid type")
		return
	}

	baseDir := filepath.Join(s.reg.Root(), typ)
	realPath, err := fsguard.SafeJoin(baseDir, filepath.FromSlash(rel))
	if err != nil {
		plainText(w, http.StatusForbidden, "Access denied")
		return
	}
	info, err := os.Stat(realPath)
	if err != nil || info.IsDir() {
		plainText(w, http.StatusNotFound, "File not found")
		return
	}

	if typ == "archive" && strings.HasPrefix(rel, "mod/") {
		parts := strings.SplitN(rel, "/", 3)
		if len(parts) < 2 {
			plainText(w, http.StatusNotFound, "File not found")
			return
		}
		modID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			plainText(w, http.StatusNotFound, "File not found")
			return
		}

		var userID int64
		if cookie, err := r.Cookie("userID"); err == nil {
			userID, _ = strconv.ParseInt(cookie.Value, 10, 64)
		}
		allowed, err := s.manager.CheckModAccess(r.Context(), userID, modID)
		if err != nil {
			plainText(w, http.StatusServiceUnavailable, "Manager unavailable")
			return
		}
		if !allowed {
			plainText(w, http.StatusForbidden, "Access denied")
			return
		}
	}

	if name := downloadName(r.URL.Query().Get("filename"), realPath); name != "" {
		w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(name))
	}
	metrics.TransferBytesTotal.WithLabelValues("out").Add(float64(info.Size()))
	http.ServeFile(w, r, realPath)
}

// handleFileUpload stores a multipart-uploaded file under the per-type
// root. Archive-typed payloads that are not already zips get wrapped into a
// single-member zip so everything under archive/ stays uniform.
func (s *Server) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		plainText(w, http.StatusBadRequest, "Invalid form")
		return
	}
	if !s.static.Check("upload_file", r.FormValue("token")) {
		plainText(w, http.StatusForbidden, "Access denied")
		return
	}
	typ := r.FormValue("type")
	if !types.IsAllowedType(typ) {
		plainText(w, http.StatusBadRequest, "Invalid type")
		return
	}
	rel := r.FormValue("path")
	baseDir := filepath.Join(s.reg.Root(), typ)
	realPath, err := fsguard.SafeJoin(baseDir, filepath.FromSlash(rel))
	if err != nil || realPath == baseDir {
		plainText(w, http.StatusForbidden, "Access denied")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		plainText(w, http.StatusBadRequest, "Invalid form")
		return
	}
	defer file.Close()

	if err := os.MkdirAll(filepath.Dir(realPath), 0o755); err != nil {
		plainText(w, http.StatusInternalServerError, "Storage error")
		return
	}

	if typ == "archive" && !strings.HasSuffix(rel, ".zip") {
		tmpPath := realPath + ".tmp"
		if err := saveStream(tmpPath, file); err != nil {
			plainText(w, http.StatusInternalServerError, "Storage error")
			return
		}
		zipPath := strings.TrimSuffix(realPath, filepath.Ext(realPath)) + ".zip"

		// The member keeps the caller's name; when the path carries no
		// extension the uploaded file's own extension is appended.
		arcname := rel
		if !strings.Contains(arcname, ".") {
			if ext := filepath.Ext(header.Filename); ext != "" {
				arcname += ext
			}
		}
		arcname = path.Base(filepath.ToSlash(arcname))

		if _, err := archive.ZipFile(tmpPath, zipPath, arcname, types.DefaultPackLevel); err != nil {
			os.Remove(tmpPath)
			plainText(w, http.StatusInternalServerError, "Storage error")
			return
		}
		os.Remove(tmpPath)

		stored, err := filepath.Rel(baseDir, zipPath)
		if err != nil {
			plainText(w, http.StatusInternalServerError, "Storage error")
			return
		}
		s.logger.Info().Str("type", typ).Str("path", filepath.ToSlash(stored)).Msg("file uploaded")
		plainText(w, http.StatusCreated, filepath.ToSlash(stored))
		return
	}

	if err := saveStream(realPath, file); err != nil {
		plainText(w, http.StatusInternalServerError, "Storage error")
		return
	}
	s.logger.Info().Str("type", typ).Str("path", rel).Msg("file uploaded")
	plainText(w, http.StatusCreated, rel)
}

// handleFileDelete removes a stored file and prunes any directories the
// removal left empty, stopping at the per-type root.
func (s *Server) handleFileDelete(w http.ResponseWriter, r *http.Request) {
	form, err := deleteForm(r)
	if err != nil {
		plainText(w, http.StatusBadRequest, "Invalid form")
		return
	}
	if !s.static.Check("delete_file", form.Get("token")) {
		plainText(w, http.StatusForbidden, "Access denied")
		return
	}
	typ := form.Get("type")
	if !types.IsAllowedType(typ) {
		plainText(w, http.StatusBadRequest, "Invalid type")
		return
	}
	baseDir := filepath.Join(s.reg.Root(), typ)
	realPath, err := fsguard.SafeJoin(baseDir, filepath.FromSlash(form.Get("path")))
	if err != nil {
		plainText(w, http.StatusForbidden, "Access denied")
		return
	}

	info, err := os.Stat(realPath)
	if err != nil || info.IsDir() {
		plainText(w, http.StatusNotFound, "File not found")
		return
	}
	if err := os.Remove(realPath); err != nil {
		plainText(w, http.StatusInternalServerError, "Storage error")
		return
	}
	pruneEmptyParents(filepath.Dir(realPath), baseDir)

	s.logger.Info().Str("type", typ).Str("path", form.Get("path")).Msg("file deleted")
	plainText(w, http.StatusOK, "File deleted")
}

// deleteForm parses the urlencoded body of a DELETE request; net/http only
// does that automatically for POST, PUT and PATCH.
func deleteForm(r *http.Request) (url.Values, error) {
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || ct != "application/x-www-form-urlencoded" {
		return url.Values{}, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	return url.ParseQuery(string(body))
}

// pruneEmptyParents removes dir and its ancestors while they are empty,
// never touching root itself.
func pruneEmptyParents(dir, root string) {
	root = filepath.Clean(root)
	for dir != root && strings.HasPrefix(dir, root+string(filepath.Separator)) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func saveStream(dest string, src io.Reader) error {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	return out.Close()
}
