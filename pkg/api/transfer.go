package api

import (
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/open-workshop/storage/pkg/engine"
)

type startResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	WSURL  string `json:"ws_url"`
}

type uploadResponse struct {
	JobID string `json:"job_id"`
	Bytes int64  `json:"bytes"`
	Total *int64 `json:"total"`
}

type repackResponse struct {
	JobID       string `json:"job_id"`
	PackedBytes int64  `json:"packed_bytes"`
	PackedPath  string `json:"packed_path"`
}

type moveResponse struct {
	JobID      string `json:"job_id"`
	FinalPath  string `json:"final_path"`
	FinalBytes int64  `json:"final_bytes"`
}

// handleTransferStart admits a download-from-URL job. Everything the task
// needs travels inside the signed claims; the endpoint is idempotent per
// job id and answers before the download runs.
func (s *Server) handleTransferStart(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" && r.Method == http.MethodPost {
		raw = r.PostFormValue("token")
	}
	claims, terr := s.decodeTransferToken(raw)
	if terr != nil {
		writeTransferError(w, terr)
		return
	}

	snap, terr := s.engine.StartDownload(claims)
	if terr != nil {
		writeTransferError(w, terr)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{
		JobID:  snap.JobID,
		Status: string(snap.Stage),
		WSURL:  "/transfer/ws/" + snap.JobID,
	})
}

// handleTransferUpload ingests a raw request body as the job payload on
// this goroutine; the response carries the final byte count once the
// payload is packed.
func (s *Server) handleTransferUpload(w http.ResponseWriter, r *http.Request) {
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && strings.HasPrefix(mt, "multipart/") {
		writeTransferError(w, &engine.TransferError{
			Code: http.StatusUnsupportedMediaType,
			Msg:  "multipart uploads are not supported, send the raw file body",
		})
		return
	}

	raw := r.URL.Query().Get("token")
	if raw == "" {
		if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			raw = bearer
		}
	}
	claims, terr := s.decodeTransferToken(raw)
	if terr != nil {
		writeTransferError(w, terr)
		return
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		filename = r.Header.Get("X-File-Name")
	}

	snap, terr := s.engine.RunUpload(claims, filename, r.Body, r.ContentLength)
	if terr != nil {
		writeTransferError(w, terr)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{JobID: snap.JobID, Bytes: snap.Bytes, Total: snap.Total})
}

// handleTransferRepack re-runs normalization for a job on operator request.
func (s *Server) handleTransferRepack(w http.ResponseWriter, r *http.Request) {
	if terr := s.requireManageToken(r.PostFormValue("token")); terr != nil {
		writeTransferError(w, terr)
		return
	}
	jobID := r.PostFormValue("job_id")
	if jobID == "" {
		writeTransferError(w, &engine.TransferError{Code: http.StatusBadRequest, Msg: "job_id required"})
		return
	}

	level := -1
	if v := r.PostFormValue("compression_level"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 9 {
			writeTransferError(w, &engine.TransferError{Code: http.StatusBadRequest, Msg: "compression_level must be 0-9"})
			return
		}
		level = n
	}

	meta, terr := s.engine.Repack(r.Context(), jobID, r.PostFormValue("format"), level)
	if terr != nil {
		writeTransferError(w, terr)
		return
	}
	writeJSON(w, http.StatusOK, repackResponse{
		JobID:       meta.JobID,
		PackedBytes: meta.PackedBytes,
		PackedPath:  meta.PackedPath,
	})
}

// handleTransferMove promotes a packed artifact into permanent storage.
func (s *Server) handleTransferMove(w http.ResponseWriter, r *http.Request) {
	if terr := s.requireManageToken(r.PostFormValue("token")); terr != nil {
		writeTransferError(w, terr)
		return
	}
	jobID := r.PostFormValue("job_id")
	if jobID == "" {
		writeTransferError(w, &engine.TransferError{Code: http.StatusBadRequest, Msg: "job_id required"})
		return
	}

	finalPath, finalBytes, terr := s.engine.Move(jobID, r.PostFormValue("type"), r.PostFormValue("path"))
	if terr != nil {
		writeTransferError(w, terr)
		return
	}
	writeJSON(w, http.StatusOK, moveResponse{JobID: jobID, FinalPath: finalPath, FinalBytes: finalBytes})
}
