package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/officestack/docpatch/pkg/bus"
	"github.com/officestack/docpatch/pkg/docread"
	"github.com/officestack/docpatch/pkg/engine"
	"github.com/officestack/docpatch/pkg/logger"
)

// processPayload covers both body shapes: JSON and multipart form
// fields. RequestID is optional; a client that wants to watch the
// websocket stream supplies its own ID up front.
type processPayload struct {
	Path      string `json:"path"`
	Query     string `json:"query"`
	UserID    string `json:"user_id"`
	ChatName  string `json:"chat_name"`
	RequestID string `json:"request_id"`
}

type processOutcome struct {
	res *engine.ProcessingResult
	err error
}

type pathOutcome struct {
	res *engine.PathResult
	err error
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	payload, uploadPath, err := s.parseProcessRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(payload.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	userID := requestUser(r, payload)
	docPath, status, err := s.resolveDocument(payload, uploadPath, userID)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	requestID := payload.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	resCh := make(chan processOutcome, 1)
	job := func(ctx context.Context) {
		res, err := s.proc.ProcessDocument(ctx, engine.Request{
			RequestID:    requestID,
			UserID:       userID,
			Task:         payload.Query,
			DocumentPath: docPath,
			ChatName:     payload.ChatName,
		})
		if res != nil {
			s.notifyResult(ctx, fmt.Sprintf("%s: %s", filepath.Base(docPath), res.Message))
		} else if err != nil {
			s.notifyResult(ctx, fmt.Sprintf("%s: processing failed: %v", filepath.Base(docPath), err))
		}
		resCh <- processOutcome{res: res, err: err}
	}

	if err := s.pool.Submit(r.Context(), userID, job); err != nil {
		writeError(w, http.StatusServiceUnavailable, "gateway is shutting down")
		return
	}

	select {
	case out := <-resCh:
		s.writeProcessResult(w, r, docPath, out)
	case <-r.Context().Done():
		// Client went away; the job runs to completion regardless.
		logger.WarnCF(component, "Client disconnected before result", map[string]interface{}{
			"request_id": requestID,
		})
	}
}

func (s *Server) writeProcessResult(w http.ResponseWriter, r *http.Request, docPath string, out processOutcome) {
	if out.err != nil {
		status := http.StatusInternalServerError
		if errors.Is(out.err, docread.ErrNotFound) {
			status = http.StatusNotFound
		}
		if out.res == nil {
			writeError(w, status, out.err.Error())
			return
		}
		writeJSON(w, status, out.res)
		return
	}

	if s.withinUploads(docPath) {
		out.res.DownloadLink = "/api/files/" + filepath.Base(docPath)
	}

	if r.URL.Query().Get("download") == "1" {
		streamDocument(w, r, docPath, filepath.Base(docPath))
		return
	}
	writeJSON(w, http.StatusOK, out.res)
}

func (s *Server) handleProcessPath(w http.ResponseWriter, r *http.Request) {
	var payload processPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request body: %v", err))
		return
	}
	if strings.TrimSpace(payload.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if strings.TrimSpace(payload.Path) == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if _, err := os.Stat(payload.Path); err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("file not found: %s", payload.Path))
		return
	}

	userID := requestUser(r, payload)
	requestID := payload.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	resCh := make(chan pathOutcome, 1)
	job := func(ctx context.Context) {
		res, err := s.proc.ProcessPath(ctx, engine.PathRequest{
			RequestID: requestID,
			UserID:    userID,
			ChatName:  payload.ChatName,
			FilePath:  payload.Path,
			Task:      payload.Query,
		})
		if res != nil {
			s.notifyResult(ctx, fmt.Sprintf("%s: %s", filepath.Base(payload.Path), res.Message))
		}
		resCh <- pathOutcome{res: res, err: err}
	}

	if err := s.pool.Submit(r.Context(), userID, job); err != nil {
		writeError(w, http.StatusServiceUnavailable, "gateway is shutting down")
		return
	}

	select {
	case out := <-resCh:
		s.writePathResult(w, r, payload.Path, out)
	case <-r.Context().Done():
		logger.WarnCF(component, "Client disconnected before result", map[string]interface{}{
			"request_id": requestID,
		})
	}
}

// writePathResult streams the modified copy with the task outcome in
// headers. An exhausted run still hands the copy back; only a fatal
// engine error yields a JSON error body instead of a file.
func (s *Server) writePathResult(w http.ResponseWriter, r *http.Request, sourcePath string, out pathOutcome) {
	if out.err != nil {
		status := http.StatusInternalServerError
		if errors.Is(out.err, docread.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, out.err.Error())
		return
	}

	res := out.res
	taskStatus := "200 OK"
	switch {
	case !res.Success:
		taskStatus = "500 ERROR"
	case res.ValidationFailed:
		taskStatus = "200 OK (Validation failed)"
	}
	w.Header().Set("X-Task-Status", taskStatus)
	w.Header().Set("X-Task-Summary", headerSafe(res.Summary))

	streamDocument(w, r, res.ModifiedPath, "updated_"+filepath.Base(sourcePath))
}

type fileInfo struct {
	Name       string `json:"name"`
	SizeBytes  int64  `json:"size_bytes"`
	ModifiedAt string `json:"modified_at"`
}

func (s *Server) handleFilesList(w http.ResponseWriter, r *http.Request) {
	files := []fileInfo{}
	entries, err := os.ReadDir(s.cfg.UploadsPath())
	if err != nil && !os.IsNotExist(err) {
		writeError(w, http.StatusInternalServerError, "cannot list files")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
			Name:       entry.Name(),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime().UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"files": files})
}

func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	name, ok := safeName(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	path := filepath.Join(s.cfg.UploadsPath(), name)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("file not found: %s", name))
		return
	}
	streamDocument(w, r, path, name)
}

func (s *Server) handleFileDelete(w http.ResponseWriter, r *http.Request) {
	name, ok := safeName(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	path := filepath.Join(s.cfg.UploadsPath(), name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("file not found: %s", name))
			return
		}
		writeError(w, http.StatusInternalServerError, "cannot delete file")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"version":  s.version,
		"provider": s.cfg.Providers.Default,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		return
	}
	defer conn.Close()

	requestID := r.URL.Query().Get("request_id")
	events, remove := s.addWatcher(requestID)
	defer remove()

	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-events:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			// A request-scoped stream ends with the request.
			if requestID != "" && (ev.Stage == bus.StageDone || ev.Stage == bus.StageFailed) {
				return
			}
		case <-clientGone:
			return
		case <-s.pumpDone:
			return
		}
	}
}

// parseProcessRequest reads either body shape and stores any uploaded
// file into the uploads dir, returning its saved path.
func (s *Server) parseProcessRequest(r *http.Request) (processPayload, string, error) {
	var payload processPayload

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		maxBytes := int64(s.cfg.Gateway.MaxUploadMB) << 20
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			return payload, "", fmt.Errorf("parse upload: %v", err)
		}
		payload.Query = r.FormValue("query")
		payload.Path = r.FormValue("path")
		payload.UserID = r.FormValue("user_id")
		payload.ChatName = r.FormValue("chat_name")
		payload.RequestID = r.FormValue("request_id")

		file, header, err := r.FormFile("file")
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) {
				return payload, "", nil
			}
			return payload, "", fmt.Errorf("read upload: %v", err)
		}
		defer file.Close()

		saved, err := s.saveUpload(file, header.Filename)
		if err != nil {
			return payload, "", err
		}
		return payload, saved, nil
	}

	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&payload); err != nil {
		return payload, "", fmt.Errorf("decode request body: %v", err)
	}
	return payload, "", nil
}

// resolveDocument picks the document for a process request: explicit
// existing path first, then a fresh upload, then the user's last file.
func (s *Server) resolveDocument(payload processPayload, uploadPath, userID string) (string, int, error) {
	if p := strings.TrimSpace(payload.Path); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", http.StatusNotFound, fmt.Errorf("file not found: %s", p)
		}
		return p, 0, nil
	}
	if uploadPath != "" {
		return uploadPath, 0, nil
	}
	if last, ok := s.proc.LastFile(userID); ok {
		if _, err := os.Stat(last); err == nil {
			logger.InfoCF(component, "Reusing user's last file", map[string]interface{}{
				"user": userID,
				"file": filepath.Base(last),
			})
			return last, 0, nil
		}
	}
	return "", http.StatusNotFound, errors.New("no file uploaded and no previous file on record")
}

func (s *Server) saveUpload(file multipart.File, name string) (string, error) {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." || strings.HasPrefix(base, ".") || strings.ContainsAny(base, `/\`) {
		return "", fmt.Errorf("invalid upload filename %q", name)
	}

	dir := s.cfg.UploadsPath()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create uploads dir: %v", err)
	}

	dst := filepath.Join(dir, base)
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("store upload: %v", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("store upload: %v", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("store upload: %v", err)
	}
	return dst, nil
}

func (s *Server) withinUploads(path string) bool {
	return filepath.Dir(path) == filepath.Clean(s.cfg.UploadsPath())
}

func requestUser(r *http.Request, payload processPayload) string {
	if user := strings.TrimSpace(r.Header.Get("X-User-ID")); user != "" {
		return user
	}
	return strings.TrimSpace(payload.UserID)
}

func streamDocument(w http.ResponseWriter, r *http.Request, path, downloadName string) {
	w.Header().Set("Content-Type", docread.MIMEType(path))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName))
	http.ServeFile(w, r, path)
}

// safeName accepts plain file names only, never paths.
func safeName(name string) (string, bool) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") ||
		strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	return name, true
}

func headerSafe(v string) string {
	v = strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
	if len(v) > 900 {
		v = v[:900]
	}
	return strings.TrimSpace(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WarnCF(component, "Response encode failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
