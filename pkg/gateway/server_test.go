package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/officestack/docpatch/pkg/bus"
	"github.com/officestack/docpatch/pkg/config"
	"github.com/officestack/docpatch/pkg/engine"
)

type stubProcessor struct {
	mu       sync.Mutex
	docReqs  []engine.Request
	pathReqs []engine.PathRequest

	docRes  *engine.ProcessingResult
	docErr  error
	pathRes *engine.PathResult
	pathErr error

	lastFiles map[string]string
}

func (p *stubProcessor) ProcessDocument(ctx context.Context, req engine.Request) (*engine.ProcessingResult, error) {
	p.mu.Lock()
	p.docReqs = append(p.docReqs, req)
	p.mu.Unlock()
	return p.docRes, p.docErr
}

func (p *stubProcessor) ProcessPath(ctx context.Context, req engine.PathRequest) (*engine.PathResult, error) {
	p.mu.Lock()
	p.pathReqs = append(p.pathReqs, req)
	p.mu.Unlock()
	return p.pathRes, p.pathErr
}

func (p *stubProcessor) LastFile(userID string) (string, bool) {
	path, ok := p.lastFiles[userID]
	return path, ok
}

func (p *stubProcessor) documentCalls() []engine.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]engine.Request, len(p.docReqs))
	copy(out, p.docReqs)
	return out
}

func newTestServer(t *testing.T, proc *stubProcessor) (*Server, *httptest.Server) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Workspace = t.TempDir()

	s := New(cfg, proc, bus.NewProgressBus(), nil, "test")
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.pool.Close()
	})
	return s, ts
}

func writeTestDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func postJSON(t *testing.T, url string, payload map[string]string, headers map[string]string) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestProcess_ExplicitPath(t *testing.T) {
	proc := &stubProcessor{
		docRes: &engine.ProcessingResult{Success: true, Message: "File processed successfully"},
	}
	_, ts := newTestServer(t, proc)

	doc := writeTestDoc(t, t.TempDir(), "report.docx", "doc")
	resp := postJSON(t, ts.URL+"/api/process",
		map[string]string{"path": doc, "query": "add a totals row"},
		map[string]string{"X-User-ID": "maria"})

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var res engine.ProcessingResult
	decodeBody(t, resp, &res)
	if !res.Success || res.Message != "File processed successfully" {
		t.Fatalf("unexpected result: %+v", res)
	}

	calls := proc.documentCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 engine call, got %d", len(calls))
	}
	if calls[0].DocumentPath != doc || calls[0].UserID != "maria" || calls[0].Task != "add a totals row" {
		t.Fatalf("unexpected engine request: %+v", calls[0])
	}
	if calls[0].RequestID == "" {
		t.Fatal("expected a generated request ID")
	}
}

func TestProcess_RequiresQuery(t *testing.T) {
	proc := &stubProcessor{}
	_, ts := newTestServer(t, proc)

	resp := postJSON(t, ts.URL+"/api/process", map[string]string{"path": "/tmp/x.docx"}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if len(proc.documentCalls()) != 0 {
		t.Fatal("engine should not run without a query")
	}
}

func TestProcess_MissingExplicitPathIs404(t *testing.T) {
	proc := &stubProcessor{}
	_, ts := newTestServer(t, proc)

	resp := postJSON(t, ts.URL+"/api/process",
		map[string]string{"path": "/nope/gone.docx", "query": "anything"}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if len(proc.documentCalls()) != 0 {
		t.Fatal("engine should not run for a missing document")
	}
}

func TestProcess_UploadStoredAndLinked(t *testing.T) {
	proc := &stubProcessor{
		docRes: &engine.ProcessingResult{Success: true, Message: "File processed successfully"},
	}
	s, ts := newTestServer(t, proc)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("query", "bold the header"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	fw, err := mw.CreateFormFile("file", "budget.xlsx")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte("sheet-bytes")); err != nil {
		t.Fatalf("write file part: %v", err)
	}
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/process", &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-ID", "maria")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var res engine.ProcessingResult
	decodeBody(t, resp, &res)
	if res.DownloadLink != "/api/files/budget.xlsx" {
		t.Fatalf("unexpected download link: %q", res.DownloadLink)
	}

	stored := filepath.Join(s.cfg.UploadsPath(), "budget.xlsx")
	data, err := os.ReadFile(stored)
	if err != nil {
		t.Fatalf("upload not stored: %v", err)
	}
	if string(data) != "sheet-bytes" {
		t.Fatalf("stored upload corrupted: %q", data)
	}

	calls := proc.documentCalls()
	if len(calls) != 1 || calls[0].DocumentPath != stored {
		t.Fatalf("engine should process the stored upload, got %+v", calls)
	}
}

func TestProcess_FallsBackToLastFile(t *testing.T) {
	doc := writeTestDoc(t, t.TempDir(), "minutes.docx", "doc")
	proc := &stubProcessor{
		docRes:    &engine.ProcessingResult{Success: true, Message: "File processed successfully"},
		lastFiles: map[string]string{"maria": doc},
	}
	_, ts := newTestServer(t, proc)

	resp := postJSON(t, ts.URL+"/api/process",
		map[string]string{"query": "fix the date"},
		map[string]string{"X-User-ID": "maria"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	calls := proc.documentCalls()
	if len(calls) != 1 || calls[0].DocumentPath != doc {
		t.Fatalf("expected last file to be processed, got %+v", calls)
	}
}

func TestProcess_NothingToProcessIs404(t *testing.T) {
	proc := &stubProcessor{}
	_, ts := newTestServer(t, proc)

	resp := postJSON(t, ts.URL+"/api/process",
		map[string]string{"query": "anything"},
		map[string]string{"X-User-ID": "nobody"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestProcess_EngineFailureReturnsResultWith500(t *testing.T) {
	proc := &stubProcessor{
		docRes: &engine.ProcessingResult{
			Success:      false,
			Message:      "Execution failed - code saved for debugging",
			ErrorRetries: 3,
		},
		docErr: errors.New("execution failed after 3 error correction attempt(s): boom"),
	}
	_, ts := newTestServer(t, proc)

	doc := writeTestDoc(t, t.TempDir(), "report.docx", "doc")
	resp := postJSON(t, ts.URL+"/api/process",
		map[string]string{"path": doc, "query": "explode"}, nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	var res engine.ProcessingResult
	decodeBody(t, resp, &res)
	if res.Success || res.ErrorRetries != 3 {
		t.Fatalf("expected failure result body, got %+v", res)
	}
}

func TestProcess_DownloadStreamsDocument(t *testing.T) {
	proc := &stubProcessor{
		docRes: &engine.ProcessingResult{Success: true, Message: "File processed successfully"},
	}
	_, ts := newTestServer(t, proc)

	doc := writeTestDoc(t, t.TempDir(), "report.docx", "mutated-bytes")
	resp := postJSON(t, ts.URL+"/api/process?download=1",
		map[string]string{"path": doc, "query": "anything"}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "report.docx") {
		t.Fatalf("unexpected content disposition: %q", cd)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "mutated-bytes" {
		t.Fatalf("expected document bytes, got %q", body)
	}
}

func TestProcessPath_StreamsCopyWithHeaders(t *testing.T) {
	dir := t.TempDir()
	source := writeTestDoc(t, dir, "report.docx", "original")
	copyPath := writeTestDoc(t, dir, "modified_abc_report.docx", "modified-bytes")

	proc := &stubProcessor{
		pathRes: &engine.PathResult{
			Success:      true,
			Validated:    true,
			Message:      "Task completed and validated",
			Summary:      "Added the totals row",
			ModifiedPath: copyPath,
			Attempts:     1,
		},
	}
	_, ts := newTestServer(t, proc)

	resp := postJSON(t, ts.URL+"/api/process-path",
		map[string]string{"path": source, "query": "add totals"},
		map[string]string{"X-User-ID": "maria"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Task-Status"); got != "200 OK" {
		t.Fatalf("unexpected task status: %q", got)
	}
	if got := resp.Header.Get("X-Task-Summary"); got != "Added the totals row" {
		t.Fatalf("unexpected task summary: %q", got)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "updated_report.docx") {
		t.Fatalf("unexpected content disposition: %q", cd)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "modified-bytes" {
		t.Fatalf("expected modified copy bytes, got %q", body)
	}
}

func TestProcessPath_ExhaustedStillStreamsCopy(t *testing.T) {
	dir := t.TempDir()
	source := writeTestDoc(t, dir, "report.docx", "original")
	copyPath := writeTestDoc(t, dir, "modified_abc_report.docx", "partial")

	proc := &stubProcessor{
		pathRes: &engine.PathResult{
			Success:      false,
			Message:      "Sorry, the task could not be fully completed. Here is your file (may be unchanged or partially changed).",
			Summary:      "No summary found in model output.",
			ModifiedPath: copyPath,
			Attempts:     5,
		},
	}
	_, ts := newTestServer(t, proc)

	resp := postJSON(t, ts.URL+"/api/process-path",
		map[string]string{"path": source, "query": "impossible"}, nil)
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Task-Status"); got != "500 ERROR" {
		t.Fatalf("unexpected task status: %q", got)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "partial" {
		t.Fatalf("expected the copy to be streamed anyway, got %q", body)
	}
}

func TestProcessPath_MissingFileIs404(t *testing.T) {
	proc := &stubProcessor{}
	_, ts := newTestServer(t, proc)

	resp := postJSON(t, ts.URL+"/api/process-path",
		map[string]string{"path": "/nope/gone.docx", "query": "anything"}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestFiles_ListDownloadDelete(t *testing.T) {
	proc := &stubProcessor{}
	s, ts := newTestServer(t, proc)

	uploads := s.cfg.UploadsPath()
	if err := os.MkdirAll(uploads, 0o755); err != nil {
		t.Fatalf("mkdir uploads: %v", err)
	}
	writeTestDoc(t, uploads, "report.docx", "doc-bytes")

	resp, err := http.Get(ts.URL + "/api/files")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var listing struct {
		Files []fileInfo `json:"files"`
	}
	decodeBody(t, resp, &listing)
	if len(listing.Files) != 1 || listing.Files[0].Name != "report.docx" {
		t.Fatalf("unexpected listing: %+v", listing.Files)
	}

	resp, err = http.Get(ts.URL + "/api/files/report.docx")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "doc-bytes" {
		t.Fatalf("unexpected download body: %q", body)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/files/report.docx", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 delete, got %d", resp.StatusCode)
	}
	if _, err := os.Stat(filepath.Join(uploads, "report.docx")); !os.IsNotExist(err) {
		t.Fatal("file should be deleted")
	}

	resp, _ = http.Get(ts.URL + "/api/files/report.docx")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestSafeName(t *testing.T) {
	bad := []string{"", ".", "..", "../x", "a/b", `a\b`, ".hidden", "x/../y"}
	for _, name := range bad {
		if _, ok := safeName(name); ok {
			t.Errorf("safeName(%q) should be rejected", name)
		}
	}
	if got, ok := safeName("report.docx"); !ok || got != "report.docx" {
		t.Errorf("safeName rejected a plain name")
	}
}

func TestHealth(t *testing.T) {
	proc := &stubProcessor{}
	_, ts := newTestServer(t, proc)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	var body map[string]interface{}
	decodeBody(t, resp, &body)
	if body["status"] != "ok" || body["version"] != "test" || body["provider"] != "gemini" {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestWS_StreamsRequestEvents(t *testing.T) {
	proc := &stubProcessor{}
	s, ts := newTestServer(t, proc)

	pumpCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.runEventPump(pumpCtx)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws?request_id=r1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	// Give the handler time to register its watcher before publishing.
	time.Sleep(50 * time.Millisecond)

	s.bus.Publish(bus.ProgressEvent{RequestID: "r2", Stage: bus.StageGeneration})
	s.bus.Publish(bus.ProgressEvent{RequestID: "r1", Stage: bus.StageExecution, Attempt: 1})
	s.bus.Publish(bus.ProgressEvent{RequestID: "r1", Stage: bus.StageDone})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first bus.ProgressEvent
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first event: %v", err)
	}
	if first.RequestID != "r1" || first.Stage != bus.StageExecution {
		t.Fatalf("unexpected first event: %+v", first)
	}

	var second bus.ProgressEvent
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read second event: %v", err)
	}
	if second.Stage != bus.StageDone {
		t.Fatalf("unexpected second event: %+v", second)
	}

	// The stream is request-scoped, so the server closes it after the
	// terminal event.
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected stream to close after terminal event")
	}
}
