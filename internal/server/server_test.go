package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	_ "modernc.org/sqlite"

	"github.com/videodoc/platform/internal/errors"
	"github.com/videodoc/platform/internal/media"
	"github.com/videodoc/platform/internal/note"
	"github.com/videodoc/platform/internal/task"
	"github.com/videodoc/platform/internal/transcript"
)

type stubMedia struct{}

func (stubMedia) ProbeDuration(_ context.Context, _ string) (time.Duration, error) {
	return 10 * time.Second, nil
}

func (stubMedia) ExtractAudio(_ context.Context, _, outPath string) error {
	return os.WriteFile(outPath, []byte("RIFFdata"), 0o644)
}

func (stubMedia) SampleFrames(_ context.Context, _, outDir string, _ float64) ([]media.Frame, error) {
	path := filepath.Join(outDir, "frame_000000.jpg")
	if err := os.WriteFile(path, []byte{0xff, 0xd8}, 0o644); err != nil {
		return nil, err
	}
	return []media.Frame{{Path: path, TimestampMS: 0}}, nil
}

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(_ context.Context, _ string) ([]transcript.Utterance, error) {
	return []transcript.Utterance{
		{ID: 0, Text: "Hello and welcome.", StartMS: 0, EndMS: 4000},
	}, nil
}

type stubSummarizer struct{}

func (stubSummarizer) Summarize(_ context.Context, text string) (note.Summary, error) {
	return note.Summary{Text: "summary: " + text}, nil
}

type stubEmbedder struct{}

func (stubEmbedder) EmbedImage(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := task.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	ws := task.NewWorkspace(t.TempDir())
	pipeline := task.NewPipeline(stubMedia{}, stubTranscriber{}, stubSummarizer{}, stubEmbedder{}, ws, task.PipelineConfig{
		FrameFPS:            0.5,
		PauseThresholdMS:    2000,
		ParagraphMaxChars:   1200,
		SimilarityThreshold: 0.9,
		PrefilterDistance:   -1,
		EmbedConcurrency:    2,
	})
	engine := task.NewEngine(store, ws, pipeline, 1)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = engine.Shutdown(ctx)
	})

	videoPath := filepath.Join(t.TempDir(), "demo.mp4")
	if err := os.WriteFile(videoPath, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(New(engine).Handler())
	t.Cleanup(srv.Close)
	return srv, videoPath
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeTask(t *testing.T, resp *http.Response) task.Task {
	t.Helper()
	defer resp.Body.Close()
	var out task.Task
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var out errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out.Error.Code
}

func TestSubmitAndGet(t *testing.T) {
	srv, videoPath := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/tasks", map[string]string{"video_path": videoPath})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	created := decodeTask(t, resp)
	if created.ID == "" || created.Status != task.StatusPending {
		t.Errorf("created = %+v", created)
	}

	getResp, err := http.Get(srv.URL + "/api/tasks/" + created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", getResp.StatusCode)
	}
	if got := decodeTask(t, getResp); got.ID != created.ID {
		t.Errorf("get returned wrong task: %+v", got)
	}

	listResp, err := http.Get(srv.URL + "/api/tasks")
	if err != nil {
		t.Fatal(err)
	}
	defer listResp.Body.Close()
	var tasks []task.Task
	if err := json.NewDecoder(listResp.Body).Decode(&tasks); err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Errorf("list returned %d tasks, want 1", len(tasks))
	}
}

func TestSubmitValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/tasks", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty video_path status = %d, want 400", resp.StatusCode)
	}
	if code := decodeError(t, resp); code != string(errors.CodeInvalidInput) {
		t.Errorf("error code = %s", code)
	}

	resp = postJSON(t, srv.URL+"/api/tasks", map[string]string{"video_path": "/missing.mp4"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing file status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGetUnknownTask(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/tasks/ghost")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if code := decodeError(t, resp); code != string(errors.CodeNotFound) {
		t.Errorf("error code = %s", code)
	}
}

func TestStartValidation(t *testing.T) {
	srv, videoPath := newTestServer(t)
	created := decodeTask(t, postJSON(t, srv.URL+"/api/tasks", map[string]string{"video_path": videoPath}))

	resp := postJSON(t, srv.URL+"/api/tasks/"+created.ID+"/start", map[string]string{"from_stage": "reticulate"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown stage status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/tasks/"+created.ID+"/start", map[string]string{"from_stage": "merge"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("resume without artifacts status = %d, want 409", resp.StatusCode)
	}
	if code := decodeError(t, resp); code != string(errors.CodeMissingDependency) {
		t.Errorf("error code = %s", code)
	}
}

func TestCancelPendingTask(t *testing.T) {
	srv, videoPath := newTestServer(t)
	created := decodeTask(t, postJSON(t, srv.URL+"/api/tasks", map[string]string{"video_path": videoPath}))

	resp := postJSON(t, srv.URL+"/api/tasks/"+created.ID+"/cancel", map[string]string{})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("cancel pending status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestFullRunOverHTTP(t *testing.T) {
	srv, videoPath := newTestServer(t)
	created := decodeTask(t, postJSON(t, srv.URL+"/api/tasks", map[string]string{"video_path": videoPath}))

	resp := postJSON(t, srv.URL+"/api/tasks/"+created.ID+"/start", map[string]string{})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	var final task.Task
	deadline := time.Now().Add(10 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("task never finished")
		}
		getResp, err := http.Get(srv.URL + "/api/tasks/" + created.ID)
		if err != nil {
			t.Fatal(err)
		}
		final = decodeTask(t, getResp)
		if final.Status == task.StatusCompleted || final.Status == task.StatusFailed {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if final.Status != task.StatusCompleted {
		t.Fatalf("task failed: %s", final.Detail)
	}

	artResp, err := http.Get(fmt.Sprintf("%s/api/tasks/%s/artifacts/%s", srv.URL, created.ID, task.StageAssemble))
	if err != nil {
		t.Fatal(err)
	}
	defer artResp.Body.Close()
	if artResp.StatusCode != http.StatusOK {
		t.Fatalf("artifact status = %d", artResp.StatusCode)
	}
	var doc note.Document
	if err := json.NewDecoder(artResp.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if doc.TaskID != created.ID || len(doc.Segments) == 0 {
		t.Errorf("document = %+v", doc)
	}
}

func TestArtifactBeforeRun(t *testing.T) {
	srv, videoPath := newTestServer(t)
	created := decodeTask(t, postJSON(t, srv.URL+"/api/tasks", map[string]string{"video_path": videoPath}))

	resp, err := http.Get(fmt.Sprintf("%s/api/tasks/%s/artifacts/%s", srv.URL, created.ID, task.StageAssemble))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestWebSocketReceivesEvents(t *testing.T) {
	srv, videoPath := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := strings.Replace(srv.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Give the server a moment to register the connection before events fire.
	time.Sleep(50 * time.Millisecond)
	created := decodeTask(t, postJSON(t, srv.URL+"/api/tasks", map[string]string{"video_path": videoPath}))

	var evt task.Event
	if err := wsjson.Read(ctx, conn, &evt); err != nil {
		t.Fatalf("event read failed: %v", err)
	}
	if evt.TaskID != created.ID || evt.Status != task.StatusPending {
		t.Errorf("event = %+v", evt)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/tasks", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("preflight status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
