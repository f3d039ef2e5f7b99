package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"label-analyzer/internal/analysis"
	"label-analyzer/internal/config"
	"label-analyzer/internal/models"
	"label-analyzer/internal/store"
)

type stubReader struct {
	content string
	err     error
}

func (s stubReader) ReadLabel(context.Context, []byte, string) (string, error) {
	return s.content, s.err
}

type stubRefs struct{}

func (stubRefs) Search(_ context.Context, term string) []models.Paper {
	if term == "sodium nitrite" {
		return []models.Paper{{Title: "Nitrite exposure study", URL: "https://pubmed.ncbi.nlm.nih.gov/42/"}}
	}
	return nil
}

const labelContent = "```json\n" +
	`{"ingredients":[` +
	`{"name":"sodium nitrite","classification":"high_risk","explanation":"Forms nitrosamines."},` +
	`{"name":"oat flour","classification":"healthy","explanation":"Whole grain."}` +
	`]}` + "\n```"

func newTestServer(t *testing.T, reader analysis.LabelReader) *httptest.Server {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.New(client, time.Hour, 5*time.Minute)
	pipeline := analysis.NewPipeline(reader, stubRefs{}, nil)

	cfg := config.Config{
		MaxUploadBytes:    4 * 1024 * 1024,
		ImageMaxDimension: 1024,
		AnalysisTimeout:   5 * time.Second,
	}
	srv := httptest.NewServer(New(cfg, st, pipeline, nil).Router())
	t.Cleanup(srv.Close)
	return srv
}

func pngUpload(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 180, B: 120, A: 255})
		}
	}
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("image", "label.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(pngBuf.Bytes()); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, mw.FormDataContentType()
}

func submitImage(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	body, contentType := pngUpload(t)
	resp, err := http.Post(srv.URL+"/api/analyze", contentType, body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, raw)
	}
	var out struct {
		JobID string `json:"jobId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.JobID == "" {
		t.Fatal("empty job id")
	}
	return out.JobID
}

func waitForTerminal(t *testing.T, srv *httptest.Server, jobID string) models.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(srv.URL + "/api/status?jobId=" + jobID)
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			t.Fatalf("unexpected status code %d", resp.StatusCode)
		}
		var job models.Job
		err = json.NewDecoder(resp.Body).Decode(&job)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode job: %v", err)
		}
		if job.Terminal() {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return models.Job{}
}

func TestSubmitAndPollToCompletion(t *testing.T) {
	srv := newTestServer(t, stubReader{content: labelContent})

	jobID := submitImage(t, srv)

	// An immediate poll sees a live, non-absent record.
	resp, err := http.Get(srv.URL + "/api/status?jobId=" + jobID)
	if err != nil {
		t.Fatalf("immediate poll: %v", err)
	}
	var early models.Job
	if err := json.NewDecoder(resp.Body).Decode(&early); err != nil {
		t.Fatalf("decode early poll: %v", err)
	}
	resp.Body.Close()
	switch early.Status {
	case models.StatusPending, models.StatusProcessing, models.StatusCompleted:
	default:
		t.Fatalf("unexpected early status %q", early.Status)
	}

	job := waitForTerminal(t, srv, jobID)
	if job.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s (error=%q)", job.Status, job.Error)
	}
	if job.Result == nil || len(job.Result.Ingredients) == 0 {
		t.Fatal("expected a non-empty ingredient list")
	}
	for _, ing := range job.Result.Ingredients {
		if !models.ValidClassification(ing.Classification) {
			t.Fatalf("classification outside closed set: %q", ing.Classification)
		}
	}
	if len(job.Result.Ingredients[0].Papers) == 0 {
		t.Fatal("expected citations for sodium nitrite")
	}
}

func TestSubmitWithoutImage(t *testing.T) {
	srv := newTestServer(t, stubReader{content: labelContent})

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	_ = mw.WriteField("note", "forgot the file")
	_ = mw.Close()

	resp, err := http.Post(srv.URL+"/api/analyze", mw.FormDataContentType(), body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var out struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Error == "" {
		t.Fatalf("expected an error payload, got err=%v payload=%+v", err, out)
	}
}

func TestSubmitCorruptImage(t *testing.T) {
	srv := newTestServer(t, stubReader{content: labelContent})

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, _ := mw.CreateFormFile("image", "label.png")
	_, _ = part.Write([]byte("not an image at all"))
	_ = mw.Close()

	resp, err := http.Post(srv.URL+"/api/analyze", mw.FormDataContentType(), body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestStatusMissingID(t *testing.T) {
	srv := newTestServer(t, stubReader{content: labelContent})

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	srv := newTestServer(t, stubReader{content: labelContent})

	resp, err := http.Get(srv.URL + "/api/status?jobId=fabricated-id")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestInferenceFailureEndsFailed(t *testing.T) {
	srv := newTestServer(t, stubReader{err: errors.New("context deadline exceeded")})

	jobID := submitImage(t, srv)
	job := waitForTerminal(t, srv, jobID)
	if job.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.Error == "" {
		t.Fatal("failed job must carry an error message")
	}
	if job.Result != nil {
		t.Fatal("failed job must not carry a result")
	}
}

func TestSchemaViolationEndsFailed(t *testing.T) {
	srv := newTestServer(t, stubReader{
		content: `{"ingredients":[{"name":"sugar","classification":"unhealthy","explanation":"x"}]}`,
	})

	jobID := submitImage(t, srv)
	job := waitForTerminal(t, srv, jobID)
	if job.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.Result != nil {
		t.Fatal("schema violation must not produce a result")
	}
}
