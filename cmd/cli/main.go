package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"label-analyzer/internal/models"
)

// The CLI is the polling collaborator: submit once, then check status on a
// fixed interval until the job is terminal or gone. Ctrl-C cancels the poll
// loop; the server-side analysis still runs to completion on its own.
func main() {
	server := flag.String("server", "http://localhost:8080", "label analyzer base URL")
	interval := flag.Duration("interval", 2*time.Second, "poll interval")
	timeout := flag.Duration("timeout", 5*time.Minute, "give up after this long")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <label-image>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	jobID, err := submit(ctx, *server, flag.Arg(0))
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	fmt.Printf("job %s submitted, polling every %s\n", jobID, *interval)

	job, err := poll(ctx, *server, jobID, *interval)
	if err != nil {
		log.Fatalf("poll: %v", err)
	}
	render(job)
}

func submit(ctx context.Context, server, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/api/analyze", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, raw)
	}
	var out struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.JobID, nil
}

func poll(ctx context.Context, server, jobID string, interval time.Duration) (models.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return models.Job{}, ctx.Err()
		case <-ticker.C:
		}

		job, found, err := fetchStatus(ctx, server, jobID)
		if err != nil {
			return models.Job{}, err
		}
		if !found {
			return models.Job{}, fmt.Errorf("job %s not found (expired or never existed)", jobID)
		}
		if job.Terminal() {
			return job, nil
		}
		fmt.Printf("  status: %s\n", job.Status)
	}
}

func fetchStatus(ctx context.Context, server, jobID string) (models.Job, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/api/status?jobId="+jobID, nil)
	if err != nil {
		return models.Job{}, false, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return models.Job{}, false, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusOK:
		var job models.Job
		if err := json.Unmarshal(raw, &job); err != nil {
			return models.Job{}, false, fmt.Errorf("decode status: %w", err)
		}
		return job, true, nil
	case http.StatusNotFound:
		return models.Job{}, false, nil
	default:
		return models.Job{}, false, fmt.Errorf("server returned %d: %s", resp.StatusCode, raw)
	}
}

func render(job models.Job) {
	if job.Status == models.StatusFailed {
		fmt.Printf("analysis failed: %s\n", job.Error)
		os.Exit(1)
	}
	if job.Result == nil {
		fmt.Println("completed with no result")
		return
	}
	fmt.Printf("analysis completed: %d ingredients\n\n", len(job.Result.Ingredients))
	for _, ing := range job.Result.Ingredients {
		fmt.Printf("%-12s %s\n", ing.Classification, ing.Name)
		fmt.Printf("             %s\n", ing.Explanation)
		for _, p := range ing.Papers {
			fmt.Printf("             - %s (%s)\n", p.Title, p.URL)
		}
	}
}
