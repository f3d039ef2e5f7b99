package references

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"label-analyzer/internal/models"
	"label-analyzer/internal/telemetry"
)

// Client fetches literature citations from the PubMed E-utilities API.
// Lookup failure is never an error: a result without citations is still a
// usable result, so everything degrades to an empty list.
type Client struct {
	baseURL    string
	maxResults int
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(baseURL string, maxResults int, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	}
	if maxResults <= 0 {
		maxResults = 3
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxResults: maxResults,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger,
	}
}

// Search returns up to maxResults citations for the ingredient name.
func (c *Client) Search(ctx context.Context, term string) []models.Paper {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil
	}

	ids, err := c.searchIDs(ctx, term)
	if err != nil {
		c.miss(term, err)
		return nil
	}
	if len(ids) == 0 {
		return nil
	}

	papers, err := c.summaries(ctx, ids)
	if err != nil {
		c.miss(term, err)
		return nil
	}
	return papers
}

func (c *Client) miss(term string, err error) {
	telemetry.ReferenceMisses.Inc()
	c.log.Warn("reference lookup degraded to empty", "term", term, "error", err)
}

func (c *Client) searchIDs(ctx context.Context, term string) ([]string, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("term", term)
	q.Set("retmode", "json")
	q.Set("retmax", fmt.Sprintf("%d", c.maxResults))
	q.Set("sort", "relevance")

	raw, err := c.get(ctx, c.baseURL+"/esearch.fcgi?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var body struct {
		ESearchResult struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode esearch: %w", err)
	}
	return body.ESearchResult.IDList, nil
}

func (c *Client) summaries(ctx context.Context, ids []string) ([]models.Paper, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(ids, ","))
	q.Set("retmode", "json")

	raw, err := c.get(ctx, c.baseURL+"/esummary.fcgi?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var body struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode esummary: %w", err)
	}

	papers := make([]models.Paper, 0, len(ids))
	for _, id := range ids {
		entry, ok := body.Result[id]
		if !ok {
			continue
		}
		var doc struct {
			Title string `json:"title"`
		}
		if err := json.Unmarshal(entry, &doc); err != nil || doc.Title == "" {
			continue
		}
		papers = append(papers, models.Paper{
			Title: doc.Title,
			URL:   "https://pubmed.ncbi.nlm.nih.gov/" + id + "/",
		})
	}
	return papers, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}
