package references

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSearchReturnsCitations(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/esearch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("term"); got != "sodium nitrite" {
			t.Errorf("unexpected term %q", got)
		}
		_, _ = w.Write([]byte(`{"esearchresult":{"idlist":["11111","22222"]}}`))
	})
	mux.HandleFunc("/esummary.fcgi", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{
			"uids":["11111","22222"],
			"11111":{"title":"Dietary nitrite and gastric cancer"},
			"22222":{"title":"Processed meat preservatives reviewed"}
		}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, 3, time.Second, nil)
	papers := c.Search(context.Background(), "sodium nitrite")
	if len(papers) != 2 {
		t.Fatalf("expected 2 papers, got %d", len(papers))
	}
	if papers[0].Title != "Dietary nitrite and gastric cancer" {
		t.Fatalf("unexpected title: %q", papers[0].Title)
	}
	if papers[0].URL != "https://pubmed.ncbi.nlm.nih.gov/11111/" {
		t.Fatalf("unexpected url: %q", papers[0].URL)
	}
}

func TestSearchDegradesToEmptyOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 3, time.Second, nil)
	if papers := c.Search(context.Background(), "salt"); papers != nil {
		t.Fatalf("expected nil on failure, got %v", papers)
	}
}

func TestSearchDegradesToEmptyOnBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<xml>not json</xml>"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 3, time.Second, nil)
	if papers := c.Search(context.Background(), "salt"); papers != nil {
		t.Fatalf("expected nil on bad payload, got %v", papers)
	}
}

func TestSearchEmptyTerm(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 3, time.Second, nil)
	if papers := c.Search(context.Background(), "  "); papers != nil {
		t.Fatalf("expected nil for empty term, got %v", papers)
	}
}

func TestSearchNoMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"esearchresult":{"idlist":[]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 3, time.Second, nil)
	if papers := c.Search(context.Background(), "xylotrimethylglucose"); len(papers) != 0 {
		t.Fatalf("expected no papers, got %v", papers)
	}
}
