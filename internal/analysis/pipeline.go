package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"label-analyzer/internal/inference"
	"label-analyzer/internal/models"
)

// LabelReader is the external inference collaborator: it receives raw image
// bytes and returns whatever text the model produced, which may be fenced or
// otherwise noisy.
type LabelReader interface {
	ReadLabel(ctx context.Context, image []byte, mimeType string) (string, error)
}

// ReferenceFinder looks up literature citations for an ingredient name.
// Implementations never fail: lookup problems degrade to an empty list.
type ReferenceFinder interface {
	Search(ctx context.Context, term string) []models.Paper
}

// Pipeline turns raw image bytes into a validated AnalysisResult. It has no
// side effects beyond the outbound calls to its two collaborators.
type Pipeline struct {
	reader LabelReader
	refs   ReferenceFinder
	log    *slog.Logger
}

func NewPipeline(reader LabelReader, refs ReferenceFinder, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{reader: reader, refs: refs, log: logger}
}

// AnalyzeImage runs the full extract -> classify -> enrich sequence. Every
// failure comes back as an *Error whose message is suitable for the job
// record's error field.
func (p *Pipeline) AnalyzeImage(ctx context.Context, image []byte, mimeType string) (models.AnalysisResult, error) {
	var zero models.AnalysisResult

	content, err := p.reader.ReadLabel(ctx, image, mimeType)
	if err != nil {
		if errors.Is(err, inference.ErrBadResponse) {
			return zero, parseErr(err)
		}
		return zero, transportErr(err)
	}

	cleaned, err := CleanResponse(content)
	if err != nil {
		p.log.Error("unparseable inference response", "error", err, "raw", content)
		return zero, parseErr(err)
	}

	data := []byte(cleaned)
	var probe any
	if err := json.Unmarshal(data, &probe); err != nil {
		p.log.Error("inference response is not valid JSON", "error", err, "raw", cleaned)
		return zero, parseErr(err)
	}

	if err := validateResult(data); err != nil {
		p.log.Error("inference response failed contract validation", "error", err, "raw", cleaned)
		return zero, schemaErr(err)
	}

	var result models.AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		return zero, parseErr(err)
	}

	p.enrich(ctx, &result)
	return result, nil
}

// enrich fills citations per ingredient. Lookups run concurrently and a
// failed lookup leaves that ingredient with an empty list; it never blocks
// or fails the rest of the result.
func (p *Pipeline) enrich(ctx context.Context, result *models.AnalysisResult) {
	var wg sync.WaitGroup
	for i := range result.Ingredients {
		wg.Add(1)
		go func(ing *models.Ingredient) {
			defer wg.Done()
			papers := p.refs.Search(ctx, ing.Name)
			if papers == nil {
				papers = []models.Paper{}
			}
			ing.Papers = papers
		}(&result.Ingredients[i])
	}
	wg.Wait()
}
