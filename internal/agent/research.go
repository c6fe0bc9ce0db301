package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/study-agent/backend/internal/evidence"
	"github.com/study-agent/backend/internal/intent"
	"github.com/study-agent/backend/internal/llm"
	"github.com/study-agent/backend/pkg/logger"
)

type webSearcher interface {
	Search(ctx context.Context, query string) ([]evidence.Item, error)
}

type researchGenerator interface {
	SynthesizeResearch(ctx context.Context, query string, sources []string) (string, error)
}

// ResearchPayload is the research result content.
type ResearchPayload struct {
	Query        string `json:"query"`
	Synthesis    string `json:"synthesis"`
	SourcesUsed  int    `json:"sources_used"`
	NothingFound bool   `json:"nothing_found,omitempty"`
}

// ResearchAgent looks up external information, validates what came back and
// synthesizes a study summary from validated sources only. When the student
// asked to keep the findings, it signals intent-to-persist; the write itself
// is the router's job.
type ResearchAgent struct {
	search         webSearcher
	validator      sourceValidator
	llm            researchGenerator
	minCredibility float64
	minRelevance   float64
}

func NewResearchAgent(search webSearcher, validator sourceValidator, generator researchGenerator, minCredibility, minRelevance float64) *ResearchAgent {
	return &ResearchAgent{
		search:         search,
		validator:      validator,
		llm:            generator,
		minCredibility: minCredibility,
		minRelevance:   minRelevance,
	}
}

func (a *ResearchAgent) Intent() intent.Kind { return intent.Research }

func (a *ResearchAgent) Idempotent() bool { return true }

func (a *ResearchAgent) Execute(ctx context.Context, task Task) (*Result, error) {
	if task.Query == "" {
		return nil, fmt.Errorf("%w: query", ErrMissingParameter)
	}

	searchQuery := task.Query
	if topic, ok := task.Param("topic"); ok {
		searchQuery = topic
	}

	candidates, err := a.search.Search(ctx, searchQuery)
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}

	validated := a.validator.Validate(candidates, a.minCredibility, a.minRelevance)

	trace := []string{
		fmt.Sprintf("web search returned %d results", len(candidates)),
		fmt.Sprintf("%d sources passed credibility validation", len(validated)),
	}

	if len(validated) == 0 {
		trace = append(trace, "no credible sources found; reporting empty result")
		return &Result{
			Status: StatusRecoverableEmpty,
			Payload: ResearchPayload{
				Query:        searchQuery,
				NothingFound: true,
			},
			Trace: trace,
		}, nil
	}

	sources := make([]string, len(validated))
	for i, item := range validated {
		sources[i] = llm.FormatSourceBlock(item.Title, item.Locator, item.Excerpt)
	}

	synthesis, err := a.llm.SynthesizeResearch(ctx, searchQuery, sources)
	if err != nil {
		return nil, fmt.Errorf("%w: research synthesis failed: %v", ErrUnavailable, err)
	}

	logger.Info("Research synthesized",
		zap.String("task_id", task.ID),
		zap.Int("sources", len(validated)),
	)

	result := &Result{
		Status: StatusCompleted,
		Payload: ResearchPayload{
			Query:       searchQuery,
			Synthesis:   synthesis,
			SourcesUsed: len(validated),
		},
		Evidence: validated,
		Trace:    append(trace, "synthesized findings from validated sources only"),
	}

	if requestsSave(task.Query) {
		result.Persist = &PersistRequest{
			Kind:     "research_evidence",
			Evidence: validated,
		}
		result.Trace = append(result.Trace, "student asked to keep findings; requested save to study materials")
	}

	return result, nil
}

// requestsSave detects an explicit ask to keep the findings. Persistence is
// opt-in per turn.
func requestsSave(query string) bool {
	lower := strings.ToLower(query)
	return strings.Contains(lower, "save") ||
		strings.Contains(lower, "add to my notes") ||
		strings.Contains(lower, "keep this")
}
