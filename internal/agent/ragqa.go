package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/study-agent/backend/internal/evidence"
	"github.com/study-agent/backend/internal/intent"
	"github.com/study-agent/backend/pkg/logger"
)

type passageRetriever interface {
	Retrieve(ctx context.Context, query string, k int, documentID string) ([]evidence.Item, error)
}

type answerGenerator interface {
	AnswerFromPassages(ctx context.Context, query string, passages []string) (string, error)
}

type sourceValidator interface {
	Validate(items []evidence.Item, minCredibility, minRelevance float64) []evidence.Item
}

// AnswerPayload is the RAG-QA result content. InsufficientContext marks the
// recoverable "nothing found" outcome, distinct from a system failure.
type AnswerPayload struct {
	Answer              string `json:"answer"`
	InsufficientContext bool   `json:"insufficient_context,omitempty"`
	PassagesUsed        int    `json:"passages_used"`
}

// RAGQAAgent answers questions strictly from validated document passages.
// When validation yields nothing it reports insufficient context instead of
// answering from unconstrained model knowledge.
type RAGQAAgent struct {
	retriever      passageRetriever
	validator      sourceValidator
	llm            answerGenerator
	retrieveK      int
	minCredibility float64
	minRelevance   float64
}

func NewRAGQAAgent(retriever passageRetriever, validator sourceValidator, generator answerGenerator, minCredibility, minRelevance float64) *RAGQAAgent {
	return &RAGQAAgent{
		retriever:      retriever,
		validator:      validator,
		llm:            generator,
		retrieveK:      10,
		minCredibility: minCredibility,
		minRelevance:   minRelevance,
	}
}

func (a *RAGQAAgent) Intent() intent.Kind { return intent.RAGQA }

func (a *RAGQAAgent) Idempotent() bool { return true }

func (a *RAGQAAgent) Execute(ctx context.Context, task Task) (*Result, error) {
	if task.Query == "" {
		return nil, fmt.Errorf("%w: query", ErrMissingParameter)
	}

	documentID, _ := task.Param("document_id")

	candidates, err := a.retriever.Retrieve(ctx, task.Query, a.retrieveK, documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: passage retrieval failed: %v", ErrUnavailable, err)
	}

	validated := a.validator.Validate(candidates, a.minCredibility, a.minRelevance)

	trace := []string{
		fmt.Sprintf("retrieved %d candidate passages", len(candidates)),
		fmt.Sprintf("%d passages passed source validation", len(validated)),
	}

	if len(validated) == 0 {
		trace = append(trace, "no validated passages; declining to answer from model knowledge")
		return &Result{
			Status: StatusRecoverableEmpty,
			Payload: AnswerPayload{
				InsufficientContext: true,
			},
			Trace: trace,
		}, nil
	}

	passages := make([]string, len(validated))
	for i, item := range validated {
		passages[i] = item.Excerpt
	}

	answer, err := a.llm.AnswerFromPassages(ctx, task.Query, passages)
	if err != nil {
		return nil, fmt.Errorf("%w: answer generation failed: %v", ErrUnavailable, err)
	}

	logger.Info("Question answered from documents",
		zap.String("task_id", task.ID),
		zap.Int("passages", len(validated)),
	)

	return &Result{
		Status: StatusCompleted,
		Payload: AnswerPayload{
			Answer:       answer,
			PassagesUsed: len(validated),
		},
		Evidence: validated,
		Trace:    append(trace, "generated answer constrained to validated passages"),
	}, nil
}
