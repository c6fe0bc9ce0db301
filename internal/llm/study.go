package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/study-agent/backend/pkg/logger"
)

// IntentPrediction is the structured output of the intent classification
// prompt. Intent is a label from the closed set; entities only carry what
// the model actually found, never defaults.
type IntentPrediction struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities"`
	Reasoning  string            `json:"reasoning"`
}

type StudySummary struct {
	MainTopic   string   `json:"main_topic"`
	KeyConcepts []string `json:"key_concepts"`
	StudyNotes  string   `json:"study_notes"`
}

type CardSpec struct {
	Type      string   `json:"type"`
	Front     string   `json:"front,omitempty"`
	Back      string   `json:"back,omitempty"`
	ClozeText string   `json:"cloze_text,omitempty"`
	Question  string   `json:"question,omitempty"`
	Choices   []string `json:"choices,omitempty"`
	Answer    int      `json:"answer,omitempty"`
}

const classifyIntentSystemPrompt = `You are the routing component of a study assistant.
Classify the student's request into exactly one intent:

- SUMMARIZER: summarize or outline an uploaded document
- RAG_QA: answer a question from the uploaded study materials
- RESEARCH: look up external information on the web
- FLASHCARD: generate study flashcards from a document
- UNKNOWN: none of the above, or the request is too ambiguous

Extract entities only when they are explicit in the request:
- document_id: identifier of a specific uploaded document
- topic: the subject being asked about
- card_count: requested number of flashcards (integer as string)
- difficulty: easy, medium or hard

Never invent entity values and never default missing ones.

Return JSON only:
{"intent": "RAG_QA", "confidence": 0.85, "entities": {"topic": "..."}, "reasoning": "..."}`

func (c *Client) ClassifyIntent(ctx context.Context, query string, history []string) (*IntentPrediction, error) {
	userPrompt := fmt.Sprintf("Student request: %s", query)
	if len(history) > 0 {
		userPrompt = fmt.Sprintf("Recent conversation:\n%s\n\nStudent request: %s",
			strings.Join(history, "\n"), query)
	}

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: classifyIntentSystemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.1,
		MaxTokens:    300,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to classify intent: %w", err)
	}

	var prediction IntentPrediction
	if err := unmarshalObject(resp.Content, &prediction); err != nil {
		return nil, fmt.Errorf("failed to parse intent prediction: %w", err)
	}

	logger.Debug("Intent classified",
		zap.String("intent", prediction.Intent),
		zap.Float64("confidence", prediction.Confidence),
	)

	return &prediction, nil
}

const summarizeSystemPrompt = `You are a study assistant summarizing a student's uploaded material.
Produce a structured summary a student can revise from.

Return JSON only:
{"main_topic": "...", "key_concepts": ["...", "..."], "study_notes": "..."}`

func (c *Client) SummarizeDocument(ctx context.Context, content string) (*StudySummary, error) {
	if len(content) > 12000 {
		content = content[:12000]
	}

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: summarizeSystemPrompt,
		UserPrompt:   fmt.Sprintf("Summarize this study material:\n\n%s", content),
		Temperature:  0.3,
		MaxTokens:    800,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to summarize document: %w", err)
	}

	var summary StudySummary
	if err := unmarshalObject(resp.Content, &summary); err != nil {
		return nil, fmt.Errorf("failed to parse summary: %w", err)
	}

	return &summary, nil
}

const answerSystemPrompt = `You are a study assistant answering a student's question.

Rules:
1. Answer ONLY from the numbered passages provided
2. Cite passages using [n] notation
3. If the passages do not contain the answer, say so plainly
4. Explain concepts, do not just state facts`

func (c *Client) AnswerFromPassages(ctx context.Context, query string, passages []string) (string, error) {
	var builder strings.Builder
	for i, passage := range passages {
		builder.WriteString(fmt.Sprintf("[%d] %s\n\n", i+1, passage))
	}

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: answerSystemPrompt,
		UserPrompt:   fmt.Sprintf("Question: %s\n\nPassages:\n%s", query, builder.String()),
		Temperature:  0.2,
		MaxTokens:    1024,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}

	return resp.Content, nil
}

const researchSystemPrompt = `You are a study assistant synthesizing web research for a student.

Rules:
1. Use ONLY the numbered sources provided
2. Cite sources using [n] notation
3. Organize findings into key points a student can study from
4. Note where sources disagree`

func (c *Client) SynthesizeResearch(ctx context.Context, query string, sources []string) (string, error) {
	var builder strings.Builder
	for i, source := range sources {
		builder.WriteString(fmt.Sprintf("[%d] %s\n\n", i+1, source))
	}

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: researchSystemPrompt,
		UserPrompt:   fmt.Sprintf("Research topic: %s\n\nSources:\n%s", query, builder.String()),
		Temperature:  0.3,
		MaxTokens:    1024,
	})
	if err != nil {
		return "", fmt.Errorf("failed to synthesize research: %w", err)
	}

	return resp.Content, nil
}

const flashcardSystemPrompt = `You are a study assistant generating flashcards from course material.

Card types:
- basic: {"type": "basic", "front": "question", "back": "answer"}
- cloze: {"type": "cloze", "cloze_text": "sentence with {{c1::hidden term}}"}
- multiple_choice: {"type": "multiple_choice", "question": "...", "choices": ["a","b","c","d"], "answer": 0}

Mix card types. Ground every card in the provided material only.

Return a JSON array of cards, nothing else.`

func (c *Client) GenerateFlashcards(ctx context.Context, content string, count int, difficulty string) ([]CardSpec, error) {
	if len(content) > 10000 {
		content = content[:10000]
	}

	userPrompt := fmt.Sprintf("Generate %d %s-difficulty flashcards from this material:\n\n%s",
		count, difficulty, content)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: flashcardSystemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.4,
		MaxTokens:    2048,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate flashcards: %w", err)
	}

	var cards []CardSpec
	if err := unmarshalArray(resp.Content, &cards); err != nil {
		return nil, fmt.Errorf("failed to parse flashcards: %w", err)
	}

	logger.Debug("Flashcards generated", zap.Int("count", len(cards)))

	return cards, nil
}
