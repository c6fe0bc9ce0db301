package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	prose "github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/study-agent/backend/internal/evidence"
	"github.com/study-agent/backend/internal/intent"
	"github.com/study-agent/backend/internal/llm"
	"github.com/study-agent/backend/pkg/logger"
)

const (
	CardTypeBasic          = "basic"
	CardTypeCloze          = "cloze"
	CardTypeMultipleChoice = "multiple_choice"
)

type cardGenerator interface {
	GenerateFlashcards(ctx context.Context, content string, count int, difficulty string) ([]llm.CardSpec, error)
}

type Card struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Front      string   `json:"front,omitempty"`
	Back       string   `json:"back,omitempty"`
	ClozeText  string   `json:"cloze_text,omitempty"`
	Question   string   `json:"question,omitempty"`
	Choices    []string `json:"choices,omitempty"`
	Answer     int      `json:"answer,omitempty"`
	Difficulty string   `json:"difficulty"`
}

type FlashcardPayload struct {
	DocumentID string         `json:"document_id"`
	Difficulty string         `json:"difficulty"`
	Cards      []Card         `json:"cards"`
	CardTypes  map[string]int `json:"card_types"`
}

// FlashcardAgent generates a mixed deck of study cards from one document.
// Decks with three or more cards always contain at least two card types.
// The deck write is a persist request; export tooling is downstream.
type FlashcardAgent struct {
	docs         documentReader
	llm          cardGenerator
	defaultCount int
	maxCount     int
}

func NewFlashcardAgent(docs documentReader, generator cardGenerator, defaultCount, maxCount int) *FlashcardAgent {
	if defaultCount <= 0 {
		defaultCount = 10
	}
	if maxCount <= 0 {
		maxCount = 50
	}
	return &FlashcardAgent{
		docs:         docs,
		llm:          generator,
		defaultCount: defaultCount,
		maxCount:     maxCount,
	}
}

func (a *FlashcardAgent) Intent() intent.Kind { return intent.Flashcard }

// Idempotent is false: a generated deck is persisted, so the router must
// not auto-retry and risk duplicate decks.
func (a *FlashcardAgent) Idempotent() bool { return false }

func (a *FlashcardAgent) Execute(ctx context.Context, task Task) (*Result, error) {
	documentID, ok := task.Param("document_id")
	if !ok || documentID == "" {
		return nil, fmt.Errorf("%w: document_id", ErrMissingParameter)
	}

	count := a.cardCount(task)
	difficulty := cardDifficulty(task)

	content, err := a.docs.GetContent(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load document: %v", ErrUnavailable, err)
	}

	if content == "" {
		return &Result{
			Status: StatusRecoverableEmpty,
			Payload: FlashcardPayload{
				DocumentID: documentID,
				Difficulty: difficulty,
			},
			Trace: []string{fmt.Sprintf("document %s has no stored content; no cards generated", documentID)},
		}, nil
	}

	specs, err := a.llm.GenerateFlashcards(ctx, content, count, difficulty)
	if err != nil {
		return nil, fmt.Errorf("%w: card generation failed: %v", ErrUnavailable, err)
	}

	cards := buildCards(specs, difficulty)
	cards = fillShortfall(cards, content, count, difficulty)
	cards = ensureVariety(cards, content, difficulty)
	if len(cards) > count {
		cards = cards[:count]
	}
	// Trimming can undo variety when the mixed types sat at the tail.
	cards = ensureVariety(cards, content, difficulty)

	types := countTypes(cards)

	logger.Info("Flashcards generated",
		zap.String("document_id", documentID),
		zap.Int("cards", len(cards)),
		zap.Int("types", len(types)),
	)

	payload := FlashcardPayload{
		DocumentID: documentID,
		Difficulty: difficulty,
		Cards:      cards,
		CardTypes:  types,
	}

	return &Result{
		Status:  StatusCompleted,
		Payload: payload,
		Evidence: []evidence.Item{{
			SourceID:    documentID,
			Excerpt:     firstN(content, 300),
			Origin:      evidence.OriginDocument,
			Locator:     documentID,
			Credibility: 1.0,
			Relevance:   1.0,
		}},
		Trace: []string{
			fmt.Sprintf("generated %d cards at %s difficulty", len(cards), difficulty),
			fmt.Sprintf("card type mix: %v", types),
		},
		Persist: &PersistRequest{
			Kind:    "flashcard_deck",
			Payload: payload,
		},
	}, nil
}

func (a *FlashcardAgent) cardCount(task Task) int {
	count := a.defaultCount
	if raw, ok := task.Param("card_count"); ok {
		if parsed, err := strconv.Atoi(raw); err == nil {
			count = parsed
		}
	}
	if count < 1 {
		count = 1
	}
	if count > a.maxCount {
		count = a.maxCount
	}
	return count
}

func cardDifficulty(task Task) string {
	difficulty, ok := task.Param("difficulty")
	if !ok {
		return "medium"
	}
	switch strings.ToLower(difficulty) {
	case "easy", "medium", "hard":
		return strings.ToLower(difficulty)
	default:
		return "medium"
	}
}

// buildCards normalizes generator output, dropping specs that do not form a
// usable card of their declared type.
func buildCards(specs []llm.CardSpec, difficulty string) []Card {
	cards := make([]Card, 0, len(specs))
	for _, spec := range specs {
		card := Card{
			ID:         uuid.New().String(),
			Type:       spec.Type,
			Difficulty: difficulty,
		}
		switch spec.Type {
		case CardTypeBasic:
			if spec.Front == "" || spec.Back == "" {
				continue
			}
			card.Front = spec.Front
			card.Back = spec.Back
		case CardTypeCloze:
			if !strings.Contains(spec.ClozeText, "{{c") {
				continue
			}
			card.ClozeText = spec.ClozeText
		case CardTypeMultipleChoice:
			if spec.Question == "" || len(spec.Choices) < 2 ||
				spec.Answer < 0 || spec.Answer >= len(spec.Choices) {
				continue
			}
			card.Question = spec.Question
			card.Choices = spec.Choices
			card.Answer = spec.Answer
		default:
			continue
		}
		cards = append(cards, card)
	}
	return cards
}

// fillShortfall tops the deck up with cloze cards cut from the document
// when the generator returned fewer cards than requested.
func fillShortfall(cards []Card, content string, count int, difficulty string) []Card {
	if len(cards) >= count {
		return cards
	}

	for _, clozeText := range clozeCandidates(content, count-len(cards)) {
		cards = append(cards, Card{
			ID:         uuid.New().String(),
			Type:       CardTypeCloze,
			ClozeText:  clozeText,
			Difficulty: difficulty,
		})
		if len(cards) >= count {
			break
		}
	}
	return cards
}

// ensureVariety guarantees at least two distinct card types for decks of
// three or more cards. A uniform cloze deck flips its last card into a
// basic recall card; any other uniform deck gains a cloze cut from the
// document, or from the last card's own text when no sentence qualifies.
// The replacement never degrades the deck: if no well-formed second type
// can be built, the deck is returned unchanged.
func ensureVariety(cards []Card, content string, difficulty string) []Card {
	if len(cards) < 3 || len(countTypes(cards)) >= 2 {
		return cards
	}

	last := cards[len(cards)-1]
	replacement := Card{
		ID:         uuid.New().String(),
		Difficulty: difficulty,
	}

	if last.Type == CardTypeCloze {
		answer := clozeAnswer(last.ClozeText)
		if answer == "" {
			return cards
		}
		replacement.Type = CardTypeBasic
		replacement.Front = "Fill in the blank: " + strings.NewReplacer("{{c1::", "_____ (", "}}", ")").Replace(last.ClozeText)
		replacement.Back = answer
	} else {
		clozeText := ""
		if candidates := clozeCandidates(content, 1); len(candidates) > 0 {
			clozeText = candidates[0]
		} else {
			clozeText = clozeFromCard(last)
		}
		if clozeText == "" {
			return cards
		}
		replacement.Type = CardTypeCloze
		replacement.ClozeText = clozeText
	}

	cards[len(cards)-1] = replacement
	return cards
}

// clozeFromCard blanks a card's own answer so variety survives documents
// whose sentences are all too short to cut a cloze from.
func clozeFromCard(card Card) string {
	switch card.Type {
	case CardTypeBasic:
		if card.Front == "" || card.Back == "" {
			return ""
		}
		return fmt.Sprintf("%s {{c1::%s}}", card.Front, card.Back)
	case CardTypeMultipleChoice:
		if card.Question == "" || card.Answer < 0 || card.Answer >= len(card.Choices) {
			return ""
		}
		return fmt.Sprintf("%s {{c1::%s}}", card.Question, card.Choices[card.Answer])
	default:
		return ""
	}
}

// clozeCandidates segments the document and blanks out a recognized entity
// per sentence, or the longest informative word when tagging finds none.
func clozeCandidates(content string, limit int) []string {
	if limit <= 0 {
		return nil
	}
	if len(content) > 5000 {
		content = content[:5000]
	}

	doc, err := prose.NewDocument(content)
	if err != nil {
		logger.Warn("Sentence segmentation failed", zap.Error(err))
		return nil
	}

	entityTexts := make([]string, 0)
	for _, ent := range doc.Entities() {
		entityTexts = append(entityTexts, ent.Text)
	}

	var candidates []string
	for _, sentence := range doc.Sentences() {
		text := strings.TrimSpace(sentence.Text)
		if len(text) < 40 || len(text) > 300 {
			continue
		}

		target := ""
		for _, entity := range entityTexts {
			if strings.Contains(text, entity) {
				target = entity
				break
			}
		}
		if target == "" {
			target = longestWord(text)
		}
		if target == "" {
			continue
		}

		candidates = append(candidates, strings.Replace(text, target, "{{c1::"+target+"}}", 1))
		if len(candidates) >= limit {
			break
		}
	}

	return candidates
}

func longestWord(sentence string) string {
	longest := ""
	for _, word := range strings.Fields(sentence) {
		word = strings.Trim(word, ".,;:!?()\"'")
		if len(word) > len(longest) && len(word) > 5 {
			longest = word
		}
	}
	return longest
}

func clozeAnswer(clozeText string) string {
	start := strings.Index(clozeText, "{{c1::")
	if start == -1 {
		return ""
	}
	rest := clozeText[start+len("{{c1::"):]
	end := strings.Index(rest, "}}")
	if end == -1 {
		return ""
	}
	return rest[:end]
}

func countTypes(cards []Card) map[string]int {
	types := make(map[string]int)
	for _, card := range cards {
		types[card.Type]++
	}
	return types
}
