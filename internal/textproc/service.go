package textproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"navalingo/api/internal/review"
	"navalingo/api/internal/wordcap"
)

// Processing actions accepted by the text endpoint.
const (
	ActionCorrect          = "correct-live"
	ActionTranslate        = "translate"
	ActionTranslateSnippet = "translate-snippet"
)

var (
	ErrEmptyText     = errors.New("textproc: text is empty")
	ErrWordLimit     = errors.New("textproc: text exceeds word limit")
	ErrUnknownAction = errors.New("textproc: unknown action")
)

type completer interface {
	complete(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// Service runs correction and translation requests through the LLM backend.
type Service struct {
	llm completer
}

func NewService(client *Client) *Service {
	return &Service{llm: client}
}

// CorrectRequest asks for grammar suggestions against Text.
// RejectionList holds "start-end" range keys the user has previously
// dismissed; matching suggestions are filtered out.
type CorrectRequest struct {
	Text          string
	Language      string
	MaxWords      int
	RejectionList []string
}

type CorrectResult struct {
	Suggestions []review.Suggestion `json:"suggestions"`
	WordCount   int                 `json:"wordCount"`
}

func (s *Service) Correct(ctx context.Context, req CorrectRequest) (*CorrectResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	count := wordcap.Count(req.Text)
	if req.MaxWords > 0 && count > req.MaxWords {
		return nil, ErrWordLimit
	}

	content, err := s.llm.complete(ctx, correctSystemPrompt, buildCorrectMessage(req))
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Suggestions []review.Suggestion `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("llm: parse JSON output: %w", err)
	}

	return &CorrectResult{
		Suggestions: filterSuggestions(req.Text, parsed.Suggestions, req.RejectionList),
		WordCount:   count,
	}, nil
}

// TranslateRequest asks for a full or snippet translation of Text.
type TranslateRequest struct {
	Text           string
	TargetLanguage string
	MaxWords       int
	Snippet        bool
}

type TranslateResult struct {
	TranslatedText string `json:"translatedText"`
	WordCount      int    `json:"wordCount"`
}

func (s *Service) Translate(ctx context.Context, req TranslateRequest) (*TranslateResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	count := wordcap.Count(req.Text)
	if req.MaxWords > 0 && count > req.MaxWords {
		return nil, ErrWordLimit
	}

	prompt := translateSystemPrompt
	if req.Snippet {
		prompt = translateSnippetSystemPrompt
	}

	content, err := s.llm.complete(ctx, prompt, buildTranslateMessage(req))
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Translated string `json:"translated"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("llm: parse JSON output: %w", err)
	}
	if parsed.Translated == "" {
		return nil, errors.New("llm: empty translation")
	}

	return &TranslateResult{
		TranslatedText: parsed.Translated,
		WordCount:      count,
	}, nil
}

// filterSuggestions drops entries the model should not have produced:
// offsets outside the text, a stated original phrase that does not match
// the text at its offsets, and ranges the user already rejected.
func filterSuggestions(text string, batch []review.Suggestion, rejectionList []string) []review.Suggestion {
	rejected := make(map[string]bool, len(rejectionList))
	for _, key := range rejectionList {
		rejected[key] = true
	}

	runes := []rune(text)
	kept := make([]review.Suggestion, 0, len(batch))
	for _, sugg := range batch {
		if sugg.Start < 0 || sugg.End <= sugg.Start || sugg.End > len(runes) {
			continue
		}
		if string(runes[sugg.Start:sugg.End]) != sugg.Original {
			continue
		}
		if rejected[review.RangeKey(sugg.Start, sugg.End)] {
			continue
		}
		kept = append(kept, sugg)
	}
	return kept
}

func buildCorrectMessage(req CorrectRequest) string {
	var b strings.Builder
	if req.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", req.Language)
	}
	if len(req.RejectionList) > 0 {
		keys, _ := json.Marshal(req.RejectionList)
		fmt.Fprintf(&b, "Do not flag these character ranges (start-end): %s\n", keys)
	}
	b.WriteString("Text:\n")
	b.WriteString(req.Text)
	return b.String()
}

func buildTranslateMessage(req TranslateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target language: %s\n", req.TargetLanguage)
	b.WriteString("Text:\n")
	b.WriteString(req.Text)
	return b.String()
}

const correctSystemPrompt = `You are a grammar and spelling correction assistant. Output JSON only.

Rules:
- start/end are character (rune) offsets into the input text, 0-based, end exclusive.
- "original" must be exactly the text between start and end.
- Suggestions must not overlap.
- Do not flag ranges the user has asked you to skip.
- If the text is already correct, return an empty suggestions array.
- category is one of: grammar, spelling, punctuation, style.

Output format (JSON only, no explanation or markdown):
{
  "suggestions": [
    {
      "start": <int>,
      "end": <int>,
      "original": "<text at [start,end)>",
      "replacement": "<corrected text>",
      "category": "<category>",
      "explanation": "<short reason>"
    }
  ]
}`

const translateSystemPrompt = `You are a professional translator. Output JSON only.

Rules:
- Translate the full text into the target language.
- Preserve paragraph breaks and formatting.
- Do not add commentary.

Output format (JSON only, no explanation or markdown):
{"translated": "<translated text>"}`

const translateSnippetSystemPrompt = `You are a professional translator. Output JSON only.

Rules:
- The input is a short snippet from a larger document. Translate only the snippet.
- Keep the register and tone consistent with a fragment; do not complete sentences.
- Do not add commentary.

Output format (JSON only, no explanation or markdown):
{"translated": "<translated snippet>"}`
