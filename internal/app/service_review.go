package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"navalingo/api/internal/plan"
	"navalingo/api/internal/review"
	"navalingo/api/internal/revisions"
	"navalingo/api/internal/store"
	"navalingo/api/internal/textproc"
	"navalingo/api/internal/util"
	"navalingo/api/internal/wordcap"
)

// ProcessTextInput is the request body of the text-processing endpoint.
type ProcessTextInput struct {
	Text       string `json:"text"`
	Action     string `json:"action"`
	SourceLang string `json:"sourceLang"`
	TargetLang string `json:"targetLang"`
	MaxWords   int    `json:"maxWords"`
	DocumentID string `json:"documentId"`
	Extra      struct {
		RejectionList []string `json:"rejectionList"`
		Snippet       bool     `json:"snippet"`
	} `json:"extra"`
}

// ReviewCommandInput carries the optional arguments of review commands.
type ReviewCommandInput struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
}

// ProcessText dispatches a correction or translation request, enforcing the
// caller's tier word limit and feature gates.
func (s *Service) ProcessText(ctx context.Context, session Session, input ProcessTextInput) (map[string]any, error) {
	if s.text == nil {
		return nil, domainError(http.StatusServiceUnavailable, "processing_unavailable", "text processing is not configured", nil)
	}

	tier := plan.Normalize(session.Tier)
	maxWords := s.clampMaxWords(input.MaxWords, session.Tier)

	switch input.Action {
	case textproc.ActionCorrect:
		if !plan.Can(tier, plan.FeatureGrammarCheck) {
			return nil, domainError(http.StatusForbidden, "upgrade_required", "grammar check is not available on this plan", nil)
		}
		rejectionList := input.Extra.RejectionList
		if input.DocumentID != "" && s.rejections != nil {
			if keys, err := s.rejections.RangeKeys(ctx, input.DocumentID); err == nil {
				rejectionList = append(rejectionList, keys...)
			}
		}
		result, err := s.text.Correct(ctx, textproc.CorrectRequest{
			Text:          input.Text,
			Language:      input.SourceLang,
			MaxWords:      maxWords,
			RejectionList: rejectionList,
		})
		if err != nil {
			return nil, mapProcessingError(err)
		}
		return map[string]any{
			"action":      input.Action,
			"suggestions": result.Suggestions,
			"wordCount":   result.WordCount,
		}, nil

	case textproc.ActionTranslate, textproc.ActionTranslateSnippet:
		snippet := input.Action == textproc.ActionTranslateSnippet || input.Extra.Snippet
		feature := plan.FeatureTranslate
		if snippet {
			feature = plan.FeatureTranslateSnippet
		}
		if !plan.Can(tier, feature) {
			return nil, domainError(http.StatusForbidden, "upgrade_required", "snippet translation requires a pro plan", nil)
		}
		if input.TargetLang == "" {
			return nil, domainError(http.StatusBadRequest, "missing_target_lang", "targetLang is required for translation", nil)
		}
		result, err := s.text.Translate(ctx, textproc.TranslateRequest{
			Text:           input.Text,
			TargetLanguage: input.TargetLang,
			MaxWords:       maxWords,
			Snippet:        snippet,
		})
		if err != nil {
			return nil, mapProcessingError(err)
		}
		return map[string]any{
			"action":         input.Action,
			"translatedText": result.TranslatedText,
			"wordCount":      result.WordCount,
		}, nil

	default:
		return nil, domainError(http.StatusBadRequest, "unknown_action", "unknown processing action", map[string]any{"action": input.Action})
	}
}

func (s *Service) clampMaxWords(requested int, tier string) int {
	limit := wordcap.ForTier(plan.IsPro(tier)).BaseCap
	if requested > 0 && requested < limit {
		return requested
	}
	return limit
}

func mapProcessingError(err error) error {
	switch {
	case errors.Is(err, textproc.ErrEmptyText):
		return domainError(http.StatusBadRequest, "empty_text", "text must not be empty", nil)
	case errors.Is(err, textproc.ErrWordLimit):
		return domainError(http.StatusUnprocessableEntity, "word_limit_exceeded", "text exceeds the plan word limit", nil)
	case errors.Is(err, textproc.ErrUnknownAction):
		return domainError(http.StatusBadRequest, "unknown_action", "unknown processing action", nil)
	default:
		return err
	}
}

// StartReview fetches a fresh suggestion batch for the document's current text
// and opens a review session over it. The session lives in memory until it is
// resolved, closed, or expires.
func (s *Service) StartReview(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	if s.text == nil {
		return nil, domainError(http.StatusServiceUnavailable, "processing_unavailable", "text processing is not configured", nil)
	}
	doc, err := s.ownedDocument(ctx, session, documentID)
	if err != nil {
		return nil, err
	}
	if !plan.Can(plan.Normalize(session.Tier), plan.FeatureGrammarCheck) {
		return nil, domainError(http.StatusForbidden, "upgrade_required", "grammar check is not available on this plan", nil)
	}

	language := ""
	if user, err := s.store.GetUserByID(ctx, session.UserID); err == nil {
		language = user.Language
	}

	var rejectionList []string
	if s.rejections != nil {
		if keys, err := s.rejections.RangeKeys(ctx, documentID); err == nil {
			rejectionList = keys
		}
	}

	result, err := s.text.Correct(ctx, textproc.CorrectRequest{
		Text:          doc.ContentText,
		Language:      language,
		MaxWords:      s.clampMaxWords(doc.LiveWordCap, session.Tier),
		RejectionList: rejectionList,
	})
	if err != nil {
		return nil, mapProcessingError(err)
	}

	var rejectionView review.RejectionStore
	if s.rejections != nil {
		if view, err := s.rejections.ForDocument(ctx, documentID); err == nil {
			rejectionView = view
		} else {
			log.Printf("rejections: load view %s: %v", documentID, err)
		}
	}

	sessionID := util.NewID("rs")
	record := &reviewRecord{
		expiresAt:  time.Now().Add(s.reviewTTL),
		documentID: documentID,
		ownerID:    session.UserID,
	}
	record.session = review.NewSession(doc.ContentText, result.Suggestions, rejectionView, review.Callbacks{
		OnFinish: s.reviewFinisher(doc, session),
	})
	s.storeReviewRecord(sessionID, record)

	return s.reviewState(sessionID, record), nil
}

// reviewFinisher persists the committed text when a review session resolves
// with changes: document row, revision history and the search index. The
// session outlives the request that created it, so writes use a fresh context.
func (s *Service) reviewFinisher(doc store.Document, session Session) func(finalText string) {
	return func(finalText string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		pro := plan.IsPro(session.Tier)
		nextCap := wordcap.NextCap(doc.LiveWordCap, wordcap.Count(finalText), pro, true)
		if err := s.store.UpdateDocumentContent(ctx, doc.ID, "", finalText, nextCap); err != nil {
			log.Printf("review: persist %s: %v", doc.ID, err)
			return
		}
		if _, err := s.revisions.CommitContent(doc.ID, revisions.Content{
			Title:       doc.Title,
			Text:        finalText,
			LiveWordCap: nextCap,
		}, session.UserName, "Apply corrections"); err != nil {
			log.Printf("revisions: commit %s: %v", doc.ID, err)
		}
		s.indexDocument(store.Document{ID: doc.ID, OwnerID: doc.OwnerID, Title: doc.Title, ContentText: finalText})
	}
}

// ReviewState reports the current state of an open review session.
func (s *Service) ReviewState(session Session, sessionID string) (map[string]any, error) {
	record, err := s.lookupReviewRecord(session, sessionID)
	if err != nil {
		return nil, err
	}
	return s.reviewState(sessionID, record), nil
}

// ReviewCommand applies one review command and returns the updated state.
// Resolved and closed sessions are evicted from the session map.
func (s *Service) ReviewCommand(session Session, sessionID, command string, input ReviewCommandInput) (map[string]any, error) {
	record, err := s.lookupReviewRecord(session, sessionID)
	if err != nil {
		return nil, err
	}

	record.mu.Lock()
	switch command {
	case "accept":
		if input.ID != "" {
			record.session.SetActive(input.ID)
		}
		record.session.AcceptActive()
	case "reject":
		if input.ID != "" {
			record.session.Reject(input.ID)
		} else {
			record.session.RejectActive()
		}
	case "accept-all":
		record.session.AcceptAll()
	case "navigate":
		dir := 1
		if input.Direction == "prev" {
			dir = -1
		}
		record.session.Navigate(dir)
	case "active":
		record.session.SetActive(input.ID)
	case "close":
		record.session.Close()
	default:
		record.mu.Unlock()
		return nil, domainError(http.StatusBadRequest, "unknown_command", "unknown review command", map[string]any{"command": command})
	}
	resolved := record.session.Resolved() || command == "close"
	record.mu.Unlock()

	state := s.reviewState(sessionID, record)
	if resolved {
		s.dropReviewRecord(sessionID)
		state["closed"] = true
	}
	return state, nil
}

func (s *Service) reviewState(sessionID string, record *reviewRecord) map[string]any {
	record.mu.Lock()
	defer record.mu.Unlock()
	suggestions := record.session.Suggestions()
	if suggestions == nil {
		suggestions = []review.Suggestion{}
	}
	return map[string]any{
		"sessionId":   sessionID,
		"documentId":  record.documentID,
		"liveText":    record.session.LiveText(),
		"resolved":    record.session.Resolved(),
		"activeId":    record.session.ActiveID(),
		"suggestions": suggestions,
	}
}

func (s *Service) storeReviewRecord(sessionID string, record *reviewRecord) {
	s.reviewMu.Lock()
	defer s.reviewMu.Unlock()
	s.reviews[sessionID] = record
}

// lookupReviewRecord sweeps expired sessions, then resolves the requested one.
// Sessions are private to the user who started them.
func (s *Service) lookupReviewRecord(session Session, sessionID string) (*reviewRecord, error) {
	s.reviewMu.Lock()
	defer s.reviewMu.Unlock()
	now := time.Now()
	for id, record := range s.reviews {
		if now.After(record.expiresAt) {
			delete(s.reviews, id)
		}
	}
	record, ok := s.reviews[sessionID]
	if !ok || record.ownerID != session.UserID {
		return nil, domainError(http.StatusNotFound, "session_not_found", "review session not found or expired", nil)
	}
	return record, nil
}

func (s *Service) dropReviewRecord(sessionID string) {
	s.reviewMu.Lock()
	defer s.reviewMu.Unlock()
	delete(s.reviews, sessionID)
}
