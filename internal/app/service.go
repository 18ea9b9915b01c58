package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"navalingo/api/internal/auth"
	"navalingo/api/internal/authpw"
	"navalingo/api/internal/config"
	"navalingo/api/internal/export"
	"navalingo/api/internal/plan"
	"navalingo/api/internal/review"
	"navalingo/api/internal/revisions"
	"navalingo/api/internal/search"
	"navalingo/api/internal/store"
	"navalingo/api/internal/textproc"
	"navalingo/api/internal/util"
	"navalingo/api/internal/wordcap"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Tier         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	UpdateUserProfile(context.Context, string, string) error
	UpdateUserLanguage(context.Context, string, string) error
	UpdateUserTier(context.Context, string, string) error
	DeactivateUser(context.Context, string) error
	InsertFeedback(context.Context, store.Feedback) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	ListDocuments(context.Context, string, int) ([]store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	InsertDocument(context.Context, store.Document) error
	UpdateDocumentContent(context.Context, string, string, string, int) error
	UpdateDocumentTitle(context.Context, string, string) error
	SaveDocumentText(context.Context, string, string) error
	TrashDocument(context.Context, string) error
	RestoreDocument(context.Context, string) error
	ListTrashedDocuments(context.Context, string) ([]store.Document, error)
	DeleteDocument(context.Context, string) error
	EmptyTrash(context.Context, string) (int, error)
	Ping(ctx context.Context) error
}

// RefreshStore persists refresh sessions. Backed by Redis when configured,
// otherwise by the refresh_sessions table.
type RefreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// TextProcessor runs grammar correction and translation. Nil when no LLM
// backend is configured, which disables the processing endpoints.
type TextProcessor interface {
	Correct(ctx context.Context, req textproc.CorrectRequest) (*textproc.CorrectResult, error)
	Translate(ctx context.Context, req textproc.TranslateRequest) (*textproc.TranslateResult, error)
}

// RejectionStore remembers dismissed suggestions per document.
type RejectionStore interface {
	ForDocument(ctx context.Context, documentID string) (review.RejectionStore, error)
	RangeKeys(ctx context.Context, documentID string) ([]string, error)
	Clear(ctx context.Context, documentID string) error
}

type revisionService interface {
	EnsureDocumentRepo(documentID string, initial revisions.Content, author string) error
	CommitContent(documentID string, content revisions.Content, author, message string) (revisions.CommitInfo, error)
	History(documentID string, limit int) ([]revisions.CommitInfo, error)
	Restore(documentID, hash, author string) (revisions.Content, revisions.CommitInfo, error)
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	DeleteDocument(id string)
}

type exportService interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type emailSender interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
}

// Dependencies carries the backends the service orchestrates. Store, Refresh,
// Auth, Revisions and Rejections are required; the rest may be nil and the
// matching endpoints degrade.
type Dependencies struct {
	Store      *store.PostgresStore
	Refresh    RefreshStore
	Auth       *authpw.Service
	Email      emailSender
	Text       TextProcessor
	Search     searchService
	Export     exportService
	Revisions  *revisions.Service
	Rejections RejectionStore
}

type reviewRecord struct {
	expiresAt  time.Time
	documentID string
	ownerID    string
	mu         sync.Mutex
	session    *review.Session
}

type Service struct {
	cfg        config.Config
	store      dataStore
	refresh    RefreshStore
	authpw     *authpw.Service
	email      emailSender
	text       TextProcessor
	search     searchService
	export     exportService
	revisions  revisionService
	rejections RejectionStore

	reviewTTL time.Duration
	reviewMu  sync.Mutex
	reviews   map[string]*reviewRecord
}

func New(cfg config.Config, deps Dependencies) *Service {
	return &Service{
		cfg:        cfg,
		store:      deps.Store,
		refresh:    deps.Refresh,
		authpw:     deps.Auth,
		email:      deps.Email,
		text:       deps.Text,
		search:     deps.Search,
		export:     deps.Export,
		revisions:  deps.Revisions,
		rejections: deps.Rejections,
		reviewTTL:  30 * time.Minute,
		reviews:    make(map[string]*reviewRecord),
	}
}

// NewPGRefreshStore adapts the refresh_sessions table to RefreshStore for
// deployments without Redis.
func NewPGRefreshStore(pg *store.PostgresStore) RefreshStore {
	return pgRefreshStore{pg: pg}
}

type pgRefreshStore struct {
	pg *store.PostgresStore
}

func (s pgRefreshStore) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	return s.pg.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}

func (s pgRefreshStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	return s.pg.LookupRefreshSession(ctx, tokenHash)
}

func (s pgRefreshStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return s.pg.RevokeRefreshSession(ctx, tokenHash)
}

// NewExportStore adapts the document store to the export package's loader,
// resolving the owner's display name as the document author.
func NewExportStore(pg *store.PostgresStore) export.DataStore {
	return exportDocumentStore{store: pg}
}

type exportDocumentStore struct {
	store dataStore
}

func (e exportDocumentStore) GetDocumentForExport(ctx context.Context, id string) (export.Document, error) {
	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return export.Document{}, fmt.Errorf("load document for export: %w", err)
	}
	author := ""
	if owner, err := e.store.GetUserByID(ctx, doc.OwnerID); err == nil {
		author = owner.DisplayName
	}
	return export.Document{
		ID:        doc.ID,
		Title:     doc.Title,
		Text:      doc.ContentText,
		Author:    author,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// SendVerificationLink mails the account verification URL for a fresh signup.
func (s *Service) SendVerificationLink(to, userName, token string) error {
	if !s.SMTPConfigured() {
		return errors.New("smtp not configured")
	}
	verifyURL := strings.TrimRight(s.cfg.AppBaseURL, "/") + "/verify-email?token=" + token
	return s.email.SendVerificationEmail(to, userName, verifyURL)
}

// SendPasswordResetLink mails the password reset URL.
func (s *Service) SendPasswordResetLink(to, token string) error {
	if !s.SMTPConfigured() {
		return errors.New("smtp not configured")
	}
	resetURL := strings.TrimRight(s.cfg.AppBaseURL, "/") + "/reset-password?token=" + token
	return s.email.SendPasswordResetEmail(to, "there", resetURL)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreateSession issues a fresh access/refresh token pair for an already
// authenticated user.
func (s *Service) CreateSession(ctx context.Context, user store.User) (Session, error) {
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.refresh.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.refresh.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	tier := string(plan.Normalize(user.Tier))
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Tier: tier,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.refresh.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Tier:         tier,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Tier:      string(plan.Normalize(user.Tier)),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.refresh.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Profile(ctx context.Context, userID string) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":            user.ID,
		"displayName":   user.DisplayName,
		"email":         user.Email,
		"tier":          string(plan.Normalize(user.Tier)),
		"language":      user.Language,
		"emailVerified": user.IsEmailVerified,
		"createdAt":     user.CreatedAt,
	}, nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID, displayName string) error {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return domainError(http.StatusBadRequest, "invalid_display_name", "display name must not be empty", nil)
	}
	if len(displayName) > 120 {
		return domainError(http.StatusBadRequest, "invalid_display_name", "display name too long", nil)
	}
	return s.store.UpdateUserProfile(ctx, userID, displayName)
}

// UpdatePreferences applies the user's language and tier preferences. Empty
// fields are left unchanged; unknown tiers are normalized to free.
func (s *Service) UpdatePreferences(ctx context.Context, userID, language, tier string) error {
	language = strings.TrimSpace(language)
	if language != "" {
		if len(language) > 16 {
			return domainError(http.StatusBadRequest, "invalid_language", "language code too long", nil)
		}
		if err := s.store.UpdateUserLanguage(ctx, userID, language); err != nil {
			return err
		}
	}
	if tier != "" {
		if err := s.store.UpdateUserTier(ctx, userID, string(plan.Normalize(tier))); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) SubmitFeedback(ctx context.Context, userID, category, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return domainError(http.StatusBadRequest, "invalid_feedback", "feedback message must not be empty", nil)
	}
	if category == "" {
		category = "general"
	}
	return s.store.InsertFeedback(ctx, store.Feedback{
		ID:       util.NewID("fbk"),
		UserID:   userID,
		Category: category,
		Message:  message,
	})
}

// DeactivateAccount soft-deletes the account and revokes the caller's tokens.
func (s *Service) DeactivateAccount(ctx context.Context, session Session, refreshToken string) error {
	if err := s.store.DeactivateUser(ctx, session.UserID); err != nil {
		return err
	}
	return s.Logout(ctx, session, refreshToken)
}

func (s *Service) ListDocuments(ctx context.Context, session Session, limit int) ([]map[string]any, error) {
	documents, err := s.store.ListDocuments(ctx, session.UserID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		out = append(out, documentSummary(doc))
	}
	return out, nil
}

func (s *Service) CreateDocument(ctx context.Context, session Session, title, text string) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled"
	}
	pro := plan.IsPro(session.Tier)
	liveCap := wordcap.ForTier(pro).BaseCap
	if count := wordcap.Count(text); count > liveCap {
		liveCap = wordcap.InflatedCap(count, pro)
	}

	doc := store.Document{
		ID:          util.NewID("doc"),
		OwnerID:     session.UserID,
		Title:       title,
		ContentText: text,
		LiveWordCap: liveCap,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.revisions.EnsureDocumentRepo(doc.ID, revisions.Content{
		Title:       doc.Title,
		Text:        doc.ContentText,
		LiveWordCap: doc.LiveWordCap,
	}, session.UserName); err != nil {
		return nil, err
	}
	s.indexDocument(doc)

	created, err := s.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return documentDetail(doc), nil
	}
	return documentDetail(created), nil
}

func (s *Service) GetDocument(ctx context.Context, session Session, id string) (map[string]any, error) {
	doc, err := s.ownedDocument(ctx, session, id)
	if err != nil {
		return nil, err
	}
	return documentDetail(doc), nil
}

// UpdateDocumentContent persists an editor snapshot and recomputes the live
// word cap. aiUpdate marks writes produced by accepted AI output, which may
// inflate the cap past the tier base.
func (s *Service) UpdateDocumentContent(ctx context.Context, session Session, id, editorState, contentText string, aiUpdate bool) (map[string]any, error) {
	doc, err := s.ownedDocument(ctx, session, id)
	if err != nil {
		return nil, err
	}

	pro := plan.IsPro(session.Tier)
	count := wordcap.Count(contentText)
	nextCap := wordcap.NextCap(doc.LiveWordCap, count, pro, aiUpdate)

	if err := s.store.UpdateDocumentContent(ctx, id, editorState, contentText, nextCap); err != nil {
		return nil, err
	}
	if _, err := s.revisions.CommitContent(id, revisions.Content{
		Title:       doc.Title,
		Text:        contentText,
		LiveWordCap: nextCap,
	}, session.UserName, "Edit document"); err != nil {
		log.Printf("revisions: commit %s: %v", id, err)
	}
	s.indexDocument(store.Document{ID: id, OwnerID: doc.OwnerID, Title: doc.Title, ContentText: contentText})

	return map[string]any{
		"id":          id,
		"wordCount":   count,
		"liveWordCap": nextCap,
	}, nil
}

func (s *Service) UpdateDocumentTitle(ctx context.Context, session Session, id, title string) error {
	doc, err := s.ownedDocument(ctx, session, id)
	if err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return domainError(http.StatusBadRequest, "invalid_title", "title must not be empty", nil)
	}
	if err := s.store.UpdateDocumentTitle(ctx, id, title); err != nil {
		return err
	}
	if _, err := s.revisions.CommitContent(id, revisions.Content{
		Title:       title,
		Text:        doc.ContentText,
		LiveWordCap: doc.LiveWordCap,
	}, session.UserName, "Rename document"); err != nil {
		log.Printf("revisions: commit %s: %v", id, err)
	}
	s.indexDocument(store.Document{ID: id, OwnerID: doc.OwnerID, Title: title, ContentText: doc.ContentText})
	return nil
}

// SaveDocumentText is the unload-beacon path: plain text only, no editor
// state, so a tab close never loses typed words.
func (s *Service) SaveDocumentText(ctx context.Context, session Session, id, text string) error {
	doc, err := s.ownedDocument(ctx, session, id)
	if err != nil {
		return err
	}
	if err := s.store.SaveDocumentText(ctx, id, text); err != nil {
		return err
	}
	if _, err := s.revisions.CommitContent(id, revisions.Content{
		Title:       doc.Title,
		Text:        text,
		LiveWordCap: doc.LiveWordCap,
	}, session.UserName, "Autosave"); err != nil {
		log.Printf("revisions: commit %s: %v", id, err)
	}
	s.indexDocument(store.Document{ID: id, OwnerID: doc.OwnerID, Title: doc.Title, ContentText: text})
	return nil
}

func (s *Service) TrashDocument(ctx context.Context, session Session, id string) error {
	if _, err := s.ownedDocument(ctx, session, id); err != nil {
		return err
	}
	if err := s.store.TrashDocument(ctx, id); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteDocument(id)
	}
	return nil
}

func (s *Service) RestoreDocument(ctx context.Context, session Session, id string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, domainError(http.StatusNotFound, "not_found", "document not found", nil)
		}
		return nil, err
	}
	if doc.OwnerID != session.UserID {
		return nil, domainError(http.StatusNotFound, "not_found", "document not found", nil)
	}
	if err := s.store.RestoreDocument(ctx, id); err != nil {
		return nil, err
	}
	doc.TrashedAt = nil
	s.indexDocument(doc)
	return documentSummary(doc), nil
}

func (s *Service) ListTrash(ctx context.Context, session Session) ([]map[string]any, error) {
	documents, err := s.store.ListTrashedDocuments(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		entry := documentSummary(doc)
		if doc.TrashedAt != nil {
			entry["trashedAt"] = doc.TrashedAt
		}
		out = append(out, entry)
	}
	return out, nil
}

// EmptyTrash permanently deletes every trashed document the caller owns.
func (s *Service) EmptyTrash(ctx context.Context, session Session) (int, error) {
	trashed, err := s.store.ListTrashedDocuments(ctx, session.UserID)
	if err != nil {
		return 0, err
	}
	if s.search != nil {
		for _, doc := range trashed {
			s.search.DeleteDocument(doc.ID)
		}
	}
	return s.store.EmptyTrash(ctx, session.UserID)
}

func (s *Service) DocumentHistory(ctx context.Context, session Session, id string, limit int) ([]map[string]any, error) {
	if _, err := s.ownedDocument(ctx, session, id); err != nil {
		return nil, err
	}
	commits, err := s.revisions.History(id, limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		out = append(out, map[string]any{
			"hash":      commit.Hash,
			"message":   commit.Message,
			"author":    commit.Author,
			"createdAt": commit.CreatedAt,
		})
	}
	return out, nil
}

// RestoreRevision re-commits an old snapshot as the new head and writes it
// through to the document row. The editor state is cleared so clients rebuild
// it from the restored text.
func (s *Service) RestoreRevision(ctx context.Context, session Session, id, hash string) (map[string]any, error) {
	doc, err := s.ownedDocument(ctx, session, id)
	if err != nil {
		return nil, err
	}
	content, commit, err := s.revisions.Restore(id, hash, session.UserName)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "revision_not_found", "revision not found", nil)
	}
	if err := s.store.UpdateDocumentContent(ctx, id, "", content.Text, content.LiveWordCap); err != nil {
		return nil, err
	}
	if content.Title != doc.Title {
		if err := s.store.UpdateDocumentTitle(ctx, id, content.Title); err != nil {
			return nil, err
		}
	}
	s.indexDocument(store.Document{ID: id, OwnerID: doc.OwnerID, Title: content.Title, ContentText: content.Text})
	return map[string]any{
		"id":          id,
		"title":       content.Title,
		"contentText": content.Text,
		"liveWordCap": content.LiveWordCap,
		"revision": map[string]any{
			"hash":      commit.Hash,
			"message":   commit.Message,
			"author":    commit.Author,
			"createdAt": commit.CreatedAt,
		},
	}, nil
}

func (s *Service) SearchDocuments(session Session, query string, limit, offset int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: query}
	}
	return s.search.Search(search.Query{
		Text:    query,
		OwnerID: session.UserID,
		Limit:   limit,
		Offset:  offset,
	})
}

func (s *Service) ExportDocument(ctx context.Context, session Session, id string, format export.Format) (*export.Result, error) {
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "export_unavailable", "document export is not configured", nil)
	}
	if !plan.Can(plan.Normalize(session.Tier), plan.FeatureExport) {
		return nil, domainError(http.StatusForbidden, "upgrade_required", "document export requires a pro plan", nil)
	}
	if _, err := s.ownedDocument(ctx, session, id); err != nil {
		return nil, err
	}
	return s.export.Export(ctx, export.Request{DocumentID: id, Format: format})
}

func (s *Service) ownedDocument(ctx context.Context, session Session, id string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Document{}, domainError(http.StatusNotFound, "not_found", "document not found", nil)
		}
		return store.Document{}, err
	}
	// Other users' documents look identical to missing ones.
	if doc.OwnerID != session.UserID {
		return store.Document{}, domainError(http.StatusNotFound, "not_found", "document not found", nil)
	}
	if doc.TrashedAt != nil {
		return store.Document{}, domainError(http.StatusNotFound, "not_found", "document not found", nil)
	}
	return doc, nil
}

func (s *Service) indexDocument(doc store.Document) {
	if s.search == nil {
		return
	}
	s.search.IndexDocument(search.DocumentRecord{
		ID:      doc.ID,
		Title:   doc.Title,
		Text:    doc.ContentText,
		OwnerID: doc.OwnerID,
	})
}

func documentSummary(doc store.Document) map[string]any {
	return map[string]any{
		"id":          doc.ID,
		"title":       doc.Title,
		"wordCount":   wordcap.Count(doc.ContentText),
		"liveWordCap": doc.LiveWordCap,
		"updatedAt":   doc.UpdatedAt,
		"createdAt":   doc.CreatedAt,
	}
}

func documentDetail(doc store.Document) map[string]any {
	detail := documentSummary(doc)
	detail["editorState"] = doc.EditorState
	detail["contentText"] = doc.ContentText
	return detail
}
