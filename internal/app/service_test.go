package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"navalingo/api/internal/authpw"
	"navalingo/api/internal/config"
	"navalingo/api/internal/export"
	"navalingo/api/internal/plan"
	"navalingo/api/internal/rejections"
	"navalingo/api/internal/review"
	"navalingo/api/internal/revisions"
	"navalingo/api/internal/search"
	"navalingo/api/internal/store"
	"navalingo/api/internal/textproc"
	"navalingo/api/internal/wordcap"
)

type resetRecord struct {
	userID string
	used   bool
}

// fakeStore is an in-memory dataStore that also satisfies authpw.UserStore so
// the auth handlers can be exercised end to end.
type fakeStore struct {
	mu        sync.Mutex
	users     map[string]store.User
	documents map[string]store.Document
	feedback  []store.Feedback
	resets    map[string]resetRecord
	revoked   map[string]bool
	pingFn    func(context.Context) error
	seq       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     make(map[string]store.User),
		documents: make(map[string]store.Document),
		resets:    make(map[string]resetRecord),
		revoked:   make(map[string]bool),
	}
}

func (f *fakeStore) nextTime() time.Time {
	f.seq++
	return time.Unix(int64(1_700_000_000+f.seq), 0)
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok || user.DeactivatedAt != nil {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if strings.EqualFold(user.Email, email) && user.DeactivatedAt == nil {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user.Email = strings.ToLower(user.Email)
	user.CreatedAt = f.nextTime()
	user.UpdatedAt = user.CreatedAt
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) UpdateUserVerificationToken(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.VerificationToken = token
	f.users[userID] = user
	return nil
}

func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, user := range f.users {
		if user.VerificationToken == token && token != "" {
			user.IsEmailVerified = true
			user.VerificationToken = ""
			f.users[id] = user
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	f.users[userID] = user
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = resetRecord{userID: userID}
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.resets[token]
	if !ok || record.used {
		return "", sql.ErrNoRows
	}
	return record.userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.resets[token]
	if !ok {
		return sql.ErrNoRows
	}
	record.used = true
	f.resets[token] = record
	return nil
}

func (f *fakeStore) UpdateUserProfile(_ context.Context, userID, displayName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.DisplayName = displayName
	f.users[userID] = user
	return nil
}

func (f *fakeStore) UpdateUserLanguage(_ context.Context, userID, language string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.Language = language
	f.users[userID] = user
	return nil
}

func (f *fakeStore) UpdateUserTier(_ context.Context, userID, tier string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.Tier = tier
	f.users[userID] = user
	return nil
}

func (f *fakeStore) DeactivateUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	now := f.nextTime()
	user.DeactivatedAt = &now
	f.users[userID] = user
	return nil
}

func (f *fakeStore) InsertFeedback(_ context.Context, feedback store.Feedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedback = append(f.feedback, feedback)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func (f *fakeStore) ListDocuments(_ context.Context, ownerID string, limit int) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Document
	for _, doc := range f.documents {
		if doc.OwnerID == ownerID && doc.TrashedAt == nil {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) GetDocument(_ context.Context, id string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[id]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	return doc, nil
}

func (f *fakeStore) InsertDocument(_ context.Context, doc store.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc.CreatedAt = f.nextTime()
	doc.UpdatedAt = doc.CreatedAt
	f.documents[doc.ID] = doc
	return nil
}

func (f *fakeStore) UpdateDocumentContent(_ context.Context, id, editorState, contentText string, liveWordCap int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[id]
	if !ok {
		return sql.ErrNoRows
	}
	doc.EditorState = editorState
	doc.ContentText = contentText
	doc.LiveWordCap = liveWordCap
	doc.UpdatedAt = f.nextTime()
	f.documents[id] = doc
	return nil
}

func (f *fakeStore) UpdateDocumentTitle(_ context.Context, id, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[id]
	if !ok {
		return sql.ErrNoRows
	}
	doc.Title = title
	doc.UpdatedAt = f.nextTime()
	f.documents[id] = doc
	return nil
}

func (f *fakeStore) SaveDocumentText(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[id]
	if !ok {
		return sql.ErrNoRows
	}
	doc.ContentText = text
	doc.UpdatedAt = f.nextTime()
	f.documents[id] = doc
	return nil
}

func (f *fakeStore) TrashDocument(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[id]
	if !ok {
		return sql.ErrNoRows
	}
	now := f.nextTime()
	doc.TrashedAt = &now
	f.documents[id] = doc
	return nil
}

func (f *fakeStore) RestoreDocument(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[id]
	if !ok {
		return sql.ErrNoRows
	}
	doc.TrashedAt = nil
	f.documents[id] = doc
	return nil
}

func (f *fakeStore) ListTrashedDocuments(_ context.Context, ownerID string) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Document
	for _, doc := range f.documents {
		if doc.OwnerID == ownerID && doc.TrashedAt != nil {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrashedAt.After(*out[j].TrashedAt) })
	return out, nil
}

func (f *fakeStore) DeleteDocument(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.documents, id)
	return nil
}

func (f *fakeStore) EmptyTrash(_ context.Context, ownerID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deleted := 0
	for id, doc := range f.documents {
		if doc.OwnerID == ownerID && doc.TrashedAt != nil {
			delete(f.documents, id)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type refreshEntry struct {
	user      store.User
	expiresAt time.Time
}

type fakeRefresh struct {
	mu       sync.Mutex
	sessions map[string]refreshEntry
}

func newFakeRefresh() *fakeRefresh {
	return &fakeRefresh{sessions: make(map[string]refreshEntry)}
}

func (f *fakeRefresh) SaveRefreshSession(_ context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[tokenHash] = refreshEntry{user: user, expiresAt: expiresAt}
	return nil
}

func (f *fakeRefresh) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.sessions[tokenHash]
	if !ok || time.Now().After(entry.expiresAt) {
		return store.User{}, sql.ErrNoRows
	}
	return entry.user, nil
}

func (f *fakeRefresh) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, tokenHash)
	return nil
}

// fakeText returns canned suggestions, filtering those on the rejection list
// the way the real processor does.
type fakeText struct {
	mu          sync.Mutex
	suggestions []review.Suggestion
	translated  string
	err         error
	lastCorrect textproc.CorrectRequest
	lastTrans   textproc.TranslateRequest
}

func (f *fakeText) Correct(_ context.Context, req textproc.CorrectRequest) (*textproc.CorrectResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCorrect = req
	if f.err != nil {
		return nil, f.err
	}
	rejected := make(map[string]struct{}, len(req.RejectionList))
	for _, key := range req.RejectionList {
		rejected[key] = struct{}{}
	}
	out := make([]review.Suggestion, 0, len(f.suggestions))
	for _, sg := range f.suggestions {
		if _, ok := rejected[review.RangeKey(sg.Start, sg.End)]; ok {
			continue
		}
		out = append(out, sg)
	}
	return &textproc.CorrectResult{Suggestions: out, WordCount: wordcap.Count(req.Text)}, nil
}

func (f *fakeText) Translate(_ context.Context, req textproc.TranslateRequest) (*textproc.TranslateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTrans = req
	if f.err != nil {
		return nil, f.err
	}
	return &textproc.TranslateResult{TranslatedText: f.translated, WordCount: wordcap.Count(req.Text)}, nil
}

type fakeCommit struct {
	hash    string
	content revisions.Content
	message string
	author  string
}

type fakeRevs struct {
	mu      sync.Mutex
	commits map[string][]fakeCommit
}

func newFakeRevs() *fakeRevs {
	return &fakeRevs{commits: make(map[string][]fakeCommit)}
}

func (f *fakeRevs) EnsureDocumentRepo(documentID string, initial revisions.Content, author string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.commits[documentID]) > 0 {
		return nil
	}
	f.commits[documentID] = append(f.commits[documentID], fakeCommit{
		hash:    fmt.Sprintf("%s-0", documentID),
		content: initial,
		message: "Create document",
		author:  author,
	})
	return nil
}

func (f *fakeRevs) CommitContent(documentID string, content revisions.Content, author, message string) (revisions.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	commit := fakeCommit{
		hash:    fmt.Sprintf("%s-%d", documentID, len(f.commits[documentID])),
		content: content,
		message: message,
		author:  author,
	}
	f.commits[documentID] = append(f.commits[documentID], commit)
	return revisions.CommitInfo{Hash: commit.hash, Message: message, Author: author}, nil
}

func (f *fakeRevs) History(documentID string, limit int) ([]revisions.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	commits := f.commits[documentID]
	out := make([]revisions.CommitInfo, 0, len(commits))
	for i := len(commits) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, revisions.CommitInfo{Hash: commits[i].hash, Message: commits[i].message, Author: commits[i].author})
	}
	return out, nil
}

func (f *fakeRevs) Restore(documentID, hash, author string) (revisions.Content, revisions.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, commit := range f.commits[documentID] {
		if commit.hash == hash {
			restored := fakeCommit{
				hash:    fmt.Sprintf("%s-%d", documentID, len(f.commits[documentID])),
				content: commit.content,
				message: "Restore revision " + hash,
				author:  author,
			}
			f.commits[documentID] = append(f.commits[documentID], restored)
			return restored.content, revisions.CommitInfo{Hash: restored.hash, Message: restored.message, Author: author}, nil
		}
	}
	return revisions.Content{}, revisions.CommitInfo{}, errors.New("revision not found")
}

type fakeSearch struct {
	mu      sync.Mutex
	indexed map[string]search.DocumentRecord
	deleted []string
}

func newFakeSearch() *fakeSearch {
	return &fakeSearch{indexed: make(map[string]search.DocumentRecord)}
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := []search.Result{}
	for _, record := range f.indexed {
		if record.OwnerID != q.OwnerID {
			continue
		}
		if strings.Contains(strings.ToLower(record.Text), strings.ToLower(q.Text)) ||
			strings.Contains(strings.ToLower(record.Title), strings.ToLower(q.Text)) {
			results = append(results, search.Result{ID: record.ID, Title: record.Title, Snippet: record.Text})
		}
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text}
}

func (f *fakeSearch) IndexDocument(doc search.DocumentRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed[doc.ID] = doc
}

func (f *fakeSearch) DeleteDocument(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.indexed, id)
	f.deleted = append(f.deleted, id)
}

type stubExporter struct{}

func (stubExporter) Export(_ context.Context, req export.Request) (*export.Result, error) {
	return &export.Result{Data: []byte("%PDF"), Filename: req.DocumentID + ".pdf", MimeType: "application/pdf"}, nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  time.Hour,
			RefreshTTL: 24 * time.Hour,
			AppBaseURL: "http://localhost:3000",
		},
		store:      fs,
		refresh:    newFakeRefresh(),
		authpw:     authpw.NewService(fs, "test-secret"),
		text:       &fakeText{},
		search:     newFakeSearch(),
		revisions:  newFakeRevs(),
		rejections: rejections.NewMemoryStore(),
		reviewTTL:  30 * time.Minute,
		reviews:    make(map[string]*reviewRecord),
	}
}

func seedUser(fs *fakeStore, id, tier string) store.User {
	user := store.User{
		ID:              id,
		DisplayName:     "Avery",
		Email:           id + "@example.com",
		Tier:            tier,
		Language:        "en",
		IsEmailVerified: true,
	}
	fs.users[id] = user
	return user
}

func seedSession(t *testing.T, svc *Service, fs *fakeStore, id, tier string) Session {
	t.Helper()
	user := seedUser(fs, id, tier)
	session, err := svc.CreateSession(context.Background(), user)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return session
}

func TestSessionIssueRefreshLogout(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	session := seedSession(t, svc, fs, "user-1", "pro")
	if session.Tier != "pro" {
		t.Fatalf("expected tier pro, got %q", session.Tier)
	}

	parsed, err := svc.SessionFromToken(ctx, session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	if parsed.UserID != "user-1" || parsed.Tier != "pro" {
		t.Fatalf("unexpected session: %+v", parsed)
	}

	rotated, err := svc.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if rotated.RefreshToken == session.RefreshToken {
		t.Fatalf("expected refresh token rotation")
	}
	if _, err := svc.Refresh(ctx, session.RefreshToken); err == nil {
		t.Fatalf("expected old refresh token to be revoked")
	}

	if err := svc.Logout(ctx, rotated, rotated.RefreshToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, rotated.Token); err == nil {
		t.Fatalf("expected revoked access token to be rejected")
	}
}

func TestCreateDocumentCapDefaults(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	session := seedSession(t, svc, fs, "user-1", "free")

	doc, err := svc.CreateDocument(ctx, session, "  ", "a short note")
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	if doc["title"] != "Untitled" {
		t.Fatalf("expected default title, got %v", doc["title"])
	}
	if doc["liveWordCap"] != wordcap.ForTier(false).BaseCap {
		t.Fatalf("expected base cap %d, got %v", wordcap.ForTier(false).BaseCap, doc["liveWordCap"])
	}

	long := strings.TrimSpace(strings.Repeat("word ", 250))
	inflated, err := svc.CreateDocument(ctx, session, "Long", long)
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	if inflated["liveWordCap"].(int) <= 250 {
		t.Fatalf("expected inflated cap above word count, got %v", inflated["liveWordCap"])
	}
}

func TestUpdateDocumentContentCapLifecycle(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	session := seedSession(t, svc, fs, "user-1", "free")

	created, err := svc.CreateDocument(ctx, session, "Doc", "start")
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	id := created["id"].(string)

	long := strings.TrimSpace(strings.Repeat("word ", 240))
	payload, err := svc.UpdateDocumentContent(ctx, session, id, "", long, true)
	if err != nil {
		t.Fatalf("UpdateDocumentContent failed: %v", err)
	}
	inflatedCap := payload["liveWordCap"].(int)
	if inflatedCap <= 240 {
		t.Fatalf("expected AI update to inflate cap past 240, got %d", inflatedCap)
	}

	payload, err = svc.UpdateDocumentContent(ctx, session, id, "", "short again", false)
	if err != nil {
		t.Fatalf("UpdateDocumentContent failed: %v", err)
	}
	deflatedCap := payload["liveWordCap"].(int)
	if deflatedCap != wordcap.ForTier(false).BaseCap {
		t.Fatalf("expected manual edit to deflate cap to base %d, got %d", wordcap.ForTier(false).BaseCap, deflatedCap)
	}
}

func TestDocumentOwnershipIsEnforced(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	owner := seedSession(t, svc, fs, "user-1", "free")
	intruder := seedSession(t, svc, fs, "user-2", "free")

	created, err := svc.CreateDocument(ctx, owner, "Private", "secret text")
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	id := created["id"].(string)

	_, err = svc.GetDocument(ctx, intruder, id)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 404 {
		t.Fatalf("expected 404 for foreign document, got %v", err)
	}
	if err := svc.TrashDocument(ctx, intruder, id); err == nil {
		t.Fatalf("expected trash of foreign document to fail")
	}
}

func TestTrashRestoreAndEmptyTrash(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	session := seedSession(t, svc, fs, "user-1", "free")

	created, err := svc.CreateDocument(ctx, session, "Doc", "text body")
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	id := created["id"].(string)

	if err := svc.TrashDocument(ctx, session, id); err != nil {
		t.Fatalf("TrashDocument failed: %v", err)
	}
	if _, err := svc.GetDocument(ctx, session, id); err == nil {
		t.Fatalf("expected trashed document to be hidden")
	}
	trash, err := svc.ListTrash(ctx, session)
	if err != nil || len(trash) != 1 {
		t.Fatalf("expected one trashed document, got %d (err=%v)", len(trash), err)
	}

	if _, err := svc.RestoreDocument(ctx, session, id); err != nil {
		t.Fatalf("RestoreDocument failed: %v", err)
	}
	if _, err := svc.GetDocument(ctx, session, id); err != nil {
		t.Fatalf("expected restored document to be visible: %v", err)
	}

	if err := svc.TrashDocument(ctx, session, id); err != nil {
		t.Fatalf("TrashDocument failed: %v", err)
	}
	deleted, err := svc.EmptyTrash(ctx, session)
	if err != nil || deleted != 1 {
		t.Fatalf("expected EmptyTrash to delete 1, got %d (err=%v)", deleted, err)
	}
	if len(fs.documents) != 0 {
		t.Fatalf("expected documents to be purged")
	}
}

func TestUpdatePreferencesNormalizesTier(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	seedUser(fs, "user-1", "free")

	if err := svc.UpdatePreferences(ctx, "user-1", "es", "platinum"); err != nil {
		t.Fatalf("UpdatePreferences failed: %v", err)
	}
	user := fs.users["user-1"]
	if user.Language != "es" {
		t.Fatalf("expected language es, got %q", user.Language)
	}
	if plan.Normalize(user.Tier) != plan.TierFree {
		t.Fatalf("expected unknown tier to normalize to free, got %q", user.Tier)
	}
}

func TestSubmitFeedbackRequiresMessage(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	seedUser(fs, "user-1", "free")

	if err := svc.SubmitFeedback(ctx, "user-1", "bug", "   "); err == nil {
		t.Fatalf("expected empty feedback to be rejected")
	}
	if err := svc.SubmitFeedback(ctx, "user-1", "", "the editor lost my cursor"); err != nil {
		t.Fatalf("SubmitFeedback failed: %v", err)
	}
	if len(fs.feedback) != 1 || fs.feedback[0].Category != "general" {
		t.Fatalf("expected one feedback entry with default category, got %+v", fs.feedback)
	}
}

func TestDeactivateAccountHidesUser(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	session := seedSession(t, svc, fs, "user-1", "free")

	if err := svc.DeactivateAccount(ctx, session, session.RefreshToken); err != nil {
		t.Fatalf("DeactivateAccount failed: %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, session.Token); err == nil {
		t.Fatalf("expected deactivated user's token to be rejected")
	}
}

func TestRestoreRevisionWritesThrough(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	session := seedSession(t, svc, fs, "user-1", "free")

	created, err := svc.CreateDocument(ctx, session, "Doc", "version one")
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	id := created["id"].(string)
	if _, err := svc.UpdateDocumentContent(ctx, session, id, "", "version two", false); err != nil {
		t.Fatalf("UpdateDocumentContent failed: %v", err)
	}

	history, err := svc.DocumentHistory(ctx, session, id, 0)
	if err != nil {
		t.Fatalf("DocumentHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected two history entries, got %d", len(history))
	}
	oldest := history[len(history)-1]["hash"].(string)

	payload, err := svc.RestoreRevision(ctx, session, id, oldest)
	if err != nil {
		t.Fatalf("RestoreRevision failed: %v", err)
	}
	if payload["contentText"] != "version one" {
		t.Fatalf("expected restored text, got %v", payload["contentText"])
	}
	if fs.documents[id].ContentText != "version one" {
		t.Fatalf("expected store write-through, got %q", fs.documents[id].ContentText)
	}
	if fs.documents[id].EditorState != "" {
		t.Fatalf("expected editor state to be cleared on restore")
	}
}

func TestProcessTextGatesSnippetTranslation(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	free := seedSession(t, svc, fs, "user-1", "free")
	pro := seedSession(t, svc, fs, "user-2", "pro")

	input := ProcessTextInput{Text: "hola", Action: textproc.ActionTranslateSnippet, TargetLang: "en"}
	_, err := svc.ProcessText(ctx, free, input)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("expected 403 for free snippet translation, got %v", err)
	}

	svc.text.(*fakeText).translated = "hello"
	payload, err := svc.ProcessText(ctx, pro, input)
	if err != nil {
		t.Fatalf("ProcessText failed for pro: %v", err)
	}
	if payload["translatedText"] != "hello" {
		t.Fatalf("expected translation, got %v", payload)
	}
	if !svc.text.(*fakeText).lastTrans.Snippet {
		t.Fatalf("expected snippet flag to be forwarded")
	}
}

func TestProcessTextMergesStoredRejections(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	session := seedSession(t, svc, fs, "user-1", "free")

	view, err := svc.rejections.ForDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("ForDocument failed: %v", err)
	}
	sg := review.Suggestion{Start: 0, End: 3, Original: "Teh", Replacement: "The"}
	view.Put(review.Fingerprint(sg), review.RejectionPayload{
		Start: 0, End: 3, RangeKey: review.RangeKey(0, 3), Original: "Teh", Replacement: "The", Type: "user_rejection",
	})

	if _, err := svc.ProcessText(ctx, session, ProcessTextInput{
		Text:       "Teh cat",
		Action:     textproc.ActionCorrect,
		DocumentID: "doc-1",
	}); err != nil {
		t.Fatalf("ProcessText failed: %v", err)
	}
	got := svc.text.(*fakeText).lastCorrect.RejectionList
	if len(got) != 1 || got[0] != "0-3" {
		t.Fatalf("expected stored rejection keys to be forwarded, got %v", got)
	}
}

func TestProcessTextClampsWordLimitToTier(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	session := seedSession(t, svc, fs, "user-1", "free")

	if _, err := svc.ProcessText(ctx, session, ProcessTextInput{
		Text:     "fine",
		Action:   textproc.ActionCorrect,
		MaxWords: 100000,
	}); err != nil {
		t.Fatalf("ProcessText failed: %v", err)
	}
	if got := svc.text.(*fakeText).lastCorrect.MaxWords; got != wordcap.ForTier(false).BaseCap {
		t.Fatalf("expected max words clamped to base cap, got %d", got)
	}
}

func TestSearchDocumentsScopedToOwner(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	owner := seedSession(t, svc, fs, "user-1", "free")
	other := seedSession(t, svc, fs, "user-2", "free")

	if _, err := svc.CreateDocument(ctx, owner, "Travel notes", "packing list for the trip"); err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}

	if response := svc.SearchDocuments(owner, "packing", 10, 0); len(response.Results) != 1 {
		t.Fatalf("expected one result for owner, got %d", len(response.Results))
	}
	if response := svc.SearchDocuments(other, "packing", 10, 0); len(response.Results) != 0 {
		t.Fatalf("expected no results for other user, got %d", len(response.Results))
	}
}

func TestExportRequiresProPlan(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	svc.export = stubExporter{}
	ctx := context.Background()
	free := seedSession(t, svc, fs, "user-1", "free")
	pro := seedSession(t, svc, fs, "user-2", "pro")

	created, err := svc.CreateDocument(ctx, free, "Doc", "text")
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	id := created["id"].(string)

	_, err = svc.ExportDocument(ctx, free, id, export.FormatPDF)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "upgrade_required" {
		t.Fatalf("expected upgrade_required for free tier, got %v", err)
	}

	proDoc, err := svc.CreateDocument(ctx, pro, "Pro doc", "text")
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	result, err := svc.ExportDocument(ctx, pro, proDoc["id"].(string), export.FormatPDF)
	if err != nil {
		t.Fatalf("ExportDocument failed: %v", err)
	}
	if result.MimeType != "application/pdf" {
		t.Fatalf("unexpected mime type %q", result.MimeType)
	}
}
