package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/commentflow/internal/store"
)

// fakeStore is an in-memory Store. ClaimUnsentReply emulates the row
// claim with a TryLock: a concurrent claimer sees the row as unavailable
// instead of blocking, like SKIP LOCKED.
type fakeStore struct {
	mu              sync.Mutex
	claimMu         sync.Mutex
	comments        map[string]*store.Comment
	classifications map[string]*store.Classification
	answers         map[string]*store.Answer
	media           map[string]*store.Media
	usedReplyIDs    map[string]bool
	nextID          int64

	failures map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		comments:        map[string]*store.Comment{},
		classifications: map[string]*store.Classification{},
		answers:         map[string]*store.Answer{},
		media:           map[string]*store.Media{},
		usedReplyIDs:    map[string]bool{},
		failures:        map[string]error{},
	}
}

func (f *fakeStore) fail(method string) error {
	return f.failures[method]
}

func (f *fakeStore) addComment(c *store.Comment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[c.ID] = c
}

func (f *fakeStore) addMedia(m *store.Media) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media[m.ID] = m
}

func (f *fakeStore) GetComment(ctx context.Context, id string) (*store.Comment, error) {
	if err := f.fail("GetComment"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.comments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) SetConversationID(ctx context.Context, commentID, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.comments[commentID]; ok {
		c.ConversationID = &conversationID
	}
	return nil
}

func (f *fakeStore) SetCommentHidden(ctx context.Context, commentID string, hidden bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.comments[commentID]; ok {
		c.Hidden = hidden
	}
	return nil
}

func (f *fakeStore) EnsureClassification(ctx context.Context, commentID string) (*store.Classification, error) {
	if err := f.fail("EnsureClassification"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.classifications[commentID]; ok {
		cp := *rec
		return &cp, nil
	}
	f.nextID++
	rec := &store.Classification{
		ID:         f.nextID,
		CommentID:  commentID,
		Status:     store.StatusPending,
		MaxRetries: 3,
	}
	f.classifications[commentID] = rec
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) GetClassification(ctx context.Context, commentID string) (*store.Classification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.classifications[commentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) MarkClassificationProcessing(ctx context.Context, id int64, attempt int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.classifications {
		if rec.ID == id {
			rec.Status = store.StatusProcessing
			rec.RetryCount = attempt
		}
	}
	return nil
}

func (f *fakeStore) CompleteClassification(ctx context.Context, id int64, category string, confidence int, reasoning string, inputTokens, outputTokens int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.classifications {
		if rec.ID == id {
			rec.Status = store.StatusCompleted
			rec.Category = &category
			rec.Confidence = &confidence
			rec.Reasoning = &reasoning
		}
	}
	return nil
}

func (f *fakeStore) FailClassification(ctx context.Context, id int64, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.classifications {
		if rec.ID == id {
			rec.Status = store.StatusFailed
			rec.LastError = &lastError
		}
	}
	return nil
}

func (f *fakeStore) EnsureAnswer(ctx context.Context, commentID string) (*store.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.answers[commentID]; ok {
		cp := *rec
		return &cp, nil
	}
	f.nextID++
	rec := &store.Answer{
		ID:         f.nextID,
		CommentID:  commentID,
		Status:     store.StatusPending,
		MaxRetries: 5,
	}
	f.answers[commentID] = rec
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) GetAnswer(ctx context.Context, commentID string) (*store.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.answers[commentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) MarkAnswerProcessing(ctx context.Context, id int64, attempt int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.answers {
		if rec.ID == id {
			rec.Status = store.StatusProcessing
			rec.RetryCount = attempt
		}
	}
	return nil
}

func (f *fakeStore) CompleteAnswer(ctx context.Context, id int64, answer string, confidence float64, qualityScore, inputTokens, outputTokens int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.answers {
		if rec.ID == id {
			rec.Status = store.StatusCompleted
			rec.Answer = &answer
			rec.Confidence = &confidence
			rec.QualityScore = &qualityScore
		}
	}
	return nil
}

func (f *fakeStore) FailAnswer(ctx context.Context, id int64, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.answers {
		if rec.ID == id {
			rec.Status = store.StatusFailed
			rec.LastError = &lastError
		}
	}
	return nil
}

func (f *fakeStore) ClaimUnsentReply(ctx context.Context, commentID string, send func(context.Context, *store.Answer) (store.ReplyReceipt, error)) (store.ClaimResult, error) {
	if err := f.fail("ClaimUnsentReply"); err != nil {
		return store.ClaimUnavailable, err
	}

	if !f.claimMu.TryLock() {
		return store.ClaimUnavailable, nil
	}
	defer f.claimMu.Unlock()

	f.mu.Lock()
	rec, ok := f.answers[commentID]
	if !ok || rec.ReplySent || rec.ReplyID != nil {
		f.mu.Unlock()
		return store.ClaimUnavailable, nil
	}
	snapshot := *rec
	f.mu.Unlock()

	receipt, sendErr := send(ctx, &snapshot)

	f.mu.Lock()
	defer f.mu.Unlock()
	if sendErr != nil {
		status := store.ReplyStatusFailed
		msg := sendErr.Error()
		rec.ReplyStatus = &status
		rec.ReplyError = &msg
		return store.ClaimSendFailed, sendErr
	}

	if f.usedReplyIDs[receipt.ReplyID] {
		return store.ClaimDuplicate, nil
	}
	f.usedReplyIDs[receipt.ReplyID] = true

	now := time.Now()
	status := store.ReplyStatusSent
	rec.ReplySent = true
	rec.ReplySentAt = &now
	rec.ReplyStatus = &status
	rec.ReplyID = &receipt.ReplyID
	return store.ClaimSent, nil
}

func (f *fakeStore) GetMedia(ctx context.Context, id string) (*store.Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.media[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) SetMediaContext(ctx context.Context, mediaID, context string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.media[mediaID]; ok {
		m.MediaContext = &context
	}
	return nil
}

type fakeClassifier struct {
	result ClassifyResult
	err    error
	calls  int
}

func (f *fakeClassifier) Classify(ctx context.Context, req ClassifyRequest) (ClassifyResult, error) {
	f.calls++
	if f.err != nil {
		return ClassifyResult{}, f.err
	}
	return f.result, nil
}

type fakeAnswerer struct {
	result AnswerResult
	err    error
	calls  int
}

func (f *fakeAnswerer) Generate(ctx context.Context, req AnswerRequest) (AnswerResult, error) {
	f.calls++
	if f.err != nil {
		return AnswerResult{}, f.err
	}
	return f.result, nil
}

// fakeReplier records sends; replyID may be fixed to force duplicates.
type fakeReplier struct {
	mu      sync.Mutex
	sends   []string
	hides   []string
	replyID string
	sendErr error
	seq     int
}

func (f *fakeReplier) SendReply(ctx context.Context, commentID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sends = append(f.sends, commentID)
	if f.replyID != "" {
		return f.replyID, nil
	}
	f.seq++
	return fmt.Sprintf("reply-%d", f.seq), nil
}

func (f *fakeReplier) HideComment(ctx context.Context, commentID string, hide bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.hides = append(f.hides, commentID)
	return nil
}

func (f *fakeReplier) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

// fakeLocker hands out TTL-less advisory locks.
type fakeLocker struct {
	mu         sync.Mutex
	held       map[string]bool
	acquireErr error
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]bool{}}
}

func (f *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	if f.held[key] {
		return false, nil
	}
	f.held[key] = true
	return true, nil
}

func (f *fakeLocker) Release(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, key)
	return nil
}

type fakeEnqueuer struct {
	mu       sync.Mutex
	answers  []string
	replies  []string
	hides    []string
	notifies []string
	media    []string
}

func (f *fakeEnqueuer) EnqueueAnswer(ctx context.Context, commentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, commentID)
	return nil
}

func (f *fakeEnqueuer) EnqueueReply(ctx context.Context, commentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, commentID)
	return nil
}

func (f *fakeEnqueuer) EnqueueHide(ctx context.Context, commentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hides = append(f.hides, commentID)
	return nil
}

func (f *fakeEnqueuer) EnqueueNotify(ctx context.Context, commentID, category string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifies = append(f.notifies, commentID+":"+category)
	return nil
}

func (f *fakeEnqueuer) EnqueueMediaAnalysis(ctx context.Context, mediaID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media = append(f.media, mediaID)
	return nil
}

type fakeAnalyzer struct {
	description string
	err         error
}

func (f *fakeAnalyzer) Describe(ctx context.Context, media *store.Media) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.description, nil
}
