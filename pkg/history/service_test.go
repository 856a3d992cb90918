package history

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/convoflow/convoflow-engine/pkg/apperrors"
	"github.com/convoflow/convoflow-engine/pkg/models"
)

// In-memory repository fakes.

type fakeSessionRepo struct {
	sessions map[uuid.UUID]*models.ChatSession
	getErr   error
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: map[uuid.UUID]*models.ChatSession{}}
}

func (f *fakeSessionRepo) Create(ctx context.Context, s *models.ChatSession) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeSessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ChatSession, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, apperrors.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeSessionRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.ChatSession, error) {
	return nil, nil
}

func (f *fakeSessionRepo) Touch(ctx context.Context, id uuid.UUID) error { return nil }

func (f *fakeSessionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(f.sessions, id)
	return nil
}

type fakeMessageRepo struct {
	messages  []*models.ChatMessage
	createErr error
	listErr   error
}

func (f *fakeMessageRepo) Create(ctx context.Context, m *models.ChatMessage) error {
	if f.createErr != nil {
		return f.createErr
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeMessageRepo) ListRecent(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.ChatMessage, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var matched []*models.ChatMessage
	for _, m := range f.messages {
		if m.SessionID == sessionID {
			matched = append(matched, m)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (f *fakeMessageRepo) CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	return len(f.messages), nil
}

func newTestService(t *testing.T) (*Service, *fakeSessionRepo, *fakeMessageRepo) {
	t.Helper()
	sessions := newFakeSessionRepo()
	messages := &fakeMessageRepo{}
	return NewService(sessions, messages, zap.NewNop()), sessions, messages
}

func seedSession(t *testing.T, repo *fakeSessionRepo) uuid.UUID {
	t.Helper()
	s := &models.ChatSession{UserID: uuid.New(), Title: "test"}
	require.NoError(t, repo.Create(context.Background(), s))
	return s.ID
}

func TestLoadHistory_ChronologicalOrder(t *testing.T) {
	svc, sessions, messages := newTestService(t)
	sessionID := seedSession(t, sessions)

	base := time.Now()
	// Insert out of order; LoadHistory must return non-decreasing created_at.
	for _, offset := range []int{3, 1, 2, 0} {
		messages.messages = append(messages.messages, &models.ChatMessage{
			ID:        uuid.New(),
			SessionID: sessionID,
			Role:      models.MessageRoleHuman,
			Content:   time.Duration(offset).String(),
			CreatedAt: base.Add(time.Duration(offset) * time.Second),
		})
	}

	loaded := svc.LoadHistory(context.Background(), sessionID, 10)
	require.Len(t, loaded, 4)
	for i := 1; i < len(loaded); i++ {
		assert.False(t, loaded[i].CreatedAt.Before(loaded[i-1].CreatedAt),
			"messages must be in non-decreasing created_at order")
	}
}

func TestLoadHistory_RespectsLimit(t *testing.T) {
	svc, sessions, messages := newTestService(t)
	sessionID := seedSession(t, sessions)

	base := time.Now()
	for i := 0; i < 5; i++ {
		messages.messages = append(messages.messages, &models.ChatMessage{
			ID:        uuid.New(),
			SessionID: sessionID,
			Role:      models.MessageRoleHuman,
			Content:   "msg",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	loaded := svc.LoadHistory(context.Background(), sessionID, 3)
	require.Len(t, loaded, 3)
	// The newest 3 messages, oldest-first.
	assert.Equal(t, base.Add(2*time.Second).Unix(), loaded[0].CreatedAt.Unix())
}

func TestLoadHistory_MissingSessionReturnsEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)
	assert.Empty(t, svc.LoadHistory(context.Background(), uuid.New(), 10))
}

func TestLoadHistory_LoadErrorReturnsEmpty(t *testing.T) {
	svc, sessions, messages := newTestService(t)
	sessionID := seedSession(t, sessions)
	messages.listErr = errors.New("connection reset")

	assert.Empty(t, svc.LoadHistory(context.Background(), sessionID, 10))
}

func TestLoadHistory_ZeroLimitReturnsEmpty(t *testing.T) {
	svc, sessions, _ := newTestService(t)
	sessionID := seedSession(t, sessions)

	assert.Empty(t, svc.LoadHistory(context.Background(), sessionID, 0))
}

func TestSaveMessage_MissingSessionSurfacesError(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.SaveHumanMessage(context.Background(), uuid.New(), "hello")
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

func TestSaveMessage_RoundTrip(t *testing.T) {
	svc, sessions, _ := newTestService(t)
	sessionID := seedSession(t, sessions)

	_, err := svc.SaveHumanMessage(context.Background(), sessionID, "Hello")
	require.NoError(t, err)
	_, err = svc.SaveAIMessage(context.Background(), sessionID, "Hi", map[string]any{"tool_called": false})
	require.NoError(t, err)

	loaded := svc.LoadHistory(context.Background(), sessionID, 10)
	require.Len(t, loaded, 2)
	assert.Equal(t, models.MessageRoleHuman, loaded[0].Role)
	assert.Equal(t, "Hello", loaded[0].Content)
	assert.Equal(t, models.MessageRoleAI, loaded[1].Role)
	assert.Equal(t, "Hi", loaded[1].Content)
}

func TestFormatHistory(t *testing.T) {
	messages := []*models.ChatMessage{
		{Role: models.MessageRoleSystem, Content: "be nice"},
		{Role: models.MessageRoleHuman, Content: "hi"},
		{Role: models.MessageRoleAI, Content: "hello"},
	}

	got := FormatHistory(messages)
	assert.Equal(t, "Previous conversation:\nSystem: be nice\nHuman: hi\nAssistant: hello", got)
}

func TestFormatHistory_Empty(t *testing.T) {
	assert.Equal(t, "No previous conversation history.", FormatHistory(nil))
}
