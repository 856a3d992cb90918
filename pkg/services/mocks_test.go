package services

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/convoflow/convoflow-engine/pkg/apperrors"
	"github.com/convoflow/convoflow-engine/pkg/models"
	"github.com/convoflow/convoflow-engine/pkg/repositories"
)

// In-memory repository fakes shared by the service tests.

type fakeUserRepo struct {
	users     map[uuid.UUID]*models.User
	createErr error
}

var _ repositories.UserRepository = (*fakeUserRepo)(nil)

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[uuid.UUID]*models.User{}}
}

func (f *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return apperrors.ErrConflict
		}
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return user, nil
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeUserRepo) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	var all []*models.User
	for _, user := range f.users {
		all = append(all, user)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (f *fakeUserRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	user, ok := f.users[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	user.IsActive = active
	return nil
}

type fakeSessionRepo struct {
	sessions map[uuid.UUID]*models.ChatSession
}

var _ repositories.SessionRepository = (*fakeSessionRepo)(nil)

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: map[uuid.UUID]*models.ChatSession{}}
}

func (f *fakeSessionRepo) Create(ctx context.Context, session *models.ChatSession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	f.sessions[session.ID] = session
	return nil
}

func (f *fakeSessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ChatSession, error) {
	session, ok := f.sessions[id]
	if !ok {
		return nil, apperrors.ErrSessionNotFound
	}
	return session, nil
}

func (f *fakeSessionRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.ChatSession, error) {
	var matched []*models.ChatSession
	for _, session := range f.sessions {
		if session.UserID == userID {
			matched = append(matched, session)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].UpdatedAt.After(matched[j].UpdatedAt) })
	return matched, nil
}

func (f *fakeSessionRepo) Touch(ctx context.Context, id uuid.UUID) error {
	session, ok := f.sessions[id]
	if !ok {
		return apperrors.ErrSessionNotFound
	}
	session.UpdatedAt = time.Now()
	return nil
}

func (f *fakeSessionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := f.sessions[id]; !ok {
		return apperrors.ErrSessionNotFound
	}
	delete(f.sessions, id)
	return nil
}

type fakeMessageRepo struct {
	messages []*models.ChatMessage
	listErr  error
}

var _ repositories.MessageRepository = (*fakeMessageRepo)(nil)

func (f *fakeMessageRepo) Create(ctx context.Context, message *models.ChatMessage) error {
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeMessageRepo) ListRecent(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.ChatMessage, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var matched []*models.ChatMessage
	for _, message := range f.messages {
		if message.SessionID == sessionID {
			matched = append(matched, message)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (f *fakeMessageRepo) CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	count := 0
	for _, message := range f.messages {
		if message.SessionID == sessionID {
			count++
		}
	}
	return count, nil
}
