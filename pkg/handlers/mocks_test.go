package handlers

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/convoflow/convoflow-engine/pkg/apperrors"
	"github.com/convoflow/convoflow-engine/pkg/auth"
	"github.com/convoflow/convoflow-engine/pkg/config"
	"github.com/convoflow/convoflow-engine/pkg/models"
	"github.com/convoflow/convoflow-engine/pkg/repositories"
	"github.com/convoflow/convoflow-engine/pkg/services"
	"github.com/convoflow/convoflow-engine/pkg/tracking"
	"github.com/convoflow/convoflow-engine/pkg/workflow"
)

// stubEngine returns a fixed response without touching any backend.
type stubEngine struct {
	response string
	runErr   error
}

func (s *stubEngine) Run(ctx context.Context, topology workflow.Topology, state *workflow.ConversationState) (*workflow.ConversationState, error) {
	if s.runErr != nil {
		return nil, s.runErr
	}
	state.Response = s.response
	return state, nil
}

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(ctx context.Context) error { return s.err }

type stubDispatcher struct{}

func (stubDispatcher) Deliver(ctx context.Context, callbackURL string, payload any) bool { return true }

type memUserRepo struct {
	users map[uuid.UUID]*models.User
}

var _ repositories.UserRepository = (*memUserRepo)(nil)

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[uuid.UUID]*models.User{}}
}

func (m *memUserRepo) Create(ctx context.Context, user *models.User) error {
	for _, existing := range m.users {
		if existing.Email == user.Email {
			return apperrors.ErrConflict
		}
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	m.users[user.ID] = user
	return nil
}

func (m *memUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return user, nil
}

func (m *memUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *memUserRepo) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	var all []*models.User
	for _, user := range m.users {
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

func (m *memUserRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	user, ok := m.users[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	user.IsActive = active
	return nil
}

type memSessionRepo struct {
	sessions map[uuid.UUID]*models.ChatSession
}

var _ repositories.SessionRepository = (*memSessionRepo)(nil)

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: map[uuid.UUID]*models.ChatSession{}}
}

func (m *memSessionRepo) Create(ctx context.Context, session *models.ChatSession) error {
	session.CreatedAt = time.Now()
	session.UpdatedAt = session.CreatedAt
	m.sessions[session.ID] = session
	return nil
}

func (m *memSessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ChatSession, error) {
	session, ok := m.sessions[id]
	if !ok {
		return nil, apperrors.ErrSessionNotFound
	}
	return session, nil
}

func (m *memSessionRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.ChatSession, error) {
	var matched []*models.ChatSession
	for _, session := range m.sessions {
		if session.UserID == userID {
			matched = append(matched, session)
		}
	}
	return matched, nil
}

func (m *memSessionRepo) Touch(ctx context.Context, id uuid.UUID) error { return nil }

func (m *memSessionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(m.sessions, id)
	return nil
}

type memMessageRepo struct {
	messages []*models.ChatMessage
}

var _ repositories.MessageRepository = (*memMessageRepo)(nil)

func (m *memMessageRepo) Create(ctx context.Context, message *models.ChatMessage) error {
	m.messages = append(m.messages, message)
	return nil
}

func (m *memMessageRepo) ListRecent(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.ChatMessage, error) {
	var matched []*models.ChatMessage
	for _, message := range m.messages {
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

func (m *memMessageRepo) CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	return len(m.messages), nil
}

// testServer wires the handlers against in-memory backends.
type testServer struct {
	mux      *http.ServeMux
	tokens   auth.TokenService
	users    *services.UserService
	sessions *services.SessionService
	userRepo *memUserRepo
	tracker  tracking.Store
}

func newTestServer(engine *stubEngine, authEnabled bool) *testServer {
	logger := zap.NewNop()

	tokens := auth.NewTokenService(&config.AuthConfig{
		Secret:                "test-secret-at-least-32-bytes-long!",
		AccessTokenTTLMinutes: 30,
		RefreshTokenTTLDays:   7,
	}, logger)
	mw := auth.NewMiddleware(tokens, authEnabled, logger)

	userRepo := newMemUserRepo()
	sessionRepo := newMemSessionRepo()
	messageRepo := &memMessageRepo{}
	tracker := tracking.NewMemoryStore(logger)

	userSvc := services.NewUserService(userRepo, tokens, logger)
	sessionSvc := services.NewSessionService(sessionRepo, messageRepo, logger)
	chatSvc := services.NewChatService(engine, tracker, stubDispatcher{}, logger)

	mux := http.NewServeMux()
	NewHealthHandler(&config.Config{Version: "test", Env: "test"}, stubPinger{}, logger).RegisterRoutes(mux)
	NewAuthHandler(userSvc, logger).RegisterRoutes(mux)
	NewChatHandler(chatSvc, logger).RegisterRoutes(mux, mw)
	NewSessionHandler(sessionSvc, logger).RegisterRoutes(mux, mw)
	NewUserHandler(userSvc, logger).RegisterRoutes(mux, mw)

	return &testServer{
		mux:      mux,
		tokens:   tokens,
		users:    userSvc,
		sessions: sessionSvc,
		userRepo: userRepo,
		tracker:  tracker,
	}
}

func jsonBody(s string) io.Reader {
	return strings.NewReader(s)
}

func (ts *testServer) accessTokenFor(user *models.User) string {
	pair, err := ts.tokens.IssueTokenPair(user)
	if err != nil {
		panic(err)
	}
	return pair.AccessToken
}
