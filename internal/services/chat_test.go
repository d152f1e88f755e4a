package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/marketbay/marketbay-backend/internal/errs"
	"github.com/marketbay/marketbay-backend/internal/logger"
	"github.com/marketbay/marketbay-backend/internal/repos"
	"github.com/marketbay/marketbay-backend/internal/requestdata"
	"github.com/marketbay/marketbay-backend/internal/socket"
	"github.com/marketbay/marketbay-backend/internal/types"
)

// The test schema mirrors db.AutoMigrateAll, including the partial unique
// index that closes the resolver race. Written out by hand because sqlite
// rejects the postgres column defaults in the model tags.
var testSchema = []string{
	`CREATE TABLE "user" (
		id TEXT PRIMARY KEY,
		user_type TEXT NOT NULL DEFAULT 'customer',
		email TEXT NOT NULL UNIQUE,
		phone_number TEXT,
		password TEXT NOT NULL,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE "chat_session" (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX "uq_chat_session_open_user"
		ON "chat_session" ("user_id") WHERE "status" = 'open'`,
	`CREATE TABLE "chat_message" (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		sender_type TEXT NOT NULL,
		message TEXT NOT NULL,
		metadata TEXT,
		created_at DATETIME
	)`,
	`CREATE TABLE "product" (
		id TEXT PRIMARY KEY,
		sku TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 0,
		low_stock_threshold INTEGER NOT NULL DEFAULT 5,
		low_stock_notified_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	for _, ddl := range testSchema {
		require.NoError(t, gdb.Exec(ddl).Error)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return gdb
}

func customerCtx(userID uuid.UUID) context.Context {
	return requestdata.WithRequestData(context.Background(), &requestdata.RequestData{
		UserID:   userID,
		UserType: types.SenderCustomer,
	})
}

func agentCtx(userID uuid.UUID) context.Context {
	return requestdata.WithRequestData(context.Background(), &requestdata.RequestData{
		UserID:   userID,
		UserType: types.SenderAgent,
	})
}

func newChatFixture(t *testing.T) (ChatService, repos.ChatSessionRepo, repos.ChatMessageRepo, *gorm.DB) {
	t.Helper()
	gdb := newTestDB(t)
	log := logger.NewNop()
	sessionRepo := repos.NewChatSessionRepo(gdb, log)
	messageRepo := repos.NewChatMessageRepo(gdb, log)
	svc := NewChatService(gdb, log, sessionRepo, messageRepo, nil)
	return svc, sessionRepo, messageRepo, gdb
}

func TestResolveSessionCreatesAndSeedsWelcomeOnce(t *testing.T) {
	svc, _, messageRepo, _ := newChatFixture(t)
	userID := uuid.New()
	ctx := customerCtx(userID)

	first, err := svc.ResolveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, userID, first.UserID)
	assert.Equal(t, types.ChatSessionOpen, first.Status)

	msgs, err := messageRepo.GetByChatID(ctx, nil, first.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "a fresh session is seeded with exactly one welcome")
	assert.Equal(t, types.SenderSystem, msgs[0].SenderType)
	assert.Equal(t, WelcomeMessage, msgs[0].Message)

	// Reopening later lands on the same session with no second welcome.
	second, err := svc.ResolveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	msgs, err = messageRepo.GetByChatID(ctx, nil, first.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestResolveSessionConcurrentFirstOpens(t *testing.T) {
	svc, _, _, gdb := newChatFixture(t)
	userID := uuid.New()
	ctx := customerCtx(userID)

	const n = 16
	ids := make([]uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := svc.ResolveSession(ctx)
			if err == nil {
				ids[i] = s.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Equal(t, ids[0], ids[i], "every caller converges on one session")
	}

	var count int64
	require.NoError(t, gdb.Model(&types.ChatSession{}).Where("user_id = ? AND status = ?", userID, types.ChatSessionOpen).Count(&count).Error)
	assert.EqualValues(t, 1, count, "exactly one open session survives")

	var welcomes int64
	require.NoError(t, gdb.Model(&types.ChatMessage{}).Where("chat_id = ? AND sender_type = ?", ids[0], types.SenderSystem).Count(&welcomes).Error)
	assert.EqualValues(t, 1, welcomes)
}

// staleReadSessionRepo reports "no open session" on the first read even when
// one exists, reproducing the check-then-act window between two processes.
type staleReadSessionRepo struct {
	repos.ChatSessionRepo
	mu    sync.Mutex
	stale int
}

func (r *staleReadSessionRepo) GetOpenSessionByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.ChatSession, error) {
	r.mu.Lock()
	if r.stale > 0 {
		r.stale--
		r.mu.Unlock()
		return nil, gorm.ErrRecordNotFound
	}
	r.mu.Unlock()
	return r.ChatSessionRepo.GetOpenSessionByUserID(ctx, tx, userID)
}

func TestResolveSessionAdoptsRaceWinner(t *testing.T) {
	gdb := newTestDB(t)
	log := logger.NewNop()
	realSessions := repos.NewChatSessionRepo(gdb, log)
	messageRepo := repos.NewChatMessageRepo(gdb, log)

	userID := uuid.New()
	ctx := customerCtx(userID)

	// Another node already created the open session.
	winner, err := realSessions.CreateSession(ctx, nil, &types.ChatSession{UserID: userID})
	require.NoError(t, err)

	stale := &staleReadSessionRepo{ChatSessionRepo: realSessions, stale: 1}
	svc := NewChatService(gdb, log, stale, messageRepo, nil)

	// Our read misses it, our insert hits the unique index, and the
	// conflict is treated as "re-read and use theirs".
	got, err := svc.ResolveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, got.ID)

	msgs, err := messageRepo.GetByChatID(ctx, nil, winner.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs, "the loser never seeds a welcome into the winner's session")
}

func TestResolveSessionUnauthenticated(t *testing.T) {
	svc, _, _, _ := newChatFixture(t)
	_, err := svc.ResolveSession(context.Background())
	require.ErrorIs(t, err, errs.ErrUnauthenticated)
}

// brokenSessionRepo fails reads with a non-not-found error.
type brokenSessionRepo struct {
	repos.ChatSessionRepo
}

func (r *brokenSessionRepo) GetOpenSessionByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.ChatSession, error) {
	return nil, errors.New("connection refused")
}

func TestResolveSessionStoreErrorNotMaskedAsAbsence(t *testing.T) {
	gdb := newTestDB(t)
	log := logger.NewNop()
	broken := &brokenSessionRepo{ChatSessionRepo: repos.NewChatSessionRepo(gdb, log)}
	svc := NewChatService(gdb, log, broken, repos.NewChatMessageRepo(gdb, log), nil)

	_, err := svc.ResolveSession(customerCtx(uuid.New()))
	require.ErrorIs(t, err, errs.ErrStore)

	var count int64
	require.NoError(t, gdb.Model(&types.ChatSession{}).Count(&count).Error)
	assert.Zero(t, count, "a failing read must not fall through to the create branch")
}

func TestSendMessageValidation(t *testing.T) {
	svc, _, _, _ := newChatFixture(t)
	ctx := customerCtx(uuid.New())
	session, err := svc.ResolveSession(ctx)
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, session.ID, "   \n\t  ", nil)
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestSendMessageUnknownSession(t *testing.T) {
	svc, _, _, _ := newChatFixture(t)
	ctx := customerCtx(uuid.New())

	_, err := svc.SendMessage(ctx, uuid.New(), "hello?", nil)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSendMessageForeignSessionLooksAbsent(t *testing.T) {
	svc, _, _, _ := newChatFixture(t)
	owner := customerCtx(uuid.New())
	session, err := svc.ResolveSession(owner)
	require.NoError(t, err)

	stranger := customerCtx(uuid.New())
	_, err = svc.SendMessage(stranger, session.ID, "let me in", nil)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSendMessageAppendsAndFansOutOnce(t *testing.T) {
	gdb := newTestDB(t)
	log := logger.NewNop()
	hub := socket.NewHub(log)
	svc := NewChatService(gdb, log, repos.NewChatSessionRepo(gdb, log), repos.NewChatMessageRepo(gdb, log), hub)

	userID := uuid.New()
	ctx := customerCtx(userID)
	session, err := svc.ResolveSession(ctx)
	require.NoError(t, err)

	// Attach a raw hub client to the session channel, as the ws handler
	// would after a subscribe frame.
	client := &socket.Client{ID: uuid.New(), Outbound: make(chan socket.Message, 4)}
	hub.Subscribe(client, []string{socket.ChatChannel(session.ID)})

	sent, err := svc.SendMessage(ctx, session.ID, "Need help with my order", nil)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, sent.ID)
	assert.Equal(t, types.SenderCustomer, sent.SenderType)
	assert.False(t, sent.CreatedAt.IsZero())

	select {
	case frame := <-client.Outbound:
		assert.Equal(t, socket.ChatChannel(session.ID), frame.Channel)
		delivered, ok := frame.Payload.(*types.ChatMessage)
		require.True(t, ok)
		assert.Equal(t, sent.ID, delivered.ID)
	case <-time.After(time.Second):
		t.Fatal("commit did not fan out to the session channel")
	}

	select {
	case frame := <-client.Outbound:
		t.Fatalf("append fanned out more than once: %+v", frame)
	default:
	}
}

func TestGetHistoryOrderedByCreatedAt(t *testing.T) {
	svc, _, messageRepo, _ := newChatFixture(t)
	userID := uuid.New()
	ctx := customerCtx(userID)
	session, err := svc.ResolveSession(ctx)
	require.NoError(t, err)

	// Insert out of chronological order; the welcome is already there.
	base := time.Now().Add(time.Minute)
	for _, offset := range []time.Duration{3 * time.Second, time.Second, 2 * time.Second} {
		_, err := messageRepo.CreateMessage(ctx, nil, &types.ChatMessage{
			ChatID:     session.ID,
			SenderID:   userID,
			SenderType: types.SenderCustomer,
			Message:    fmt.Sprintf("offset %s", offset),
			CreatedAt:  base.Add(offset),
		})
		require.NoError(t, err)
	}

	msgs, err := svc.GetHistory(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt),
			"history must be ascending by created_at")
	}
}

func TestCloseSessionAgentOnly(t *testing.T) {
	svc, sessionRepo, _, _ := newChatFixture(t)
	userID := uuid.New()
	ctx := customerCtx(userID)
	session, err := svc.ResolveSession(ctx)
	require.NoError(t, err)

	err = svc.CloseSession(ctx, session.ID)
	require.ErrorIs(t, err, errs.ErrUnauthenticated, "customers cannot close sessions")

	require.NoError(t, svc.CloseSession(agentCtx(uuid.New()), session.ID))

	got, err := sessionRepo.GetSessionByID(ctx, nil, session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChatSessionClosed, got.Status)

	// With the old session closed, resolution starts a fresh one.
	fresh, err := svc.ResolveSession(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, session.ID, fresh.ID)
}
