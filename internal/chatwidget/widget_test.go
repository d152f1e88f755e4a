package chatwidget

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/marketbay/marketbay-backend/internal/errs"
	"github.com/marketbay/marketbay-backend/internal/logger"
	"github.com/marketbay/marketbay-backend/internal/types"
)

type fakeBackend struct {
	mu           sync.Mutex
	session      *types.ChatSession
	history      []*types.ChatMessage
	resolveCalls int
	historyCalls int
	resolveErr   error
	sendErr      error
	resolveGate  chan struct{} // when set, ResolveSession blocks on it
}

func newFakeBackend() *fakeBackend {
	userID := uuid.New()
	return &fakeBackend{
		session: &types.ChatSession{
			ID:        uuid.New(),
			UserID:    userID,
			Status:    types.ChatSessionOpen,
			CreatedAt: time.Now(),
		},
	}
}

func (b *fakeBackend) ResolveSession(ctx context.Context) (*types.ChatSession, error) {
	if b.resolveGate != nil {
		<-b.resolveGate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolveCalls++
	if b.resolveErr != nil {
		return nil, b.resolveErr
	}
	return b.session, nil
}

func (b *fakeBackend) GetHistory(ctx context.Context, chatID uuid.UUID) ([]*types.ChatMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.historyCalls++
	out := make([]*types.ChatMessage, len(b.history))
	copy(out, b.history)
	return out, nil
}

func (b *fakeBackend) SendMessage(ctx context.Context, chatID uuid.UUID, text string, metadata datatypes.JSON) (*types.ChatMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return nil, b.sendErr
	}
	msg := &types.ChatMessage{
		ID:         uuid.New(),
		ChatID:     chatID,
		SenderID:   b.session.UserID,
		SenderType: types.SenderCustomer,
		Message:    text,
		CreatedAt:  time.Now(),
	}
	b.history = append(b.history, msg)
	return msg, nil
}

func (b *fakeBackend) counts() (resolve, history int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resolveCalls, b.historyCalls
}

type fakeSub struct {
	events chan types.ChatMessage
	done   chan struct{}
	once   sync.Once
}

func (s *fakeSub) Events() <-chan types.ChatMessage { return s.events }
func (s *fakeSub) Done() <-chan struct{}            { return s.done }
func (s *fakeSub) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type fakeFeed struct {
	mu         sync.Mutex
	failures   int
	subs       []*fakeSub
	subscribed chan *fakeSub
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subscribed: make(chan *fakeSub, 8)}
}

func (f *fakeFeed) Subscribe(ctx context.Context, chatID uuid.UUID) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, fmt.Errorf("transport down")
	}
	sub := &fakeSub{
		events: make(chan types.ChatMessage, 8),
		done:   make(chan struct{}),
	}
	f.subs = append(f.subs, sub)
	f.subscribed <- sub
	return sub, nil
}

func newTestWidget(t *testing.T) (*Widget, *fakeBackend, *fakeFeed) {
	t.Helper()
	backend := newFakeBackend()
	feed := newFakeFeed()
	w := NewWidget(backend, feed, logger.NewNop())
	t.Cleanup(w.Close)
	return w, backend, feed
}

// waitSettled blocks until the pump's post-subscribe reconciliation load has
// happened, so a test's sends cannot race the initial reload.
func waitSettled(t *testing.T, backend *fakeBackend, historyCalls int) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, h := backend.counts()
		return h >= historyCalls
	}, 3*time.Second, 10*time.Millisecond)
}

func waitForSub(t *testing.T, feed *fakeFeed) *fakeSub {
	t.Helper()
	select {
	case sub := <-feed.subscribed:
		return sub
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for feed subscription")
		return nil
	}
}

func TestWidgetOpenIsIdempotent(t *testing.T) {
	w, backend, feed := newTestWidget(t)
	ctx := context.Background()

	require.NoError(t, w.Open(ctx))
	waitForSub(t, feed)
	require.NoError(t, w.Open(ctx), "reopening an open widget is a no-op")
	require.NoError(t, w.Open(ctx))

	resolve, _ := backend.counts()
	assert.Equal(t, 1, resolve, "only entering 'opening' invokes the resolver")
	assert.Equal(t, StateOpen, w.State())
}

func TestWidgetRapidToggleResolvesOnce(t *testing.T) {
	w, backend, feed := newTestWidget(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Open(ctx)
		}()
	}
	wg.Wait()
	waitForSub(t, feed)

	resolve, _ := backend.counts()
	assert.Equal(t, 1, resolve)
	assert.Equal(t, StateOpen, w.State())
}

func TestWidgetOpenUnauthenticated(t *testing.T) {
	w, backend, _ := newTestWidget(t)
	backend.resolveErr = errs.ErrUnauthenticated

	var notice string
	w.OnNotice = func(msg string) { notice = msg }

	err := w.Open(context.Background())
	require.ErrorIs(t, err, errs.ErrUnauthenticated)
	assert.Equal(t, StateClosed, w.State())
	assert.Contains(t, notice, "Sign in")
}

func TestWidgetSendRejectsEmptyBeforeNetwork(t *testing.T) {
	w, backend, feed := newTestWidget(t)
	require.NoError(t, w.Open(context.Background()))
	waitForSub(t, feed)
	waitSettled(t, backend, 2)

	_, err := w.Send(context.Background(), "   ")
	require.ErrorIs(t, err, errs.ErrValidation)
	assert.Empty(t, w.Messages())

	backend.mu.Lock()
	historyLen := len(backend.history)
	backend.mu.Unlock()
	assert.Zero(t, historyLen, "empty sends never reach the backend")
}

func TestWidgetSendOptimisticThenFeedReplay(t *testing.T) {
	w, backend, feed := newTestWidget(t)
	require.NoError(t, w.Open(context.Background()))
	sub := waitForSub(t, feed)
	waitSettled(t, backend, 2)

	msg, err := w.Send(context.Background(), "Hello")
	require.NoError(t, err)

	snap := w.Messages()
	require.Len(t, snap, 1)
	assert.Equal(t, "Hello", snap[0].Message)

	// The bus redelivers the confirmed row back to the sender.
	sub.events <- *msg
	sub.events <- *msg

	require.Never(t, func() bool {
		return len(w.Messages()) != 1
	}, 300*time.Millisecond, 50*time.Millisecond, "replay must not duplicate the entry")
}

func TestWidgetSendFailurePreservesText(t *testing.T) {
	w, backend, feed := newTestWidget(t)
	require.NoError(t, w.Open(context.Background()))
	waitForSub(t, feed)
	waitSettled(t, backend, 2)

	backend.mu.Lock()
	backend.sendErr = fmt.Errorf("insert failed: %w", errs.ErrStore)
	backend.mu.Unlock()

	var notice string
	w.OnNotice = func(msg string) { notice = msg }

	_, err := w.Send(context.Background(), "Need help with my order")
	require.ErrorIs(t, err, errs.ErrStore)
	assert.Contains(t, err.Error(), "Need help with my order", "text comes back for manual resend")
	assert.Empty(t, w.Messages(), "failed placeholder is withdrawn")
	assert.NotEmpty(t, notice)
}

func TestWidgetCloseDuringOpeningStaysClosed(t *testing.T) {
	w, backend, feed := newTestWidget(t)
	gate := make(chan struct{})
	backend.resolveGate = gate

	opened := make(chan error, 1)
	go func() { opened <- w.Open(context.Background()) }()

	require.Eventually(t, func() bool {
		return w.State() == StateOpening
	}, 3*time.Second, 5*time.Millisecond)

	// The user closes while session resolution is still in flight; once
	// resolution completes, the result must be discarded.
	w.Close()
	close(gate)

	require.NoError(t, <-opened)
	assert.Equal(t, StateClosed, w.State())

	select {
	case <-feed.subscribed:
		t.Fatal("a subscription was established after the widget was closed")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWidgetCloseIsIdempotentAndTearsDown(t *testing.T) {
	w, _, feed := newTestWidget(t)
	require.NoError(t, w.Open(context.Background()))
	sub := waitForSub(t, feed)

	w.Close()
	w.Close()
	assert.Equal(t, StateClosed, w.State())

	select {
	case <-sub.done:
	case <-time.After(3 * time.Second):
		t.Fatal("subscription was not released on close")
	}
}

func TestWidgetResubscribesAndReloadsOnDrop(t *testing.T) {
	w, backend, feed := newTestWidget(t)
	require.NoError(t, w.Open(context.Background()))
	sub := waitForSub(t, feed)

	_, afterOpen := backend.counts()

	// Transport drop voids the subscription.
	sub.Close()

	second := waitForSub(t, feed)
	require.NotNil(t, second)

	require.Eventually(t, func() bool {
		_, h := backend.counts()
		return h > afterOpen
	}, 3*time.Second, 20*time.Millisecond, "every resubscription does a full reconciliation load")
}

func TestWidgetSubscribeRetriesWithBackoff(t *testing.T) {
	w, _, feed := newTestWidget(t)
	feed.failures = 1

	start := time.Now()
	require.NoError(t, w.Open(context.Background()))
	waitForSub(t, feed)

	assert.GreaterOrEqual(t, time.Since(start), subscribeBackoffBase,
		"a failed establishment waits before retrying")
	assert.Equal(t, StateOpen, w.State())
}

func TestWidgetReconnectPicksUpMissedMessages(t *testing.T) {
	w, backend, feed := newTestWidget(t)
	require.NoError(t, w.Open(context.Background()))
	sub := waitForSub(t, feed)

	// A message commits while the client is attached, then the transport
	// drops before delivery. It must appear after the reload.
	missed := &types.ChatMessage{
		ID:         uuid.New(),
		ChatID:     backend.session.ID,
		SenderID:   uuid.New(),
		SenderType: types.SenderAgent,
		Message:    "An agent will be with you shortly",
		CreatedAt:  time.Now(),
	}
	backend.mu.Lock()
	backend.history = append(backend.history, missed)
	backend.mu.Unlock()

	sub.Close()
	waitForSub(t, feed)

	require.Eventually(t, func() bool {
		for _, m := range w.Messages() {
			if m.ID == missed.ID {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWidgetStateStrings(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "opening", StateOpening.String())
	assert.Equal(t, "open", StateOpen.String())
}
