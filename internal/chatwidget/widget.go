package chatwidget

import (
  "context"
  "errors"
  "fmt"
  "strings"
  "sync"
  "time"

  "github.com/google/uuid"
  "gorm.io/datatypes"

  "github.com/marketbay/marketbay-backend/internal/errs"
  "github.com/marketbay/marketbay-backend/internal/logger"
  "github.com/marketbay/marketbay-backend/internal/types"
)

// Backend is what the widget needs from the chat service: session
// resolution, history, and the send path. services.ChatService satisfies it.
type Backend interface {
  ResolveSession(ctx context.Context) (*types.ChatSession, error)
  GetHistory(ctx context.Context, chatID uuid.UUID) ([]*types.ChatMessage, error)
  SendMessage(ctx context.Context, chatID uuid.UUID, text string, metadata datatypes.JSON) (*types.ChatMessage, error)
}

type State int

const (
  StateClosed State = iota
  StateOpening
  StateOpen
)

func (s State) String() string {
  switch s {
  case StateClosed:
    return "closed"
  case StateOpening:
    return "opening"
  case StateOpen:
    return "open"
  default:
    return "unknown"
  }
}

// Resubscription backoff. Bounded: after maxSubscribeAttempts consecutive
// failures the loss is surfaced instead of retried.
const (
  subscribeBackoffBase = 500 * time.Millisecond
  subscribeBackoffCap  = 30 * time.Second
  maxSubscribeAttempts = 8
)

// Widget drives one customer's chat surface: open/close lifecycle, session
// resolution, the feed subscription, and the reconciler. It owns no durable
// state; closing it leaves the session open server-side.
type Widget struct {
  backend Backend
  feed    Feed
  log     *logger.Logger

  // OnNotice, when set, receives user-facing non-blocking notices (send
  // failures, sustained subscription loss). Never called with internals.
  OnNotice func(string)

  mu      sync.Mutex
  state   State
  gen     int // open-cycle generation, bumped by Close
  session *types.ChatSession
  rec     *Reconciler
  cancel  context.CancelFunc
  pumpWG  sync.WaitGroup
}

func NewWidget(backend Backend, feed Feed, log *logger.Logger) *Widget {
  return &Widget{
    backend: backend,
    feed:    feed,
    log:     log.With("component", "ChatWidget"),
    state:   StateClosed,
    rec:     NewReconciler(),
  }
}

func (w *Widget) State() State {
  w.mu.Lock()
  defer w.mu.Unlock()
  return w.state
}

// Session returns the resolved session, or nil before the first open.
func (w *Widget) Session() *types.ChatSession {
  w.mu.Lock()
  defer w.mu.Unlock()
  return w.session
}

// Messages returns the current render order.
func (w *Widget) Messages() []types.ChatMessage {
  return w.rec.Snapshot()
}

// Open transitions closed → opening → open. Idempotent: while opening or
// open it is a no-op, so rapid toggling resolves the session at most once
// per open-cycle. The ctx governs resolution and the feed's lifetime.
// A Close that lands while resolution is in flight wins: the resolved
// state is discarded, no pump starts, and the widget stays closed.
func (w *Widget) Open(ctx context.Context) error {
  w.mu.Lock()
  if w.state != StateClosed {
    w.mu.Unlock()
    return nil
  }
  w.state = StateOpening
  gen := w.gen
  w.mu.Unlock()

  session, err := w.backend.ResolveSession(ctx)
  if err != nil {
    w.revertOpening(gen)
    if errors.Is(err, errs.ErrUnauthenticated) {
      w.notice("Sign in to chat with support.")
    } else {
      w.notice("Chat is temporarily unavailable. Please try again.")
    }
    return err
  }

  history, err := w.backend.GetHistory(ctx, session.ID)
  if err != nil {
    w.revertOpening(gen)
    w.notice("Could not load the conversation. Please try again.")
    return err
  }

  pumpCtx, cancel := context.WithCancel(context.Background())
  w.mu.Lock()
  if w.state != StateOpening || w.gen != gen {
    // Closed mid-open; this cycle is void.
    w.mu.Unlock()
    cancel()
    return nil
  }
  w.rec.Reload(history)
  w.session = session
  w.cancel = cancel
  w.state = StateOpen
  w.mu.Unlock()

  w.pumpWG.Add(1)
  go w.pump(pumpCtx, session.ID)
  return nil
}

// revertOpening returns a failed open-cycle to closed, unless a Close (or a
// newer cycle) already moved the state on.
func (w *Widget) revertOpening(gen int) {
  w.mu.Lock()
  defer w.mu.Unlock()
  if w.gen == gen && w.state == StateOpening {
    w.state = StateClosed
  }
}

// Close tears the subscription down and stops rendering. Idempotent. The
// session stays open server-side, and in-flight sends (which run on their
// caller's context) still complete and show on the next open.
func (w *Widget) Close() {
  w.mu.Lock()
  if w.state == StateClosed {
    w.mu.Unlock()
    return
  }
  w.gen++ // voids an in-flight open-cycle
  cancel := w.cancel
  w.cancel = nil
  w.state = StateClosed
  w.mu.Unlock()

  if cancel != nil {
    cancel()
  }
  w.pumpWG.Wait()
}

// Send appends text to the open session. The optimistic placeholder shows
// immediately; on store failure the text comes back in the error so the
// user can resend it. No automatic retry.
func (w *Widget) Send(ctx context.Context, text string) (*types.ChatMessage, error) {
  w.mu.Lock()
  if w.state != StateOpen || w.session == nil {
    w.mu.Unlock()
    return nil, fmt.Errorf("widget is not open: %w", errs.ErrValidation)
  }
  session := w.session
  w.mu.Unlock()

  // Rejected client-side before any network call.
  trimmed := strings.TrimSpace(text)
  if trimmed == "" {
    return nil, fmt.Errorf("empty message: %w", errs.ErrValidation)
  }
  localID := w.rec.AddLocal(session.UserID, trimmed)

  msg, err := w.backend.SendMessage(ctx, session.ID, trimmed, nil)
  if err != nil {
    restored, _ := w.rec.Fail(localID)
    if errors.Is(err, errs.ErrNotFound) {
      // Session vanished between resolve and send; the caller re-opens.
      w.notice("This conversation has ended. Reopen chat to start a new one.")
    } else {
      w.notice("Your message could not be sent. Tap to resend.")
    }
    return nil, fmt.Errorf("send failed (text preserved: %q): %w", restored, err)
  }
  w.rec.Confirm(localID, *msg)
  return msg, nil
}

// pump owns the feed subscription for one open-cycle: establish with
// bounded exponential backoff, reload history after every establishment
// (the bus never "catches up" transparently), then drain events until the
// subscription goes void and start over.
func (w *Widget) pump(ctx context.Context, chatID uuid.UUID) {
  defer w.pumpWG.Done()

  backoff := subscribeBackoffBase
  attempts := 0

  for {
    if ctx.Err() != nil {
      return
    }
    sub, err := w.feed.Subscribe(ctx, chatID)
    if err != nil {
      attempts++
      if attempts >= maxSubscribeAttempts {
        w.log.Warn("giving up on feed resubscription", "attempts", attempts, "error", err)
        w.notice("Live updates are unavailable right now. Reopen chat to retry.")
        return
      }
      w.log.Debug("feed subscribe failed, backing off", "attempt", attempts, "backoff", backoff, "error", err)
      select {
      case <-ctx.Done():
        return
      case <-time.After(backoff):
      }
      backoff *= 2
      if backoff > subscribeBackoffCap {
        backoff = subscribeBackoffCap
      }
      continue
    }
    attempts = 0
    backoff = subscribeBackoffBase

    // Full reconciliation on every (re)subscription: anything committed
    // while we were detached is only recoverable from the store.
    if history, hErr := w.backend.GetHistory(ctx, chatID); hErr != nil {
      w.log.Warn("post-subscribe history reload failed", "error", hErr)
    } else {
      w.rec.Reload(history)
    }

    w.drain(ctx, sub)
    _ = sub.Close()
  }
}

func (w *Widget) drain(ctx context.Context, sub Subscription) {
  for {
    select {
    case <-ctx.Done():
      return
    case <-sub.Done():
      w.log.Debug("feed subscription void, will resubscribe")
      return
    case msg, ok := <-sub.Events():
      if !ok {
        return
      }
      w.rec.Apply(msg)
    }
  }
}

func (w *Widget) notice(msg string) {
  if w.OnNotice != nil {
    w.OnNotice(msg)
  }
}
