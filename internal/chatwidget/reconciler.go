package chatwidget

import (
  "sort"
  "strings"
  "sync"
  "time"

  "github.com/google/uuid"

  "github.com/marketbay/marketbay-backend/internal/types"
)

// DefaultMatchWindow bounds how long a local optimistic entry may wait to be
// adopted by its bus-delivered twin. Past the window an identical body is
// treated as a deliberate resend and both entries survive.
const DefaultMatchWindow = 30 * time.Second

type pendingSend struct {
  localID  uuid.UUID
  senderID uuid.UUID
  text     string
  at       time.Time
}

// Reconciler merges three sources into one view of a session: the initial
// history load, feed events, and the client's own optimistic sends. Entries
// are keyed by server-assigned id, never by arrival position, so redelivery
// is an idempotent no-op. Safe for concurrent use.
type Reconciler struct {
  mu          sync.Mutex
  confirmed   map[uuid.UUID]types.ChatMessage
  pending     map[uuid.UUID]pendingSend
  matchWindow time.Duration
  now         func() time.Time
}

func NewReconciler() *Reconciler {
  return &Reconciler{
    confirmed:   make(map[uuid.UUID]types.ChatMessage),
    pending:     make(map[uuid.UUID]pendingSend),
    matchWindow: DefaultMatchWindow,
    now:         time.Now,
  }
}

// Apply merges a feed-delivered message. Returns false when the id was
// already present (redelivery). A message matching a pending optimistic
// entry adopts it: the server row wins, the placeholder is dropped.
func (r *Reconciler) Apply(msg types.ChatMessage) bool {
  r.mu.Lock()
  defer r.mu.Unlock()

  if _, seen := r.confirmed[msg.ID]; seen {
    return false
  }
  r.adoptPendingLocked(msg)
  r.confirmed[msg.ID] = msg
  return true
}

// AddLocal records an optimistic send and returns its placeholder key. The
// placeholder carries no permanent id; it renders with a local timestamp
// until Confirm or a matching feed event replaces it.
func (r *Reconciler) AddLocal(senderID uuid.UUID, text string) uuid.UUID {
  r.mu.Lock()
  defer r.mu.Unlock()

  localID := uuid.New()
  r.pending[localID] = pendingSend{
    localID:  localID,
    senderID: senderID,
    text:     strings.TrimSpace(text),
    at:       r.now(),
  }
  return localID
}

// Confirm replaces the placeholder with the store-confirmed row. If the feed
// delivered the row first the placeholder is already gone and the confirmed
// entry is simply kept.
func (r *Reconciler) Confirm(localID uuid.UUID, msg types.ChatMessage) {
  r.mu.Lock()
  defer r.mu.Unlock()

  delete(r.pending, localID)
  r.confirmed[msg.ID] = msg
}

// Fail abandons a placeholder after a store error and returns its text so
// the caller can hand it back to the user for manual resend.
func (r *Reconciler) Fail(localID uuid.UUID) (string, bool) {
  r.mu.Lock()
  defer r.mu.Unlock()

  p, ok := r.pending[localID]
  if !ok {
    return "", false
  }
  delete(r.pending, localID)
  return p.text, true
}

// Reload rebuilds the confirmed set from a full history load. Unconfirmed
// placeholders survive; any that match a loaded row are adopted by it.
func (r *Reconciler) Reload(history []*types.ChatMessage) {
  r.mu.Lock()
  defer r.mu.Unlock()

  r.confirmed = make(map[uuid.UUID]types.ChatMessage, len(history))
  for _, m := range history {
    if m == nil {
      continue
    }
    r.adoptPendingLocked(*m)
    r.confirmed[m.ID] = *m
  }
}

// Snapshot returns the render order: strictly (created_at, id) ascending,
// recomputed on every call. Placeholders render with their local key and
// submission time.
func (r *Reconciler) Snapshot() []types.ChatMessage {
  r.mu.Lock()
  defer r.mu.Unlock()

  out := make([]types.ChatMessage, 0, len(r.confirmed)+len(r.pending))
  for _, m := range r.confirmed {
    out = append(out, m)
  }
  for _, p := range r.pending {
    out = append(out, types.ChatMessage{
      ID:         p.localID,
      SenderID:   p.senderID,
      SenderType: types.SenderCustomer,
      Message:    p.text,
      CreatedAt:  p.at,
    })
  }
  sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
  return out
}

func (r *Reconciler) adoptPendingLocked(msg types.ChatMessage) {
  now := r.now()
  for localID, p := range r.pending {
    if p.senderID == msg.SenderID &&
      p.text == strings.TrimSpace(msg.Message) &&
      now.Sub(p.at) <= r.matchWindow {
      delete(r.pending, localID)
      return
    }
  }
}
