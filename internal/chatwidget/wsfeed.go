package chatwidget

import (
  "context"
  "encoding/json"
  "fmt"
  "sync"
  "time"

  "github.com/google/uuid"
  "github.com/gorilla/websocket"

  "github.com/marketbay/marketbay-backend/internal/logger"
  "github.com/marketbay/marketbay-backend/internal/socket"
  "github.com/marketbay/marketbay-backend/internal/types"
)

const feedEventBuffer = 64

// WebsocketFeed subscribes over the /api/ws endpoint. Each Subscribe dials
// a fresh connection scoped to one session channel; a transport drop closes
// Done and the connection is never reused.
type WebsocketFeed struct {
  URL   string // ws:// or wss:// endpoint
  Token string // access token, passed as a query parameter
  Log   *logger.Logger

  Dialer *websocket.Dialer
}

func NewWebsocketFeed(url, token string, log *logger.Logger) *WebsocketFeed {
  return &WebsocketFeed{
    URL:    url,
    Token:  token,
    Log:    log.With("component", "WebsocketFeed"),
    Dialer: websocket.DefaultDialer,
  }
}

func (f *WebsocketFeed) Subscribe(ctx context.Context, chatID uuid.UUID) (Subscription, error) {
  conn, _, err := f.Dialer.DialContext(ctx, f.URL+"?token="+f.Token, nil)
  if err != nil {
    return nil, fmt.Errorf("dialing feed endpoint: %w", err)
  }
  channel := socket.ChatChannel(chatID)
  if err := conn.WriteJSON(socket.InboundMessage{Action: "subscribe", Channel: channel}); err != nil {
    _ = conn.Close()
    return nil, fmt.Errorf("requesting channel subscription: %w", err)
  }

  sub := &wsSubscription{
    conn:    conn,
    channel: channel,
    log:     f.Log.With("chat_id", chatID),
    events:  make(chan types.ChatMessage, feedEventBuffer),
    done:    make(chan struct{}),
  }
  go sub.readLoop()
  return sub, nil
}

type wsSubscription struct {
  conn      *websocket.Conn
  channel   string
  log       *logger.Logger
  events    chan types.ChatMessage
  done      chan struct{}
  closeOnce sync.Once
}

func (s *wsSubscription) Events() <-chan types.ChatMessage { return s.events }
func (s *wsSubscription) Done() <-chan struct{}            { return s.done }

func (s *wsSubscription) Close() error {
  s.closeOnce.Do(func() {
    // Best effort; the server also unsubscribes on disconnect.
    _ = s.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
    _ = s.conn.WriteJSON(socket.InboundMessage{Action: "unsubscribe", Channel: s.channel})
    _ = s.conn.Close()
    close(s.done)
  })
  return nil
}

func (s *wsSubscription) readLoop() {
  defer s.Close()

  for {
    var frame socket.Message
    if err := s.conn.ReadJSON(&frame); err != nil {
      s.log.Debug("feed read error, subscription void", "error", err)
      return
    }
    if frame.Channel != s.channel {
      continue
    }
    // Payload round-trips through JSON because the hub frame carries it
    // untyped.
    raw, err := json.Marshal(frame.Payload)
    if err != nil {
      s.log.Debug("failed to re-encode feed payload", "error", err)
      continue
    }
    var msg types.ChatMessage
    if err := json.Unmarshal(raw, &msg); err != nil {
      s.log.Debug("failed to decode feed payload as chat message", "error", err)
      continue
    }
    select {
    case s.events <- msg:
    case <-s.done:
      return
    }
  }
}
