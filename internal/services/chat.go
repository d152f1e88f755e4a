package services

import (
  "context"
  "errors"
  "fmt"
  "strings"
  "sync"

  "github.com/google/uuid"
  "gorm.io/datatypes"
  "gorm.io/gorm"

  "github.com/marketbay/marketbay-backend/internal/errordata"
  "github.com/marketbay/marketbay-backend/internal/errs"
  "github.com/marketbay/marketbay-backend/internal/logger"
  "github.com/marketbay/marketbay-backend/internal/repos"
  "github.com/marketbay/marketbay-backend/internal/requestdata"
  "github.com/marketbay/marketbay-backend/internal/socket"
  "github.com/marketbay/marketbay-backend/internal/types"
)

const WelcomeMessage = "Welcome to MarketBay support! How can we help you today?"

type ChatService interface {
  // ResolveSession returns the caller's single open session, creating and
  // welcome-seeding one if none exists. Safe to call concurrently from any
  // number of tabs; exactly one open session survives.
  ResolveSession(ctx context.Context) (*types.ChatSession, error)
  GetHistory(ctx context.Context, chatID uuid.UUID) ([]*types.ChatMessage, error)
  SendMessage(ctx context.Context, chatID uuid.UUID, text string, metadata datatypes.JSON) (*types.ChatMessage, error)
  CloseSession(ctx context.Context, chatID uuid.UUID) error
}

type chatService struct {
  db          *gorm.DB
  log         *logger.Logger
  sessionRepo repos.ChatSessionRepo
  messageRepo repos.ChatMessageRepo
  hub         *socket.Hub

  // Serializes resolution per user within this process. The partial unique
  // index on chat_session covers the cross-process race; this just keeps two
  // goroutines in one process from burning a conflict round-trip.
  resolveMu sync.Mutex
  resolving map[uuid.UUID]*sync.Mutex
}

func NewChatService(
  db *gorm.DB,
  log *logger.Logger,
  sessionRepo repos.ChatSessionRepo,
  messageRepo repos.ChatMessageRepo,
  hub *socket.Hub,
) ChatService {
  serviceLog := log.With("service", "ChatService")
  return &chatService{
    db:          db,
    log:         serviceLog,
    sessionRepo: sessionRepo,
    messageRepo: messageRepo,
    hub:         hub,
    resolving:   make(map[uuid.UUID]*sync.Mutex),
  }
}

func (cs *chatService) userLock(userID uuid.UUID) *sync.Mutex {
  cs.resolveMu.Lock()
  defer cs.resolveMu.Unlock()
  mu, ok := cs.resolving[userID]
  if !ok {
    mu = &sync.Mutex{}
    cs.resolving[userID] = mu
  }
  return mu
}

func (cs *chatService) ResolveSession(ctx context.Context) (*types.ChatSession, error) {
  rd := requestdata.GetRequestData(ctx)
  if rd == nil || rd.UserID == uuid.Nil {
    return nil, errs.ErrUnauthenticated
  }

  mu := cs.userLock(rd.UserID)
  mu.Lock()
  defer mu.Unlock()

  //1) Find the open session, newest first.
  session, err := cs.sessionRepo.GetOpenSessionByUserID(ctx, nil, rd.UserID)
  if err == nil {
    return session, nil
  }
  // Only a missing row means "create". Anything else is a store failure and
  // must not be masked as absence.
  if !errors.Is(err, gorm.ErrRecordNotFound) {
    cs.log.Error("failed to look up open chat session", "error", err, "user_id", rd.UserID)
    cs.setNotice(ctx, "Chat is temporarily unavailable. Please try again.")
    return nil, fmt.Errorf("looking up open session: %w", errs.ErrStore)
  }

  //2) Create. A duplicate-key conflict means another resolver (another tab,
  // another node) won the race between our read and our insert; re-read and
  // use theirs.
  created, err := cs.sessionRepo.CreateSession(ctx, nil, &types.ChatSession{
    UserID: rd.UserID,
    Status: types.ChatSessionOpen,
  })
  if err != nil {
    if errors.Is(err, gorm.ErrDuplicatedKey) {
      cs.log.Debug("lost session-create race, adopting winner", "user_id", rd.UserID)
      winner, rErr := cs.sessionRepo.GetOpenSessionByUserID(ctx, nil, rd.UserID)
      if rErr != nil {
        cs.setNotice(ctx, "Chat is temporarily unavailable. Please try again.")
        return nil, fmt.Errorf("re-reading session after create conflict: %w", errs.ErrStore)
      }
      return winner, nil
    }
    cs.log.Error("failed to create chat session", "error", err, "user_id", rd.UserID)
    cs.setNotice(ctx, "Chat is temporarily unavailable. Please try again.")
    return nil, fmt.Errorf("creating session: %w", errs.ErrStore)
  }

  //3) Seed exactly one welcome message into the fresh session. Existing
  // sessions are never re-seeded.
  welcome := &types.ChatMessage{
    ChatID:     created.ID,
    SenderID:   types.SystemSenderID,
    SenderType: types.SenderSystem,
    Message:    WelcomeMessage,
  }
  if welcome, err = cs.messageRepo.CreateMessage(ctx, nil, welcome); err != nil {
    cs.log.Warn("failed to seed welcome message", "error", err, "session_id", created.ID)
    // The session itself is usable; the welcome is cosmetic.
    return created, nil
  }
  cs.broadcast(ctx, welcome)
  return created, nil
}

func (cs *chatService) GetHistory(ctx context.Context, chatID uuid.UUID) ([]*types.ChatMessage, error) {
  if _, err := cs.authorizeSession(ctx, chatID); err != nil {
    return nil, err
  }
  msgs, err := cs.messageRepo.GetByChatID(ctx, nil, chatID)
  if err != nil {
    cs.setNotice(ctx, "Could not load the conversation. Please try again.")
    return nil, fmt.Errorf("loading history: %w", errs.ErrStore)
  }
  return msgs, nil
}

func (cs *chatService) SendMessage(ctx context.Context, chatID uuid.UUID, text string, metadata datatypes.JSON) (*types.ChatMessage, error) {
  rd, err := cs.authorizeSession(ctx, chatID)
  if err != nil {
    return nil, err
  }
  trimmed := strings.TrimSpace(text)
  if trimmed == "" {
    return nil, fmt.Errorf("empty message: %w", errs.ErrValidation)
  }

  senderType := types.SenderCustomer
  if rd.UserType == types.SenderAgent {
    senderType = types.SenderAgent
  }
  msg := &types.ChatMessage{
    ChatID:     chatID,
    SenderID:   rd.UserID,
    SenderType: senderType,
    Message:    trimmed,
    Metadata:   metadata,
  }
  if msg, err = cs.messageRepo.CreateMessage(ctx, nil, msg); err != nil {
    cs.setNotice(ctx, "Your message could not be sent. It has been kept so you can resend it.")
    return nil, fmt.Errorf("appending message: %w", errs.ErrStore)
  }

  // Commit succeeded; fan out exactly once, including back to the sender.
  cs.broadcast(ctx, msg)
  return msg, nil
}

func (cs *chatService) CloseSession(ctx context.Context, chatID uuid.UUID) error {
  rd := requestdata.GetRequestData(ctx)
  if rd == nil || rd.UserID == uuid.Nil {
    return errs.ErrUnauthenticated
  }
  if rd.UserType != types.SenderAgent {
    // Customers never close sessions; the widget just unsubscribes.
    return fmt.Errorf("only agents may close sessions: %w", errs.ErrUnauthenticated)
  }
  if _, err := cs.sessionRepo.GetSessionByID(ctx, nil, chatID); err != nil {
    if errors.Is(err, gorm.ErrRecordNotFound) {
      return fmt.Errorf("session %s: %w", chatID, errs.ErrNotFound)
    }
    return fmt.Errorf("looking up session: %w", errs.ErrStore)
  }
  if err := cs.sessionRepo.CloseSession(ctx, nil, chatID); err != nil {
    return fmt.Errorf("closing session: %w", errs.ErrStore)
  }
  return nil
}

// authorizeSession checks the caller owns the session (agents may touch
// any). Returns NotFound for a vanished session so the widget re-resolves.
func (cs *chatService) authorizeSession(ctx context.Context, chatID uuid.UUID) (*requestdata.RequestData, error) {
  rd := requestdata.GetRequestData(ctx)
  if rd == nil || rd.UserID == uuid.Nil {
    return nil, errs.ErrUnauthenticated
  }
  session, err := cs.sessionRepo.GetSessionByID(ctx, nil, chatID)
  if err != nil {
    if errors.Is(err, gorm.ErrRecordNotFound) {
      return nil, fmt.Errorf("session %s: %w", chatID, errs.ErrNotFound)
    }
    return nil, fmt.Errorf("looking up session: %w", errs.ErrStore)
  }
  if session.UserID != rd.UserID && rd.UserType != types.SenderAgent {
    return nil, fmt.Errorf("session %s does not belong to caller: %w", chatID, errs.ErrNotFound)
  }
  return rd, nil
}

func (cs *chatService) broadcast(ctx context.Context, msg *types.ChatMessage) {
  if cs.hub == nil {
    return
  }
  cs.hub.BroadcastGlobal(ctx, socket.Message{
    Channel: socket.ChatChannel(msg.ChatID),
    Payload: msg,
  })
}

func (cs *chatService) setNotice(ctx context.Context, msg string) {
  if ed := errordata.GetErrorData(ctx); ed != nil {
    ed.SetMessage(msg)
  }
}
