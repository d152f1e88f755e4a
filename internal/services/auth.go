package services

import (
  "context"
  "errors"
  "fmt"
  "strings"
  "time"

  "github.com/golang-jwt/jwt/v5"
  "github.com/google/uuid"
  "golang.org/x/crypto/bcrypt"
  "gorm.io/gorm"

  "github.com/marketbay/marketbay-backend/internal/errs"
  "github.com/marketbay/marketbay-backend/internal/logger"
  "github.com/marketbay/marketbay-backend/internal/repos"
  "github.com/marketbay/marketbay-backend/internal/requestdata"
  "github.com/marketbay/marketbay-backend/internal/types"
)

type JWTClaims struct {
  jwt.RegisteredClaims
  UserType string `json:"user_type,omitempty"`
}

type AuthService interface {
  RegisterUser(ctx context.Context, user *types.User) error
  Login(ctx context.Context, email, password string) (string, error)

  // SetContextFromToken validates the token and attaches the actor's
  // requestdata to the returned context.
  SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
}

type authService struct {
  db           *gorm.DB
  log          *logger.Logger
  userRepo     repos.UserRepo
  jwtSecretKey string
  accessTTL    time.Duration
}

func NewAuthService(
  db *gorm.DB,
  log *logger.Logger,
  userRepo repos.UserRepo,
  jwtSecretKey string,
  accessTTL time.Duration,
) AuthService {
  serviceLog := log.With("service", "AuthService")
  return &authService{
    db:           db,
    log:          serviceLog,
    userRepo:     userRepo,
    jwtSecretKey: jwtSecretKey,
    accessTTL:    accessTTL,
  }
}

func (as *authService) RegisterUser(ctx context.Context, user *types.User) error {
  user.Email = strings.ToLower(strings.TrimSpace(user.Email))
  if user.Email == "" || user.Password == "" || user.FirstName == "" || user.LastName == "" {
    return fmt.Errorf("email, password, first name and last name are required: %w", errs.ErrValidation)
  }
  if user.UserType == "" {
    user.UserType = types.SenderCustomer
  }

  hashed, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
  if err != nil {
    as.log.Error("failed to hash password", "error", err)
    return fmt.Errorf("hashing password: %w", errs.ErrStore)
  }
  user.Password = string(hashed)

  if _, err := as.userRepo.Create(ctx, nil, user); err != nil {
    if errors.Is(err, gorm.ErrDuplicatedKey) {
      return fmt.Errorf("email already registered: %w", errs.ErrValidation)
    }
    return fmt.Errorf("creating user: %w", errs.ErrStore)
  }
  as.log.Info("Registered new user", "user_id", user.ID, "user_type", user.UserType)
  return nil
}

func (as *authService) Login(ctx context.Context, email, password string) (string, error) {
  email = strings.ToLower(strings.TrimSpace(email))
  user, err := as.userRepo.GetByEmail(ctx, nil, email)
  if err != nil {
    if errors.Is(err, gorm.ErrRecordNotFound) {
      return "", fmt.Errorf("invalid email or password: %w", errs.ErrUnauthenticated)
    }
    return "", fmt.Errorf("looking up user: %w", errs.ErrStore)
  }
  if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
    return "", fmt.Errorf("invalid email or password: %w", errs.ErrUnauthenticated)
  }
  return as.generateAccessToken(user)
}

func (as *authService) generateAccessToken(user *types.User) (string, error) {
  now := time.Now()
  claims := JWTClaims{
    RegisteredClaims: jwt.RegisteredClaims{
      Subject:   user.ID.String(),
      IssuedAt:  jwt.NewNumericDate(now),
      ExpiresAt: jwt.NewNumericDate(now.Add(as.accessTTL)),
    },
    UserType: user.UserType,
  }
  token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
  signed, err := token.SignedString([]byte(as.jwtSecretKey))
  if err != nil {
    as.log.Error("failed to sign access token", "error", err)
    return "", err
  }
  return signed, nil
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
  claims := &JWTClaims{}
  token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
    if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
      return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
    }
    return []byte(as.jwtSecretKey), nil
  })
  if err != nil || !token.Valid {
    return ctx, errs.ErrUnauthenticated
  }
  userID, err := uuid.Parse(claims.Subject)
  if err != nil || userID == uuid.Nil {
    return ctx, errs.ErrUnauthenticated
  }
  rd := &requestdata.RequestData{
    TokenString: tokenString,
    UserType:    claims.UserType,
    UserID:      userID,
  }
  return requestdata.WithRequestData(ctx, rd), nil
}
