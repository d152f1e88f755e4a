package main

import (
  "context"
  "fmt"
  "os"
  "time"

  "github.com/joho/godotenv"

  "github.com/marketbay/marketbay-backend/internal/db"
  "github.com/marketbay/marketbay-backend/internal/handlers"
  "github.com/marketbay/marketbay-backend/internal/logger"
  "github.com/marketbay/marketbay-backend/internal/middleware"
  "github.com/marketbay/marketbay-backend/internal/repos"
  "github.com/marketbay/marketbay-backend/internal/seed"
  "github.com/marketbay/marketbay-backend/internal/server"
  "github.com/marketbay/marketbay-backend/internal/services"
  "github.com/marketbay/marketbay-backend/internal/socket"
  "github.com/marketbay/marketbay-backend/internal/utils"
)

func main() {
  // Logger Setup
  logMode := os.Getenv("LOG_MODE")
  if logMode == "" {
    logMode = "development"
  }
  log, err := logger.New(logMode)
  if err != nil {
    fmt.Printf("failed to init logger: %v\n", err)
    os.Exit(1)
  }
  defer log.Sync()

  // Environment Variables
  if err := godotenv.Load(); err != nil {
    log.Debug("No .env file found, relying on process environment")
  }
  log.Info("Attempting to load environment variables for Main now...")
  jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
  accessTokenTTL := utils.GetEnvAsInt("ACCESS_TOKEN_TTL", 3600, log)
  redisAddress := utils.GetEnv("REDIS_ADDRESS", "localhost:6379", log)
  redisPassword := utils.GetEnv("REDIS_PASSWORD", "", log)
  stockSweepInterval := utils.GetEnvAsDuration("STOCK_SWEEP_INTERVAL", 15*time.Minute, log)
  stockAlertEmail := utils.GetEnv("STOCK_ALERT_EMAIL", "ops@marketbay.dev", log)
  log.Info("Environment variables loaded for Main :)")

  // Postgres Setup
  log.Info("Setting Up Postgres from Main now...")
  postgresService, err := db.NewPostgresService(log)
  if err != nil {
    log.Error("DB init failed", "error", err)
    os.Exit(1)
  }
  if err = postgresService.AutoMigrateAll(); err != nil {
    log.Warn("Postgres auto migration failed", "error", err)
  }
  thePG := postgresService.DB()
  log.Info("Postgres Setup From Main Successful :)")

  // Repositories Setup
  log.Info("Setting Up Repositories from Main now...")
  userRepo := repos.NewUserRepo(thePG, log)
  productRepo := repos.NewProductRepo(thePG, log)
  chatSessionRepo := repos.NewChatSessionRepo(thePG, log)
  chatMessageRepo := repos.NewChatMessageRepo(thePG, log)
  log.Info("Repositories Set Up From Main Successful :)")

  // Seed Setup
  log.Info("Attempting to Seed The Postgres From Main now...")
  if err := seed.SeedAll(thePG, productRepo); err != nil {
    log.Warn("Failed to seed data :(", "error", err)
  }
  log.Info("Seeding of Postgres From Main Successful :)")

  // Websocket Setup
  log.Info("Setting Up Websocket Hub From Main Now :)")
  wsHub := socket.NewHub(log)
  log.Info("Websocket Hub Set Up From Main Successful :)")

  // Redis PubSub
  log.Info("Setting Up Redis PubSub From Main Now :)")
  redisChanName := "marketbay_hub_broadcast"
  redisPubSub, err := socket.NewRedisPubSub(log, redisAddress, redisPassword, redisChanName)
  if err != nil {
    log.Warn("Failed to init redis pubsub; running single-node", "error", err)
  } else {
    if err := redisPubSub.StartSubscriber(wsHub); err != nil {
      log.Warn("Failed to subscribe to Redis pub/sub", "error", err)
    } else {
      wsHub.SetRedisPubSub(redisPubSub)
      log.Info("Redis pubsub is active!")
    }
  }

  // Services Setup
  log.Info("Setting up Services from Main now...")
  notificationService, err := services.NewNotificationService(log)
  if err != nil {
    log.Warn("Could not init NotificationService; low stock alerts disabled", "error", err)
  }
  authService := services.NewAuthService(thePG, log, userRepo, jwtSecretKey, time.Duration(accessTokenTTL)*time.Second)
  meService := services.NewMeService(thePG, log, userRepo)
  chatService := services.NewChatService(thePG, log, chatSessionRepo, chatMessageRepo, wsHub)
  stockAlertService := services.NewStockAlertService(thePG, log, productRepo, notificationService, stockAlertEmail)
  log.Info("Services Set Up From Main Successful :)")

  // Low Stock Sweep
  sweepCtx, sweepCancel := context.WithCancel(context.Background())
  go stockAlertService.Run(sweepCtx, stockSweepInterval)

  // Handler Setup
  log.Info("Setting Up Handlers from Main now...")
  authHandler := handlers.NewAuthHandler(authService)
  meHandler := handlers.NewMeHandler(meService)
  chatHandler := handlers.NewChatHandler(chatService)
  wsHandler := handlers.WsHandler(wsHub, log)
  log.Info("Handlers Set Up From Main Successful :)")

  // MiddleWare Setup
  authMiddleware := middleware.NewAuthMiddleware(log, authService)

  // Router Setup
  log.Info("Setting Up Router from Main now...")
  router := server.NewRouter(server.RouterConfig{
    AuthHandler:    authHandler,
    AuthMiddleware: authMiddleware,
    MeHandler:      meHandler,
    ChatHandler:    chatHandler,
    WsHandler:      wsHandler,
  })
  log.Info("Router Set Up From Main Successful :)")

  port := utils.GetEnv("PORT", "8080", log)
  fmt.Printf("Server listening on :%s\n", port)
  if err := router.Run(":" + port); err != nil {
    log.Warn("Server failed", "error", err)
  }

  // On Shutdown
  sweepCancel()
  if redisPubSub != nil {
    redisPubSub.Stop()
  }
}
