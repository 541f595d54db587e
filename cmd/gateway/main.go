package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/qader-platform/challenge-gateway/internal/config"
	"github.com/qader-platform/challenge-gateway/internal/handler"
	"github.com/qader-platform/challenge-gateway/internal/middleware"
	"github.com/qader-platform/challenge-gateway/internal/qader"
	"github.com/qader-platform/challenge-gateway/internal/realtime"
	redisRepo "github.com/qader-platform/challenge-gateway/internal/repository/redis"
	"github.com/qader-platform/challenge-gateway/internal/room"
	"github.com/qader-platform/challenge-gateway/internal/service"
	ws "github.com/qader-platform/challenge-gateway/internal/websocket"
	"github.com/qader-platform/challenge-gateway/pkg/auth/manager"
	"github.com/qader-platform/challenge-gateway/pkg/database"
)

func main() {
	// Загружаем конфигурацию
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	log.Printf("Загрузка конфигурации из %s", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к Redis с использованием унифицированной конфигурации
	redisClient, err := database.NewUniversalRedisClient(cfg.Redis)
	if err != nil {
		log.Printf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	log.Println("Successfully connected to Redis")

	cacheRepo, err := redisRepo.NewCacheRepo(redisClient)
	if err != nil {
		log.Printf("Failed to initialize CacheRepo: %v", err)
		os.Exit(1)
	}

	// Клиент upstream API Qader
	qaderClient := qader.NewClient(cfg.Upstream.BaseURL, time.Duration(cfg.Upstream.RequestTimeoutSec)*time.Second)

	// Менеджер сессий шлюза
	sessionManager, err := manager.NewSessionManager(cacheRepo, time.Duration(cfg.Cache.SessionTTLSec)*time.Second)
	if err != nil {
		log.Printf("Failed to initialize SessionManager: %v", err)
		os.Exit(1)
	}

	// Сервисы
	directoryService := service.NewDirectoryService(
		qaderClient,
		cacheRepo,
		time.Duration(cfg.Cache.DirectoryTTLSec)*time.Second,
		time.Duration(cfg.Cache.TypesTTLSec)*time.Second,
	)
	lifecycleService := service.NewLifecycleService(qaderClient, directoryService)

	// Контекст жизни фоновых горутин (комнаты, realtime-каналы)
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rtCfg := realtime.Config{
		HandshakeTimeout: time.Duration(cfg.Realtime.HandshakeTimeoutSec) * time.Second,
		ReconnectMin:     time.Duration(cfg.Realtime.ReconnectMinMs) * time.Millisecond,
		ReconnectMax:     time.Duration(cfg.Realtime.ReconnectMaxMs) * time.Millisecond,
	}
	roomRegistry := room.NewRegistry(appCtx)
	roomService := service.NewRoomService(qaderClient, roomRegistry, cfg.Upstream.WSBaseURL, rtCfg)

	// Обработчики
	wsClientCfg := ws.ClientConfig{
		BufferSize:     cfg.WebSocket.ClientSendBuffer,
		PingInterval:   time.Duration(cfg.WebSocket.PingIntervalSec) * time.Second,
		PongWait:       time.Duration(cfg.WebSocket.PongWaitSec) * time.Second,
		WriteWait:      time.Duration(cfg.WebSocket.WriteWaitSec) * time.Second,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	}

	authHandler := handler.NewAuthHandler(qaderClient, sessionManager)
	challengeHandler := handler.NewChallengeHandler(qaderClient, directoryService, lifecycleService)
	roomHandler := handler.NewRoomHandler(roomService, wsClientCfg)
	authMiddleware := middleware.NewAuthMiddleware(sessionManager)

	// Настраиваем роутер
	router := gin.Default()

	if err := router.SetTrustedProxies([]string{"127.0.0.1", "::1"}); err != nil {
		log.Printf("Warning: failed to set trusted proxies: %v", err)
	}

	// Настройка CORS
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"https://qader.vip", "https://www.qader.vip", "http://localhost:5173", "http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Настраиваем маршруты API
	api := router.Group("/api")
	{
		// Аутентификация
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/login", authHandler.Login)

			authedAuth := authGroup.Group("/")
			authedAuth.Use(authMiddleware.RequireSession())
			{
				authedAuth.POST("/logout", authHandler.Logout)
				authedAuth.GET("/me", authHandler.Me)
			}
		}

		// Челленджи (все маршруты требуют сессию)
		challenges := api.Group("/challenges")
		challenges.Use(authMiddleware.RequireSession())
		{
			challenges.GET("", challengeHandler.ListChallenges)
			challenges.POST("", challengeHandler.CreateChallenge)
			challenges.GET("/types", challengeHandler.GetChallengeTypes)
			challenges.GET("/export", challengeHandler.ExportHistory)

			byID := challenges.Group("/:id")
			byID.Use(middleware.ExtractChallengeID())
			{
				byID.GET("", challengeHandler.GetChallenge)
				byID.POST("/accept", challengeHandler.AcceptChallenge())
				byID.POST("/decline", challengeHandler.DeclineChallenge())
				byID.POST("/cancel", challengeHandler.CancelChallenge())
				byID.POST("/ready", challengeHandler.MarkReady())
				byID.POST("/rematch", challengeHandler.Rematch)
				byID.POST("/answer", challengeHandler.SubmitAnswer)

				// WebSocket комнаты челленджа
				byID.GET("/room", roomHandler.HandleConnection)
			}
		}
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Запускаем сервер в горутине
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Server started on port %s", cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Останавливаем комнаты и realtime-каналы
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		os.Exit(1)
	}

	log.Println("Server exited properly")
}
