package main

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"

	"github.com/chambalink/backend/internal/config"
	"github.com/chambalink/backend/internal/contentsafety"
	"github.com/chambalink/backend/internal/db"
	"github.com/chambalink/backend/internal/handlers"
	"github.com/chambalink/backend/internal/logging"
	"github.com/chambalink/backend/internal/middleware"
	"github.com/chambalink/backend/internal/models"
	"github.com/chambalink/backend/internal/realtime"
	"github.com/chambalink/backend/internal/services/agreements"
	"github.com/chambalink/backend/internal/services/checkout"
	"github.com/chambalink/backend/internal/services/notify"
	"github.com/chambalink/backend/internal/services/offers"
	"github.com/chambalink/backend/internal/services/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.New(cfg.LogLevel)

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}

	if err := gdb.AutoMigrate(
		&models.User{},
		&models.ServiceRequest{},
		&models.Conversation{},
		&models.Message{},
		&models.Offer{},
		&models.Agreement{},
		&models.PaymentEvent{},
	); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}

	ctx := context.Background()

	rdb := realtime.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}

	hub := realtime.NewHub(logger)
	go hub.Run()

	broker := realtime.NewBroker(hub, rdb, logger)
	go broker.RunBridge(ctx)

	notifier := notify.NewPublisher(rdb, logger)

	scanner := contentsafety.New(contentsafety.Config{
		Mode: contentsafety.Mode(cfg.ContactPolicy),
	}, logger)

	gateway := checkout.NewClient(cfg.CheckoutBaseURL, cfg.CheckoutAPIKey, cfg.CheckoutSecret, cfg.CheckoutTimeout)

	signer, err := storage.NewSigner(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("attachment storage setup failed")
	}

	syncer := agreements.NewSyncer(agreements.NewStore(gdb), logger)

	ledger := offers.NewLedger(
		offers.NewStore(gdb),
		gateway,
		syncer,
		broker,
		notifier,
		offers.Config{
			Currencies:      cfg.Currencies,
			TTL:             cfg.OfferTTL,
			LockGrace:       cfg.OfferLockGrace,
			CheckoutTimeout: cfg.CheckoutTimeout,
			SuccessURL:      cfg.CheckoutSuccessURL,
			CancelURL:       cfg.CheckoutCancelURL,
		},
		logger,
	)
	ledger.StartSweeper(ctx, cfg.OfferSweepEvery)

	authH := &handlers.AuthHandler{
		DB:        gdb,
		JWTSecret: cfg.JWTSecret,
		Expires:   cfg.JWTExpiresMin,
	}
	requestH := handlers.NewRequestHandler(gdb, logger)
	chatH := handlers.NewChatHandler(gdb, hub, broker, scanner, notifier, cfg.JWTSecret, logger)
	offerH := handlers.NewOfferHandler(gdb, ledger, logger)
	attachmentH := handlers.NewAttachmentHandler(gdb, signer, cfg.MaxAttachmentBytes, logger)
	paymentH := handlers.NewPaymentHandler(gdb, gateway, ledger, logger)

	app := fiber.New(fiber.Config{
		BodyLimit: int(cfg.MaxAttachmentBytes) + 1024*1024,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		ExposeHeaders:    "Content-Length",
		AllowCredentials: true,
	}))

	app.Options("/*", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	api := app.Group("/api")

	// public
	api.Post("/auth/register", authH.Register)
	api.Post("/auth/login", authH.Login)
	api.Post("/auth/logout", authH.Logout)
	api.Get("/requests", requestH.ListRequests)
	api.Get("/requests/:id", requestH.GetRequest)

	// gateway callback, authenticated by signature instead of JWT
	api.Post("/payments/webhook", paymentH.HandleWebhook)

	// protected (JWT)
	protected := api.Group("/",
		middleware.JWTFromCookie(cfg.JWTSecret),
		middleware.AttachJWTLocals(),
	)

	protected.Get("/me", authH.Me)

	protected.Post("/requests",
		middleware.RequireRoles("client"),
		requestH.CreateRequest,
	)
	protected.Get("/my/requests",
		middleware.RequireRoles("client"),
		requestH.MyRequests,
	)
	protected.Patch("/requests/:id/close",
		middleware.RequireRoles("client"),
		requestH.CloseRequest,
	)

	chat := protected.Group("/chat")

	chat.Post("/conversations", chatH.EnsureConversation)
	chat.Get("/conversations", chatH.GetConversations)
	chat.Get("/unread", chatH.GetUnreadTotal)
	chat.Get("/conversations/:id/messages", chatH.GetMessages)
	chat.Post("/conversations/:id/messages", chatH.SendMessage)
	chat.Patch("/conversations/:id/read", chatH.MarkAsRead)

	chat.Post("/conversations/:id/attachments", attachmentH.Upload)
	chat.Get("/conversations/:id/attachments/url", attachmentH.ResolveURL)

	chat.Post("/conversations/:id/offers",
		middleware.RequireRoles("professional"),
		offerH.CreateOffer,
	)
	chat.Get("/conversations/:id/offers", offerH.GetOffers)

	protected.Get("/offers/:id", offerH.GetOffer)
	protected.Post("/offers/:id/accept",
		middleware.RequireRoles("client"),
		offerH.AcceptOffer,
	)
	protected.Post("/offers/:id/reject",
		middleware.RequireRoles("client"),
		offerH.RejectOffer,
	)
	protected.Post("/offers/:id/cancel",
		middleware.RequireRoles("professional"),
		offerH.CancelOffer,
	)

	// websocket, authenticated by token query param inside the handler
	app.Get("/ws/chat", websocket.New(chatH.WebSocketHandler))

	logger.Info().Str("port", cfg.AppPort).Msg("listening")
	if err := app.Listen(":" + cfg.AppPort); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}
