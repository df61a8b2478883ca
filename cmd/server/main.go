package main

import (
	"context"

	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/dandanito/marketplace/internal/app"
	"github.com/dandanito/marketplace/internal/app/handlers"
	"github.com/dandanito/marketplace/internal/app/sessionmw"
	"github.com/dandanito/marketplace/internal/config"
	"github.com/dandanito/marketplace/internal/lib/logger"
	"github.com/dandanito/marketplace/internal/lib/logger/handlers/reqlog"
	"github.com/dandanito/marketplace/internal/service"
	"github.com/dandanito/marketplace/internal/storage"
)

func main() {
	// .env опционален: в контейнере переменные приходят из окружения
	_ = godotenv.Load()

	// загрузка конфигурации
	cfg := config.MustLoad()

	// инициализация логгера, зависит от настройки окружения
	log := logger.SetupLogger(cfg.Env)
	log.Info("starting app", slog.String("env", cfg.Env))

	// загружаем объект приложения, конфигом и подключением к БД
	application, err := app.NewApp(log, cfg)
	if err != nil {
		log.Error("failed to initialize app", slog.Any("error", err))
		panic(errors.Wrap(err, "failed to initialize app"))
	}
	defer application.DB.Close()

	router := chi.NewRouter()
	// настройка middleware
	router.Use(middleware.RequestID)
	router.Use(reqlog.CustomLoggerMiddleware(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)

	// реализация слоев по работе с БД по каждому направлению
	userRepo := storage.NewUserRepository(application.DB)
	tokenRepo := storage.NewTokenRepository(application.DB)
	productRepo := storage.NewProductRepository(application.DB)
	orderRepo := storage.NewOrderRepository(application.DB)
	lineRepo := storage.NewOrderLineRepository(application.DB)
	fileRepo := storage.NewFileRepository(application.DB)

	sessionService := service.NewSessionService(
		application.Logger, application.DB, userRepo, tokenRepo,
		time.Duration(cfg.Session.TokenTTL)*time.Minute,
		time.Duration(cfg.Session.ExtendMinLife)*time.Minute,
		cfg.Session.MaxSessions,
	)
	userService := service.NewUserService(application.Logger, userRepo)
	orderService := service.NewOrderService(application.Logger, application.DB, orderRepo, lineRepo, productRepo)
	orderGetService := service.NewOrderGetService(application.Logger, orderRepo, lineRepo)
	productService := service.NewProductService(application.Logger, application.DB, productRepo, fileRepo)

	// публичные эндпоинты
	router.Post("/api/signup", handlers.SignupHandler(application.Logger, userService, sessionService))
	router.Post("/api/login", handlers.LoginHandler(application.Logger, sessionService))
	// продление и выход работают с токеном из заголовка напрямую
	router.Post("/api/extend", handlers.ExtendHandler(application.Logger, sessionService))
	router.Post("/api/logout", handlers.LogoutHandler(application.Logger, sessionService))
	router.Get("/api/products", handlers.ProductListHandler(application.Logger, productService))

	router.Group(func(r chi.Router) {
		r.Use(sessionmw.New(application.Logger, sessionService))

		r.Get("/api/whoami", handlers.WhoamiHandler(application.Logger, userService))
		r.Post("/api/logoutAll", handlers.LogoutAllHandler(application.Logger, sessionService))

		r.Post("/api/orders", handlers.OrderCreateHandler(application.Logger, orderService))
		r.Get("/api/orders", handlers.OrderListHandler(application.Logger, orderGetService))
		r.Patch("/api/orders/{id}", handlers.OrderEditHandler(application.Logger, orderService))
		r.Delete("/api/orders/{id}", handlers.OrderRemoveHandler(application.Logger, orderService))
		r.Get("/api/orders/{id}/lines", handlers.OrderLinesHandler(application.Logger, orderGetService))

		r.Post("/api/products", handlers.ProductCreateHandler(application.Logger, productService))
		r.Patch("/api/products/{id}", handlers.ProductEditHandler(application.Logger, productService))
		r.Delete("/api/products/{id}", handlers.ProductRemoveHandler(application.Logger, productService))
		r.Post("/api/products/{id}/vote", handlers.ProductVoteHandler(application.Logger, productService))
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("starting server", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.Any("error", err))
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	stopSign := <-stop
	log.Info("received shutdown signal", slog.String("signal", stopSign.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", slog.Any("error", err))
	}
	log.Info("server gracefully stopped")
}
