package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vedran77/vetchat/internal/auth"
	"github.com/vedran77/vetchat/internal/config"
	"github.com/vedran77/vetchat/internal/database"
	"github.com/vedran77/vetchat/internal/domain"
	"github.com/vedran77/vetchat/internal/metrics"
	"github.com/vedran77/vetchat/internal/ratelimit"
	"github.com/vedran77/vetchat/internal/realtime"
	"github.com/vedran77/vetchat/internal/repository"
	"github.com/vedran77/vetchat/internal/repository/memory"
	postgresrepo "github.com/vedran77/vetchat/internal/repository/postgres"
	"github.com/vedran77/vetchat/internal/service"
	"github.com/vedran77/vetchat/internal/transport/http/handlers"
	"github.com/vedran77/vetchat/internal/transport/http/middleware"
	"github.com/vedran77/vetchat/internal/transport/ws"
)

const shutdownTimeout = 10 * time.Second

type repos struct {
	users    repository.UserRepository
	clients  repository.ClientRepository
	staff    repository.StaffRepository
	messages repository.MessageRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	hub := realtime.NewHub(cfg.FeedBuffer, logger)
	go hub.Run(ctx)

	var r repos
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		if err := database.Migrate(cfg.DatabaseURL()); err != nil {
			return err
		}
		pool, err := database.Connect(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		logger.Info("connected to database", "host", cfg.DBHost, "name", cfg.DBName)

		messages := postgresrepo.NewMessageRepo(pool)
		r = repos{
			users:    postgresrepo.NewUserRepo(pool),
			clients:  postgresrepo.NewClientRepo(pool),
			staff:    postgresrepo.NewStaffRepo(pool),
			messages: messages,
		}
		if cfg.FeedDriver == config.FeedDriverPostgres {
			go realtime.NewPGListener(pool, messages, hub, logger).Run(ctx)
		}

	case config.StoreDriverMemory:
		store := memory.New()
		if err := seedDemo(store); err != nil {
			return err
		}
		logger.Warn("using in-memory store, data is lost on restart")
		r = repos{
			users:    store.Users(),
			clients:  store.Clients(),
			staff:    store.Staff(),
			messages: store.Messages(),
		}
	}

	// Services
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	authService := service.NewAuthService(r.users, tokens)
	identity := service.NewIdentityResolver(r.clients, logger)
	convo := service.NewConversationService(r.messages, r.users, r.staff, logger)
	if cfg.FeedDriver == config.FeedDriverHub {
		convo.SetNotifier(hub)
	}

	// Handlers
	authHandler := handlers.NewAuthHandler(authService, identity, logger)
	messageHandler := handlers.NewMessageHandler(identity, convo, logger)
	requireAuth := middleware.Auth(tokens)
	sendLimits := ratelimit.NewPool(cfg.SendRPS, cfg.SendBurst)
	limitSends := middleware.RateLimit(sendLimits)

	// Routes
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)

	// Protected
	mux.Handle("GET /api/v1/me/identity", requireAuth(http.HandlerFunc(messageHandler.Identity)))
	mux.Handle("GET /api/v1/messages", requireAuth(http.HandlerFunc(messageHandler.List)))
	mux.Handle("POST /api/v1/messages", requireAuth(limitSends(http.HandlerFunc(messageHandler.Send))))

	// WebSocket
	mux.HandleFunc("GET /ws", ws.ServeWS(ws.Deps{
		Identity:      identity,
		Conversations: convo,
		Feed:          hub,
		Tokens:        tokens,
		SendLimits:    sendLimits,
		Logger:        logger,
	}))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           middleware.CORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr, "store", cfg.StoreDriver, "feed", cfg.FeedDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// seedDemo creates one clinic with a doctor and a staff member so the
// in-memory store can be used without a database. Staff sign in with
// password "Clinic123".
func seedDemo(store *memory.Store) error {
	hash, err := service.HashPassword("Clinic123")
	if err != nil {
		return fmt.Errorf("hash demo password: %w", err)
	}

	clinicID := "clinic-demo"
	now := time.Now()
	store.AddUser(domain.User{
		ID: "staff-demo", Email: "frontdesk@clinic.test", FirstName: "Front", LastName: "Desk",
		Role: domain.RoleStaff, ClinicID: &clinicID, PasswordHash: hash, CreatedAt: now,
	})
	store.AddUser(domain.User{
		ID: "doctor-demo", Email: "vet@clinic.test", FirstName: "Dana", LastName: "Vet",
		Role: domain.RoleDoctor, ClinicID: &clinicID, PasswordHash: hash, CreatedAt: now.Add(time.Second),
	})
	return nil
}
