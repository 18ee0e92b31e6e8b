package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"coderoom/internal/api"
	"coderoom/internal/auth"
	"coderoom/internal/config"
	"coderoom/internal/services/collaboration"
	"coderoom/internal/telemetry"

	"github.com/spf13/cobra"
)

/*
LEARNING: GRACEFUL SHUTDOWN PATTERN WITH OBSERVABILITY

The serve command demonstrates:
1. Service initialization and dependency injection
2. Distributed tracing with Jaeger
3. Graceful shutdown handling (listening for SIGINT/SIGTERM)
4. Cleanup order: stop accepting requests, flush every live room, then
   close connections, the database and the tracer
*/

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx)
		},
	}
}

func runServer(ctx context.Context) error {
	log.Println("🚀 Starting coderoom server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Jaeger tracing
	// Learning: Do this FIRST so all operations are traced
	jaegerShutdown, err := telemetry.InitJaeger("coderoom", version, cfg.JaegerEndpoint, cfg.TraceSampleRatio)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = telemetry.Noop
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	// Open the Room Directory and user store
	st, err := openStores(cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := st.close(); err != nil {
			log.Printf("⚠️  Failed to close storage: %v", err)
		}
	}()
	if err := st.migrate(); err != nil {
		return err
	}

	authenticator := auth.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTTTL, st.users)

	// Initialize the room session engine
	sessionManager := collaboration.NewSessionManager(st.rooms, collaboration.Options{
		SaveDebounce:   cfg.SaveDebounce,
		SaveInterval:   cfg.SaveInterval,
		SendBufferSize: cfg.SendBufferSize,
	})
	sessionManager.Start()

	wsHandler := collaboration.NewWebSocketHandler(sessionManager, authenticator, cfg.ClientURL)

	// Initialize handlers with dependency injection
	handler := api.NewHandler(st.rooms, st.users, authenticator, sessionManager, wsHandler, cfg.ClientURL)
	router := api.SetupRoutes(handler)

	// WriteTimeout is not set: upgraded WebSocket connections outlive any
	// request deadline and the REST handlers are short
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("🌐 Server listening on http://%s", cfg.Addr())
		log.Printf("📚 Endpoints:")
		log.Printf("   POST   /api/auth/register        - Create account")
		log.Printf("   POST   /api/auth/login           - Log in")
		log.Printf("   POST   /api/rooms                - Create room")
		log.Printf("   GET    /api/rooms/:roomId        - Get room")
		log.Printf("   PATCH  /api/rooms/:roomId        - Update room flags (owner)")
		log.Printf("   POST   /api/rooms/:roomId/save   - Save room code")
		log.Printf("   GET    /api/users/me/rooms       - List my rooms")
		log.Printf("   GET    /ws/rooms                 - Room sessions (WebSocket)")
		log.Println()

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for an interrupt signal or a listener failure
	var listenErr error
	select {
	case <-ctx.Done():
		log.Println("🛑 Shutting down server...")
	case listenErr = <-serverErr:
		if listenErr != nil {
			log.Printf("❌ Server error: %v", listenErr)
		}
	}

	// Give in-flight requests and room flushes 30 seconds
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	// Flush every live room, then close every connection
	if err := sessionManager.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Some rooms could not be saved: %v", err)
	}

	log.Println("✓ Server shutdown complete")
	return listenErr
}

func init() {
	// Debounce windows are sub-second
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}
