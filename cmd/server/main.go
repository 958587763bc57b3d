package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/errgroup"

	"familytasks/internal/config"
	"familytasks/internal/database"
	"familytasks/internal/handlers"
	"familytasks/internal/logging"
	"familytasks/internal/repository"
	"familytasks/internal/security"
	"familytasks/internal/service"
)

const (
	stepDatabase   = "Database connection"
	stepMigrations = "Running migrations"
	stepServices   = "Initializing services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
	log.Info().Msg("Server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	status := handlers.NewStartupStatus(stepDatabase, stepMigrations, stepServices)

	// Initialize database with config (supports sqlite, postgres, mysql)
	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	status.CompleteStep(stepDatabase)
	log.Info().Str("type", cfg.DatabaseType).Msg("Database connection established")

	if err := db.RunMigrations(ctx, cfg.MigrationsPath); err != nil {
		return err
	}
	status.CompleteStep(stepMigrations)
	log.Info().Msg("Migrations completed successfully")

	// Initialize repositories
	identityRepo := repository.NewIdentityRepository(db)
	familyRepo := repository.NewFamilyRepository(db)
	listRepo := repository.NewListRepository(db)

	tokenConfig := security.TokenConfig{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.TokenIssuer,
		Audience: cfg.TokenAudience,
		TTL:      cfg.TokenTTL,
	}
	issuer, err := security.NewTokenIssuer(tokenConfig)
	if err != nil {
		return err
	}
	validator, err := security.NewTokenValidator(tokenConfig)
	if err != nil {
		return err
	}
	csrf := security.NewCSRFGenerator(cfg.JWTSecret)
	limiter := security.NewLimiter(map[string]security.RateRule{
		security.RuleAuth:  {Limit: cfg.RateLimitAuth, Window: cfg.RateLimitWindow},
		security.RuleWrite: {Limit: cfg.RateLimitWrite, Window: cfg.RateLimitWindow},
		security.RuleRead:  {Limit: cfg.RateLimitRead, Window: cfg.RateLimitWindow},
	})

	emailService, err := service.NewEmailService(ctx, cfg.AWSRegion, cfg.SESFromEmail, cfg.SESFromName, cfg.AppBaseURL, cfg.EmailDebug)
	if err != nil {
		return err
	}

	// Initialize services
	authService := service.NewAuthService(db, identityRepo, familyRepo, issuer, emailService)
	familyService := service.NewFamilyService(db, identityRepo, familyRepo, authService)
	listService := service.NewListService(listRepo)

	oauthProviders := map[string]handlers.OAuthProvider{
		"google": {
			Name:  "google",
			Label: "Google",
			Config: &oauth2.Config{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				Endpoint:     google.Endpoint,
				Scopes:       []string{"openid", "email", "profile"},
			},
			UserInfoURL:        "https://www.googleapis.com/oauth2/v2/userinfo",
			VerifiedEmailField: "verified_email",
		},
		"facebook": {
			Name:  "facebook",
			Label: "Facebook",
			Config: &oauth2.Config{
				ClientID:     cfg.FacebookClientID,
				ClientSecret: cfg.FacebookClientSecret,
				Endpoint:     facebook.Endpoint,
				Scopes:       []string{"email", "public_profile"},
			},
			UserInfoURL: "https://graph.facebook.com/me?fields=id,name,email",
		},
	}

	// Initialize handlers
	router := &handlers.Router{
		Middleware: handlers.NewMiddleware(validator, limiter, csrf, familyRepo, handlers.MiddlewareConfig{
			TrustProxy:   cfg.TrustProxy,
			StoreTimeout: cfg.StoreTimeout,
		}),
		Auth:   handlers.NewAuthHandler(authService, csrf, oauthProviders, cfg.OAuthRedirectBaseURL),
		Family: handlers.NewFamilyHandler(familyService, service.NewBackupService(familyRepo, listRepo)),
		Lists:  handlers.NewListHandler(listService),
		Health: handlers.NewHealthHandler(status, db),
	}
	status.CompleteStep(stepServices)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("Server starting")
		status.MarkReady()
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return limiter.Run(gctx, cfg.RateLimitWindow)
	})

	g.Go(func() error {
		cleanupExpiredResetTokens(gctx, authService)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// cleanupExpiredResetTokens periodically removes expired password reset tokens
func cleanupExpiredResetTokens(ctx context.Context, authService *service.AuthService) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := authService.CleanupExpiredResetTokens(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Error cleaning up expired reset tokens")
				continue
			}
			log.Debug().Int64("removed", removed).Msg("Expired reset tokens cleaned up")
		}
	}
}
