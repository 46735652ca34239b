package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avelez/chapterboard/internal/api"
	"github.com/avelez/chapterboard/internal/config"
	"github.com/avelez/chapterboard/internal/database"
	"github.com/avelez/chapterboard/internal/identity"
	"github.com/avelez/chapterboard/internal/jobs"
	"github.com/avelez/chapterboard/internal/mailer"
	"github.com/avelez/chapterboard/internal/onboarding"
	"github.com/avelez/chapterboard/internal/session"
	"github.com/avelez/chapterboard/internal/token"
	"github.com/avelez/chapterboard/internal/upload"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database connection: %v", err)
	}
	defer sqlDB.Close()

	// Run migrations
	if err := database.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Wire services
	var mail mailer.Mailer
	if cfg.SMTP.Host != "" {
		mail = mailer.NewSMTP(cfg.SMTP)
	} else {
		log.Println("WARNING: SMTP_HOST not set. Email will be written to the log.")
		mail = mailer.LogMailer{}
	}

	issuer := token.NewIssuer(cfg.TokenSecret)
	sessions := session.NewStore(db)
	resolver := identity.NewResolver(db, issuer, mail, cfg.AppURL)
	orch := onboarding.NewOrchestrator(db, resolver, sessions,
		upload.NewValidator(), upload.NewDiskStore(cfg.UploadDir))

	// Start hygiene sweeps
	scheduler := jobs.NewScheduler(resolver, sessions)
	scheduler.Start()
	defer scheduler.Stop()

	// Setup API router
	router := api.NewRouter(cfg, api.Deps{
		DB:       db,
		Resolver: resolver,
		Sessions: sessions,
		Orch:     orch,
		Issuer:   issuer,
		Mail:     mail,
		Provider: nil, // wired by the OAuth callback layer when configured
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on port %d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
