package jobs

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/avelez/chapterboard/internal/identity"
	"github.com/avelez/chapterboard/internal/session"
)

// Scheduler runs periodic hygiene jobs. Nothing here is load-bearing for
// correctness: linking tokens and sessions are checked for expiry at read
// time regardless.
type Scheduler struct {
	cron     *cron.Cron
	resolver *identity.Resolver
	sessions *session.Store
}

// NewScheduler creates a new job scheduler
func NewScheduler(resolver *identity.Resolver, sessions *session.Store) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		resolver: resolver,
		sessions: sessions,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	// Sweep expired linking tokens every 10 minutes
	s.cron.AddFunc("*/10 * * * *", func() {
		s.sweepLinkingTokens()
	})

	// Sweep expired sessions hourly at minute 25
	s.cron.AddFunc("25 * * * *", func() {
		s.sweepSessions()
	})

	s.cron.Start()
	log.Println("Jobs: scheduler started")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Jobs: scheduler stopped")
}

func (s *Scheduler) sweepLinkingTokens() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.resolver.SweepExpiredTokens(ctx)
	if err != nil {
		log.Println("Jobs: failed to sweep linking tokens:", err)
		return
	}
	if n > 0 {
		log.Printf("Jobs: swept %d expired linking tokens", n)
	}
}

func (s *Scheduler) sweepSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.sessions.SweepExpired(ctx)
	if err != nil {
		log.Println("Jobs: failed to sweep sessions:", err)
		return
	}
	if n > 0 {
		log.Printf("Jobs: swept %d expired sessions", n)
	}
}
