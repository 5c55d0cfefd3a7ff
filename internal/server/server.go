// Package server wires the domain services into the HTTP API and the
// background jobs.
package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ksred/brokerlink-api/internal/auth"
	"github.com/ksred/brokerlink-api/internal/broker"
	"github.com/ksred/brokerlink-api/internal/config"
	"github.com/ksred/brokerlink-api/internal/kyc"
	"github.com/ksred/brokerlink-api/internal/notify"
	"github.com/ksred/brokerlink-api/internal/portfolio"
	"github.com/ksred/brokerlink-api/internal/quotes"
	"github.com/ksred/brokerlink-api/internal/scheduler"
	"github.com/ksred/brokerlink-api/internal/settlement"
	"github.com/ksred/brokerlink-api/internal/subscription"
	"github.com/ksred/brokerlink-api/internal/trading"
	"github.com/ksred/brokerlink-api/pkg/middleware"
)

// App holds every service of the backend.
type App struct {
	cfg *config.Config

	Auth         *auth.Service
	KYC          *kyc.Service
	Notify       *notify.Service
	Subscription *subscription.Service
	Trading      *trading.Service
	Settlement   *settlement.Service
	Quotes       *quotes.Service
	Portfolio    *portfolio.Service
}

// New builds the services on top of an open database.
func New(cfg *config.Config, db *gorm.DB) *App {
	kite := broker.NewClient(cfg.Broker)
	notifier := notify.NewService(db, notify.NewFCMClient(cfg.FCM))

	kycService := kyc.NewService(db, kite, cfg.Broker)
	subscriptionService := subscription.NewService(db, notifier, notifier, cfg.Subscription)
	quoteService := quotes.NewService(db, kycService, kite, cfg.Broker)

	return &App{
		cfg:          cfg,
		Auth:         auth.NewService(db, cfg.Auth),
		KYC:          kycService,
		Notify:       notifier,
		Subscription: subscriptionService,
		Trading:      trading.NewService(db, subscriptionService, cfg.HTTP, cfg.Broker),
		Settlement:   settlement.NewService(db, notifier, notifier),
		Quotes:       quoteService,
		Portfolio:    portfolio.NewService(db, quoteService),
	}
}

// Router returns the gin engine with every API route.
func (a *App) Router() *gin.Engine {
	router := gin.Default()
	if a.cfg.HTTP.RateLimit {
		router.Use(middleware.RateLimit())
	}

	setupRoutes(router, a, a.cfg.Auth.InternalAPIKey)
	return router
}

// RegisterJobs schedules the periodic quote, portfolio and subscription
// work. Quotes refresh first so the portfolio run values fresh prices.
func (a *App) RegisterJobs(s *scheduler.Scheduler) error {
	jobs := []struct {
		name     string
		fn       scheduler.Task
		interval time.Duration
	}{
		{"quote-refresh", a.Quotes.RefreshQuotes, a.cfg.Jobs.QuoteRefreshInterval},
		{"portfolio-recompute", a.Portfolio.Recompute, a.cfg.Jobs.PortfolioInterval},
		{"subscription-sweep", a.Subscription.DeactivateExpired, a.cfg.Jobs.SubscriptionSweepInterval},
	}

	for _, job := range jobs {
		if err := s.NewIntervalJob(job.name, job.fn, job.interval, false); err != nil {
			return err
		}
	}
	return nil
}
