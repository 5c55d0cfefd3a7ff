package server

import (
	"github.com/gin-gonic/gin"

	"github.com/ksred/brokerlink-api/internal/auth"
	"github.com/ksred/brokerlink-api/internal/kyc"
	"github.com/ksred/brokerlink-api/internal/notify"
	"github.com/ksred/brokerlink-api/internal/portfolio"
	"github.com/ksred/brokerlink-api/internal/quotes"
	"github.com/ksred/brokerlink-api/internal/settlement"
	"github.com/ksred/brokerlink-api/internal/subscription"
	"github.com/ksred/brokerlink-api/internal/trading"
	"github.com/ksred/brokerlink-api/pkg/middleware"
)

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth and broker callback routes: public
// - User routes: protected by JWT authentication
// - Trade placement: JWT plus a fresh broker session
// - Internal routes: protected by a shared internal key
func setupRoutes(router *gin.Engine, a *App, internalKey string) {
	authHandlers := auth.NewGinHandlers(a.Auth)
	kycHandlers := kyc.NewGinHandlers(a.KYC)
	tradingHandlers := trading.NewGinHandlers(a.Trading)
	settlementHandlers := settlement.NewGinHandlers(a.Settlement)
	portfolioHandlers := portfolio.NewGinHandlers(a.Portfolio)
	subscriptionHandlers := subscription.NewGinHandlers(a.Subscription)
	notifyHandlers := notify.NewGinHandlers(a.Notify)
	quoteHandlers := quotes.NewGinHandlers(a.Quotes)

	jwt := middleware.JWTAuth(a.Auth)

	v1 := router.Group("/api/v1")
	{
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/register", authHandlers.RegisterHandler())
			authRoutes.POST("/token", authHandlers.GenerateTokenHandler())
		}

		zerodha := v1.Group("/zerodha")
		{
			// Called by the broker or opened in the user's browser
			zerodha.GET("/redirect/", kycHandlers.RedirectHandler())
			zerodha.GET("/execute-trade/:token/", tradingHandlers.ExecuteTradeHandler())
			zerodha.POST("/post-back/", settlementHandlers.PostbackHandler())

			zerodha.GET("/get-kyc-url/", jwt, kycHandlers.KYCURLHandler())
			zerodha.GET("/check-status/", jwt, kycHandlers.CheckStatusHandler())
			zerodha.GET("/refresh-funds/", jwt, kycHandlers.RefreshFundsHandler())
		}

		trades := v1.Group("/trades")
		trades.Use(jwt)
		{
			trades.POST("/", middleware.KYCGate(a.KYC), tradingHandlers.CreateTradeHandler())
			trades.GET("/", tradingHandlers.ListTradesHandler())
			trades.GET("/:id", tradingHandlers.GetTradeHandler())
		}

		portfolioRoutes := v1.Group("/portfolio")
		portfolioRoutes.Use(jwt)
		{
			portfolioRoutes.GET("/", portfolioHandlers.GetPortfolioHandler())
			portfolioRoutes.GET("/insights/", portfolioHandlers.ListInsightsHandler())
		}

		user := v1.Group("")
		user.Use(jwt)
		{
			user.GET("/subscription/", subscriptionHandlers.GetSubscriptionHandler())
			user.GET("/notifications/", notifyHandlers.ListNotificationsHandler())
			user.GET("/settings/", authHandlers.GetSettingsHandler())
			user.PUT("/settings/", authHandlers.UpdateSettingsHandler())
			user.GET("/quotes/", quoteHandlers.ListQuotesHandler())
		}

		// Internal routes (called by the payment flow and back office)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(internalKey))
		{
			internal.POST("/subscription/:user_id/renew", subscriptionHandlers.RenewHandler())
			internal.PUT("/users/:user_id/active", authHandlers.SetActiveHandler())
			internal.POST("/quotes/", quoteHandlers.TrackSymbolHandler())
		}
	}
}
