package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ascendhq/ascend/billing"
	"github.com/ascendhq/ascend/config"
	"github.com/ascendhq/ascend/controllers"
	"github.com/ascendhq/ascend/gate"
	"github.com/ascendhq/ascend/ledger"
	"github.com/ascendhq/ascend/middleware"
	"github.com/ascendhq/ascend/payments"
	"github.com/ascendhq/ascend/progression"
	"github.com/ascendhq/ascend/subscription"
	"github.com/ascendhq/ascend/utils"
)

// Deps carries the wired services into the router. main builds them once and
// the router only binds handlers.
type Deps struct {
	DB            *gorm.DB
	Ledger        *ledger.Service
	Subscriptions *subscription.Service
	Progression   *progression.Service
	Gate          *gate.Evaluator
	Processor     *payments.Processor
	Adapters      []billing.Adapter
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(d Deps) *gin.Engine {
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(utils.GinLogger())
	r.Use(utils.GinRecovery())

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	accountController := controllers.NewAccountController(d.DB)
	walletController := controllers.NewWalletController(d.Ledger)
	subscriptionController := controllers.NewSubscriptionController(d.Subscriptions)
	progressionController := controllers.NewProgressionController(d.Progression)
	gateController := controllers.NewGateController(d.Gate)
	webhookController := controllers.NewWebhookController(d.Processor, d.Adapters...)

	// Provider callbacks authenticate through signatures, not JWT, and are
	// excluded from the IP rate limiter so a redelivery burst is never
	// dropped.
	r.POST("/webhooks/:provider", webhookController.Receive)

	api := r.Group("/api/v1")

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware())
	authGroup.POST("/register", accountController.Register)
	authGroup.POST("/login", accountController.Login)
	authGroup.POST("/logout", middleware.AuthRequired(), accountController.Logout)
	authGroup.GET("/me", middleware.AuthRequired(), accountController.Me)
	authGroup.DELETE("/me", middleware.AuthRequired(), accountController.Deactivate)

	protected := api.Group("")
	protected.Use(middleware.AuthRequired(), middleware.RateLimitMiddleware())

	protected.GET("/wallet/balance", walletController.Balance)
	protected.GET("/wallet/transactions", walletController.Transactions)
	protected.POST("/wallet/spend", walletController.Spend)

	protected.GET("/subscription", subscriptionController.Get)

	protected.POST("/progression/activity", progressionController.RecordActivity)
	protected.GET("/progression/summary", progressionController.Summary)
	protected.GET("/progression/achievements", progressionController.Achievements)

	protected.GET("/gate/:feature", gateController.Check)
	protected.POST("/gate/:feature/use", gateController.Use)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "route not found")
	})

	return r
}
