package main

import (
	"time"

	"github.com/ascendhq/ascend/billing"
	"github.com/ascendhq/ascend/config"
	"github.com/ascendhq/ascend/gate"
	"github.com/ascendhq/ascend/ledger"
	"github.com/ascendhq/ascend/models"
	"github.com/ascendhq/ascend/payments"
	"github.com/ascendhq/ascend/progression"
	"github.com/ascendhq/ascend/routes"
	"github.com/ascendhq/ascend/subscription"
	"github.com/ascendhq/ascend/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}

	db := config.InitDatabase(
		&models.Account{},
		&models.PaymentTransaction{},
		&models.CoinTransaction{},
		&models.Subscription{},
		&models.XPTransaction{},
		&models.Achievement{},
		&models.UnlockedAchievement{},
		&models.ActivityEvent{},
	)

	if err := progression.SeedAchievements(db); err != nil {
		utils.Sugar.Fatalf("failed to seed achievements: %v", err)
	}

	levels, err := progression.NewLevels(cfg.LevelThresholds)
	if err != nil {
		utils.Sugar.Fatalf("invalid level thresholds: %v", err)
	}

	catalog := billing.NewCatalog(cfg.Products)

	var verifier billing.ReceiptVerifier
	if cfg.AppStoreMock {
		verifier = &billing.MockReceiptVerifier{}
	} else {
		verifier = billing.NewAppStoreVerifier(billing.AppStoreConfig{
			SharedSecret: cfg.AppStoreSharedSecret,
			VerifyURL:    cfg.AppStoreVerifyURL,
			SandboxURL:   cfg.AppStoreSandboxURL,
			Timeout:      time.Duration(cfg.AppStoreTimeoutSec) * time.Second,
		})
	}

	adapters := []billing.Adapter{
		billing.NewStripeAdapter(billing.StripeConfig{
			WebhookSecret: cfg.StripeWebhookSecret,
			Tolerance:     time.Duration(cfg.StripeToleranceSec) * time.Second,
		}, catalog),
		billing.NewPaddleAdapter(billing.PaddleConfig{
			WebhookSecret: cfg.PaddleWebhookSecret,
		}, catalog),
		billing.NewAppStoreAdapter(verifier, catalog),
	}

	led := ledger.New(db)
	subs := subscription.New(db)
	prog := progression.New(db, led, progression.Config{
		Levels:       levels,
		StreakWindow: time.Duration(cfg.StreakWindowHrs) * time.Hour,
		ActivityXP:   cfg.ActivityXP,
	})

	rc := utils.InitRedis(cfg)
	gt := gate.NewEvaluator(db, gate.DefaultFeatures(),
		gate.NewRedisTierCache(rc), gate.NewRedisUsageStore(rc))

	processor := payments.NewProcessor(billing.NewGuard(db), led, subs, prog, gt, catalog, cfg.PurchaseXPPer100)

	r := routes.SetupRouter(routes.Deps{
		DB:            db,
		Ledger:        led,
		Subscriptions: subs,
		Progression:   prog,
		Gate:          gt,
		Processor:     processor,
		Adapters:      adapters,
	})

	// Reset streaks that went stale without any activity (best-effort)
	prog.StartStreakSweeper(time.Duration(cfg.SweepIntervalMin) * time.Minute)

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
