// Command mevpipeline wires the ingestion streamer, the opportunity
// classifier, the AI-advisor/rule-fallback dispatcher, and the operational
// HTTP surface into one running pipeline, then serves until a shutdown
// signal is received. Wiring and graceful shutdown are adapted from the
// teacher's API-server entrypoint.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/solmev/internal/advisor"
	"github.com/ajitpratap0/solmev/internal/alerts"
	"github.com/ajitpratap0/solmev/internal/api"
	"github.com/ajitpratap0/solmev/internal/breaker"
	"github.com/ajitpratap0/solmev/internal/bundle"
	"github.com/ajitpratap0/solmev/internal/classifier"
	"github.com/ajitpratap0/solmev/internal/config"
	"github.com/ajitpratap0/solmev/internal/dispatcher"
	"github.com/ajitpratap0/solmev/internal/eventbus"
	"github.com/ajitpratap0/solmev/internal/metrics"
	"github.com/ajitpratap0/solmev/internal/pipeline"
	"github.com/ajitpratap0/solmev/internal/secretstore"
	"github.com/ajitpratap0/solmev/internal/streamer"
	"github.com/ajitpratap0/solmev/internal/tipoptimizer"
)

func main() {
	config.InitLogger("info", "console")

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Info().Str("version", config.GetVersion()).Str("environment", cfg.App.Environment).
		Msg("starting mevpipeline")

	buildAlertManager(cfg)

	hub := metrics.New()

	advisorBreaker := breaker.New(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Cooldown:         cfg.Breaker.Cooldown(),
	})

	advisorAPIKey := resolveAdvisorAPIKey(cfg)

	advisorClient := advisor.NewClient(advisor.Config{
		Endpoint:    cfg.Advisor.Endpoint,
		APIKey:      advisorAPIKey,
		Model:       cfg.Advisor.Model,
		Temperature: cfg.Advisor.Temperature,
		MaxTokens:   cfg.Advisor.MaxTokens,
		CallTimeout: cfg.Advisor.CallTimeout(),
	}, advisorBreaker, config.NewLogger("advisor"))

	optimizer := tipoptimizer.New(tipoptimizer.Config{
		EngineMinimumLamports: cfg.TipOptimizer.EngineMinimumLamports,
		Alpha:                 cfg.TipOptimizer.Alpha,
	}, tipoptimizer.NewMemoryState())

	submitter := bundle.New(bundle.Config{
		Endpoint:              cfg.Bundle.Endpoint,
		EngineMinimumLamports: cfg.Bundle.EngineMinimumLamports,
	}, config.NewLogger("bundle"))

	dedup := classifier.NewDedup()
	cls := classifier.New(classifier.Config{
		MinGrossLamports: cfg.Classifier.MinGrossLamports,
		OpportunityTTL:   cfg.Classifier.OpportunityTTL(),
	}, dedup)

	disp := dispatcher.New(
		dispatcher.Config{MaxInFlight: cfg.Dispatcher.MaxInFlight},
		advisorClient,
		optimizer,
		submitter,
		dedup,
		hub,
		featureLookup,
		defaultTierSelector,
		config.NewLogger("dispatcher"),
	)

	src := streamer.New(streamer.Config{
		Endpoint:        cfg.Streamer.Endpoint,
		SubscribeMessage: []byte(`{"jsonrpc":"2.0","id":1,"method":"transactionSubscribe"}`),
	}, hub, config.NewLogger("streamer"))

	var publisher *eventbus.Publisher
	if cfg.NATS.URL != "" {
		publisher, err = eventbus.New(eventbus.Config{URL: cfg.NATS.URL, Subject: cfg.NATS.Subject}, config.NewLogger("eventbus"))
		if err != nil {
			log.Warn().Err(err).Msg("eventbus unavailable, outcomes will not be published")
		} else {
			defer publisher.Close()
		}
	}

	onOutcome := func(o dispatcher.Outcome) {
		if publisher != nil {
			publisher.Publish(o)
		}
		if o.Kind == dispatcher.OutcomeSubmitted && (o.Submission.Status == bundle.StatusRejected || o.Submission.Status == bundle.StatusDropped) {
			log.Warn().Str("opportunity_id", o.OpportunityID).Str("status", string(o.Submission.Status)).
				Str("reason", o.Submission.Reason).Msg("bundle not confirmed by block engine")
		}
	}

	pl := pipeline.New(src, cls, disp, hub, config.NewLogger("pipeline"), onOutcome)

	apiServer := api.NewServer(api.Config{
		Host:           cfg.API.Host,
		Port:           cfg.API.Port,
		Dispatcher:     disp,
		AdvisorBreaker: advisorBreaker,
		Hub:            hub,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("operational API server failed")
		}
	}()

	go pl.Run(ctx)

	go watchBreaker(ctx, advisorBreaker)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down mevpipeline")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("operational API server forced to shutdown")
	}

	log.Info().Msg("mevpipeline stopped")
}

// featureLookup builds a coarse FeatureSnapshot from an Opportunity's own
// fields. The classifier doesn't retain the full enriched transaction, so
// the snapshot's price/profit fields are derived from the opportunity's
// estimated value rather than live market data.
func featureLookup(opp classifier.Opportunity) advisor.FeatureSnapshot {
	const lamportsPerSOL = 1_000_000_000
	gross := float64(opp.EstimatedGrossValue) / lamportsPerSOL
	cost := float64(opp.EstimatedCost) / lamportsPerSOL
	return advisor.FeatureSnapshot{
		Mint:            string(opp.Kind),
		Price:           gross,
		EstimatedProfit: gross - cost,
	}
}

// defaultTierSelector picks a BidTier from the opportunity's kind and
// estimated value, before any operator tier override (spec §6) is applied.
func defaultTierSelector(opp classifier.Opportunity) tipoptimizer.Tier {
	const lamportsPerSOL = 1_000_000_000
	switch {
	case opp.Kind == classifier.KindLiquidation:
		return tipoptimizer.TierCritical
	case opp.EstimatedGrossValue >= 5*lamportsPerSOL:
		return tipoptimizer.TierMEV
	case opp.EstimatedGrossValue >= lamportsPerSOL:
		return tipoptimizer.TierHigh
	case opp.EstimatedGrossValue >= lamportsPerSOL/10:
		return tipoptimizer.TierNormal
	default:
		return tipoptimizer.TierLow
	}
}

// watchBreaker polls the advisor breaker's state and raises an operator
// alert on every observed transition, mirroring the teacher's periodic
// health-check goroutines.
func watchBreaker(ctx context.Context, br *breaker.Breaker) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	last := br.State()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := br.State()
			if current == last {
				continue
			}
			switch current {
			case breaker.Open:
				alerts.AlertBreakerOpened(ctx, "advisor", 0, nil)
			case breaker.Closed:
				alerts.AlertBreakerClosed(ctx, "advisor")
			}
			last = current
		}
	}
}

// resolveAdvisorAPIKey fetches the advisor service's API key from Vault
// when it's configured, falling back to an env-sourced static secret
// store for local development. A resolution failure is non-fatal: the
// advisor client degrades to unauthenticated calls and the fallback rules
// path still covers it if the advisor then rejects the request.
func resolveAdvisorAPIKey(cfg *config.Config) string {
	const secretName = "advisor_api_key"

	if cfg.Vault.Address != "" && cfg.Vault.Token != "" {
		store, err := secretstore.New(secretstore.Config{
			Address:    cfg.Vault.Address,
			Token:      cfg.Vault.Token,
			MountPath:  cfg.Vault.MountPath,
			SecretPath: cfg.Vault.SecretPath,
		}, config.NewLogger("secretstore"))
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize vault secret store, advisor API key unresolved")
			return ""
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		val, err := store.Get(ctx, secretName)
		if err != nil {
			log.Warn().Err(err).Msg("failed to resolve advisor API key from vault")
			return ""
		}
		return string(val)
	}

	static := secretstore.NewStatic(map[string]string{secretName: os.Getenv("MEVPIPE_ADVISOR_API_KEY")})
	val, err := static.Get(context.Background(), secretName)
	if err != nil {
		return ""
	}
	return string(val)
}

func buildAlertManager(cfg *config.Config) {
	alerters := []alerts.Alerter{alerts.NewLogAlerter()}

	if cfg.Alerts.TelegramBotToken != "" && cfg.Alerts.TelegramChatID != "" {
		chatID, err := strconv.ParseInt(cfg.Alerts.TelegramChatID, 10, 64)
		if err != nil {
			log.Warn().Err(err).Msg("invalid telegram_chat_id, skipping Telegram alerts")
		} else {
			tg, err := alerts.NewTelegramAlerter(cfg.Alerts.TelegramBotToken, []int64{chatID})
			if err != nil {
				log.Warn().Err(err).Msg("failed to initialize Telegram alerter")
			} else {
				alerters = append(alerters, tg)
			}
		}
	}

	alerts.SetDefaultManager(alerts.NewManager(alerters...))
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
