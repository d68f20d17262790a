package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"outreach_engine/internal/app"
	domainEvents "outreach_engine/internal/domain/events"
	"outreach_engine/internal/infra/config"
	idb "outreach_engine/internal/infra/database"
	"outreach_engine/internal/infra/events"
	"outreach_engine/internal/infra/gateway"
	"outreach_engine/internal/infra/httpapi"
	"outreach_engine/internal/infra/logger"
	"outreach_engine/internal/infra/metrics"
	"outreach_engine/internal/infra/scheduler"
	"outreach_engine/internal/infra/telegram"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/telebot.v3"
)

func serveCommand() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatch and cadence loops with the operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireGateway(); err != nil {
				return err
			}
			return serve(cfg, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before starting")
	return cmd
}

func serve(cfg *config.AppConfig, migrate bool) error {
	base := logger.Log.WithField("service", "outreach")
	mainLogger := base.WithField("component", "main")
	mainLogger.WithField("environment", cfg.Environment).Info("Outreach engine starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if migrate {
		if err := idb.MigrateUp(db); err != nil {
			return err
		}
	}

	campaignRepo := idb.NewPostgresCampaignRepository(db)
	leadRepo := idb.NewPostgresLeadRepository(db)
	instanceRepo := idb.NewPostgresInstanceRepository(db)
	quotaRepo := idb.NewPostgresQuotaRepository(db)
	cooldownRepo := idb.NewPostgresCooldownRepository(db)

	gw := gateway.NewHTTPClient(cfg.GatewayURL, cfg.GatewayAPIKey, cfg.GatewayTimeout, cfg.GatewayRPS, base)

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(registry)

	var publishers events.Fanout
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, base)
		if err != nil {
			return err
		}
		defer amqpPub.Close()
		publishers = append(publishers, amqpPub)
	}

	var bot *telebot.Bot
	if cfg.TelegramToken != "" {
		bot, err = telebot.NewBot(telebot.Settings{
			Token:  cfg.TelegramToken,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
			OnError: func(err error, c telebot.Context) {
				entry := logger.Component("telebot").WithError(err)
				if c != nil && c.Sender() != nil {
					entry = entry.WithField("sender_id", c.Sender().ID)
				}
				entry.Error("Telegram handler error")
			},
		})
		if err != nil {
			return err
		}
		publishers = append(publishers, telegram.NewNotifier(telegram.NewTelebotAdapter(bot), cfg.AdminTelegramID))
	}

	var publisher domainEvents.Publisher = domainEvents.Nop{}
	if len(publishers) > 0 {
		publisher = publishers
	}

	quotaSvc := app.NewQuotaService(quotaRepo, leadRepo, cfg.Timezone, logger.Component("quota"))
	deps := app.EngineDeps{
		Campaigns: campaignRepo,
		Leads:     leadRepo,
		Selector:  app.NewInstanceSelector(instanceRepo, campaignRepo),
		Quota:     quotaSvc,
		Cooldowns: cooldownRepo,
		Gateway:   gw,
		Publisher: publisher,
		Metrics:   recorder,
	}
	opts := app.EngineOptions{
		CooldownMin:        cfg.CooldownMin,
		CooldownMax:        cfg.CooldownMax,
		InvalidCooldownMin: cfg.InvalidCooldownMin,
		InvalidCooldownMax: cfg.InvalidCooldownMax,
		GatewayTimeout:     cfg.GatewayTimeout,
		SlotHold:           3*cfg.GatewayTimeout + time.Minute,
		ClaimLease:         cfg.ClaimLease,
		CadenceBatch:       cfg.CadenceBatchSize,
	}
	dispatchSvc := app.NewDispatchService(deps, opts, base)
	cadenceSvc := app.NewCadenceService(deps, opts, base)
	syncSvc := app.NewInstanceSyncService(instanceRepo, gw, base)
	operatorSvc := app.NewOperatorService(campaignRepo, leadRepo, base)
	builder := app.NewCampaignBuilder(campaignRepo, instanceRepo, quotaSvc, idb.NewTxProvider(db), base)

	// A cycle sends at most one message per owner, each bounded by the gateway timeout.
	cycleTimeout := 5 * time.Minute
	sched := scheduler.NewEngineScheduler(cfg.Timezone, logger.Component("scheduler"),
		scheduler.Job{Name: "dispatch", Spec: cfg.CronSpecDispatch, Timeout: cycleTimeout, Runner: dispatchSvc},
		scheduler.Job{Name: "cadence", Spec: cfg.CronSpecCadence, Timeout: cycleTimeout, Runner: cadenceSvc},
		scheduler.Job{Name: "instance_sync", Spec: cfg.CronSpecInstanceSync, Timeout: time.Minute, Runner: syncSvc},
	)
	if err := sched.Start(); err != nil {
		return err
	}

	if bot != nil {
		botLogger := logger.Component("telegram")
		telegram.RegisterBotCommands(bot, cfg.AdminTelegramID, botLogger)
		telegram.RegisterOperatorHandlers(ctx, bot, operatorSvc, cfg.AdminTelegramID, botLogger)
		telegram.RegisterLeadMoveHandlers(ctx, bot, operatorSvc, cfg.AdminTelegramID, botLogger)
		go bot.Start()
		mainLogger.Info("Telegram operator bot started")
	}

	handler := httpapi.NewHandler(operatorSvc, builder, gw, base)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(registry),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		mainLogger.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-serverErr:
		mainLogger.WithError(err).Error("HTTP server failed")
	}

	mainLogger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if bot != nil {
		bot.Stop()
	}
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		mainLogger.WithError(serr).Warn("HTTP server shutdown")
	}
	sched.Stop(shutdownCtx)
	mainLogger.Info("Shut down gracefully")
	return err
}
