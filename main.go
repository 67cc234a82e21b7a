package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signal-core/internal/api"
	"signal-core/internal/events"
	"signal-core/internal/gateway"
	"signal-core/internal/health"
	"signal-core/internal/notify"
	"signal-core/internal/ratelimit"
	"signal-core/internal/router"
	"signal-core/internal/session"
	pipeline "signal-core/internal/signal"
	"signal-core/internal/supervisor"
	"signal-core/pkg/config"
	"signal-core/pkg/db"
	"signal-core/pkg/vault"
	"signal-core/pkg/venue"
	"signal-core/pkg/venue/bridge"
	"signal-core/pkg/venue/mock"
)

const (
	depTerminal = "terminal"
	depNotifier = "notifier"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Println("signal-core starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	queries := db.NewQueries(database)

	keys, err := vault.NewKeyManager()
	if err != nil {
		log.Fatalf("key manager: %v", err)
	}
	credVault := vault.New(keys)

	if n, err := resealAccounts(context.Background(), queries, credVault); err != nil {
		log.Fatalf("reseal credentials: %v", err)
	} else if n > 0 {
		log.Printf("vault: re-sealed %d account credential(s) under key v%d", n, keys.CurrentVersion())
	}

	bus := events.NewBus()

	tiers := ratelimit.DefaultTiers()
	if cfg.TierConfigPath != "" {
		tiers, err = ratelimit.LoadTiers(cfg.TierConfigPath)
		if err != nil {
			log.Fatalf("rate-limit tiers: %v", err)
		}
	}
	limiter := ratelimit.New(tiers)

	sessions := session.NewManager(cfg.JWTSecret, cfg.SessionTTL)

	var terminal venue.Gateway
	switch cfg.GatewayMode {
	case "live":
		client := bridge.New(bridge.Config{
			BaseURL:  cfg.BridgeURL,
			APIToken: cfg.BridgeAPIToken,
			Timeout:  cfg.ExecTimeout,
		})
		if err := client.Validate(); err != nil {
			log.Fatalf("bridge client: %v", err)
		}
		terminal = client
		log.Printf("gateway: live bridge at %s", cfg.BridgeURL)
	default:
		terminal = mock.New(mock.Config{
			LatencyMinMs: cfg.MockLatencyMinMs,
			LatencyMaxMs: cfg.MockLatencyMaxMs,
			FailRate:     cfg.MockFailRate,
		})
		log.Println("gateway: mock terminal (no real orders)")
	}

	var notifier notify.Notifier
	if tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatIDs); err == nil {
		notifier = tg
		log.Printf("notify: telegram configured for %d chats", len(cfg.TelegramChatIDs))
	} else {
		notifier = notify.LogNotifier{}
		log.Println("notify: telegram not configured, alerts go to the log")
	}

	sup := supervisor.New(supervisor.Config{
		ProbeInterval:  cfg.ProbeInterval,
		ProbeTimeout:   cfg.ExecTimeout,
		AlertThreshold: cfg.AlertThreshold,
		AlertCooldown:  cfg.AlertCooldown,
		Backoff:        supervisor.NewBackoff(cfg.BackoffBase, cfg.BackoffCap, cfg.BackoffFactor),
	}, notifier, bus)

	executor := gateway.New(terminal, cfg.ExecTimeout, sup, depTerminal)
	sup.Register(depTerminal, executor.Probe)
	sup.Register(depNotifier, notifier.Ping)

	pipe := pipeline.New(pipeline.Config{
		Shards:      cfg.PipelineShards,
		QueueDepth:  cfg.QueueDepth,
		DedupWindow: cfg.DedupWindow,
		MaxAge:      cfg.SignalMaxAge,
		Tier:        cfg.SignalTier,
	}, queries, router.New(queries), credVault, limiter, executor, bus)

	aggregator := health.New(sup, func() health.Counters {
		allowed, denied, _ := limiter.Counters()
		issued, revoked := sessions.Counters()
		return health.Counters{
			RequestsAllowed: allowed,
			RequestsDenied:  denied,
			SessionsIssued:  issued,
			SessionsRevoked: revoked,
		}
	}, notifier, bus, cfg.HealthInterval, cfg.AlertCooldown)

	server := api.NewServer(pipe, queries, credVault, sessions, aggregator, bus)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup.Start(runCtx)
	go pipe.Run(runCtx)
	go aggregator.Run(runCtx)

	// Session revocation entries and stale rate buckets age out together.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				sessions.Sweep()
				limiter.Sweep(time.Now().Add(-10 * time.Minute))
			}
		}
	}()

	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server: %v", err)
		}
	}()
	log.Printf("signal-core listening on :%s", cfg.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
	cancel()
	sup.Wait()
}

// resealAccounts migrates stored credentials onto the current key version so
// a key rotation needs nothing beyond a restart. Accounts whose blobs fail to
// re-encrypt are skipped; decryption still works via the old key version.
func resealAccounts(ctx context.Context, queries *db.Queries, credVault *vault.Vault) (int, error) {
	accounts, err := queries.ListActiveAccounts(ctx)
	if err != nil {
		return 0, err
	}

	resealed := 0
	for _, a := range accounts {
		blob, changed, err := credVault.Reseal(a.CredentialsEncrypted)
		if err != nil {
			log.Printf("vault: reseal account %s: %v", a.ID, err)
			continue
		}
		if !changed {
			continue
		}
		if err := queries.UpdateAccountCredentials(ctx, a.ID, blob); err != nil {
			log.Printf("vault: store resealed credentials for %s: %v", a.ID, err)
			continue
		}
		resealed++
	}
	return resealed, nil
}
