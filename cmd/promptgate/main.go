package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/promptgate/promptgate/internal/adapter/openrouter"
	"github.com/promptgate/promptgate/internal/auth"
	"github.com/promptgate/promptgate/internal/bot"
	"github.com/promptgate/promptgate/internal/config"
	"github.com/promptgate/promptgate/internal/core"
	"github.com/promptgate/promptgate/internal/httpserver"
	"github.com/promptgate/promptgate/internal/ledger"
	ledgerfile "github.com/promptgate/promptgate/internal/ledger/file"
	ledgerpg "github.com/promptgate/promptgate/internal/ledger/postgres"
	ledgersql "github.com/promptgate/promptgate/internal/ledger/sqlite"
	"github.com/promptgate/promptgate/internal/logging"
	"github.com/promptgate/promptgate/internal/pricing"
	"github.com/promptgate/promptgate/internal/telegram"
	"github.com/promptgate/promptgate/internal/telemetry"
	"github.com/promptgate/promptgate/internal/version"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	// Rotating file logging, mirrored to stdout for foreground runs.
	const maxLogBytes = int64(300 * 1024 * 1024) // 300MB
	if logTarget := strings.TrimSpace(cfg.LogFile); logTarget != "" {
		rot, err := logging.NewRotatingWriter(logTarget, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		defer rot.Close()
	}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[promptgate] ")

	log.Printf("promptgate %s starting env=%s", version.FullInfo(), cfg.Environment)
	if installID, err := telemetry.GetOrCreateInstallID(""); err == nil {
		log.Printf("installation id: %s", installID)
	} else {
		log.Printf("install id unavailable: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("open ledger store: %v", err)
	}
	defer store.Close()

	bank := ledger.New(store)
	bank.SetLogger(log.New(log.Writer(), "[promptgate/ledger] ", log.LstdFlags|log.Lmicroseconds))

	prices := pricing.NewStatic(cfg.PricePer1K)
	if strings.TrimSpace(cfg.PricesFile) != "" {
		prices, err = pricing.Load(cfg.PricesFile, cfg.PricePer1K)
		if err != nil {
			log.Fatalf("load prices file: %v", err)
		}
		log.Printf("model prices loaded from %s", cfg.PricesFile)
	}

	gate := core.NewGatekeeper(bank, cfg.OperatorID, prices)
	gate.SetLogger(log.New(log.Writer(), "[promptgate/core] ", log.LstdFlags|log.Lmicroseconds))
	if cfg.OperatorID == "" {
		log.Printf("no operator_id configured: key issuing only available via admin api")
	}

	chat, err := openrouter.New(openrouter.Config{
		APIKey:         cfg.OpenRouterAPIKey,
		BaseURL:        cfg.OpenRouterBaseURL,
		Referer:        cfg.OpenRouterReferer,
		Title:          cfg.OpenRouterTitle,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		log.Fatalf("init openrouter adapter: %v", err)
	}

	transport, err := telegram.NewClient(telegram.Config{
		Token:    cfg.TelegramToken,
		BaseURL:  cfg.TelegramBaseURL,
		SendRate: cfg.SendRate,
	})
	if err != nil {
		log.Fatalf("init telegram client: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var adminSrv *http.Server
	if cfg.AdminEnabled {
		authManager, err := auth.NewManager(cfg.AdminSecret)
		if err != nil {
			log.Fatalf("init auth manager: %v", err)
		}
		api, err := httpserver.New(bank, authManager, cfg.AdminSecret)
		if err != nil {
			log.Fatalf("init admin server: %v", err)
		}
		api.SetLogger(log.New(log.Writer(), "[promptgate/http] ", log.LstdFlags|log.Lmicroseconds))
		adminSrv = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.AdminPort),
			Handler:      api.Router(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			log.Printf("admin api listening on %s", adminSrv.Addr)
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("admin server error: %v", err)
			}
		}()
	}

	b := bot.New(bot.Config{
		Transport:    transport,
		Gatekeeper:   gate,
		Chat:         chat,
		DefaultModel: cfg.DefaultModel,
		SystemPrompt: cfg.SystemPrompt,
		PollTimeout:  cfg.PollTimeout,
	})
	b.SetLogger(log.New(log.Writer(), "[promptgate/bot] ", log.LstdFlags|log.Lmicroseconds))

	log.Printf("bot loop starting model=%s backend=%s", cfg.DefaultModel, cfg.LedgerBackend)
	if err := b.Run(ctx); err != nil && ctx.Err() == nil {
		log.Printf("bot loop ended: %v", err)
	}

	if adminSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
		}
	}
	log.Printf("promptgate stopped")
}

func openStore(cfg config.Config) (ledger.SnapshotStore, error) {
	switch cfg.LedgerBackend {
	case "sqlite":
		return ledgersql.New(cfg.LedgerPath)
	case "postgres":
		return ledgerpg.New(cfg.LedgerDSN, 4, 2, 30*time.Minute)
	default:
		return ledgerfile.New(cfg.LedgerPath)
	}
}
