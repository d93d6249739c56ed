package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/danielgonzagat/peninaocubo-sub006/internal/auth"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/backend"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/breaker"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/budget"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/cache"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/config"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/httpserver"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/ledger"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/observe"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/pipeline"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/router"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/signer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storage, cleanup, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("ledger storage: %v", err)
	}
	defer cleanup()

	sg, err := buildSigner(cfg)
	if err != nil {
		log.Fatalf("signer init: %v", err)
	}

	led, err := ledger.Open(ctx, storage, sg)
	if err != nil {
		log.Fatalf("ledger open: %v", err)
	}
	led.RegisterVerifyKey(cfg.SignerID, sg.PublicKey())

	// Fail stop before serving traffic when the chain does not verify.
	if ok, firstBad, err := led.VerifyChain(ctx); err != nil {
		log.Fatalf("ledger verify: %v", err)
	} else if !ok {
		log.Fatalf("ledger chain broken at index %d, refusing to start", firstBad)
	}

	if cfg.S3Bucket != "" {
		archiver, err := ledger.NewS3Archiver(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region)
		if err != nil {
			log.Fatalf("s3 archiver: %v", err)
		}
		led.SetArchiver(archiver)
	}

	tracker, err := budget.New(budget.Config{
		PeriodLimit:    cfg.BudgetLimitUSD,
		PeriodDuration: cfg.BudgetPeriod,
		SoftThreshold:  cfg.BudgetSoftThreshold,
	})
	if err != nil {
		log.Fatalf("budget: %v", err)
	}
	// Rebuild current-period spend from the ledger instead of a checkpoint.
	periodStart := time.Now().UTC().Add(-cfg.BudgetPeriod)
	if spent, err := led.ReplaySpentSince(ctx, periodStart); err != nil {
		log.Fatalf("budget replay: %v", err)
	} else if spent > 0 {
		tracker.Restore(spent, periodStart)
		log.Printf("[startup] restored %.4f USD of period spend from ledger", spent)
	}

	breakers := breaker.NewSet(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		ResetTimeout:     cfg.BreakerResetTimeout,
	})

	respCache := cache.New(cacheSecret(cfg))

	var sink observe.Sink = observe.LogSink{}
	if len(cfg.KafkaBrokers) > 0 {
		ks, err := observe.NewKafkaSink(observe.KafkaSinkConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("kafka sink: %v", err)
		}
		defer ks.Close()
		sink = ks
	}

	rt, err := router.New(router.Config{
		Budget:   tracker,
		Breakers: breakers,
		Cache:    respCache,
		Sink:     sink,
		CacheTTL: cfg.CacheTTL,
	})
	if err != nil {
		log.Fatalf("router: %v", err)
	}

	backends := map[string]backend.Adapter{}
	for _, spec := range cfg.Backends {
		adapter, err := backend.NewHTTPAdapter(backend.HTTPAdapterConfig{
			BackendID:   spec.ID,
			BaseURL:     spec.URL,
			CostPerCall: spec.CostPerCall,
		})
		if err != nil {
			log.Fatalf("backend %s: %v", spec.ID, err)
		}
		backends[spec.ID] = adapter
	}

	pipe, err := pipeline.New(pipeline.Config{
		Router:         rt,
		Ledger:         led,
		Sink:           sink,
		Score:          comparisonScore,
		Thresholds:     cfg.GateThresholds,
		ShadowSamples:  cfg.ShadowSamples,
		CanarySamples:  cfg.CanarySamples,
		CanaryFraction: cfg.CanaryFraction,
	})
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}

	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.AllowAnon, cfg.DebugToken)
	server := httpserver.New(pipe, led, tracker, breakers, backends, verifier)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}
	go func() {
		log.Printf("governor listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(cancel, httpServer)
}

func openStorage(ctx context.Context, cfg config.Config) (ledger.Storage, func(), error) {
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, err
		}
		st := ledger.NewPGStore(db)
		if err := st.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return st, func() { db.Close() }, nil
	}
	fs, err := ledger.NewFileStore(cfg.LedgerPath)
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {}, nil
}

func buildSigner(cfg config.Config) (signer.Signer, error) {
	if cfg.SignerKeyB64 != "" {
		return signer.NewLocalSignerFromB64(cfg.SignerKeyB64, cfg.SignerID)
	}
	log.Printf("[startup] GOV_SIGNER_KEY_B64 unset, generating ephemeral signing key")
	return signer.NewLocalSigner(cfg.SignerID), nil
}

func cacheSecret(cfg config.Config) []byte {
	if cfg.CacheSecret != "" {
		return []byte(cfg.CacheSecret)
	}
	// Per-process secret: cached entries do not survive restarts anyway.
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		log.Fatalf("cache secret: %v", err)
	}
	log.Printf("[startup] GOV_CACHE_SECRET unset, using ephemeral secret %s…", hex.EncodeToString(b[:4]))
	return b
}

// comparisonScore is the default metric function: exact-match agreement with
// the mirrored champion output. Deployments that gate on richer criteria
// supply their own ScoreFn in a custom build.
func comparisonScore(challenger, champion []byte, _ map[string]interface{}) map[string]float64 {
	m := map[string]float64{}
	if champion != nil {
		if string(challenger) == string(champion) {
			m["agreement"] = 1
		} else {
			m["agreement"] = 0
		}
	}
	return m
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
