// Command gateway boots the turn-orchestrating API gateway: it loads and
// schema-validates the signed config file, wires every component (durable
// store, session manager, rate limiter, circuit breakers, budget governor,
// dead-letter queue, tool confirmation gate, backend clients, turn pipeline)
// and serves the HTTP boundary until SIGINT/SIGTERM, at which point it drains
// in-flight requests before exiting.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"goa.design/clue/log"

	"github.com/sonia-labs/turngate/breaker"
	"github.com/sonia-labs/turngate/budget"
	"github.com/sonia-labs/turngate/clients"
	"github.com/sonia-labs/turngate/config"
	"github.com/sonia-labs/turngate/dlq"
	"github.com/sonia-labs/turngate/httpapi"
	"github.com/sonia-labs/turngate/queue"
	"github.com/sonia-labs/turngate/ratelimit"
	"github.com/sonia-labs/turngate/session"
	"github.com/sonia-labs/turngate/store"
	"github.com/sonia-labs/turngate/telemetry"
	"github.com/sonia-labs/turngate/toolpolicy"
	"github.com/sonia-labs/turngate/turn"
)

func main() {
	var (
		configF = flag.String("config", envOr("GATEWAY_CONFIG", "/etc/turngate/gateway.json"), "path to the gateway config file")
		dbF     = flag.String("db", envOr("GATEWAY_DB_PATH", "/var/lib/turngate/gateway.db"), "path to the durable SQLite state store")
		addrF   = flag.String("addr", envOr("GATEWAY_ADDR", ":8080"), "HTTP listen address")
		dbgF    = flag.Bool("debug", os.Getenv("GATEWAY_DEBUG") == "1", "enable debug logging")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	cfg, err := config.Load(*configF)
	if err != nil {
		log.Fatalf(ctx, err, "failed to load config %q", *configF)
	}

	db, err := store.Open(store.Config{Path: *dbF, BusyTimeout: store.DefaultBusyTimeout})
	if err != nil {
		log.Fatalf(ctx, err, "failed to open durable store %q", *dbF)
	}
	defer db.Close()

	rec := &telemetry.Recorder{
		Logger:  telemetry.NewClueLogger(),
		Metrics: telemetry.NewClueMetrics(),
		Tracer:  telemetry.NewClueTracer(),
	}

	allowLists, err := cfg.LoadToolAllowLists()
	if err != nil {
		log.Fatalf(ctx, err, "failed to load tool allow-lists")
	}
	classifier, err := toolpolicy.NewClassifier(ctx, allowLists)
	if err != nil {
		log.Fatalf(ctx, err, "failed to compile tool classifier policy")
	}

	sessions := session.New(db, rec, cfg.SessionManagerLimits())
	limiter := ratelimit.New(cfg.RatelimitConfig(), nil)
	breakers := breaker.NewRegistry(rec, breaker.DefaultConfig())
	gov := budget.New(cfg.BudgetConfig(), 0)
	gate := toolpolicy.NewGate(db, rec, 256)
	deadLetters := dlq.New(1024, db, rec)
	q := queue.New(4096)

	modelCfg, _ := cfg.ClientConfig("model_router")
	memoryCfg, _ := cfg.ClientConfig("memory_engine")
	toolCfg, _ := cfg.ClientConfig("tool_executor")
	perceptionCfg, _ := cfg.ClientConfig("perception")

	pipeline := turn.New(turn.DefaultConfig(), turn.Deps{
		Sessions:   sessions,
		Limiter:    limiter,
		Breakers:   breakers,
		Classifier: classifier,
		Gate:       gate,
		Budget:     gov,
		DLQ:        deadLetters,
		Queue:      q,
		Model:      clients.NewModelRouter(modelCfg),
		Memory:     clients.NewMemoryEngine(memoryCfg),
		Tools:      clients.NewToolExecutor(toolCfg),
		Rec:        rec,
	})
	_ = perceptionCfg // wired into clients.NewPerception once a vision-frame route exercises it

	router := httpapi.NewRouter(httpapi.Deps{
		Pipeline: pipeline,
		Sessions: sessions,
		Gate:     gate,
		Breakers: breakers,
		DLQ:      deadLetters,
		Queue:    q,
		Store:    db,
		Rec:      rec,
		Auth:     cfg.HTTPAuthConfig(httpauthKeyProvider(cfg)),
	})

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	handleHTTPServer(runCtx, *addrF, router, rec, &wg, errc)

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	wg.Wait()
	log.Printf(ctx, "exited")
}

func handleHTTPServer(ctx context.Context, addr string, handler http.Handler, rec *telemetry.Recorder, wg *sync.WaitGroup, errc chan error) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 60 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			rec.Logger.Info(ctx, "http server listening", "addr", addr)
			errc <- srv.ListenAndServe()
		}()

		<-ctx.Done()
		rec.Logger.Info(ctx, "shutting down http server", "addr", addr)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			rec.Logger.Error(ctx, "failed to shut down http server cleanly", "error", err.Error())
		}
	}()
}

// httpauthKeyProvider returns a StaticKeyProvider seeded from the
// GATEWAY_JWT_SIGNING_KEY env var, or nil when that var is empty. Bearer
// verification is skipped entirely when bypass is on; with bypass off, a
// nil provider makes the auth middleware reject every bearer token.
func httpauthKeyProvider(cfg config.GatewayConfig) httpapi.KeyProvider {
	secret := os.Getenv("GATEWAY_JWT_SIGNING_KEY")
	if secret == "" {
		return nil
	}
	return httpapi.StaticKeyProvider{Key: []byte(secret)}
}

func envOr(key, deflt string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return deflt
}
