// Command server runs the clinic billing backend: HTTP API, payment webhook
// endpoints and the periodic subscription sweeps.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicore/backend/billing/catalog"
	"github.com/clinicore/backend/billing/coupon"
	"github.com/clinicore/backend/billing/gateway"
	"github.com/clinicore/backend/billing/invoice"
	"github.com/clinicore/backend/billing/limits"
	"github.com/clinicore/backend/billing/nfse"
	"github.com/clinicore/backend/billing/subscription"
	billingmodule "github.com/clinicore/backend/modules/billing"
	"github.com/clinicore/backend/pkg/config"
	"github.com/clinicore/backend/pkg/httpserver"
	"github.com/clinicore/backend/pkg/idempotency"
	"github.com/clinicore/backend/pkg/logger"
	"github.com/clinicore/backend/pkg/pg"
	redispkg "github.com/clinicore/backend/pkg/redis"
	"github.com/clinicore/backend/pkg/scheduler"
	"github.com/clinicore/backend/storage/postgres"
	"github.com/clinicore/backend/svc/tenant"
)

type appConfig struct {
	Env          string `env:"APP_ENV" envDefault:"development"`
	ServiceName  string `env:"SERVICE_NAME" envDefault:"clinicore-billing"`
	CatalogPath  string `env:"PLAN_CATALOG_PATH" envDefault:"config/plans.yaml"`
	DomainSuffix string `env:"TENANT_DOMAIN_SUFFIX" envDefault:"clinicore.app"`

	WebhookGuardTTL time.Duration `env:"WEBHOOK_GUARD_TTL" envDefault:"24h"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"15m"`
	TaxRetryEvery   time.Duration `env:"TAX_RETRY_INTERVAL" envDefault:"1h"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var appCfg appConfig
	config.MustLoad(&appCfg)

	log := newLogger(appCfg)
	slog.SetDefault(log)

	if err := run(ctx, appCfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg appConfig) *slog.Logger {
	if cfg.Env == "production" {
		return logger.New(logger.WithProduction(cfg.ServiceName))
	}
	return logger.New(logger.WithDevelopment(cfg.ServiceName))
}

func run(ctx context.Context, appCfg appConfig, log *slog.Logger) error {
	var pgCfg pg.Config
	config.MustLoad(&pgCfg)
	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
		return err
	}

	var redisCfg redispkg.Config
	config.MustLoad(&redisCfg)
	redisClient, err := redispkg.Connect(ctx, redisCfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	cat, err := catalog.New(ctx, catalog.NewFileSource(appCfg.CatalogPath))
	if err != nil {
		return err
	}

	tenants := tenant.NewDirectory(postgres.NewTenantStore(pool), tenant.WithLogger(log))
	coupons := coupon.NewService(postgres.NewCouponStore(pool))
	invoices := invoice.NewService(postgres.NewInvoiceStore(pool), invoice.WithLogger(log))

	registry := gateway.NewRegistry(buildGateways(log)...)

	subOpts := []subscription.Option{
		subscription.WithLogger(log),
		subscription.WithCoupons(coupons),
		subscription.WithIdempotencyGuard(
			idempotency.NewRedisGuard(redisClient, "webhook-events", appCfg.WebhookGuardTTL)),
	}

	taxService := buildTaxService(log, invoices, tenants)
	if taxService != nil {
		subOpts = append(subOpts, subscription.WithTaxEmitter(taxService))
	}

	subs := subscription.NewService(
		postgres.NewSubscriptionStore(pool), cat, registry,
		tenant.NewBillingAdapter(tenants), invoices, subOpts...)

	// Resource counters are registered by the clinical modules; the billing
	// service only carries the enforcer they consult.
	enforcer := limits.NewEnforcer(cat, subs, limits.CounterRegistry{})

	r := chi.NewRouter()
	r.Use(tenant.Middleware(
		tenant.NewCompositeResolver(
			tenant.NewSubdomainResolver(appCfg.DomainSuffix),
			tenant.NewHeaderResolver(""),
		),
		tenants,
	))
	r.Get("/healthz", httpserver.HealthCheckHandler(ctx, log))
	r.Get("/readyz", httpserver.HealthCheckHandler(ctx, log,
		pg.Healthcheck(pool), redispkg.Healthcheck(redisClient)))
	r.Mount("/billing", billingmodule.Router(billingmodule.RouterOptions{
		Catalog:       cat,
		Subscriptions: subs,
		Gateways:      registry,
		Coupons:       coupons,
		Invoices:      invoices,
		Tax:           taxService,
		Limits:        enforcer,
		Logger:        log,
	}))

	jobs := scheduler.New(scheduler.WithLogger(log))
	addJob(jobs, "expire-trials", scheduler.Every(appCfg.SweepInterval), func(ctx context.Context) error {
		_, err := subs.ExpireTrials(ctx)
		return err
	})
	addJob(jobs, "process-period-ends", scheduler.Every(appCfg.SweepInterval), func(ctx context.Context) error {
		_, err := subs.ProcessPeriodEnds(ctx)
		return err
	})
	if taxService != nil {
		addJob(jobs, "retry-tax-invoices", scheduler.Every(appCfg.TaxRetryEvery), func(ctx context.Context) error {
			_, err := taxService.Reprocess(ctx)
			return err
		})
	}

	go func() {
		if err := jobs.Start(ctx); err != nil {
			log.Error("scheduler stopped", "error", err)
		}
	}()

	var httpCfg httpserver.Config
	config.MustLoad(&httpCfg)
	srv := httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(log))

	log.InfoContext(ctx, "server starting", "addr", httpCfg.Addr, "env", appCfg.Env)
	return srv.Run(ctx, r)
}

// buildGateways constructs every configured provider adapter. A missing
// integration is logged and skipped so a deployment can run PIX-only or
// card-only.
func buildGateways(log *slog.Logger) []gateway.Gateway {
	var gateways []gateway.Gateway

	var paddleCfg gateway.PaddleConfig
	config.MustLoad(&paddleCfg)
	if paddle, err := gateway.NewPaddleGateway(paddleCfg); err != nil {
		log.Warn("paddle gateway disabled", "error", err)
	} else {
		gateways = append(gateways, paddle)
	}

	var asaasCfg gateway.AsaasConfig
	config.MustLoad(&asaasCfg)
	if asaas, err := gateway.NewAsaasGateway(asaasCfg); err != nil {
		log.Warn("asaas gateway disabled", "error", err)
	} else {
		gateways = append(gateways, asaas)
	}

	return gateways
}

// buildTaxService wires NFS-e emission when a provider is configured,
// otherwise tax invoices are simply not emitted.
func buildTaxService(log *slog.Logger, invoices *invoice.Service, tenants *tenant.Directory) *nfse.Service {
	var cfg nfse.Config
	config.MustLoad(&cfg)

	emitter, err := nfse.NewEmitter(cfg)
	if err != nil {
		log.Warn("tax invoice emission disabled", "error", err)
		return nil
	}

	resolver := nfse.CustomerResolverFunc(func(ctx context.Context, tenantID uuid.UUID) (*nfse.Customer, error) {
		t, err := tenants.Get(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		return &nfse.Customer{Name: t.Name, Email: t.Email, TaxID: t.TaxID}, nil
	})

	return nfse.NewService(emitter, invoices, resolver, nfse.WithLogger(log))
}

func addJob(jobs *scheduler.Scheduler, name string, schedule scheduler.Schedule, fn scheduler.JobFunc) {
	if err := jobs.AddJob(name, schedule, fn); err != nil {
		panic(err)
	}
}
