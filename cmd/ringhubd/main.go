package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/urfave/cli/v3"

	"ringhub.sh/ringhub/core/audit"
	"ringhub.sh/ringhub/core/authn"
	"ringhub.sh/ringhub/core/authz"
	"ringhub.sh/ringhub/core/badges"
	"ringhub.sh/ringhub/core/config"
	"ringhub.sh/ringhub/core/content"
	"ringhub.sh/ringhub/core/db"
	"ringhub.sh/ringhub/core/httpapi"
	"ringhub.sh/ringhub/core/identity"
	tlog "ringhub.sh/ringhub/core/log"
	"ringhub.sh/ringhub/core/membership"
	"ringhub.sh/ringhub/core/profile"
	"ringhub.sh/ringhub/core/ratelimit"
	"ringhub.sh/ringhub/core/rings"
	"ringhub.sh/ringhub/core/scheduler"
)

func main() {
	cmd := &cli.Command{
		Name:  "ringhubd",
		Usage: "Ring Hub federation service",
		Commands: []*cli.Command{
			serveCommand(),
		},
	}

	logger := tlog.New("ringhubd")
	slog.SetDefault(logger)

	ctx := context.Background()
	ctx = tlog.IntoContext(ctx, logger)

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "run the Ring Hub HTTP server",
		Action: serve,
		Description: `
	Environment variables (prefixes per config.Config):
		RINGHUB_PORT, RINGHUB_HOST, RINGHUB_HUB_URL
		RINGHUB_CORS_ORIGINS
		RINGHUB_DATABASE_URL
		RINGHUB_REDIS_HOST, RINGHUB_REDIS_PORT, RINGHUB_REDIS_PASSWORD
		RINGHUB_SECURITY_PRIVATE_KEY_PATH, RINGHUB_SECURITY_PRIVATE_KEY,
		RINGHUB_SECURITY_VAULT_SECRET_PATH,
		RINGHUB_SECURITY_ALLOW_ADMIN_SIGNATURE_BYPASS
		RINGHUB_RINGS_ROOT_SLUG, RINGHUB_RINGS_ROOT_NAME
		RINGHUB_RATE_LIMIT_QUOTA_FILE
		RINGHUB_SCHEDULER_ENABLED
		RINGHUB_PLC_URL
	`,
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	logger := tlog.FromContext(ctx)
	logger = tlog.SubLogger(logger, "serve")
	ctx = tlog.IntoContext(ctx, logger)

	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		return err
	}

	database, err := db.Make(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer database.Close()

	enforcer, err := authz.NewEnforcer(cfg.Database.URL)
	if err != nil {
		return err
	}
	enforcer.E.EnableAutoSave(true)

	var identityResolver *identity.Resolver
	if cfg.Redis.Enabled() {
		identityResolver = identity.NewRedisResolver(cfg.Redis.Addr(), cfg.Redis.Password)
	} else {
		identityResolver, err = identity.NewResolver()
		if err != nil {
			return err
		}
	}

	signer, err := badges.LoadSigningKey(cfg.Security.PrivateKeyBase64, cfg.Security.PrivateKeyPath, cfg.Security.VaultSecretPath)
	if err != nil {
		return err
	}

	quotaTable := ratelimit.DefaultTable()
	if cfg.RateLimit.QuotaFile != "" {
		quotaTable, err = ratelimit.LoadTable(cfg.RateLimit.QuotaFile)
		if err != nil {
			return err
		}
	}

	profileResolver := profile.New(identityResolver, database, logger)
	badgeSvc := badges.New(database, signer, cfg.Core.HubURL, cfg.Rings.RootName, logger)
	limiter := ratelimit.New(database, quotaTable)
	ringsEngine := rings.New(database, enforcer, badgeSvc, limiter, cfg.Rings.RootSlug, logger)
	membershipEngine := membership.New(database, enforcer, badgeSvc, profileResolver, logger)
	contentEngine := content.New(database)
	auditEngine := audit.New(database)
	authenticator := authn.New(identityResolver, database, logger, cfg.Security.AllowAdminSignatureBypass, cfg.Rings.RootSlug)

	sched := scheduler.New(database, limiter, ringsEngine, logger)
	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	if err := ensureRootRing(ctx, database, ringsEngine, cfg.Rings); err != nil {
		return err
	}

	handle := httpapi.New(httpapi.Deps{
		Db:          database,
		Enforcer:    enforcer,
		Authn:       authenticator,
		Identity:    identityResolver,
		Profile:     profileResolver,
		Badges:      badgeSvc,
		Rings:       ringsEngine,
		Membership:  membershipEngine,
		Content:     contentEngine,
		Audit:       auditEngine,
		Limiter:     limiter,
		Scheduler:   sched,
		CorsOrigins: cfg.Cors.Origins,
		RootSlug:    cfg.Rings.RootSlug,
		Logger:      logger,
	})

	logger.Info("starting ringhub server", "address", cfg.Core.ListenAddr)
	return http.ListenAndServe(cfg.Core.ListenAddr, handle.Router())
}

// ensureRootRing seeds the root ring (e.g. "spool") on first boot, since
// every ring's lineage ultimately roots there and the federation surface
// assumes it always exists.
func ensureRootRing(ctx context.Context, database *db.DB, ringsEngine *rings.Engine, cfg config.RingsConfig) error {
	_, err := db.GetRingBySlug(ctx, database, cfg.RootSlug)
	if err == nil {
		return nil
	}
	if err != db.ErrNotFound {
		return err
	}

	_, err = ringsEngine.Create(ctx, "did:web:"+cfg.RootSlug, rings.CreateInput{
		Slug: cfg.RootSlug,
		Name: cfg.RootName,
	})
	return err
}
