package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	app "github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/app"
	authpkg "github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/auth"
	"github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/events"
	"github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/exports"
	"github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/issues"
	"github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/metrics"
	"github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/slas"
	"github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/users"
	"github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/ws"
	"github.com/wbrunovieira/WB-project-manager-sub000/internal/ratelimit"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	_ = godotenv.Load()
	cfg := app.GetConfig()
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.SessionSecret == "" && !cfg.TestBypassAuth {
		log.Warn().Msg("SESSION_SECRET not set; session login disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer pool.Close()

	if err := migrate(ctx, cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("migrate up")
	}

	if cfg.Env == "dev" {
		if err := seedDev(ctx, pool); err != nil {
			log.Error().Err(err).Msg("seed dev data")
		}
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Error().Err(err).Msg("redis ping")
		}
		defer rdb.Close()
	}

	a := app.NewApp(cfg, pool, rdb)
	hub := ws.NewHub(rdb)
	go hub.Run(ctx)
	routes(a, hub)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.R,
		ReadHeaderTimeout: 15 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()
	log.Info().Str("addr", cfg.Addr).Msg("api listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("listen")
	}
}

// migrate applies the embedded goose migrations using the pgx stdlib driver.
func migrate(ctx context.Context, dsn string) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	sqldb, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer sqldb.Close()
	return goose.UpContext(ctx, sqldb, "migrations")
}

// routes registers every endpoint on a. The event streams are exempt from
// the per-key limiter since a client holds them open.
func routes(a *app.App, hub *ws.Hub) {
	a.R.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	a.R.GET("/metrics", metrics.Handler())
	a.R.POST("/login", authpkg.Login(a))
	a.R.POST("/logout", authpkg.Logout())

	auth := a.R.Group("/", authpkg.Middleware(a))
	auth.GET("/workspaces/:id/events", authpkg.Member(a, "id"), events.Stream(a))
	auth.GET("/workspaces/:id/ws", authpkg.Member(a, "id"), ws.Handler(hub))

	api := auth.Group("/")
	if a.Cfg.APIKeyRateLimit > 0 && a.Q != nil {
		rl := ratelimit.New(a.Q, a.Cfg.APIKeyRateLimit, time.Minute, "api:")
		api.Use(rl.Middleware(ratelimit.AuthKey))
	}
	api.GET("/me", authpkg.Me)
	api.POST("/me/password", users.ChangePassword(a))
	api.GET("/me/api-keys", users.ListAPIKeys(a))
	api.POST("/me/api-keys", users.CreateAPIKey(a))
	api.DELETE("/me/api-keys/:keyID", users.RevokeAPIKey(a))
	api.POST("/business-hours", slas.Calculate())
	api.GET("/issues/:id", issues.Get(a))
	api.PATCH("/issues/:id/status", issues.Transition(a))
	api.GET("/issues/:id/sla", issues.SLA(a))

	space := api.Group("/workspaces/:id", authpkg.Member(a, "id"))
	space.GET("/slas", slas.List(a))
	space.PUT("/slas/:priority", slas.Upsert(a))
	space.GET("/dashboard", metrics.Dashboard(a))
	space.GET("/issues.csv", exports.Issues(a))
}

// defaultPolicies are the resolution targets seeded for a new dev workspace,
// keyed by priority (1 urgent .. 4 low).
var defaultPolicies = []struct{ priority, response, resolution int }{
	{1, 1, 4},
	{2, 2, 9},
	{3, 4, 18},
	{4, 9, 45},
}

// seedDev creates an admin user, a workspace and its SLA policies when the
// database has no users.
func seedDev(ctx context.Context, db *pgxpool.Pool) error {
	var exists bool
	if err := db.QueryRow(ctx, "select exists(select 1 from users)").Scan(&exists); err != nil {
		return err
	}
	if exists {
		return nil
	}
	pw := "admin"
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	var uid, wid string
	if err := db.QueryRow(ctx, "insert into users (email, name, password_hash) values ('admin@example.com', 'Admin', $1) returning id::text", string(hash)).Scan(&uid); err != nil {
		return err
	}
	if err := db.QueryRow(ctx, "insert into workspaces (name, slug) values ('Default', 'default') returning id::text").Scan(&wid); err != nil {
		return err
	}
	if _, err := db.Exec(ctx, "insert into workspace_members (workspace_id, user_id, role) values ($1, $2, 'owner')", wid, uid); err != nil {
		return err
	}
	for _, p := range defaultPolicies {
		if _, err := db.Exec(ctx, "insert into sla_policies (workspace_id, priority, response_hours, resolution_hours) values ($1, $2, $3, $4)", wid, p.priority, p.response, p.resolution); err != nil {
			return err
		}
	}
	log.Info().Str("email", "admin@example.com").Str("password", pw).Msg("seeded dev admin user")
	return nil
}
