// main.go
package main

import (
	"context"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ViniZap4/thesis-notes/auth"
	"github.com/ViniZap4/thesis-notes/config"
	httpapi "github.com/ViniZap4/thesis-notes/http"
	"github.com/ViniZap4/thesis-notes/mirror"
	"github.com/ViniZap4/thesis-notes/notes"
	"github.com/ViniZap4/thesis-notes/realtime"
	"github.com/ViniZap4/thesis-notes/store"
	"github.com/ViniZap4/thesis-notes/store/memory"
	"github.com/ViniZap4/thesis-notes/store/postgres"
	"github.com/ViniZap4/thesis-notes/sw"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 {
		code := runCommand(ctx, cfg, os.Args[1:])
		stop()
		os.Exit(code)
	}

	st, closeStore := openStore(ctx, cfg)
	defer closeStore()

	svc := notes.NewService(st, notes.WithLogger(log.Logger))

	db := mirror.NewDB(cfg.MirrorPath, log.Logger)
	defer db.Close()
	local := mirror.NewLocal(db)
	noteMirror := mirror.NewNoteMirror(svc, local, log.Logger)
	assocs := mirror.NewAssociations(local, st, mirror.WithAssociationLogger(log.Logger))

	ctrl := realtime.New(st, realtime.Options{
		BaseDelay:  cfg.RetryBase,
		MaxRetries: cfg.RetryMax,
		Limit:      cfg.ListenLimit,
		Logger:     log.Logger,
	})
	ctrl.Start()
	defer ctrl.Stop()

	users, err := auth.LoadUsers(cfg.UsersFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load users")
	}
	if users.Dev() {
		log.Warn().Str("token", auth.DevToken).Msg("No users file configured, accepting the dev token only")
	}

	app := httpapi.NewServer(httpapi.Deps{
		Notes:        svc,
		Mirror:       noteMirror,
		Associations: assocs,
		Sync:         ctrl,
		Users:        users,
		Logger:       log.Logger,
	}).App()

	apps := []*fiber.App{app}
	go listen(app, cfg.Port, "api")

	if cfg.ProxyEnabled() {
		proxy, err := newProxy(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start caching proxy")
		}
		apps = append(apps, proxy)
		go listen(proxy, cfg.ProxyPort, "proxy")
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	for _, a := range apps {
		if err := a.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("Shutdown failed")
		}
	}
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func()) {
	if cfg.Store == config.StorePostgres {
		pg, err := postgres.Open(ctx, cfg.DatabaseURL, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open postgres store")
		}
		log.Info().Msg("Using postgres store")
		return pg, pg.Close
	}
	log.Info().Msg("Using in-memory store")
	return memory.New(), func() {}
}

// newProxy installs and activates the cache engine, then mounts it in front
// of the upstream origin.
func newProxy(ctx context.Context, cfg *config.Config) (*fiber.App, error) {
	upstream, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, err
	}
	engine, err := sw.New(sw.Options{
		Version:      cfg.CacheVersion,
		Origin:       upstream.String(),
		StaticAssets: cfg.StaticAssets,
		Logger:       log.Logger,
	})
	if err != nil {
		return nil, err
	}
	if err := engine.Install(ctx); err != nil {
		log.Warn().Err(err).Msg("Static precache failed, serving without it")
	} else if err := engine.Activate(ctx); err != nil {
		return nil, err
	}

	proxy := fiber.New(fiber.Config{DisableStartupMessage: true})
	proxy.Get("/__sw/version", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"version": engine.Version(), "active": engine.Active()})
	})
	proxy.Post("/__sw/message", func(c *fiber.Ctx) error {
		var msg sw.Message
		if err := c.BodyParser(&msg); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		reply, err := engine.HandleMessage(c.UserContext(), msg)
		if err != nil {
			return err
		}
		if reply == nil {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.JSON(reply)
	})
	proxy.Use(adaptor.HTTPHandler(engine.Handler(upstream)))
	return proxy, nil
}

func listen(app *fiber.App, port, name string) {
	log.Info().Str("port", port).Str("app", name).Msg("Server starting")
	if err := app.Listen(":" + port); err != nil {
		log.Fatal().Err(err).Str("app", name).Msg("Server stopped")
	}
}
