package cmd

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/m96-chan/slackentry/internal/app"
	"github.com/m96-chan/slackentry/internal/config"
	"github.com/m96-chan/slackentry/internal/consts"
	"github.com/m96-chan/slackentry/internal/logger"
)

// Build information, set from main.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Run parses CLI flags, sets up logging and config, and runs the selected mode.
func Run() error {
	configPath := flag.String("config-path", config.DefaultPath(), "path to config file")
	logPath := flag.String("log-path", logger.DefaultPath(), "path to log file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	server := flag.String("server", "", "server URL (defaults to config, then the first registered server)")
	login := flag.Bool("login", false, "store the given token and run login entry")
	token := flag.String("token", os.Getenv("SLACKENTRY_TOKEN"), "user token for -login")
	appToken := flag.String("app-token", os.Getenv("SLACKENTRY_APP_TOKEN"), "app-level token for -login and -watch")
	deviceToken := flag.String("device-token", "", "push device token to attach on login")
	watch := flag.Bool("watch", false, "stay connected and run app entry on every reconnect")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s (%s, %s)\n", consts.Name, Version, Commit, Date)
		return nil
	}

	if err := logger.Setup(*logPath, logger.ParseLevel(*logLevel)); err != nil {
		return err
	}

	slog.Info("starting "+consts.Name, "version", Version, "config", *configPath, "log", *logPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, slog.Default())
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("shutdown", "error", err)
		}
	}()

	serverFlag := *server
	if *login {
		res, err := a.Login(ctx, app.LoginOptions{
			ServerURL:   *server,
			Token:       *token,
			AppToken:    *appToken,
			DeviceToken: *deviceToken,
		})
		if err != nil {
			return err
		}
		if !res.HasTeams {
			fmt.Println("logged in; you are not a member of any team yet")
		}
		if !*watch {
			return nil
		}
		serverFlag = res.ServerURL
	}

	serverURL, err := a.ResolveServer(serverFlag)
	if err != nil {
		return err
	}
	if *watch {
		return a.Watch(ctx, serverURL)
	}
	return a.RunEntry(ctx, serverURL)
}
