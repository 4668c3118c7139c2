package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	cron "github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/gdbrns/go-whatsapp-silva-bot/internal"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/commands"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/config"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/connection"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/dispatch"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/plugin"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/session"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/auth"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/env"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/log"
)

const defaultCredentialPath = "session/whatsapp.db"

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "silva",
		Short:         "WhatsApp command bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBot,
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Connect to WhatsApp and serve commands (default)",
		RunE:  runBot,
	}

	root.AddCommand(run, newSessionCommand(), newPluginsCommand(), newServerCommand())
	return root
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := internal.Startup(ctx, cfg)
	if err != nil {
		return err
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cron.DiscardLogger),
	), cron.WithSeconds())
	internal.Routines(c, app)
	defer c.Stop()

	var server *fiber.App
	if cfg.Server.Enabled {
		server = internal.NewServer(app)
		addr := net.JoinHostPort(cfg.Server.Address, cfg.Server.Port)
		go func() {
			if err := server.Listen(addr); err != nil {
				log.Print(nil).WithField("address", addr).Error("Status server stopped: " + err.Error())
			}
		}()
		log.Print(nil).WithField("address", addr).Info("Status server listening")
	}

	err = app.Run(ctx)

	if server != nil {
		ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if serr := server.ShutdownWithContext(ctxShutdown); serr != nil {
			log.Print(nil).Warn("Status server shutdown: " + serr.Error())
		}
	}

	if errors.Is(err, connection.ErrLoggedOut) {
		return fmt.Errorf("session was logged out, pair again to continue: %w", err)
	}
	return err
}

func newSessionCommand() *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Move paired sessions between hosts",
	}

	var token, out string
	decode := &cobra.Command{
		Use:   "decode",
		Short: "Write the credential file encoded in a session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = env.GetEnvStringOrDefault("SESSION_ID", "")
			}
			if token == "" {
				return errors.New("a token is required, pass --token or set SESSION_ID")
			}
			if err := session.NewLoader(out).Load(token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "credentials written to %s\n", out)
			return nil
		},
	}
	decode.Flags().StringVar(&token, "token", "", "session token (defaults to $SESSION_ID)")
	decode.Flags().StringVar(&out, "out", defaultCredentialPath, "credential file to write")

	var path string
	export := &cobra.Command{
		Use:   "export",
		Short: "Print a session token for an existing credential file",
		RunE: func(cmd *cobra.Command, args []string) error {
			encoded, err := session.Export(path)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), encoded)
			return nil
		},
	}
	export.Flags().StringVar(&path, "path", defaultCredentialPath, "credential file to read")

	sessionCmd.AddCommand(decode, export)
	return sessionCmd
}

func newPluginsCommand() *cobra.Command {
	pluginsCmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect plugin manifests",
	}

	var dir string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load every manifest and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := plugin.NewRegistry(0)
			registry.Reserve(dispatch.BuiltinNames()...)
			if _, err := registry.LoadAll(dir, commands.Catalog(commands.Deps{})); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, d := range registry.Descriptors() {
				fmt.Fprintf(w, "ok    %-20s %v (%s)\n", d.Source, d.Names, d.Category)
			}
			skipped := registry.Skipped()
			for _, s := range skipped {
				fmt.Fprintf(w, "skip  %s\n", s.Error())
			}
			if len(skipped) > 0 {
				return fmt.Errorf("%d manifest(s) could not be loaded", len(skipped))
			}
			return nil
		},
	}
	validate.Flags().StringVar(&dir, "dir", env.GetEnvStringOrDefault("PLUGIN_DIR", "plugins"), "plugin directory")

	pluginsCmd.AddCommand(validate)
	return pluginsCmd
}

func newServerCommand() *cobra.Command {
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Status server helpers",
	}

	var (
		subject string
		ttl     time.Duration
	)
	token := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for /pair and /plugins signed with SERVER_AUTH_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := env.GetEnvStringOrDefault("SERVER_AUTH_SECRET", "")
			if len(secret) < auth.MinSecretLength {
				return fmt.Errorf("SERVER_AUTH_SECRET must be set and at least %d characters", auth.MinSecretLength)
			}
			signed, err := auth.New(secret).IssueToken(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	token.Flags().StringVar(&subject, "subject", "operator", "token subject")
	token.Flags().DurationVar(&ttl, "ttl", env.GetEnvDurationOrDefault("SERVER_AUTH_TOKEN_TTL", 24*time.Hour), "token lifetime, 0 for no expiry")

	serverCmd.AddCommand(token)
	return serverCmd
}
