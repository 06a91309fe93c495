package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"devmatch/cmd/internal/app"
	apiv1 "devmatch/contracts/api/v1"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFiles []string

	root := &cobra.Command{
		Use:           "devmatch",
		Short:         "Developer matching chat relay and terminal client",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.LoadDotEnv(envFiles...)
		},
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")

	root.AddCommand(newServeCmd(), newChatCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var addr, dbURL string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST and realtime relay server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.LoadConfig()
			if cmd.Flags().Changed("addr") {
				cfg.HTTPAddr = addr
			}
			if cmd.Flags().Changed("database-url") {
				cfg.DatabaseURL = dbURL
			}

			log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)
			a, err := app.New(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides DEVMATCH_HTTP_ADDR)")
	cmd.Flags().StringVar(&dbURL, "database-url", "", "PostgreSQL URL; empty keeps the in-memory store")
	return cmd
}

func newChatCmd() *cobra.Command {
	var (
		apiURL, wsURL, userFile, locale string
		loginID, firstName, lastName    string
		photoURL                        string
	)

	cmd := &cobra.Command{
		Use:   "chat <counterpartId>",
		Short: "Open a conversation with another developer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.LoadChatConfig()
			f := cmd.Flags()
			if f.Changed("api") {
				cfg.APIURL = strings.TrimRight(apiURL, "/")
				if !f.Changed("ws") && os.Getenv("DEVMATCH_WS_URL") == "" {
					cfg.WSURL = app.WSURLFor(cfg.APIURL)
				}
				if os.Getenv("DEVMATCH_ORIGIN") == "" {
					cfg.Origin = cfg.APIURL
				}
			}
			if f.Changed("ws") {
				cfg.WSURL = wsURL
			}
			if f.Changed("user-file") {
				cfg.UserFile = userFile
			}
			if f.Changed("locale") {
				cfg.Locale = locale
			}

			opts := app.ChatOptions{
				CounterpartID: args[0],
				In:            cmd.InOrStdin(),
				Out:           cmd.OutOrStdout(),
			}
			if id := strings.TrimSpace(loginID); id != "" {
				opts.Login = &apiv1.User{ID: id, FirstName: firstName, LastName: lastName, PhotoURL: photoURL}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.RunChat(ctx, cfg, opts, nil); err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&apiURL, "api", "", "REST base URL (overrides DEVMATCH_API_URL)")
	f.StringVar(&wsURL, "ws", "", "realtime URL (overrides DEVMATCH_WS_URL)")
	f.StringVar(&userFile, "user-file", "", "stored login (overrides DEVMATCH_USER_FILE)")
	f.StringVar(&locale, "locale", "", "BCP 47 locale for timestamps (overrides DEVMATCH_LOCALE)")
	f.StringVar(&loginID, "login", "", "log in as this user id before chatting")
	f.StringVar(&firstName, "first-name", "", "first name sent with --login")
	f.StringVar(&lastName, "last-name", "", "last name sent with --login")
	f.StringVar(&photoURL, "photo-url", "", "photo URL sent with --login")
	return cmd
}
