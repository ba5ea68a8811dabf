package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Tyrowin/roomrelay/internal/auth"
	"github.com/Tyrowin/roomrelay/internal/room"
	"github.com/Tyrowin/roomrelay/internal/server"
	"github.com/Tyrowin/roomrelay/internal/store"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "roomrelay",
		Short: "Real-time chat relay with persistent room history",
		Long: `roomrelay serves chat rooms over WebSocket. Each room keeps a bounded
history in the configured store, replays it to new connections and
broadcasts presence as users come and go.

Settings come from flags, environment variables (SERVER_PORT, STORE_BACKEND,
CHAT_USERS, TOKEN_SECRET, ...) and an optional YAML config file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v, cfgFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), v)
		},
	}

	server.SetDefaults(v)

	flags := cmd.Flags()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./roomrelay.yaml if present)")
	flags.String("port", "", "listen address, e.g. :8080")
	flags.String("origins", "", "comma separated allowed WebSocket origins, * for any")
	flags.String("store", "", "history store backend: memory, sqlite or redis")
	flags.String("sqlite-path", "", "SQLite database file")
	flags.String("redis-addr", "", "Redis address")
	flags.Int("history-limit", 0, "messages kept per room")
	flags.String("default-room", "", "room used when a client does not name one")
	flags.String("time-zone", "", "IANA time zone for message times")

	bind := map[string]string{
		server.KeyPort:           "port",
		server.KeyAllowedOrigins: "origins",
		server.KeyStoreBackend:   "store",
		server.KeySQLitePath:     "sqlite-path",
		server.KeyRedisAddr:      "redis-addr",
		server.KeyHistoryLimit:   "history-limit",
		server.KeyDefaultRoom:    "default-room",
		server.KeyTimeZone:       "time-zone",
	}
	for key, flag := range bind {
		cobra.CheckErr(v.BindPFlag(key, flags.Lookup(flag)))
	}

	cmd.AddCommand(newHashPasswordCmd())
	return cmd
}

// initConfig reads the config file, if any. A missing default file is not an
// error.
func initConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("roomrelay")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && cfgFile == "" {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	log.Printf("Using config file %s", v.ConfigFileUsed())
	return nil
}

func run(ctx context.Context, v *viper.Viper) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := server.NewConfigFromViper(v)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	log.Printf("[store] Using %s backend", cfg.Store.Backend)

	roomCfg, err := cfg.RoomConfig()
	if err != nil {
		_ = st.Close()
		return err
	}
	creds, err := auth.ParseCredentials(cfg.Users)
	if err != nil {
		_ = st.Close()
		return err
	}
	tokens := auth.NewTokenManager(cfg.TokenConfig())
	if creds.Len() == 0 {
		log.Println("No CHAT_USERS configured; login is disabled")
	}
	if tokens.Enabled() {
		log.Println("Session tokens required for WebSocket connections")
	}

	rooms := room.NewManager(st, roomCfg)
	srv := server.New(*cfg, rooms, creds, tokens)
	httpServer := server.CreateServer(cfg.Port, srv.SetupRoutes())

	stop := func(ctx context.Context) error {
		log.Println("Graceful shutdown initiated...")
		return errors.Join(
			server.ShutdownServer(ctx, httpServer),
			srv.Shutdown(ctx),
			st.Close(),
		)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartServer(httpServer)
	}()

	log.Printf("Endpoints: / (chat page), /ws?room=&user=|token=, /login, /health, /api/rooms, /api/rooms/{room}/history")
	log.Printf("Default room %q, history limit %d, origins %s", cfg.DefaultRoom, cfg.HistoryLimit, strings.Join(cfg.AllowedOrigins, ","))

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"roomrelay": stop,
		},
	)

	select {
	case exitCode := <-wait:
		log.Printf("Server exited with code: %d", exitCode)
		if exitCode != 0 {
			return fmt.Errorf("shutdown finished with exit code %d", exitCode)
		}
		return nil
	case err := <-serverErr:
		if err == nil {
			return nil
		}
		log.Printf("HTTP server failed: %v", err)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return errors.Join(err, stop(shutdownCtx))
	}
}

func newHashPasswordCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print the bcrypt hash of a password for use in CHAT_USERS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.NewPasswordHasherWithCost(cost).Hash(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
	cmd.Flags().IntVar(&cost, "cost", auth.DefaultBcryptCost, "bcrypt cost")
	return cmd
}
