package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Nyukimin/relayclaw/internal/adapter/config"
	"github.com/Nyukimin/relayclaw/internal/domain/identity"
	"github.com/Nyukimin/relayclaw/internal/infrastructure/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "relayclaw",
		Short:        "Chat agent that answers conversations and reposts deduplicated news",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $"+config.EnvConfigPath+" or "+config.DefaultConfigPath+")")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the reply pipeline, the news engine and the HTTP server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "dialogs",
			Short: "List the conversations the account can see, by display name",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runDialogs(cmd, configPath)
			},
		},
		newCorrelateCommand(),
	)
	return root
}

func newCorrelateCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "correlate <namespace> <part>...",
		Short:   "Print the correlation id derived from a namespace and parts",
		Example: "  relayclaw correlate tg-user 42",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identity.Correlate(args[0], args[1:]...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

// loadConfig は .env と設定ファイルを読み込み、ロガーを作成する
func loadConfig(path string) (*config.Config, zerolog.Logger, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, zerolog.Nop(), err
	}

	resolved := config.ResolvePath(path)
	cfg, err := config.LoadConfig(resolved)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger.Info().Str("config", resolved).Str("platform", cfg.Platform).Msg("config loaded")
	return cfg, logger, nil
}

func runServe(ctx context.Context, configPath string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	deps, err := buildDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build dependencies")
		return err
	}
	defer deps.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deps.server.Run(ctx)
	})
	if deps.engine != nil {
		g.Go(func() error {
			return deps.engine.Run(ctx)
		})
	}
	g.Go(func() error {
		if deps.pipeline != nil {
			return deps.pipeline.Serve(ctx, deps.client)
		}
		// 返信しない場合もTelegramの履歴バッファのために受信は続ける
		if err := deps.client.Listen(ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	logger.Info().
		Str("agent", deps.agentID.String()).
		Str("account", deps.self.Username).
		Bool("reply", deps.pipeline != nil).
		Bool("news", deps.engine != nil).
		Msg("relayclaw started")

	err = g.Wait()
	logger.Info().Msg("relayclaw stopped")
	return err
}

func runDialogs(cmd *cobra.Command, configPath string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	client, err := buildTransport(cfg, logger)
	if err != nil {
		return err
	}
	if _, err := client.Connect(cmd.Context()); err != nil {
		return err
	}
	dialogs, err := client.GetDialogs(cmd.Context())
	if err != nil {
		return err
	}
	sort.Slice(dialogs, func(i, j int) bool { return dialogs[i].DisplayName < dialogs[j].DisplayName })

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tREF\tCHANNEL")
	for _, d := range dialogs {
		fmt.Fprintf(w, "%s\t%s\t%t\n", d.DisplayName, d.Ref, d.IsChannel)
	}
	return w.Flush()
}
