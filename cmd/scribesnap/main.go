// Package main 是 scribesnap 服务的命令行入口。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ceyewan/scribesnap/config"
	"github.com/ceyewan/scribesnap/internal/app"
)

var configPaths []string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "scribesnap",
	Short: "Handwritten note transcription service",
	Long: `scribesnap accepts photos of handwritten notes, transcribes them with a
vision language model and stores the results for later browsing.

Configuration is read from scribesnap.yaml in the --config directories,
then overridden by SCRIBESNAP_<SECTION>_<KEY> environment variables.`,
	Version:       app.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&configPaths, "config", nil,
		"directories searched for scribesnap.yaml (default \".\" and \"./config\")")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reconcileCmd)
}

// bootstrap 加载配置并初始化应用，调用方负责 Close
func bootstrap(ctx context.Context) (*app.App, config.Loader, error) {
	cfg, loader, err := app.Load(ctx, configPaths)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	a, err := app.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return a, loader, nil
}

func closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API together with the background reconciler.

Examples:
  # Serve with ./scribesnap.yaml
  scribesnap serve

  # Serve with a config directory and an overridden port
  SCRIBESNAP_SERVER_ADDR=:9000 scribesnap serve --config /etc/scribesnap`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, loader, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if err := a.Build(ctx); err != nil {
		return err
	}
	if err := a.WatchLogLevel(ctx, loader); err != nil {
		return err
	}
	return a.Serve(ctx)
}
