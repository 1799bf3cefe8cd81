package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/insight/config"
	core "github.com/mohammad-safakhou/insight/internal/agent/core"
	"github.com/mohammad-safakhou/insight/internal/agent/telemetry"
	"github.com/mohammad-safakhou/insight/internal/cube"
	srv "github.com/mohammad-safakhou/insight/internal/server"
	"github.com/mohammad-safakhou/insight/internal/store"
)

func main() {
	var root = &cobra.Command{Use: "insight"}

	root.AddCommand(serveCMD(), askCMD(), migrateCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCMD() *cobra.Command {
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			return srv.Run(cfg)
		},
	}
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}

// askCMD runs one question end to end without the HTTP server, printing
// progress thoughts to stderr and the report JSON to stdout.
func askCMD() *cobra.Command {
	var cfgPath string
	var ask = &cobra.Command{
		Use:   "ask [question]",
		Short: "Run one report from the command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			question := strings.Join(args, " ")

			llmProvider, err := core.NewLLMProvider(cfg.LLM)
			if err != nil {
				return err
			}
			cubeClient := cube.NewClient(cfg.Cube)
			meta := cube.NewMetaCache(cubeClient, cfg.Cube.MetaTTL)
			tele := telemetry.NewTelemetry(cfg.Telemetry)
			defer tele.Shutdown()
			orch := core.NewOrchestrator(cfg, llmProvider, cubeClient, meta, tele)

			report := orch.Run(cmd.Context(), question, "", func(e core.Event) {
				if e.Kind == "thought" {
					fmt.Fprintln(os.Stderr, e.Thought)
				}
			})
			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	ask.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return ask
}

func migrateCMD() *cobra.Command {
	var migDir string
	var direction string
	var steps int
	var cfgPath string

	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			dsn, err := store.DSN(cfg.Storage.Postgres)
			if err != nil {
				return err
			}
			return srv.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	migrate.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return migrate
}
