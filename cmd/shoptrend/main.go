package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "shoptrend",
		Short:         "Rank trending shop products from recent orders and views",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(popularCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())
	root.AddCommand(importCatalogCmd())
	root.AddCommand(consumeCmd())

	return root
}

type popularFlags struct {
	jsonOutput bool
	limit      int
	candidates int
	threshold  float64
	at         string

	// set records which overrides were given on the command line.
	set map[string]bool
}

func popularCmd() *cobra.Command {
	var f popularFlags

	cmd := &cobra.Command{
		Use:   "popular",
		Short: "Show the current trending products",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.set = make(map[string]bool)
			for _, name := range []string{"limit", "candidates", "threshold"} {
				f.set[name] = cmd.Flags().Changed(name)
			}
			return runPopular(cmd.Context(), f)
		},
	}

	cmd.Flags().BoolVar(&f.jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "max products to show (default: from config)")
	cmd.Flags().IntVar(&f.candidates, "candidates", 0, "top-K per signal (default: from config)")
	cmd.Flags().Float64Var(&f.threshold, "threshold", 0, "trending threshold (default: from config)")
	cmd.Flags().StringVar(&f.at, "at", "", "reference instant in RFC3339 (default: now)")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler, HTTP server and event consumers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func importCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-catalog",
		Short: "Import product display data from the configured feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImportCatalog(cmd.Context())
		},
	}
}

func consumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Consume order and view events from Kafka into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsume(cmd.Context())
		},
	}
}
