package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/paddockd/paddock/pkg/config"
	"github.com/paddockd/paddock/pkg/controller"
	"github.com/paddockd/paddock/pkg/events"
	"github.com/paddockd/paddock/pkg/log"
	"github.com/paddockd/paddock/pkg/metrics"
	"github.com/paddockd/paddock/pkg/store"
	"github.com/paddockd/paddock/pkg/subsystem"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "paddock",
	Short: "Paddock - reservation worker for machine provisioning",
	Long: `Paddock runs the lifecycle of one resource reservation: it brings
the reserved machine through provisioning, coordinates with the sibling
reservations of the same request through the shared store, and cleans
up the coordination state when it is done.

One process per reservation; the platform's monitor forks one worker
for each reservation of a request.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Paddock version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	runCmd.Flags().String("reservation", "", "reservation ID to run (required)")
	runCmd.Flags().String("config", "", "path to config file")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (optional)")
	runCmd.MarkFlagRequired("reservation")

	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the worker for one reservation",
	Long: `Run the full lifecycle for one reservation: startup sequencing,
provisioning, the cluster barrier, and teardown.

Exit status 0 means the reservation completed or its request was
deleted while the worker ran; any failure exits 1 after the failure
handling has recorded the outcome in the shared store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reservationID, _ := cmd.Flags().GetString("reservation")
		configPath, _ := cmd.Flags().GetString("config")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
		logger := log.WithComponent("main")

		if metricsAddr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				if err := http.ListenAndServe(metricsAddr, mux); err != nil {
					logger.Warn().Err(err).Msg("metrics server stopped")
				}
			}()
		}

		st, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open shared store: %w", err)
		}

		res, err := st.Reservation(reservationID)
		if err != nil {
			st.Close()
			return fmt.Errorf("failed to resolve reservation %s: %w", reservationID, err)
		}
		comp, err := st.Computer(res.ComputerID)
		if err != nil {
			st.Close()
			return fmt.Errorf("failed to resolve computer %s: %w", res.ComputerID, err)
		}

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		// Lifecycle events go to the log; the store stays the only
		// cross-process channel.
		sub := broker.Subscribe()
		go func() {
			for event := range sub {
				logger.Info().
					Str("event", string(event.Type)).
					Str("reservation_id", event.ReservationID).
					Str("request_id", event.RequestID).
					Str("message", event.Message).
					Msg("lifecycle event")
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(),
			os.Interrupt, syscall.SIGTERM)
		defer stop()

		ctrl, err := controller.New(ctx, reservationID, controller.Options{
			Config:  cfg,
			Store:   st,
			Factory: subsystem.NewFactory(cfg, comp),
			Broker:  broker,
		})
		if err != nil {
			st.Close()
			return fmt.Errorf("startup failed: %w", err)
		}
		defer ctrl.Close()

		if err := ctrl.Process(ctx); err != nil {
			// Fail records the outcome and terminates the process.
			ctrl.Fail(err.Error())
		}

		logger.Info().Str("reservation_id", reservationID).Msg("reservation complete")
		return nil
	},
}
