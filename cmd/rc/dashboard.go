package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rollcall-dev/rollcall/internal/config"
	"github.com/rollcall-dev/rollcall/internal/roster/daemon"
	"github.com/rollcall-dev/rollcall/internal/roster/dashboard"
	"github.com/rollcall-dev/rollcall/internal/roster/metrics"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Start the live dashboard server",
	Long: `Start a WebSocket server that streams the roster and every command to
connected clients, with a Prometheus endpoint at /metrics and POST /sync
to request a pull.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a := openApp(ctx)
		defer a.close()

		port := a.settings.Dashboard.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		m := metrics.New(a.client.Pending)
		a.engine.AddListener(m)

		server := dashboard.NewServer(&dashboard.Config{
			Port:    port,
			Engine:  a.engine,
			Metrics: m.Handler(),
			Logger:  config.Component(a.logger, "dashboard"),
		})
		handler := dashboard.NewHandler(server, a.engine, config.Component(a.logger, "dashboard"))
		a.engine.AddListener(handler)

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
			os.Exit(1)
		}
		go handler.Run(ctx)

		var d *daemon.Daemon
		if withDaemon, _ := cmd.Flags().GetBool("daemon"); withDaemon {
			var err error
			d, err = daemon.New(a.engine, &daemon.Config{
				Schedule:      a.settings.Daemon.Schedule,
				DrainInterval: a.settings.Daemon.DrainInterval,
				Logger:        config.Component(a.logger, "daemon"),
			})
			if err != nil {
				_ = server.Stop()
				fatalf("%v", err)
			}
			go func() {
				if err := d.Start(ctx); err != nil {
					a.logger.Printf("Daemon exited: %v", err)
				}
			}()
		}

		fmt.Printf("Dashboard server started on http://localhost:%d\n", port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Printf("Health check: http://localhost:%d/health\n", port)
		fmt.Printf("Metrics: http://localhost:%d/metrics\n", port)
		fmt.Println("\nPress Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Println("\nShutting down dashboard server...")
		if d != nil {
			_ = d.Stop()
		}
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Dashboard server stopped")
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8080, "Port to listen on (default: dashboard.port)")
	dashboardCmd.Flags().Bool("daemon", false, "Also pull on the daemon schedule while serving")

	rootCmd.AddCommand(dashboardCmd)
}
