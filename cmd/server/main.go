// Command server runs the UDP file-transfer server: a single listening
// socket, a worker pool decoding and routing inbound frames, and a
// janitor reaping idle sessions.
//
// Grounded on the teacher's cmd/cli-server/main.go flag surface
// (host/port) generalized into a cobra command the way telepresence's
// pkg/client/userd/service.go builds its daemon subcommands, adding the
// flags SPEC_FULL.md's server needs (storage dir, workers, window,
// session idle, an optional YAML config file).
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"udpft/internal/config"
	"udpft/internal/logging"
	"udpft/internal/server"
	"udpft/internal/storage"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		host         string
		port         int
		storageDir   string
		workers      int
		windowSize   int
		sessionIdle  string
		janitorEvery string
		configPath   string
		verbose      bool
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Serve UPLOAD/DOWNLOAD transfers over UDP",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.SetVerbose(verbose)
			log := logging.Component("cmd/server")

			cfg, err := config.LoadServerConfigYAML(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("storage-dir") {
				cfg.StorageDir = storageDir
			}
			if cmd.Flags().Changed("workers") {
				cfg.Workers = workers
			}
			if cmd.Flags().Changed("window") {
				cfg.WindowSize = windowSize
			}
			if cmd.Flags().Changed("session-idle") {
				d, err := parseDuration(sessionIdle)
				if err != nil {
					return fmt.Errorf("--session-idle: %w", err)
				}
				cfg.SessionIdle = d
			}
			if cmd.Flags().Changed("janitor-every") {
				d, err := parseDuration(janitorEvery)
				if err != nil {
					return fmt.Errorf("--janitor-every: %w", err)
				}
				cfg.JanitorEvery = d
			}
			cfg.Verbose = verbose

			if err := config.ValidateServerConfig(*cfg); err != nil {
				return err
			}

			if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
				return fmt.Errorf("creating storage dir %s: %w", cfg.StorageDir, err)
			}

			addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
			if err != nil {
				return fmt.Errorf("resolving %s:%d: %w", cfg.Host, cfg.Port, err)
			}
			conn, err := net.ListenUDP("udp", addr)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", addr, err)
			}
			defer conn.Close()
			_ = conn.SetReadBuffer(config.DefaultReadBuffer)
			_ = conn.SetWriteBuffer(config.DefaultWriteBuffer)

			gw := storage.New(cfg.StorageDir)
			d := server.New(conn, gw, *cfg)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.WithField("addr", conn.LocalAddr().String()).
				WithField("storage_dir", cfg.StorageDir).
				Info("server listening")
			return d.Run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&host, "host", "0.0.0.0", "address to bind")
	flags.IntVar(&port, "port", 19000, "UDP port to bind")
	flags.StringVar(&storageDir, "storage-dir", ".", "directory files are served from and uploaded into")
	flags.IntVar(&workers, "workers", config.DefaultWorkers, "number of worker goroutines decoding inbound frames")
	flags.IntVar(&windowSize, "window", config.DefaultWindowSize, "selective repeat window size")
	flags.StringVar(&sessionIdle, "session-idle", "90s", "how long a session may sit idle before the janitor reaps it")
	flags.StringVar(&janitorEvery, "janitor-every", "30s", "how often the janitor sweeps for idle sessions")
	flags.StringVar(&configPath, "config", "", "optional YAML config file; flags override its values")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}
