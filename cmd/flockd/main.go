// Command flockd runs one flock cluster member: it joins a seed peer,
// participates in the SWIM probing cycle, and optionally serves the local
// HTTP status API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/flocknet/flock/internal/config"
	"github.com/flocknet/flock/pkg/api"
	"github.com/flocknet/flock/pkg/node"
	"github.com/flocknet/flock/pkg/telemetry"
)

// Build-time variables set by ldflags.
var (
	version    = "dev"
	commitHash = "unknown"
)

var flags struct {
	configPath  string
	bindAddress string
	port        uint16
	joinAddress string
	protoPeriod int
	ackTimeout  int
	numIndirect int
	apiEnabled  bool
	apiListen   string
	logLevel    string
}

var rootCmd = &cobra.Command{
	Use:   "flockd",
	Short: "SWIM cluster membership daemon",
	Long: `flockd maintains an eventually-consistent view of cluster membership
using the SWIM protocol: periodic UDP probes, indirect probing through relay
peers, and infection-style dissemination piggybacked on probe traffic.`,
	SilenceUsage: true,
	RunE:         run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("flockd %s (%s)\n", version, commitHash)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flags.configPath, "config", "", "Path to a TOML config file")
	f.StringVarP(&flags.bindAddress, "bind-address", "b", "", "IP address to bind the UDP socket to")
	f.Uint16VarP(&flags.port, "port", "p", 0, "UDP port to bind")
	f.StringVarP(&flags.joinAddress, "join-address", "j", "", "Seed peer to join (host:port, or a bare IP using our port)")
	f.IntVarP(&flags.protoPeriod, "proto-period", "o", 0, "Protocol period in seconds")
	f.IntVarP(&flags.ackTimeout, "ack-timeout", "a", 0, "Ack timeout in seconds")
	f.IntVarP(&flags.numIndirect, "indirect", "k", 0, "Relay peers per indirect probe")
	f.BoolVar(&flags.apiEnabled, "api", false, "Enable the HTTP status API")
	f.StringVar(&flags.apiListen, "api-listen", "", "Listen address for the HTTP status API")
	f.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig merges defaults, the optional config file, and flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if flags.configPath != "" {
		var err error
		if cfg, err = config.Load(flags.configPath); err != nil {
			return config.Config{}, err
		}
	}

	set := cmd.Flags().Changed
	if set("bind-address") {
		cfg.Node.BindAddress = flags.bindAddress
	}
	if set("port") {
		cfg.Node.Port = flags.port
	}
	if set("join-address") {
		cfg.Node.JoinAddress = flags.joinAddress
	}
	if set("proto-period") {
		cfg.Protocol.PeriodSeconds = flags.protoPeriod
	}
	if set("ack-timeout") {
		cfg.Protocol.AckTimeoutSeconds = flags.ackTimeout
	}
	if set("indirect") {
		cfg.Protocol.NumIndirect = flags.numIndirect
	}
	if set("api") {
		cfg.API.Enabled = flags.apiEnabled
	}
	if set("api-listen") {
		cfg.API.Listen = flags.apiListen
	}
	if set("log-level") {
		cfg.Log.Level = flags.logLevel
	}

	return cfg, cfg.Validate()
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	logger.SetLevel(level)

	bind, err := cfg.BindAddr()
	if err != nil {
		return err
	}
	seed, err := cfg.JoinAddr()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	n := node.New(node.Config{
		BindAddr:       bind,
		ProtocolPeriod: cfg.Period(),
		AckTimeout:     cfg.AckTimeout(),
		NumIndirect:    cfg.Protocol.NumIndirect,
		Logger:         logger,
		Metrics:        telemetry.New(registry),
	})

	if err := n.Join(seed); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"addr": n.Addr().String(),
		"seed": seed.String(),
	}).Info("flockd started")

	var apiServer *http.Server
	if cfg.API.Enabled {
		apiServer = &http.Server{
			Addr:    cfg.API.Listen,
			Handler: api.NewServer(n, registry, logger).Handler(),
		}
		go func() {
			logger.WithField("listen", cfg.API.Listen).Info("status API listening")
			if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("status API failed")
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	if apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("status API shutdown")
		}
	}

	return n.Stop()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
