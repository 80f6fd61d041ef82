// Command modbusguard is a transparent Modbus/TCP firewall: it sits
// between an HMI/engineering workstation and a PLC, inspecting every
// request against a configurable security policy before forwarding it
// byte-transparently or returning a synthesized exception.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoAethereal/cancel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ironwall/modbusguard/internal/config"
	"github.com/ironwall/modbusguard/internal/logging"
	"github.com/ironwall/modbusguard/internal/policy"
	"github.com/ironwall/modbusguard/internal/proxy"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "modbusguard",
		Short:        "Transparent application-layer firewall for Modbus/TCP",
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "modbusguard.yaml", "path to the YAML configuration file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger, err := logging.New(cfg.LogFilePath, cfg.LogRotateBytes, cfg.LogBackupCount, level)
	if err != nil {
		return fmt.Errorf("modbusguard: starting logger: %w", err)
	}
	defer logger.Close()

	registry := prometheus.NewRegistry()
	metrics := logging.NewMetrics(registry)
	metrics.Serve(cfg.MetricsListen, registry, logger)

	pol := policy.New(
		config.FunctionCodeBytes(cfg.AllowedFunctionCodes),
		config.FunctionCodeBytes(cfg.BlockedFunctionCodes),
		cfg.WriteAllowedIPs,
		cfg.RateLimitRPS,
	)

	upstream := net.JoinHostPort(cfg.PLCHost, fmt.Sprint(cfg.PLCPort))
	connCfg := proxy.DefaultConfig(upstream)
	connCfg.DialTimeout = time.Duration(cfg.ConnectionTimeoutS) * time.Second
	stats := &proxy.Stats{}
	listener := &proxy.Listener{
		BindAddr: net.JoinHostPort(cfg.ListenHost, fmt.Sprint(cfg.ListenPort)),
		Conn:     connCfg,
		Policy:   pol,
		Log:      logger,
		Metrics:  metrics,
		Stats:    stats,
	}

	logger.PrintBanner(listener.BindAddr, upstream, policySummary(cfg))

	sig := cancel.New()
	notify, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-notify.Done()
		sig.Cancel()
	}()

	err = listener.ListenAndServe(sig)
	metrics.Shutdown(context.Background())
	total, allowed, blocked, errored := stats.Snapshot()
	logger.PrintSummary(total, allowed, blocked, errored)

	select {
	case <-sig.Done():
		// Interrupt-driven shutdown; the listener error is just the
		// canceled accept, not a failure.
		return nil
	default:
		return fmt.Errorf("modbusguard: listener: %w", err)
	}
}

func policySummary(cfg *config.Config) string {
	return fmt.Sprintf(
		"policy: allow=%v block=%v write_exempt=%v rate_limit=%d/s",
		cfg.AllowedFunctionCodes, cfg.BlockedFunctionCodes, cfg.WriteAllowedIPs, cfg.RateLimitRPS,
	)
}
