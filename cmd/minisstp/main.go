// Command minisstp is the command line SSTP client: it loads a connection
// profile, builds the tun device, and runs the tunnel engine, restarting it
// according to the profile's reconnection policy.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	apexlog "github.com/apex/log"
	clihandler "github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"

	"github.com/minisstp/minisstp/internal/model"
	"github.com/minisstp/minisstp/internal/tunnel"
	"github.com/minisstp/minisstp/pkg/config"
)

var (
	flagProfile string
	flagVerbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "minisstp",
		Short:         "minisstp is a minimalistic SSTP client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	connectCmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect the tunnel described by the profile",
		RunE:  runConnect,
	}
	connectCmd.Flags().StringVarP(&flagProfile, "profile", "p", "", "path to the profile file")
	connectCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	_ = connectCmd.MarkFlagRequired("profile")

	rootCmd.AddCommand(connectCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "minisstp: %s\n", err.Error())
		os.Exit(1)
	}
}

func runConnect(cmd *cobra.Command, args []string) error {
	apexlog.SetHandler(clihandler.Default)
	if flagVerbose {
		apexlog.SetLevel(apexlog.DebugLevel)
	}
	logger := model.NewDefaultLogger()

	profile, err := config.ReadProfileFile(flagProfile)
	if err != nil {
		return err
	}
	cfg := config.NewConfig(
		config.WithLogger(logger),
		config.WithProfile(profile),
	)
	logProfileSummary(logger, profile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reporter := &logReporter{logger: logger}
	trustStore := newDirTrustStore(profile.SSLCertDir)

	attempts := 1
	if profile.ReconnectionEnabled {
		attempts += profile.ReconnectionCount
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			remaining := attempts - attempt
			reporter.Notify(model.ReportReconnect,
				fmt.Sprintf("reconnecting, %d attempts left", remaining), remaining)
			select {
			case <-time.After(time.Duration(profile.ReconnectionInterval) * time.Second):
			case <-ctx.Done():
				return nil
			}
		}

		device := newTunDevice(logger)
		engine, err := tunnel.NewEngine(cfg, device, trustStore, reporter)
		if err != nil {
			return err
		}
		terminal := engine.Run(ctx)

		if ctx.Err() != nil || !terminal.IsError() {
			return nil
		}
		logger.Warnf("minisstp: tunnel ended: %s", terminal)
		if !profile.ReconnectionEnabled {
			return fmt.Errorf("tunnel failed: %s", terminal)
		}
	}
	return fmt.Errorf("reconnection attempts exhausted")
}

func logProfileSummary(logger model.Logger, profile *config.Profile) {
	logger.Infof("profile: server %s:%d", profile.Hostname, profile.Port)
	if profile.Proxy != nil {
		logger.Infof("profile: proxy %s:%d", profile.Proxy.Host, profile.Proxy.Port)
	}
	logger.Infof("profile: auth %v, mru %d, mtu %d, ipv4 %v, ipv6 %v",
		profile.PPPAuthProtocols, profile.PPPMru, profile.PPPMtu,
		profile.PPPIPv4Enabled, profile.PPPIPv6Enabled)
}

// logReporter routes host notifications to the log.
type logReporter struct {
	logger model.Logger
}

var _ model.Reporter = &logReporter{}

// Notify implements model.Reporter.
func (r *logReporter) Notify(channel model.ReportChannel, body string, id int) {
	switch channel {
	case model.ReportCertificate:
		r.logger.Warnf("untrusted server certificate:\n%s", body)
	case model.ReportError:
		r.logger.Warnf("error: %s", body)
	default:
		r.logger.Infof("%s: %s", channel, body)
	}
}
