package agent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/ceems-dev/pcapbench/internal/buildinfo"
	"github.com/prometheus/common/promslog"
	promslogflag "github.com/prometheus/common/promslog/flag"
	"github.com/prometheus/common/version"
	"github.com/prometheus/exporter-toolkit/web"
)

// AppName is the kingpin application name for the agent binary.
const AppName = "pcap_agent"

// CLI wraps the kingpin application for the agent binary.
type CLI struct {
	App kingpin.Application
}

// NewCLI constructs the agent's kingpin application.
func NewCLI() *CLI {
	return &CLI{App: *kingpin.New(AppName, "SUT agent exposing RAPL power, system info, and a load-generator launcher.")}
}

// Main parses flags, starts the HTTP server, and blocks until shutdown.
func (c *CLI) Main() error {
	var (
		webListenAddress string
		webConfigFile    string
		webSystemdSocket bool
		sysfsPath        string
		firestarterPath  string
		bmcType          string
	)

	c.App.Flag("web.listen-address", "Address to listen on for HTTP requests.").
		Default(":9663").StringVar(&webListenAddress)
	c.App.Flag("web.config.file", "Path to web configuration file for TLS.").
		Default("").StringVar(&webConfigFile)
	c.App.Flag("web.systemd-socket", "Use systemd socket activation listeners instead of port listeners.").
		Default("false").BoolVar(&webSystemdSocket)
	c.App.Flag("agent.sysfs-path", "Path to the sysfs mountpoint (for locating RAPL zones).").
		Default("/sys").StringVar(&sysfsPath)
	c.App.Flag("agent.firestarter-path", "Path to the firestarter load-generator binary.").
		Default("/usr/bin/firestarter").StringVar(&firestarterPath)
	c.App.Flag("agent.bmc-type", "BMC type of the controller driving this SUT, recorded in system_info.").
		Default("").StringVar(&bmcType)

	promslogConfig := &promslog.Config{}
	promslogflag.AddFlags(&c.App, promslogConfig)
	c.App.Version(version.Print(AppName))
	c.App.UsageWriter(os.Stdout)
	c.App.HelpFlag.Short('h')

	if _, err := c.App.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("pcap_agent: parsing CLI flags: %w", err)
	}

	logger := promslog.New(promslogConfig)
	logger.Info("starting "+AppName, "version", version.Info())
	logger.Debug("host details", "uname", buildinfo.Uname(), "fd_limits", buildinfo.FdLimits())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	webConfig := &web.FlagConfig{
		WebListenAddresses: &[]string{webListenAddress},
		WebSystemdSocket:   &webSystemdSocket,
		WebConfigFile:      &webConfigFile,
	}

	server, err := New(webListenAddress, Config{
		WebConfig:       webConfig,
		SysfsPath:       sysfsPath,
		FirestarterPath: firestarterPath,
		BMCType:         bmcType,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("failed to initialize agent server", "err", err)

		return err
	}

	logger.Info("listening", "address", webListenAddress)

	if err := server.ListenAndServe(ctx); err != nil {
		logger.Error("agent server exited with error", "err", err)

		return err
	}

	return nil
}
