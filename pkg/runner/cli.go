package runner

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/ceems-dev/pcapbench/internal/buildinfo"
	"github.com/ceems-dev/pcapbench/pkg/bmc"
	"github.com/ceems-dev/pcapbench/pkg/collector"
	"github.com/ceems-dev/pcapbench/pkg/store"
	"github.com/prometheus/common/promslog"
	promslogflag "github.com/prometheus/common/promslog/flag"
	"github.com/prometheus/common/version"
)

// AppName is the kingpin application name for the runner binary.
const AppName = "pcap_runner"

// Default trajectory timing constants (spec §4.4.1), overridable only by
// editing these — the spec names them as "config constants", not CLI flags.
const (
	defaultWarmup         = 30 * time.Second
	defaultPerStep        = 60 * time.Second
	defaultInterStepPause = 10 * time.Second
	defaultUncappedPower  = 1400
)

// CLI wraps the kingpin application for the runner/controller binary.
type CLI struct {
	App kingpin.Application
}

// NewCLI constructs the runner's kingpin application.
func NewCLI() *CLI {
	return &CLI{App: *kingpin.New(AppName, "Power-capping benchmark controller: runs the sampling collector and cap-trajectory campaign.")}
}

// Main parses flags and drives one full campaign run to completion.
func (c *CLI) Main() error {
	var (
		bmcHostname, bmcUsername, bmcPassword, bmcTypeStr string
		agentURL, dbPath, ipmitoolPath                    string
		minLoad, maxLoad, loadDelta                       int
		capMin, capMax, capDelta                          int
		nThreads                                          int
		capDirection                                      string
		calibrate                                         bool
	)

	c.App.Flag("bmc_hostname", "BMC hostname or IP address.").Required().StringVar(&bmcHostname)
	c.App.Flag("bmc_username", "BMC username.").Required().StringVar(&bmcUsername)
	c.App.Flag("bmc_password", "BMC password.").Required().StringVar(&bmcPassword)
	c.App.Flag("bmc_type", "BMC back-end: ipmi or redfish.").Required().EnumVar(&bmcTypeStr, "ipmi", "redfish")
	c.App.Flag("agent_url", "Base URL of the SUT agent.").Required().StringVar(&agentURL)
	c.App.Flag("cap_min", "Minimum power cap in watts.").Required().IntVar(&capMin)
	c.App.Flag("cap_max", "Maximum power cap in watts.").Required().IntVar(&capMax)
	c.App.Flag("cap_delta", "Power cap step size in watts.").Required().IntVar(&capDelta)
	c.App.Flag("db_path", "Path to the SQLite store (default: derived from agent host and timestamp).").
		Default("").StringVar(&dbPath)
	c.App.Flag("ipmitool_path", "Path to the ipmitool binary (required when bmc_type=ipmi).").
		Default("/usr/bin/ipmitool").StringVar(&ipmitoolPath)
	c.App.Flag("min_load", "Minimum firestarter load percentage.").Default("100").IntVar(&minLoad)
	c.App.Flag("max_load", "Maximum firestarter load percentage.").Default("100").IntVar(&maxLoad)
	c.App.Flag("load_delta", "Firestarter load percentage step size.").Default("0").IntVar(&loadDelta)
	c.App.Flag("n_threads", "Number of firestarter threads to request per job (0 lets firestarter choose).").
		Default("0").IntVar(&nThreads)
	c.App.Flag("cap_direction", "Cap sweep direction: up, down, or both.").
		Default("both").EnumVar(&capDirection, "up", "down", "both")
	c.App.Flag("calibrate", "Sample idle/full-load power before the campaign and log the observed range.").
		Default("false").BoolVar(&calibrate)

	promslogConfig := &promslog.Config{}
	promslogflag.AddFlags(&c.App, promslogConfig)
	c.App.Version(version.Print(AppName))
	c.App.UsageWriter(os.Stdout)
	c.App.HelpFlag.Short('h')

	if _, err := c.App.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("pcap_runner: parsing CLI flags: %w", err)
	}

	logger := promslog.New(promslogConfig)
	logger.Info("starting "+AppName, "version", version.Info())
	logger.Debug("host details", "uname", buildinfo.Uname(), "fd_limits", buildinfo.FdLimits())

	if dbPath == "" {
		dbPath = fmt.Sprintf("%s_%d_capping_test.db", hostOf(agentURL), time.Now().Unix())
	}

	bmcKind := bmc.IPMI
	if bmcTypeStr == "redfish" {
		bmcKind = bmc.Redfish
	}

	collectorBMCClient, err := bmc.New(bmc.Config{
		Host: bmcHostname, User: bmcUsername, Password: bmcPassword,
		Kind: bmcKind, IPMIToolPath: ipmitoolPath, Insecure: true,
	})
	if err != nil {
		logger.Error("failed to construct collector bmc client", "err", err)

		return err
	}

	runnerBMCClient, err := bmc.New(bmc.Config{
		Host: bmcHostname, User: bmcUsername, Password: bmcPassword,
		Kind: bmcKind, IPMIToolPath: ipmitoolPath, Insecure: true,
	})
	if err != nil {
		logger.Error("failed to construct runner bmc client", "err", err)

		return err
	}

	st, err := store.Open(dbPath, logger)
	if err != nil {
		logger.Error("failed to open store", "err", err)

		return err
	}
	defer st.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := collectorBMCClient.Connect(ctx); err != nil {
		logger.Error("collector bmc connect failed", "err", err)

		return err
	}
	defer collectorBMCClient.Disconnect(ctx) //nolint:errcheck

	if err := runnerBMCClient.Connect(ctx); err != nil {
		logger.Error("runner bmc connect failed", "err", err)

		return err
	}
	defer runnerBMCClient.Disconnect(ctx) //nolint:errcheck

	coll := collector.New(collector.Config{
		BMC:      collectorBMCClient,
		AgentURL: agentURL,
		Store:    st,
		Logger:   logger,
	})

	agent := newAgentClient(agentURL, nil)

	info, err := agent.fetchSystemInfo(ctx)
	if err != nil {
		logger.Error("failed to fetch system info from agent", "err", err)

		return fmt.Errorf("runner: fetching system info: %w", err)
	}

	info.BMCType = bmcTypeStr

	if err := st.InsertSystemInfo(ctx, info); err != nil {
		logger.Error("failed to record system info", "err", err)

		return fmt.Errorf("runner: recording system info: %w", err)
	}

	r := New(runnerBMCClient, agent, st, Timing{
		Warmup:         defaultWarmup,
		PerStep:        defaultPerStep,
		InterStepPause: defaultInterStepPause,
		UncappedPower:  defaultUncappedPower,
	})

	if calibrate {
		if _, err := r.Calibrate(ctx, nThreads, logger); err != nil {
			logger.Warn("calibration failed, continuing campaign anyway", "err", err)
		}
	}

	campaign := CampaignParams{
		MinLoad: minLoad, MaxLoad: maxLoad, LoadDelta: loadDelta,
		CapMin: capMin, CapMax: capMax, CapDelta: capDelta,
		NThreads:  nThreads,
		Direction: Direction(capDirection),
	}

	if err := Orchestrate(ctx, r, coll, campaign, logger); err != nil {
		logger.Error("campaign run failed", "err", err)

		return err
	}

	logger.Info("campaign complete")

	return nil
}

func hostOf(agentURL string) string {
	u := agentURL
	for _, prefix := range []string{"https://", "http://"} {
		if len(u) > len(prefix) && u[:len(prefix)] == prefix {
			u = u[len(prefix):]
		}
	}

	for i, c := range u {
		if c == ':' || c == '/' {
			return u[:i]
		}
	}

	return u
}
