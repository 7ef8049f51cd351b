package main

import (
	"context"
	"fmt"
	"github.com/ghjm/mroute6/internal/version"
	"github.com/ghjm/mroute6/pkg/config"
	"github.com/ghjm/mroute6/pkg/kconfig"
	"github.com/ghjm/mroute6/pkg/oracle"
	"github.com/ghjm/mroute6/pkg/scenario"
	"github.com/ghjm/mroute6/pkg/x/checkroot"
	"github.com/ghjm/mroute6/pkg/x/exit_handler"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"os"
	"time"
)

func errExit(err error) {
	fmt.Printf("Error: %s\n", err)
	exit_handler.Exit(1)
}

func errExitf(format string, args ...any) {
	errExit(fmt.Errorf(format, args...))
}

var configFile string
var logLevel string

func setupLogging() {
	log.SetFormatter(&log.TextFormatter{
		DisableColors: !isatty.IsTerminal(os.Stderr.Fd()),
		FullTimestamp: true,
	})
	if logLevel != "" {
		switch logLevel {
		case "error":
			log.SetLevel(log.ErrorLevel)
		case "warning":
			log.SetLevel(log.WarnLevel)
		case "info":
			log.SetLevel(log.InfoLevel)
		case "debug":
			log.SetLevel(log.DebugLevel)
		default:
			errExit(fmt.Errorf("invalid log level"))
		}
	}
}

func loadConfig() *config.Config {
	if configFile == "" {
		return config.Default()
	}
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		errExit(err)
	}
	return cfg
}

var rootCmd = &cobra.Command{
	Use:     "mrtest",
	Short:   "IPv6 multicast forwarding test harness",
	Version: version.Version(),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

var scenarioNames []string
var pcapDir string
var sysctls map[string]string
var mtu uint16

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run forwarding scenarios in a private network namespace",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if !checkroot.Privileged() {
			errExitf("must be run as root or with CAP_NET_ADMIN and CAP_NET_RAW")
		}
		names := scenarioNames
		if len(names) == 0 {
			for _, s := range cfg.Scenarios {
				names = append(names, s.Name)
			}
		}
		for _, name := range names {
			if _, ok := cfg.Scenario(name); !ok {
				errExitf("scenario %s not found in config", name)
			}
		}
		eps, err := scenario.Endpoints(cfg)
		if err != nil {
			errExit(err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		runID := uuid.New()
		var rec *oracle.Recorder
		if pcapDir != "" {
			rec, err = oracle.NewRecorder(pcapDir, runID.String())
			if err != nil {
				errExit(err)
			}
			exit_handler.AddExitFunc(func() {
				_ = rec.Close()
			})
		}
		reporter := &scenario.LogReporter{}
		start := time.Now()
		for _, name := range names {
			env, err := scenario.NewNamespaceEnvironment(ctx, eps, scenario.WithSysctls(sysctls),
				scenario.WithMTU(mtu))
			if err != nil {
				errExit(err)
			}
			passed, err := scenario.RunScenario(ctx, reporter, env, cfg, name,
				scenario.WithRunID(runID), scenario.WithRecorder(rec))
			if cerr := env.Close(); cerr != nil {
				log.Warnf("error closing namespace: %s", cerr)
			}
			if err != nil {
				errExit(err)
			}
			if passed {
				fmt.Printf("PASS %s\n", name)
			} else {
				fmt.Printf("FAIL %s\n", name)
			}
		}
		if rec != nil {
			for _, f := range rec.Files() {
				fmt.Printf("capture: %s\n", f)
			}
		}
		log.Infof("run %s finished in %s", runID, time.Since(start).Round(time.Millisecond))
		if reporter.Failures() > 0 {
			errExitf("%d expectation(s) failed", reporter.Failures())
		}
	},
}

var kernelConfigFile string

var checkKernelCmd = &cobra.Command{
	Use:   "check-kernel",
	Short: "Check that the kernel is built with IPv6 multicast routing support",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		release, err := kconfig.Release()
		if err == nil {
			fmt.Printf("Linux kernel version: %s\n", release)
		}
		kc, err := kconfig.Load(kernelConfigFile)
		if err != nil {
			errExit(fmt.Errorf("error reading kernel config (is CONFIG_IKCONFIG_PROC enabled?): %w", err))
		}
		if err = kc.Check(); err != nil {
			errExit(err)
		}
		fmt.Printf("Kernel supports IPv6 multicast routing\n")
	},
}

var showConfigCmd = &cobra.Command{
	Use:   "show-config",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		out, err := yaml.Marshal(cfg)
		if err != nil {
			errExit(err)
		}
		fmt.Print(string(out))
		eps, err := scenario.Endpoints(cfg)
		if err != nil {
			errExit(err)
		}
		for i, ep := range eps {
			fmt.Printf("# mif %d: %s\n", i, ep)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mrtest %s\n", version.Full())
	},
}

func main() {
	exit_handler.Install()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file name (default built-in)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (error/warning/info/debug)")

	runCmd.Flags().StringSliceVar(&scenarioNames, "scenario", nil, "Scenario to run (default all)")
	runCmd.Flags().StringVar(&pcapDir, "pcap-dir", "", "Directory to write packet captures to")
	runCmd.Flags().StringToStringVar(&sysctls, "sysctl", nil,
		"Extra sysctl to set in the test namespace, as name=value (repeatable)")
	runCmd.Flags().Uint16Var(&mtu, "mtu", 1500, "MTU of the test interfaces")

	checkKernelCmd.Flags().StringVar(&kernelConfigFile, "config-gz", kconfig.DefaultPath,
		"Kernel configuration file, optionally gzip compressed")

	rootCmd.AddCommand(runCmd, checkKernelCmd, showConfigCmd, versionCmd)

	err := rootCmd.Execute()
	if err != nil {
		fmt.Println(err)
		exit_handler.Exit(1)
	}
	exit_handler.RunExitFuncs()
}
