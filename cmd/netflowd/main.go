package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/netflowd/netflowd/internal/config"
	"github.com/netflowd/netflowd/internal/diagnostics"
	"github.com/netflowd/netflowd/internal/logger"
	"github.com/netflowd/netflowd/internal/supervisor"
	"github.com/netflowd/netflowd/internal/version"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("netflowd version %s\n", version.GetVersion())
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&logger.Config{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		ConsoleOutput:  cfg.Logging.ConsoleOutput,
		ConsoleLevel:   cfg.Logging.ConsoleLevel,
		ConsoleFormat:  cfg.Logging.ConsoleFormat,
		FileOutput:     cfg.Logging.FileOutput,
		FileLevel:      cfg.Logging.FileLevel,
		SyslogFacility: cfg.Logging.SyslogFacility,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("starting netflowd", "version", version.GetVersion(), "config", *configPath)
	for _, pc := range cfg.Ports {
		log.Info("listening", "port", pc.Port, "drop_detection", pc.DropDetection)
	}
	log.Info("output settings",
		"save_interval_secs", cfg.Output.SaveIntervalSecs,
		"buffer_count", cfg.Output.BufferCount,
		"current_path", cfg.Output.CurrentPath,
		"saved_prefix", cfg.Output.SavedPrefix)

	var reject supervisor.RejectSink
	if cfg.Diagnostics.RejectPCAP.Enabled {
		rp, err := diagnostics.NewRejectPCAPWriter(
			cfg.Diagnostics.RejectPCAP.OutputFile,
			cfg.Diagnostics.RejectPCAP.MaxSizeMB,
			cfg.Diagnostics.RejectPCAP.MaxBackups,
			cfg.Ports[0].Port,
		)
		if err != nil {
			log.Error("failed to initialize reject PCAP capture", "error", err)
			os.Exit(1)
		}
		defer rp.Close()
		reject = rp
		log.Info("reject PCAP capture enabled", "file", cfg.Diagnostics.RejectPCAP.OutputFile)
	}

	sup, err := supervisor.New(cfg, log, reject)
	if err != nil {
		log.Error("failed to initialize supervisor", "error", err)
		os.Exit(1)
	}

	sup.Run()
	log.Info("netflowd exiting")
}
