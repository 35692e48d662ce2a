package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"doorman/internal/adapter/audit"
	"doorman/internal/adapter/mqtt"
	"doorman/internal/infra/clock"
	"doorman/internal/infra/config"
	"doorman/internal/infra/logger"
	"doorman/internal/usecase/access"
	"doorman/internal/usecase/eventbus"
	"doorman/internal/usecase/scheduling"
)

func main() {
	// Handle help flag first
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "doctor":
		if err := runDoctor(); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'doorman --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`doorman - MQTT-connected physical access controller

USAGE:
    doorman [COMMAND] [FLAGS]

COMMANDS:
    doctor      Run health checks: config, GPIO backend, broker,
                audit database, allow list

    (no command) - Run the controller with existing config

FLAGS:
    -h, --help         Show this help message
    --config PATH      Specify config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml (see config.example.yaml)
    Environment: DOORMAN_* variables override config

EXAMPLES:
    doorman                                      # Run with config.yaml
    doorman --config /etc/doorman/config.yaml
    DOORMAN_MQTT_BROKER=tcp://broker:1883 doorman
    doorman doctor                               # Check the deployment

BUILD:
    go build -tags edge ./cmd/controller    # real GPIO via periph.io
    go build ./cmd/controller               # simulated GPIO backend`)
}

func showFirstRunMessage() {
	fmt.Println(`No configuration found.

doorman needs a config file describing your doors, readers and lock
wiring before it can run:

  1. Copy config.example.yaml to config.yaml
  2. Adjust the GPIO pin numbers to match your wiring
  3. Add your cards under allowlist
  4. Run 'doorman doctor' to verify the setup

Environment variables (DOORMAN_MQTT_BROKER, DOORMAN_DB_PATH, ...) can
override individual settings, but doors only come from the file.`)
}

func configPath() string {
	// Check --config flag in os.Args.
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("DOORMAN_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func run() error {
	// 1. Config
	cfgPath := configPath()
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		showFirstRunMessage()
		return nil
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	// 3. GPIO backend (build tag selects hardware or simulation)
	backend, err := newGPIOBackend(log)
	if err != nil {
		return fmt.Errorf("gpio: %w", err)
	}

	// 4. MQTT
	client, err := mqtt.Connect(cfg.MQTT, log)
	if err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	defer client.Close()

	// 5. Audit store
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("audit: create data dir: %w", err)
	}
	store, err := audit.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	defer store.Close()

	// 6. Event bus and its outbound bridges
	bus := eventbus.New(log)
	defer bus.Close()

	reporter := mqtt.NewReporter(client, byte(cfg.MQTT.QoS), log)
	reporter.Attach(bus)
	defer reporter.Detach()

	recorder := audit.NewRecorder(store, log)
	recorder.Attach(bus)
	defer recorder.Detach()

	// 7. Access policy
	entries, err := access.LoadAllowList(cfg.AllowList)
	if err != nil {
		return fmt.Errorf("allowlist: %w", err)
	}
	if len(entries) == 0 {
		log.Warn("allow list is empty, every credential will be denied")
	}
	policy := access.NewPolicy(entries)

	// 8. Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 9. Doors
	clk := clock.New()
	doors := buildDoors(ctx, cfg, doorDeps{
		backend: backend,
		policy:  policy,
		client:  client,
		bus:     bus,
		clk:     clk,
		log:     log,
	})
	if len(doors) == 0 {
		return fmt.Errorf("no door came up (%d configured), nothing to control", len(cfg.Doors))
	}
	defer stopDoors(doors)

	// 10. Scheduler (status heartbeat, audit retention)
	sched := scheduling.NewScheduler(log)
	publishers := make([]scheduling.StatusPublisher, 0, len(doors))
	for _, rt := range doors {
		publishers = append(publishers, rt.ctl)
	}
	sched.RegisterAction(scheduling.ActionHeartbeat, scheduling.NewHeartbeat(publishers, log))
	sched.RegisterAction(scheduling.ActionAuditRetention,
		scheduling.NewRetentionSweep(store, clk, time.Duration(cfg.Database.RetentionDays)*24*time.Hour, log))

	if cfg.Heartbeat.Enabled {
		if err := sched.AddTask(scheduling.ScheduledTask{
			Name:     "status-heartbeat",
			Schedule: cfg.Heartbeat.Interval.String(),
			Action:   scheduling.ActionHeartbeat,
		}); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}
	if cfg.Database.RetentionDays > 0 {
		if err := sched.AddTask(scheduling.ScheduledTask{
			Name:     "audit-retention",
			Schedule: "@daily",
			Action:   scheduling.ActionAuditRetention,
		}); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}
	sched.Start(ctx)
	defer sched.Stop()

	// 11. Run until signalled
	log.Info("doorman started",
		"doors", len(doors),
		"broker", cfg.MQTT.Broker,
		"audit_db", cfg.Database.Path,
		"heartbeat", cfg.Heartbeat.Enabled,
		"allowlist_entries", len(entries),
	)
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
