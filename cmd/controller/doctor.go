package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"doorman/internal/adapter/audit"
	"doorman/internal/adapter/gpio"
	"doorman/internal/adapter/mqtt"
	"doorman/internal/infra/config"
	"doorman/internal/usecase/access"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()

	// Try to load config — some checks work without it.
	cfg, cfgErr := config.Load(cfgPath)
	if cfgErr != nil {
		cfg = nil
	}

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "GPIO lines", Fn: checkGPIOLines},
		{Name: "MQTT broker", Fn: checkBroker},
		{Name: "Audit database", Fn: checkAuditDatabase},
		{Name: "Allow list", Fn: checkAllowList},
		{Name: "Disk space", Fn: checkDiskSpace},
	}

	fmt.Println("doorman doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Println("\nFix the FAIL issues above before putting doors on this controller.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Println("\ndoorman should work, but consider addressing the warnings.")
	} else {
		fmt.Println("\nAll checks passed! doorman is ready to run.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

func doctorLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// checkConfigFile returns a check that verifies the config file exists and
// parses correctly.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config file not found at %s", cfgPath),
				Fix:     "Copy config.example.yaml to config.yaml and describe your doors",
			}
		}

		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config invalid: %v", cfgErr),
				Fix:     "Check config.yaml syntax and the reported fields",
			}
		}

		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkGPIOLines initializes the GPIO backend and arms every configured
// reader line, the same claim the decoder makes at startup.
func checkGPIOLines(cfg *config.Config) CheckResult {
	backend, err := newGPIOBackend(doctorLogger())
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("backend init failed: %v", err),
			Fix:     "Check that /dev/gpiomem or /dev/mem is accessible (run as root or adjust groups)",
		}
	}

	kind := "simulated"
	if edgeBuild {
		kind = "periph.io hardware"
	}

	if cfg == nil || len(cfg.Doors) == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s backend up, but no doors configured to arm", kind),
		}
	}

	armed := 0
	for _, d := range cfg.Doors {
		for _, pin := range []int{d.Reader.D0Pin, d.Reader.D1Pin} {
			consumer := fmt.Sprintf("doctor-%s", d.ID)
			if err := backend.ArmEdgeDetection(pin, gpio.EdgeFalling, gpio.BiasPullUp, consumer); err != nil {
				return CheckResult{
					Status:  StatusFail,
					Message: fmt.Sprintf("cannot arm reader pin %d for door %s: %v", pin, d.ID, err),
					Fix:     "Check the pin number against your wiring and for other processes holding the line",
				}
			}
			armed++
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("armed %d reader line(s) on %s backend", armed, kind),
	}
}

// checkBroker dials the configured MQTT broker.
func checkBroker(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{
			Status:  StatusFail,
			Message: "cannot check — config not loaded",
		}
	}

	mc := cfg.MQTT
	if mc.ConnectTimeout > 5*time.Second {
		mc.ConnectTimeout = 5 * time.Second
	}
	mc.ClientID = mc.ClientID + "-doctor"

	start := time.Now()
	client, err := mqtt.Connect(mc, doctorLogger())
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", mc.Broker, err),
			Fix:     "Start the broker, or point DOORMAN_MQTT_BROKER at the right host",
		}
	}
	client.Close()

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (connect: %dms)", mc.Broker, time.Since(start).Milliseconds()),
	}
}

// checkAuditDatabase opens the audit store, running its migration.
func checkAuditDatabase(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{
			Status:  StatusFail,
			Message: "cannot check — config not loaded",
		}
	}

	dir := filepath.Dir(cfg.Database.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("data directory %s cannot be created: %v", dir, err),
			Fix:     fmt.Sprintf("Create it manually: mkdir -p %s", dir),
		}
	}

	store, err := audit.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot open %s: %v", cfg.Database.Path, err),
			Fix:     "Check permissions on the database file and its directory",
		}
	}
	defer store.Close()

	var last time.Time
	for _, d := range cfg.Doors {
		recs, err := store.RecentByDoor(context.Background(), d.ID, 1)
		if err == nil && len(recs) > 0 && recs[0].CreatedAt.After(last) {
			last = recs[0].CreatedAt
		}
	}
	activity := "no events recorded yet"
	if !last.IsZero() {
		activity = fmt.Sprintf("last event %s", last.Format(time.RFC3339))
	}

	retention := "retention disabled"
	if cfg.Database.RetentionDays > 0 {
		retention = fmt.Sprintf("retention %d days", cfg.Database.RetentionDays)
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s writable (%s, %s)", cfg.Database.Path, retention, activity),
	}
}

// checkAllowList parses the configured cards.
func checkAllowList(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{
			Status:  StatusFail,
			Message: "cannot check — config not loaded",
		}
	}

	entries, err := access.LoadAllowList(cfg.AllowList)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("allow list invalid: %v", err),
		}
	}
	if len(entries) == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "allow list is empty — every swipe will be denied",
			Fix:     "Add cards under allowlist in config.yaml",
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d card(s) configured", len(entries)),
	}
}

// checkDiskSpace checks available disk space where the audit log lives.
func checkDiskSpace(cfg *config.Config) CheckResult {
	dataDir := "."
	if cfg != nil {
		dataDir = filepath.Dir(cfg.Database.Path)
	}

	absDir, _ := filepath.Abs(dataDir)
	info, err := os.Stat(absDir)
	if err != nil || !info.IsDir() {
		return CheckResult{
			Status:  StatusPass,
			Message: "data directory does not exist yet — space check skipped",
		}
	}

	out, err := exec.Command("df", "-h", absDir).Output()
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: "could not determine disk space (df command failed)",
		}
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) < 2 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "unexpected df output format",
		}
	}

	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 5 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "unexpected df output format",
		}
	}

	available := fields[3]
	usePercent := fields[4]

	var pct int
	fmt.Sscanf(strings.TrimSuffix(usePercent, "%"), "%d", &pct)

	if pct >= 95 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("disk almost full: %s used, %s available", usePercent, available),
			Fix:     "Free up space or move database.path to a different partition",
		}
	}
	if pct >= 85 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("disk usage high: %s used, %s available", usePercent, available),
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("disk usage: %s used, %s available", usePercent, available),
	}
}
