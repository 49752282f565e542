// Command rtc-run drives a single-process, non-networked control session:
// one actuator goroutine and one inference goroutine sharing an in-process
// Action Queue (spec §2, §5; SPEC_FULL.md §5 package layout). Flags mirror
// the illustrative CLI surface of spec §6.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rtcore/rtc"
	"github.com/rtcore/rtc/control"
	"github.com/rtcore/rtc/policy"
	"github.com/rtcore/rtc/robot"

	_ "github.com/rtcore/rtc/internal/simdriver"
)

func main() {
	var (
		configFile  = flag.String("config", "", "optional TOML config file; flags override its values")
		policyType  = flag.String("policy.type", "", "registered policy loader name")
		policyPath  = flag.String("policy.path", "", "pretrained policy identifier or path")
		policyDev   = flag.String("policy.device", "cpu", "cpu|cuda|mps")
		robotType   = flag.String("robot.type", "", "registered robot driver name")
		robotPort   = flag.String("robot.port", "", "robot physical connection (serial port, address, bus id)")
		robotID     = flag.String("robot.id", "", "disambiguates multiple robots of the same type")
		rtcEnabled  = flag.Bool("rtc.enabled", false, "enable Real-Time Chunking prefix-attention guidance")
		execHorizon = flag.Int("rtc.execution_horizon", 0, "leading chunk positions prefix guidance stays active over")
		maxWeight   = flag.Float64("rtc.max_guidance_weight", 5.0, "clamp on the guidance correction's scalar weight")
		schedule    = flag.String("rtc.prefix_attention_schedule", "exp", "zeros|ones|linear|exp")
		task        = flag.String("task", "", "instruction/task string attached to every observation")
		duration    = flag.Duration("duration", 0, "run duration; 0 means run until interrupted")
		fps         = flag.Float64("fps", 30, "fixed actuator control rate in Hz")
		threshold   = flag.Int("action_queue_size_to_get_new_actions", 0, "queue size at/below which inference is triggered")
	)
	flag.Parse()

	log := slog.Default()
	cfg, err := buildConfig(*configFile, log, *policyType, *policyPath, *policyDev, *robotType, *robotPort, *robotID,
		*rtcEnabled, *execHorizon, *maxWeight, *schedule, *task, *duration, *fps, *threshold)
	if err != nil {
		log.Error("rtc-run: invalid configuration", "err", err)
		os.Exit(1)
	}

	rob, err := robot.NewDriver(cfg.Robot.Type, cfg.Robot.Port, cfg.Robot.ID)
	if err != nil {
		log.Error("rtc-run: constructing robot", "err", err)
		os.Exit(1)
	}
	pol, err := policy.Load(cfg.Policy.Type, cfg.Policy.Path, cfg.Policy.Device)
	if err != nil {
		log.Error("rtc-run: loading policy", "err", err)
		os.Exit(1)
	}

	sess, err := control.New(cfg, rob, pol, nil, nil)
	if err != nil {
		log.Error("rtc-run: building session", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := sess.Run(ctx); err != nil {
		log.Error("rtc-run: session ended with error", "session", sess.ID, "err", err)
		os.Exit(1)
	}
}

func buildConfig(configFile string, log *slog.Logger, policyType, policyPath, policyDev, robotType, robotPort, robotID string,
	rtcEnabled bool, execHorizon int, maxWeight float64, schedule, task string, duration time.Duration, fps float64, threshold int) (rtc.Config, error) {

	cfg := rtc.Config{Log: log}
	if configFile != "" {
		var err error
		cfg, err = rtc.LoadFile(configFile)
		if err != nil {
			return rtc.Config{}, err
		}
		cfg.Log = log
	}

	// With a config file, flags left at their defaults keep the file's values.
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	fromFlag := func(name string) bool { return configFile == "" || set[name] }

	if policyType != "" {
		cfg.Policy.Type = policyType
	}
	if policyPath != "" {
		cfg.Policy.Path = policyPath
	}
	if policyDev != "" && fromFlag("policy.device") {
		cfg.Policy.Device = policy.Device(policyDev)
	}
	if robotType != "" {
		cfg.Robot.Type = robotType
	}
	if robotPort != "" {
		cfg.Robot.Port = robotPort
	}
	if robotID != "" {
		cfg.Robot.ID = robotID
	}
	if rtcEnabled {
		cfg.RTC.Enabled = true
	}
	if execHorizon > 0 {
		cfg.RTC.ExecutionHorizon = execHorizon
	}
	if fromFlag("rtc.max_guidance_weight") {
		cfg.RTC.MaxGuidanceWeight = maxWeight
	}
	if fromFlag("rtc.prefix_attention_schedule") {
		sched, err := rtc.ParseSchedule(schedule)
		if err != nil {
			return rtc.Config{}, err
		}
		cfg.RTC.Schedule = sched
	}
	if task != "" {
		cfg.Task = task
	}
	if duration > 0 {
		cfg.Duration = duration
	}
	if fps > 0 {
		cfg.FPS = fps
	}
	if fromFlag("action_queue_size_to_get_new_actions") {
		cfg.QueueThreshold = threshold
	}

	return cfg, cfg.Validate()
}
