// Command rtc-server hosts a policy and serves the networked RTC variant's
// observation/action streaming over a length-prefixed TCP frame protocol
// (spec §4.7, §6). Flags mirror the illustrative networked CLI surface of
// spec §6.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"flag"

	"github.com/rtcore/rtc"
	"github.com/rtcore/rtc/guidance"
	"github.com/rtcore/rtc/netrtc/server"
	"github.com/rtcore/rtc/policy"

	_ "github.com/rtcore/rtc/internal/simdriver"
)

func main() {
	var (
		host         = flag.String("host", "0.0.0.0", "listen address")
		port         = flag.String("port", "8765", "listen port")
		policyType   = flag.String("policy.type", "sim", "registered policy loader name")
		policyPath   = flag.String("policy.path", "", "pretrained policy identifier or path")
		policyDev    = flag.String("policy.device", "cpu", "cpu|cuda|mps")
		execHorizon  = flag.Int("rtc.execution_horizon", 0, "leading chunk positions prefix guidance stays active over")
		maxWeight    = flag.Float64("rtc.max_guidance_weight", 5.0, "clamp on the guidance correction's scalar weight")
		schedule     = flag.String("rtc.prefix_attention_schedule", "exp", "zeros|ones|linear|exp")
		task         = flag.String("task", "", "instruction/task string attached to every observation")
		fps          = flag.Float64("fps", 30, "Hz used to stamp per-action timestamps")
		obsTimeout   = flag.Duration("obs_queue_timeout", 0, "GetActions wait for an inbound observation before an empty reply")
		latencyFloor = flag.Duration("inference_latency", 0, "minimum total GetActions latency; padded with a sleep if inference finishes sooner")
	)
	flag.Parse()

	log := slog.Default()

	sched, err := rtc.ParseSchedule(*schedule)
	if err != nil {
		log.Error("rtc-server: invalid schedule", "err", err)
		os.Exit(1)
	}

	pol, err := policy.Load(*policyType, *policyPath, policy.Device(*policyDev))
	if err != nil {
		log.Error("rtc-server: loading policy", "err", err)
		os.Exit(1)
	}

	srv := server.New(pol, server.Config{
		ObsQueueTimeout:  *obsTimeout,
		LatencyFloor:     *latencyFloor,
		FPS:              *fps,
		ExecutionHorizon: *execHorizon,
		Guidance:         guidance.Config{MaxGuidanceWeight: *maxWeight, Schedule: sched},
		Task:             *task,
		Log:              log,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	addr := *host + ":" + *port
	log.Info("rtc-server: listening", "addr", addr)
	if err := srv.Listen(ctx, addr); err != nil {
		log.Error("rtc-server: serve failed", "err", err)
		os.Exit(1)
	}
}
