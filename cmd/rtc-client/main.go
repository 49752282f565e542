// Command rtc-client drives the robot side of the networked RTC variant:
// it streams observations to, and receives action chunks from, a
// cmd/rtc-server process, while actuating the robot from the client-side
// per-timestep action queue (spec §4.7, §6). Flags mirror the illustrative
// networked CLI surface of spec §6.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/rtcore/rtc/netrtc/client"
	"github.com/rtcore/rtc/netrtc/proto"
	"github.com/rtcore/rtc/robot"

	_ "github.com/rtcore/rtc/internal/simdriver"
)

func main() {
	var (
		serverAddr      = flag.String("server_address", "127.0.0.1:8765", "networked policy server address")
		robotType       = flag.String("robot.type", "sim", "registered robot driver name")
		robotPort       = flag.String("robot.port", "", "robot physical connection (serial port, address, bus id)")
		robotID         = flag.String("robot.id", "", "disambiguates multiple robots of the same type")
		policyType      = flag.String("policy.type", "", "policy type reported to the server's handshake")
		policyPath      = flag.String("policy.path", "", "pretrained policy identifier reported to the server's handshake")
		policyDev       = flag.String("policy.device", "cpu", "cpu|cuda|mps")
		fps             = flag.Float64("fps", 30, "fixed actuator/observation control rate in Hz")
		actionsPerChunk = flag.Int("actions_per_chunk", 0, "chunk size reported to the server's handshake")
		chunkThreshold  = flag.Float64("chunk_size_threshold", 0.5, "queue-size fraction below which observations are sent")
		aggregateName   = flag.String("aggregate_fn_name", "replace", "replace|weighted_average")
		duration        = flag.Duration("duration", 0, "run duration; 0 means run until interrupted")
	)
	flag.Parse()

	log := slog.Default()

	rob, err := robot.NewDriver(*robotType, *robotPort, *robotID)
	if err != nil {
		log.Error("rtc-client: constructing robot", "err", err)
		os.Exit(1)
	}
	// The observation-send loop and the actuator loop both hold this handle
	// concurrently, so it is wrapped the same way control.Session wraps the
	// non-networked variant's single Robot (spec §5 "Robot handle: wrapped
	// by a mutex").
	rob = robot.Synchronized(rob)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if *duration > 0 {
		var durationCancel context.CancelFunc
		ctx, durationCancel = context.WithTimeout(ctx, *duration)
		defer durationCancel()
	}

	if err := rob.Connect(ctx); err != nil {
		log.Error("rtc-client: connecting robot", "err", err)
		os.Exit(1)
	}
	defer rob.Disconnect()

	aggregate := client.AggregateReplace
	if *aggregateName == "weighted_average" {
		aggregate = client.AggregateWeightedAverage
	}

	c, err := client.Dial(ctx, *serverAddr, client.Config{
		FPS:                *fps,
		ChunkSizeThreshold: *chunkThreshold,
		ActionsPerChunk:    *actionsPerChunk,
		Aggregate:          aggregate,
		Log:                log,
	})
	if err != nil {
		log.Error("rtc-client: dialing server", "err", err)
		os.Exit(1)
	}

	if err := c.Ready(); err != nil {
		log.Error("rtc-client: Ready handshake failed", "err", err)
		os.Exit(1)
	}
	if err := c.SendPolicyInstructions(proto.RemotePolicyConfig{
		PolicyType:      *policyType,
		PretrainedPath:  *policyPath,
		Device:          *policyDev,
		ActionFeatures:  rob.ActionFeatures(),
		ActionsPerChunk: int32(*actionsPerChunk),
	}); err != nil {
		log.Error("rtc-client: SendPolicyInstructions handshake failed", "err", err)
		os.Exit(1)
	}

	var timestep atomic.Int64
	obsSource := func(ctx context.Context) (client.Observation, error) {
		obs, err := rob.GetObservation(ctx)
		if err != nil {
			return client.Observation{}, err
		}
		names := make([]string, 0, len(obs))
		values := make([][]float64, 0, len(obs))
		for name, v := range obs {
			names = append(names, name)
			values = append(values, v)
		}
		step := timestep.Add(1)
		return client.Observation{
			Timestep:  step,
			Timestamp: float64(step) / (*fps),
			Names:     names,
			Values:    values,
		}, nil
	}

	actuator := client.NewActuatorLoop(c.Queue(), rob, nil, client.ActuatorConfig{FPS: *fps, Log: log})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx, obsSource) })
	g.Go(func() error { return actuator.Run(gctx) })

	if err := g.Wait(); err != nil {
		log.Error("rtc-client: session ended with error", "err", err)
		os.Exit(1)
	}
}
