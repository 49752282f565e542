package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rtcore/rtc/netrtc/proto"
)

// defaultWorkerPoolSize is the fallback when Config.WorkerPoolSize is unset
// (spec §5).
const defaultWorkerPoolSize = 4

// Listen opens a TCP listener on addr and serves connections until ctx is
// canceled, generalizing the teacher's query listener (bound alongside the
// main Bedrock listener in server/query/network.go) from a UDP packet
// responder to a length-prefixed TCP frame server.
func (s *Server) Listen(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln, handling each on its own goroutine, until
// ctx is canceled or Accept fails. The number of GetActions pipelines
// running concurrently across all connections is bounded by a semaphore
// sized to Config.WorkerPoolSize, the Go-native shape of spec §5's "bounded
// worker pool (small, e.g., 4) servicing RPC calls".
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	poolSize := s.cfg.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = defaultWorkerPoolSize
	}
	sem := make(chan struct{}, poolSize)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		go s.handleConn(ctx, conn, sem)
	}
}

// handleConn services one client connection's handshake and steady-state
// streaming (spec §4.7): Ready and SendPolicyInstructions are handled
// inline, SendObservations arrive as a stream of MsgObservation frames, and
// each GetActions request acquires a worker-pool slot for the duration of
// one predict->postprocess pipeline.
func (s *Server) handleConn(ctx context.Context, conn net.Conn, sem chan struct{}) {
	defer conn.Close()
	log := s.cfg.Log

	for {
		typ, payload, err := proto.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Debug("server: connection closed", "err", err)
			}
			return
		}

		switch typ {
		case proto.MsgReady:
			s.Ready()
			if err := proto.WriteFrame(conn, proto.MsgAck, nil); err != nil {
				return
			}
		case proto.MsgPolicyConfig:
			rc, err := proto.DecodeRemotePolicyConfig(payload)
			if err != nil {
				log.Warn("server: decode policy instructions", "err", err)
				return
			}
			if err := s.SendPolicyInstructions(rc); err != nil {
				log.Error("server: send policy instructions", "err", err)
				return
			}
			if err := proto.WriteFrame(conn, proto.MsgAck, nil); err != nil {
				return
			}
		case proto.MsgObservation:
			obs, err := proto.DecodeTimedObservation(payload)
			if err != nil {
				log.Warn("server: decode observation", "err", err)
				continue
			}
			s.SendObservation(obs)
		case proto.MsgActionList:
			sem <- struct{}{}
			list, err := s.GetActions(ctx)
			<-sem
			if err != nil {
				log.Error("server: get actions", "err", err)
				return
			}
			if err := proto.WriteFrame(conn, proto.MsgActionList, proto.EncodeTimedActionList(list)); err != nil {
				return
			}
		default:
			log.Warn("server: unknown message type", "type", typ)
		}
	}
}
