package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Wyydra/medsignal/internal/adapter/driven/media/pion"
	"github.com/Wyydra/medsignal/internal/adapter/driven/signaling/wsclient"
	"github.com/Wyydra/medsignal/internal/config"
	"github.com/Wyydra/medsignal/internal/core/domain"
	"github.com/Wyydra/medsignal/internal/core/port"
	"github.com/Wyydra/medsignal/internal/core/service"
	"github.com/Wyydra/medsignal/internal/logger"
)

func main() {
	root := &cobra.Command{
		Use:           "medsignal-peer",
		Short:         "Headless participant for a medsignal consultation room",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newJoinCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
}

type joinFlags struct {
	config   string
	server   string
	ice      []string
	audio    bool
	video    bool
	noRejoin bool
	logLevel string
}

func newJoinCmd() *cobra.Command {
	var f joinFlags
	cmd := &cobra.Command{
		Use:   "join <room>",
		Short: "Join a room and negotiate with the other participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room, err := domain.ParseRoomID(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.Load(f.config)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("server") {
				cfg.Peer.SignalingURL = f.server
			}
			if flags.Changed("ice") {
				cfg.Peer.ICEServers = f.ice
			}
			if flags.Changed("no-rejoin") {
				cfg.Peer.AutoRejoin = !f.noRejoin
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = f.logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return join(room, cfg, pion.SampleSource{Audio: f.audio, Video: f.video, Silence: f.audio})
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.config, "config", "c", os.Getenv("MEDSIGNAL_CONFIG"), "path to a YAML config file")
	fl.StringVar(&f.server, "server", "", "signaling websocket url")
	fl.StringSliceVar(&f.ice, "ice", nil, "STUN/TURN urls")
	fl.BoolVar(&f.audio, "audio", true, "send an audio track")
	fl.BoolVar(&f.video, "video", true, "send a video track")
	fl.BoolVar(&f.noRejoin, "no-rejoin", false, "stay failed instead of rejoining")
	fl.StringVar(&f.logLevel, "log-level", "", "trace, debug, info, warn or error")
	return cmd
}

func join(room domain.RoomID, cfg config.Config, source port.MediaSource) error {
	l, err := logger.New(cfg.Log.Level, logger.FormatConsole, os.Stderr)
	if err != nil {
		return err
	}
	logger.Install(l)

	engine, err := pion.NewEngine(cfg.Peer.ICEServers)
	if err != nil {
		return err
	}
	transport := wsclient.New(wsclient.Options{
		URL:        cfg.Peer.SignalingURL,
		BackoffMin: cfg.Peer.ReconnectMin,
		BackoffMax: cfg.Peer.ReconnectMax,
	})
	coordinator, err := service.NewCoordinator(service.CoordinatorConfig{
		RoomID:             room,
		NegotiationTimeout: cfg.Peer.NegotiationTimeout,
		AutoRejoin:         cfg.Peer.AutoRejoin,
	}, transport, engine, source)
	if err != nil {
		return err
	}

	fmt.Println(banner(room, cfg.Peer.SignalingURL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		<-sig
		fmt.Println(mutedStyle.Render("leaving..."))
		coordinator.Leave()
		<-sig
		cancel()
	}()

	var received atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range coordinator.Events() {
			fmt.Println(render(ev))
			if ev.Kind == domain.SessionRemoteTrack {
				go consume(coordinator, ev.Track.ID, &received)
			}
		}
	}()

	err = coordinator.Run(ctx)
	<-done
	fmt.Println(mutedStyle.Render(fmt.Sprintf("received %d bytes of media", received.Load())))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// consume reads a remote track until it ends so its buffers keep moving.
func consume(c *service.Coordinator, id string, total *atomic.Int64) {
	for _, r := range c.RemoteTracks() {
		if r.Info().ID != id {
			continue
		}
		buf := make([]byte, 1500)
		for {
			n, err := r.Read(buf)
			if err != nil {
				return
			}
			total.Add(int64(n))
		}
	}
}
