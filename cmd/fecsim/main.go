package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/rtpfec"
)

func main() {
	app := &cli.App{
		Name:  "fecsim",
		Usage: "Send a synthetic video stream with FEC over a lossy link and check what the receiver delivers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "TOML scenario file, flags override its values",
			},
			&cli.IntFlag{
				Name:  "frames",
				Usage: "number of frames to send",
				Value: defaultConfig().Frames,
			},
			&cli.IntFlag{
				Name:  "frame-size",
				Usage: "bytes per frame",
				Value: defaultConfig().FrameSize,
			},
			&cli.IntFlag{
				Name:  "shard-size",
				Usage: "payload bytes per packet",
				Value: defaultConfig().ShardSize,
			},
			&cli.IntFlag{
				Name:  "fec-percentage",
				Usage: "parity shards as a percentage of data shards",
				Value: defaultConfig().FECPercentage,
			},
			&cli.StringFlag{
				Name:  "scheme",
				Usage: "erasure code, rs or xor",
				Value: defaultConfig().Scheme,
			},
			&cli.Float64Flag{
				Name:  "loss",
				Usage: "long run packet loss probability",
				Value: defaultConfig().Loss,
			},
			&cli.Float64Flag{
				Name:  "burst",
				Usage: "mean loss burst length in packets",
				Value: defaultConfig().Burst,
			},
			&cli.Float64Flag{
				Name:  "reorder",
				Usage: "probability a packet is delivered after its successor",
			},
			&cli.Float64Flag{
				Name:  "duplicate",
				Usage: "probability a packet is delivered twice",
			},
			&cli.Int64Flag{
				Name:  "seed",
				Value: defaultConfig().Seed,
			},
			&cli.UintFlag{
				Name:  "ring-size",
				Usage: "capacity of the transport hand-off ring",
				Value: uint(defaultConfig().RingSize),
			},
			&cli.IntFlag{
				Name:  "max-buffer-size",
				Usage: "receiver reorder buffer capacity in packets",
				Value: defaultConfig().MaxBufferSize,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: defaultConfig().LogLevel,
			},
		},
		Action:  run,
		Version: rtpfec.Version,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	logger.InitFromConfig(&logger.Config{Level: conf.LogLevel}, "fecsim")
	lgr := logger.GetLogger()
	rtpfec.SetLogger(lgr)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rep, err := simulate(ctx, conf, lgr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return err
	}

	printReport(os.Stdout, conf, rep)
	if rep.Mismatches > 0 || rep.OutOfOrder > 0 {
		return cli.Exit(fmt.Sprintf("%d corrupted and %d out of order packets delivered", rep.Mismatches, rep.OutOfOrder), 1)
	}
	return nil
}

func printReport(w io.Writer, conf *Config, rep *report) {
	stats := rep.Receiver
	pct := func(n, d int) float64 {
		if d == 0 {
			return 0
		}
		return 100 * float64(n) / float64(d)
	}

	fmt.Fprintf(w, "scheme %s, %d%% fec, loss %.2f%% (burst %.1f), reorder %.2f%%, duplicate %.2f%%\n",
		conf.Scheme, conf.FECPercentage, 100*conf.Loss, conf.Burst, 100*conf.Reorder, 100*conf.Duplicate)
	fmt.Fprintf(w, "link:      sent %d, dropped %d, reordered %d, duplicated %d\n",
		rep.Link.Sent, rep.Link.Dropped, rep.Link.Reordered, rep.Link.Duplicated)
	fmt.Fprintf(w, "frames:    sent %d, delivered %d (%.2f%%), recovered %d, lost %d\n",
		rep.FramesSent, rep.FramesDelivered, pct(rep.FramesDelivered, rep.FramesSent),
		stats.FramesRecovered, stats.FramesLost)
	fmt.Fprintf(w, "packets:   data %d, fec %d, delivered %d, recovered %d\n",
		rep.DataPacketsSent, rep.FECPacketsSent, rep.PacketsDelivered, rep.PacketsRecovered)
	fmt.Fprintf(w, "rejected:  %d (stale %d, duplicate %d, out of window %d, malformed %d)\n",
		stats.PacketsRejected, stats.PacketsStale, stats.PacketsDuplicate, stats.PacketsOutOfWindow, stats.PacketsMalformed)
	fmt.Fprintf(w, "discarded: %d, evicted %d\n", stats.PacketsDiscarded, stats.PacketsEvicted)
	fmt.Fprintf(w, "verified:  %d corrupted, %d out of order, in %v\n", rep.Mismatches, rep.OutOfOrder, rep.Elapsed)
}
