// Package cli implements the redis-event command line tool.
package cli

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/maplestoria/redis-event/capture"
	"github.com/maplestoria/redis-event/config"
	"github.com/maplestoria/redis-event/logger"
	"github.com/maplestoria/redis-event/replay"
	"github.com/maplestoria/redis-event/replica"
)

// Execute dispatches CLI subcommands
func Execute(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 1
	}

	switch args[0] {
	case "dump":
		return runDump(args[1:])
	case "replicate":
		return runReplicate(args[1:])
	case "replay":
		return runReplay(args[1:])
	case "help", "-h", "--help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n\n", args[0])
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `redis-event - consume a Redis replication stream as events

Usage:
  redis-event dump      -config <file>    print every event to stdout
  redis-event replicate -config <file>    apply events to the target Redis
  redis-event replay    -file <capture>   decode a captured stream offline`)
}

func loadConfig(name string, args []string) (*config.Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "redis-event.yaml", "path to the configuration file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return config.Load(*configPath)
}

func initLogger(cfg *config.Config) error {
	prefix := "redis-event"
	if host, port, err := net.SplitHostPort(cfg.Source.Addr); err == nil {
		prefix = fmt.Sprintf("redis-event_%s_%s", host, port)
	}
	return logger.Init(cfg.Log.Dir, logger.ParseLevel(cfg.Log.Level), prefix)
}

// runSession wires a session with optional capture, runs it until
// completion or a signal, and reports the final stats.
func runSession(cfg *config.Config, handler replica.Handler) int {
	if err := initLogger(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		return 1
	}
	defer logger.Close()
	logger.Printf("starting session: %s", cfg.Summary())

	replicator, err := replica.NewReplicator(cfg.ReplicaConfig(), handler)
	if err != nil {
		logger.Error("invalid session config: %v", err)
		return 1
	}

	var captureWriter *capture.Writer
	if cfg.Capture.Path != "" {
		codec, err := capture.ParseCodec(cfg.Capture.Codec)
		if err != nil {
			logger.Error("%v", err)
			return 1
		}
		captureWriter, err = capture.Create(cfg.Capture.Path, codec)
		if err != nil {
			logger.Error("%v", err)
			return 1
		}
		defer captureWriter.Close()
		replicator.SetCapture(captureWriter)
		logger.Printf("capturing stream to %s (%s)", cfg.Capture.Path, codec)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		logger.Printf("received %s, stopping", sig)
		replicator.Stop()
	}()

	err = replicator.Start()
	stats := replicator.Stats()
	logger.Printf("session ended: state=%s offset=%d snapshot_events=%d command_events=%d bytes=%d",
		replicator.State(), stats.Offset, stats.SnapshotEvents, stats.CommandEvents, stats.BytesRead)
	if err != nil {
		logger.Error("session failed: %v", err)
		return 1
	}
	return 0
}

func runDump(args []string) int {
	cfg, err := loadConfig("dump", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return runSession(cfg, replica.HandlerFunc(printEvent))
}

func runReplicate(args []string) int {
	cfg, err := loadConfig("replicate", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if cfg.Target.Addr == "" {
		fmt.Fprintln(os.Stderr, "replicate requires target.addr in the config")
		return 1
	}

	ctx := context.Background()
	replayer, err := replay.NewReplayer(ctx, replay.Options{
		Addr:     cfg.Target.Addr,
		Password: cfg.Target.Password,
		DB:       cfg.Target.DB,
		MaxOps:   cfg.Target.MaxOps,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer replayer.Close()

	code := runSession(cfg, replayer)
	stats := replayer.Stats()
	fmt.Printf("replayed: applied=%d skipped=%d failed=%d\n", stats.Applied, stats.Skipped, stats.Failed)
	return code
}

func runReplay(args []string) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	filePath := fs.String("file", "", "path to a capture file")
	discardRDB := fs.Bool("discard-rdb", false, "skip snapshot events")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "replay requires -file")
		return 1
	}

	reader, err := capture.Open(*filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer reader.Close()

	offset, err := replica.Playback(reader, *discardRDB, replica.HandlerFunc(printEvent))
	if err != nil {
		fmt.Fprintf(os.Stderr, "playback failed: %v\n", err)
		return 1
	}
	fmt.Printf("playback complete, stream bytes=%d\n", offset)
	return 0
}

// printEvent renders one event per line
func printEvent(e replica.Event) {
	switch ev := e.(type) {
	case *replica.SelectDBEvent:
		fmt.Printf("SELECT db=%d\n", ev.DB)
	case *replica.ResizeDBEvent:
		fmt.Printf("RESIZEDB size=%d expires=%d\n", ev.Size, ev.ExpiresSize)
	case *replica.AuxEvent:
		fmt.Printf("AUX %s=%s\n", ev.Key, ev.Value)
	case *replica.KeyValueEvent:
		fmt.Printf("KEY db=%d key=%q %s\n", ev.DB, ev.Key, describeValue(ev))
	case *replica.CommandEvent:
		fmt.Printf("CMD %s\n", ev.String())
	}
}

func describeValue(ev *replica.KeyValueEvent) string {
	var desc string
	switch v := ev.Value.(type) {
	case *replica.StringValue:
		desc = fmt.Sprintf("string len=%d", len(v.Value))
	case *replica.ListValue:
		desc = fmt.Sprintf("list len=%d", len(v.Elements))
	case *replica.SetValue:
		desc = fmt.Sprintf("set len=%d", len(v.Members))
	case *replica.ZSetValue:
		desc = fmt.Sprintf("zset len=%d", len(v.Members))
	case *replica.HashValue:
		desc = fmt.Sprintf("hash len=%d", len(v.Fields))
	case *replica.StreamValue:
		desc = fmt.Sprintf("stream entries=%d groups=%d last=%s", len(v.Entries), len(v.Groups), v.LastID)
	case *replica.ModuleValue:
		desc = fmt.Sprintf("module %s v%d len=%d", v.Name, v.Version, len(v.Raw))
	default:
		desc = "unknown"
	}
	if ms := ev.ExpireAtMillis(); ms > 0 {
		desc += fmt.Sprintf(" expire_at_ms=%d", ms)
	}
	if ev.Idle > 0 {
		desc += fmt.Sprintf(" idle=%d", ev.Idle)
	}
	if ev.Freq > 0 {
		desc += fmt.Sprintf(" freq=%d", ev.Freq)
	}
	return strings.TrimSpace(desc)
}
