//go:build linux

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/srodi/oncpu-bpf/pkg/cgroup"
	"github.com/srodi/oncpu-bpf/pkg/collector/sched"
	"github.com/srodi/oncpu-bpf/pkg/config"
	"github.com/srodi/oncpu-bpf/pkg/metrics"
	"github.com/srodi/oncpu-bpf/pkg/oncpu"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:   "oncpu",
		Short: "Per-task on-CPU time from scheduler context switches",
		Long: `oncpu attributes CPU time to every task by timing the slices between
context switches, without sampling. Results are printed every interval and
optionally exposed to Prometheus.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolveConfig(cmd.Flags(), cfgFile, cfg)
			if err != nil {
				return err
			}
			logger, err := newLogger(resolved.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, resolved, logger)
		},
	}

	bindFlags(cmd.Flags(), &cfgFile, &cfg)

	return cmd
}

func bindFlags(f *pflag.FlagSet, cfgFile *string, cfg *config.Config) {
	f.StringVar(cfgFile, "config", "", "YAML config file; flags override its values")
	f.DurationVar(&cfg.Interval, "interval", cfg.Interval, "reporting interval (e.g. 3s, 1m)")
	f.IntVar(&cfg.TopK, "topk", cfg.TopK, "number of tasks to display per window")
	f.BoolVar(&cfg.HideKernel, "hide-kernel", cfg.HideKernel, "hide kernel threads such as kworker, ksoftirqd, etc")
	f.StringVar(&cfg.CgroupFilter, "cgroup-filter", cfg.CgroupFilter, "only show tasks whose cgroup path contains this substring (case-insensitive)")
	f.StringVar(&cfg.Output, "output", cfg.Output, "output format: table or json")
	f.BoolVar(&cfg.ResetEachInterval, "reset", cfg.ResetEachInterval, "clear the on-CPU table after each report")
	f.IntVar(&cfg.Capacity, "capacity", cfg.Capacity, "maximum number of tasks tracked")
	f.StringVar(&cfg.OverflowPolicy, "overflow-policy", cfg.OverflowPolicy, "what to do with new tasks once full: reject or evict")
	f.BoolVar(&cfg.TrackExits, "track-exits", cfg.TrackExits, "forget tasks when they exit")
	f.StringVar(&cfg.ObjectPath, "object", cfg.ObjectPath, "compiled eBPF object")
	f.Uint32Var(&cfg.RingBufferSize, "ring-buffer-size", cfg.RingBufferSize, "ring buffer size in bytes (power of two)")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "event handling goroutines (0 = one per CPU)")
	f.StringVar(&cfg.CgroupRoot, "cgroup-root", cfg.CgroupRoot, "cgroup v2 mount point")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address (empty disables)")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
}

// resolveConfig layers explicitly set flags over the config file.
func resolveConfig(fs *pflag.FlagSet, path string, flags config.Config) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("interval", func() { cfg.Interval = flags.Interval })
	set("topk", func() { cfg.TopK = flags.TopK })
	set("hide-kernel", func() { cfg.HideKernel = flags.HideKernel })
	set("cgroup-filter", func() { cfg.CgroupFilter = flags.CgroupFilter })
	set("output", func() { cfg.Output = flags.Output })
	set("reset", func() { cfg.ResetEachInterval = flags.ResetEachInterval })
	set("capacity", func() { cfg.Capacity = flags.Capacity })
	set("overflow-policy", func() { cfg.OverflowPolicy = flags.OverflowPolicy })
	set("track-exits", func() { cfg.TrackExits = flags.TrackExits })
	set("object", func() { cfg.ObjectPath = flags.ObjectPath })
	set("ring-buffer-size", func() { cfg.RingBufferSize = flags.RingBufferSize })
	set("workers", func() { cfg.Workers = flags.Workers })
	set("cgroup-root", func() { cfg.CgroupRoot = flags.CgroupRoot })
	set("metrics-addr", func() { cfg.MetricsAddr = flags.MetricsAddr })
	set("log-level", func() { cfg.LogLevel = flags.LogLevel })

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	logConfig := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		logConfig = zap.NewDevelopmentConfig()
	}
	logConfig.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := logConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	tableOpts, err := cfg.TableOptions()
	if err != nil {
		return err
	}
	registry, err := oncpu.NewRegistry(tableOpts)
	if err != nil {
		return fmt.Errorf("creating task registry: %w", err)
	}
	accumulator, err := oncpu.NewAccumulator(tableOpts)
	if err != nil {
		return fmt.Errorf("creating on-CPU accumulator: %w", err)
	}

	promReg := prometheus.NewRegistry()
	handler := oncpu.NewHandler(registry, accumulator, oncpu.WithDiagnostics(metrics.NewDiagnostics(promReg)))
	resolver := cgroup.NewResolver(cfg.CgroupRoot)
	promReg.MustRegister(metrics.NewTableCollector(handler, resolver))

	collector, err := sched.NewCollector(sched.Options{
		ObjectPath:     cfg.ObjectPath,
		RingBufferSize: cfg.RingBufferSize,
		TrackExits:     cfg.TrackExits,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing scheduler collector: %w", err)
	}
	defer collector.Close()

	workers := cfg.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	dispatcher := sched.NewDispatcher(handler, workers, sched.DefaultQueueDepth)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		if err := collector.Run(ctx, dispatcher); err != nil {
			logger.Error("event collection stopped", zap.Error(err))
		}
	}()

	if cfg.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, cfg.MetricsAddr, promReg, logger); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	logger.Info("accounting on-CPU time",
		zap.Int("capacity", cfg.Capacity),
		zap.String("overflow_policy", cfg.OverflowPolicy),
		zap.Int("workers", workers),
		zap.Duration("interval", cfg.Interval))

	rep := newReporter(cfg, handler, resolver, time.Now())
	if cfg.Output == config.OutputTable {
		cleanupTerminal := enableSingleView(logger)
		defer cleanupTerminal()
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case now := <-ticker.C:
			if err := rep.emit(os.Stdout, now); err != nil {
				logger.Warn("report failed", zap.Error(err))
			}
		}
	}

	wg.Wait()
	dispatcher.Stop()
	if err := rep.close(); err != nil {
		logger.Warn("closing report failed", zap.Error(err))
	}
	return nil
}
