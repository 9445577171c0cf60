package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taskgrid/internal/coll"
	"taskgrid/internal/comm"
	"taskgrid/internal/config"
	"taskgrid/internal/geom"
	"taskgrid/internal/inspect"
	"taskgrid/internal/runtime"
	"taskgrid/internal/trace"
	"taskgrid/internal/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskgrid",
		Short: "Deferred task runtime with communicator lifecycle management",
		Long: `taskgrid runs parallel task launches over executor pools and manages the
lifecycle of the collective communicator groups those launches use.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newInfoCmd())
	return root
}

type runFlags struct {
	configPath   string
	cpuExecutors int
	gpuExecutors int
	traceDB      string
	inspectAddr  string
	volumes      string
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the communicator demo workload",
		Long: `Run creates a communicator, requests handles for each listed participant
volume (the linear handle and a two-dimensional reshape of it), probes
every rank through a task launch, destroys the communicator, and prints a
summary. With --inspect-addr it also serves the inspection API and keeps
serving after the demo until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.configPath, "config", "", "path to a YAML config file")
	cmd.Flags().IntVar(&flags.cpuExecutors, "cpu-executors", 0, "CPU executor slots (overrides config)")
	cmd.Flags().IntVar(&flags.gpuExecutors, "gpu-executors", -1, "GPU executor slots (overrides config)")
	cmd.Flags().StringVar(&flags.traceDB, "trace-db", "", "trace database path (overrides config)")
	cmd.Flags().StringVar(&flags.inspectAddr, "inspect-addr", "", "inspection server listen address (overrides config)")
	cmd.Flags().StringVar(&flags.volumes, "volumes", "4,8", "comma-separated communicator volumes for the demo")
	return cmd
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print version, build, and configuration information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Get()
			cfg := config.Load()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "taskgrid %s\n", info.Version)
			fmt.Fprintf(out, "  commit: %s\n", info.Commit)
			fmt.Fprintf(out, "  built:  %s\n", info.Date)
			fmt.Fprintf(out, "  go:     %s\n", info.GoVersion)
			fmt.Fprintf(out, "config:\n")
			fmt.Fprintf(out, "  cpu executors: %d\n", cfg.CPUExecutors)
			fmt.Fprintf(out, "  gpu executors: %d\n", cfg.GPUExecutors)
			fmt.Fprintf(out, "  log level:     %s\n", cfg.LogLevel)
			fmt.Fprintf(out, "  trace db:      %s\n", orMemory(cfg.TraceDB))
			fmt.Fprintf(out, "  inspect addr:  %s\n", orDisabled(cfg.InspectAddr))
			return nil
		},
	}
}

func orMemory(s string) string {
	if s == "" {
		return "(in-memory)"
	}
	return s
}

func orDisabled(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}

func resolveConfig(flags runFlags) (config.Config, error) {
	var cfg config.Config
	if flags.configPath != "" {
		var err error
		cfg, err = config.LoadFile(flags.configPath)
		if err != nil {
			return config.Config{}, err
		}
	} else {
		cfg = config.Load()
	}

	if flags.cpuExecutors > 0 {
		cfg.CPUExecutors = flags.cpuExecutors
	}
	if flags.gpuExecutors >= 0 {
		cfg.GPUExecutors = flags.gpuExecutors
	}
	if flags.traceDB != "" {
		cfg.TraceDB = flags.traceDB
	}
	if flags.inspectAddr != "" {
		cfg.InspectAddr = flags.inspectAddr
	}
	return cfg, nil
}

// parseVolumes parses the --volumes flag, a comma-separated list of
// participant volumes.
func parseVolumes(s string) ([]int, error) {
	var volumes []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("invalid volume %q", part)
		}
		volumes = append(volumes, v)
	}
	if len(volumes) == 0 {
		return nil, fmt.Errorf("at least one volume is required")
	}
	return volumes, nil
}

// demoDomain returns a two-dimensional domain with the given volume, as
// square as the volume's factors allow.
func demoDomain(volume int) geom.Rect {
	d := 1
	for f := 2; f*f <= volume; f++ {
		if volume%f == 0 {
			d = f
		}
	}
	return geom.NewRect(d, volume/d)
}

func runDemo(ctx context.Context, flags runFlags) error {
	cfg, err := resolveConfig(flags)
	if err != nil {
		return err
	}
	volumes, err := parseVolumes(flags.volumes)
	if err != nil {
		return err
	}

	logger := config.NewLogger(os.Stderr, cfg.LogLevel)
	logger.Info("taskgrid starting",
		"version", version.Get().Version,
		"cpu_executors", cfg.CPUExecutors,
		"gpu_executors", cfg.GPUExecutors,
		"trace_db", orMemory(cfg.TraceDB),
		"inspect_addr", orDisabled(cfg.InspectAddr),
	)

	tracePath := cfg.TraceDB
	if tracePath == "" {
		tracePath = ":memory:"
	}
	rec, err := trace.NewSQLite(tracePath)
	if err != nil {
		return fmt.Errorf("open trace: %w", err)
	}
	defer rec.Close()

	rt, err := runtime.New(runtime.Config{
		CPUExecutors: cfg.CPUExecutors,
		GPUExecutors: cfg.GPUExecutors,
	}, rec, logger)
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}

	backend, err := comm.DefaultBackend(rt, logger)
	if err != nil {
		return fmt.Errorf("create backend: %w", err)
	}
	if err := comm.RegisterProbe(rt); err != nil {
		return err
	}
	communicator, err := comm.New(rt, backend, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srvDone chan error
	if cfg.InspectAddr != "" {
		var registries []*coll.Registry
		if rb, ok := backend.(interface{ Registry() *coll.Registry }); ok {
			registries = append(registries, rb.Registry())
		}
		srv := inspect.NewServer(cfg.InspectAddr, rt, rec, registries, logger)
		srvDone = make(chan error, 1)
		go func() { srvDone <- srv.Run(ctx) }()
	}

	runErr := demo(ctx, rt, communicator, volumes, logger)
	if runErr == nil {
		printSummary(os.Stdout, rt, backend.Name())
		if srvDone != nil {
			logger.Info("demo complete, inspection server running", "addr", cfg.InspectAddr)
			if err := <-srvDone; err != nil {
				runErr = err
			}
		}
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := rt.Shutdown(shutCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown runtime: %w", err)
	}
	return runErr
}

// demo exercises the communicator lifecycle once per requested volume: the
// linear handle, a two-dimensional reshape of the same volume, and a probe
// launch over the reshaped domain.
func demo(ctx context.Context, rt *runtime.Runtime, c *comm.Communicator, volumes []int, logger *slog.Logger) error {
	variant := runtime.VariantCPU
	if rt.HasVariant(runtime.VariantGPU) {
		variant = runtime.VariantGPU
	}

	for _, volume := range volumes {
		if _, err := c.Handle(geom.NewRect(volume)); err != nil {
			return fmt.Errorf("handle for volume %d: %w", volume, err)
		}

		domain := demoDomain(volume)
		handle, err := c.Handle(domain)
		if err != nil {
			return fmt.Errorf("handle for domain %s: %w", domain, err)
		}

		probe := rt.NewTask(comm.TaskProbe, variant)
		probe.AddFutureMap(handle)
		reports, err := probe.Execute(domain)
		if err != nil {
			return fmt.Errorf("launch probe over %s: %w", domain, err)
		}
		if err := rt.Wait(ctx); err != nil {
			return err
		}

		for i := 0; i < reports.Volume(); i++ {
			v, err := reports.At(i).Wait(ctx)
			if err != nil {
				return fmt.Errorf("probe point %d of volume %d: %w", i, volume, err)
			}
			r, ok := v.(comm.ProbeReport)
			if !ok {
				return fmt.Errorf("probe point %d resolved to %T", i, v)
			}
			logger.Debug("probe report",
				"volume", volume, "group", r.Group, "rank", r.Rank, "ready", r.Ready)
		}
		logger.Info("demo volume complete", "volume", volume, "domain", domain.String())
	}

	if err := c.Destroy(); err != nil {
		return fmt.Errorf("destroy communicator: %w", err)
	}
	return rt.Wait(ctx)
}

func printSummary(w io.Writer, rt *runtime.Runtime, backendName string) {
	stats := rt.Stats()
	fmt.Fprintf(w, "backend:          %s\n", backendName)
	fmt.Fprintf(w, "launches:         %d\n", stats.Launches)
	fmt.Fprintf(w, "points:           %d\n", stats.Points)
	fmt.Fprintf(w, "fences:           %d\n", stats.Fences)
	fmt.Fprintf(w, "delinearizations: %d\n", stats.Delinearizations)
	fmt.Fprintf(w, "memo hits:        %d\n", stats.MemoHits)
	fmt.Fprintf(w, "failures:         %d\n", stats.Failures)
}
