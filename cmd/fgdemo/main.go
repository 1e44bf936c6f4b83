// Command fgdemo drives a deferred lighting frame graph for a number of
// frames.
//
// Usage:
//
//	fgdemo [-config fgdemo.toml] [-backend software|native] [-frames N] [-debug-addr host:port]
//
// When a config file is given it is watched: log level, resolution and
// disabled outputs are applied on the next frame. With -debug-addr the
// graph, its outputs and frame timings are served over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/backend"
	_ "github.com/gogpu/framegraph/backend/software"
	"github.com/gogpu/framegraph/config"
	"github.com/gogpu/framegraph/debugserver"
	"github.com/gogpu/framegraph/gpucore"
	"github.com/gogpu/framegraph/staging"
)

const (
	framesInFlight = 2
	statsInterval  = 120
	closeTimeout   = 5 * time.Second
)

// loggerHooks receive the demo logger; backends built in with build tags
// append to it.
var loggerHooks []func(*slog.Logger)

func main() {
	var (
		configPath = flag.String("config", "", "options file (.toml, .yaml, .yml or .hcl)")
		backendArg = flag.String("backend", "", "device backend, overrides the options file")
		frames     = flag.Int("frames", -1, "frames to run, 0 until interrupted; overrides the options file")
		debugAddr  = flag.String("debug-addr", "", "debug server address, overrides the options file")
	)
	flag.Parse()

	opts, err := loadOptions(*configPath)
	if err != nil {
		log.Fatalf("fgdemo: %v", err)
	}
	if *backendArg != "" {
		opts.Backend = *backendArg
	}
	if *frames >= 0 {
		opts.Frames = *frames
	}
	if *debugAddr != "" {
		opts.DebugAddr = *debugAddr
	}
	if err := opts.Validate(); err != nil {
		log.Fatalf("fgdemo: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, opts, *configPath); err != nil {
		log.Fatalf("fgdemo: %v", err)
	}
}

func loadOptions(path string) (*config.Options, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func run(ctx context.Context, opts *config.Options, configPath string) error {
	level := new(slog.LevelVar)
	lvl, err := opts.Level()
	if err != nil {
		return err
	}
	level.Set(lvl)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	framegraph.SetLogger(logger)
	for _, hook := range loggerHooks {
		hook(logger)
	}

	device, err := backend.Open(opts.Backend)
	if err != nil {
		return err
	}
	logger.Info("fgdemo: backend selected", "backend", device.Name(), "available", backend.Available())

	d, err := newDemo(device, opts, level)
	if err != nil {
		closeDevice(device)
		return err
	}
	defer d.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return d.loop(ctx, opts.Frames)
	})
	if configPath != "" {
		g.Go(func() error { return config.Watch(ctx, configPath, d.reload) })
	}
	if opts.DebugAddr != "" {
		srv := debugserver.New(d.fg, &d.mu)
		g.Go(func() error { return srv.Run(ctx, opts.DebugAddr) })
	}
	return g.Wait()
}

// demo owns the frame graph and the per-frame state of the demo. mu guards
// the frame graph against the debug server and option reloads.
type demo struct {
	mu      sync.Mutex
	device  gpucore.Device
	fg      *framegraph.FrameGraph
	staging *staging.Buffer
	scene   framegraph.SubgraphID
	level   *slog.LevelVar
	width   uint32
	height  uint32
}

func newDemo(device gpucore.Device, opts *config.Options, level *slog.LevelVar) (*demo, error) {
	fg, err := framegraph.New(device, opts.FrameGraphOptions()...)
	if err != nil {
		return nil, err
	}
	sb, err := staging.New(device, opts.UploadStagingSize, staging.WithLabel("fgdemo uploads"))
	if err != nil {
		fg.Close()
		return nil, err
	}

	registry := framegraph.NewRegistry()
	registerNodes(registry)
	tmpl, err := deferredTemplate(registry)
	if err != nil {
		fg.Close()
		sb.Close()
		return nil, errors.Wrap(err, "deferred template")
	}

	d := &demo{
		device:  device,
		fg:      fg,
		staging: sb,
		scene:   fg.Instantiate(tmpl),
		level:   level,
		width:   opts.Width,
		height:  opts.Height,
	}
	d.applyOutputs(opts)
	return d, nil
}

// applyOutputs enables every output of the scene not listed in
// opts.DisabledOutputs. Callers hold mu or own d exclusively.
func (d *demo) applyOutputs(opts *config.Options) {
	outputs, err := d.fg.Outputs(d.scene)
	if err != nil {
		framegraph.Logger().Warn("fgdemo: outputs", "err", err)
		return
	}
	for _, o := range outputs {
		enabled := !opts.OutputDisabled(o.Name)
		if enabled != o.Enabled {
			d.fg.SetOutputState(d.scene, o.Name, enabled)
			framegraph.Logger().Info("fgdemo: output state", "output", o.Name, "enabled", enabled)
		}
	}
}

// reload applies options reloaded from the watched file.
func (d *demo) reload(opts *config.Options, err error) {
	if err != nil {
		return
	}
	if lvl, err := opts.Level(); err == nil {
		d.level.Set(lvl)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.width, d.height = opts.Width, opts.Height
	d.applyOutputs(opts)
}

func (d *demo) loop(ctx context.Context, frames int) error {
	start := hrtime.Now()
	var window time.Duration
	var n uint64
	for ; frames == 0 || n < uint64(frames); n++ {
		if ctx.Err() != nil {
			break
		}
		t0 := hrtime.Now()
		if err := d.frame(ctx, n); err != nil {
			return err
		}
		window += hrtime.Since(t0)
		if (n+1)%statsInterval == 0 {
			framegraph.Logger().Info("fgdemo: frame time",
				"frames", n+1, "avg", window/statsInterval, "pool", d.fg.PoolStats())
			window = 0
		}
	}
	framegraph.Logger().Info("fgdemo: done", "frames", n, "elapsed", hrtime.Since(start))
	return nil
}

// frame builds, executes and submits one frame.
func (d *demo) frame(ctx context.Context, n uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	submit := d.device.SubmitIndex()
	if submit > framesInFlight {
		if err := d.device.WaitSubmit(ctx, submit-framesInFlight, time.Second); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "wait for frame in flight")
		}
	}

	if err := framegraph.SetInput(d.fg, d.scene, "camera", orbitCamera(n, d.width, d.height)); err != nil {
		return err
	}
	if err := framegraph.SetInput(d.fg, d.scene, "light", sunLight()); err != nil {
		return err
	}

	d.staging.BeginFrame(submit)
	cmd, err := d.device.BeginCommandBuffer(fmt.Sprintf("frame %d", n))
	if err != nil {
		d.staging.EndFrame()
		return err
	}
	buildErr := d.fg.Build(framegraph.BuildArgs{Staging: d.staging})
	if errors.Is(buildErr, framegraph.ErrNotADAG) {
		d.staging.EndFrame()
		return buildErr
	}
	execErr := d.fg.Execute(framegraph.ExecuteArgs{Command: cmd})
	d.staging.EndFrame()

	if _, err := d.device.Submit(cmd); err != nil {
		return errors.Wrapf(err, "submit frame %d", n)
	}
	d.staging.NotifyFinishedFrames(d.device.LastFinishedSubmit())

	if buildErr != nil || execErr != nil {
		framegraph.Logger().Warn("fgdemo: frame had failing nodes", "frame", n, "build", buildErr, "execute", execErr)
	}
	return nil
}

func (d *demo) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last := d.device.SubmitIndex() - 1; last > 0 {
		if err := d.device.WaitSubmit(context.Background(), last, closeTimeout); err != nil {
			framegraph.Logger().Warn("fgdemo: device did not go idle", "err", err)
		}
	}
	d.fg.Close()
	d.staging.Close()
	closeDevice(d.device)
}

func closeDevice(device gpucore.Device) {
	if c, ok := device.(io.Closer); ok {
		if err := c.Close(); err != nil {
			framegraph.Logger().Warn("fgdemo: close device", "err", err)
		}
	}
}
