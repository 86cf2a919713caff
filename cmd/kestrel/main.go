// Command kestrel boots the kernel on a simulated board: it assembles the
// chip (CPU, MPU, interrupt lines, flash and RAM arrays), stamps the kernel
// metadata block into flash, loads the application image, registers the
// reference capsules, and runs the kernel loop with the inspection API on
// the side.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kestrel-os/kestrel/internal/api"
	"github.com/kestrel-os/kestrel/internal/attrs"
	"github.com/kestrel-os/kestrel/internal/capsule"
	"github.com/kestrel-os/kestrel/internal/infrastructure/config"
	"github.com/kestrel-os/kestrel/internal/infrastructure/logging"
	"github.com/kestrel-os/kestrel/internal/infrastructure/monitoring"
	"github.com/kestrel-os/kestrel/internal/kernel"
	"github.com/kestrel-os/kestrel/internal/loader"
	"github.com/kestrel-os/kestrel/internal/platform"
	"github.com/kestrel-os/kestrel/internal/platform/sim"
	"github.com/kestrel-os/kestrel/internal/snapshot"
)

// irqTimer is the interrupt line the simulated tick source latches.
const irqTimer = 0

func main() {
	boardPath := flag.String("board", "", "board description TOML (empty for the reference board)")
	imagePath := flag.String("image", "", "application flash image (empty for the built-in demo apps)")
	flag.Parse()

	cfg := config.LoadOrDefault()
	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		log = logging.NewDefault()
		log.Warn("logger config rejected, using defaults", zap.Error(err))
	}
	defer log.Sync()

	path := *boardPath
	if path == "" {
		path = cfg.Board.Path
	}
	board, err := config.LoadBoard(path)
	if err != nil {
		log.Fatal("board load failed", zap.Error(err))
	}

	// Flash covers kernel and application regions in one array.
	flashEnd := board.Flash.AppBase + board.Flash.AppSize
	flash := sim.NewMem(board.Flash.KernelBase, flashEnd-board.Flash.KernelBase)
	ram := sim.NewMem(board.RAM.AppBase, board.RAM.AppSize)
	mpuHW := sim.NewMPU(8, 32)
	intc := sim.NewController()
	cpu := sim.NewCPU(intc)
	clock := sim.NewClock(0)

	// The metadata block sits at the very end of kernel flash, sentinel
	// last, where tooling expects to find it.
	meta := attrs.Encode(attrs.Attrs{
		KernelFlash: platform.Extent{Base: board.Flash.KernelBase, Size: board.Flash.KernelSize},
		AppRAM:      platform.Extent{Base: board.RAM.AppBase, Size: board.RAM.AppSize},
		Version:     attrs.Version,
	})
	metaBase := board.Flash.KernelBase + board.Flash.KernelSize - uint32(len(meta))
	if err := flash.Write(metaBase, meta); err != nil {
		log.Fatal("metadata block write failed", zap.Error(err))
	}

	appFlash := platform.Extent{Base: board.Flash.AppBase, Size: board.Flash.AppSize}
	if err := installApps(flash, appFlash, cpu, *imagePath, log); err != nil {
		log.Fatal("application image install failed", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	metrics := monitoring.New(registry)
	snaps := snapshot.NewWriter(cfg.Snapshot.Dir, uuid.Nil, cfg.Snapshot.Enabled)

	k := kernel.New(board, kernel.Hardware{
		CPU:        cpu,
		MPU:        mpuHW,
		Interrupts: intc,
		Flash:      flash,
		RAM:        ram,
	}, snaps, log, metrics)
	snaps.SetBootID(k.BootID)

	console := capsule.NewConsole(k, os.Stdout, log.Named("console"))
	alarm := capsule.NewAlarm(k, clock)
	must(k.Registry().Register(capsule.DriverAlarm, alarm), log)
	must(k.Registry().Register(capsule.DriverConsole, console), log)
	must(k.Registry().Register(capsule.DriverDebug, capsule.NewDebug(k, log.Named("debug"))), log)
	must(k.Registry().BindInterrupt(irqTimer, capsule.DriverAlarm), log)

	if err := k.Boot(); err != nil {
		log.Fatal("boot failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tick source: advance the clock and latch the timer line so pending
	// alarms are checked between activations.
	go func() {
		t := time.NewTicker(10 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				clock.Advance(1)
				intc.Raise(irqTimer)
			}
		}
	}()

	var srv *api.Server
	if cfg.Server.Enabled {
		srv = api.NewServer(cfg.Server, k, console, registry, log.Named("api"))
		go func() {
			if err := srv.Run(); err != nil {
				log.Error("inspection API failed", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- k.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Error("kernel loop failed", zap.Error(err))
		}
	}

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("inspection API shutdown failed", zap.Error(err))
		}
	}
}

// installApps writes the application image into flash and attaches a
// scripted program to every image found there. Images supplied from disk
// get the generic event-loop script; without an image the built-in demo
// set is used.
func installApps(flash *sim.Mem, appFlash platform.Extent, cpu *sim.CPU, imagePath string, log *zap.Logger) error {
	if imagePath == "" {
		return installDemo(flash, appFlash, cpu)
	}

	raw, err := os.ReadFile(imagePath)
	if err != nil {
		return err
	}
	if uint32(len(raw)) > appFlash.Size {
		log.Warn("image larger than app flash, truncating",
			zap.Int("image", len(raw)), zap.Uint32("flash", appFlash.Size))
		raw = raw[:appFlash.Size]
	}
	if err := flash.Write(appFlash.Base, raw); err != nil {
		return err
	}

	bins, err := loader.Discover(flash, appFlash)
	if err != nil {
		log.Warn("flash walk ended early", zap.Error(err))
	}
	for _, bin := range bins {
		cpu.Install(bin.Flash, bin.Entry(), eventLoopProgram())
	}
	return nil
}

func must(err error, log *zap.Logger) {
	if err != nil {
		log.Fatal("capsule registration failed", zap.Error(err))
	}
}
