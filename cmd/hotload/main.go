package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/hotload"
	"github.com/wippyai/hotload/engine"
	"github.com/wippyai/hotload/internal/guestgen"
	"github.com/wippyai/hotload/reload"
)

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to guest wasm artifact")
		interval    = flag.Duration("interval", 500*time.Millisecond, "Update cadence")
		userdata    = flag.Uint("userdata", 0, "Opaque value passed to every guest call")
		modeStr     = flag.String("mode", "safe", "State transfer mode: safe, unsafe, disable")
		tempDir     = flag.String("temp-dir", "", "Directory for staged generation copies (default: next to artifact)")
		demo        = flag.Bool("demo", false, "Run a built-in counter guest and rewrite it mid-run")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		verbose     = flag.Bool("v", false, "Verbose logging")
	)
	flag.Parse()

	if *wasmFile == "" && !*demo {
		fmt.Fprintln(os.Stderr, "Usage: hotload -wasm <guest.wasm> [-interval 500ms] [-mode safe|unsafe|disable]")
		fmt.Fprintln(os.Stderr, "       hotload -wasm <guest.wasm> -i  (interactive mode)")
		fmt.Fprintln(os.Stderr, "       hotload -demo [-i]  (self-contained demo)")
		os.Exit(1)
	}

	mode, err := parseMode(*modeStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := zap.NewNop()
	if *verbose {
		logger, err = zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		engine.SetLogger(logger)
	}

	if *demo && !*interactive {
		if err := runDemo(*interval, logger); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	opts := []reload.Option{
		reload.WithMode(mode),
		reload.WithUserdata(uint32(*userdata)),
		reload.WithLogger(logger),
	}
	if *tempDir != "" {
		opts = append(opts, reload.WithTempDir(*tempDir))
	}

	if *interactive {
		target := *wasmFile
		if *demo {
			dir, err := os.MkdirTemp("", "hotload-demo-")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer os.RemoveAll(dir)
			target = filepath.Join(dir, "guest.wasm")
			if err := os.WriteFile(target, guestgen.CounterGuest(0).Build(), 0o644); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}
		if err := runInteractive(target, *interval, opts, *demo); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*wasmFile, *interval, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseMode(s string) (hotload.Mode, error) {
	switch s {
	case "safe":
		return hotload.ModeSafe, nil
	case "unsafe":
		return hotload.ModeUnsafe, nil
	case "disable":
		return hotload.ModeDisable, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

func run(wasmFile string, interval time.Duration, opts []reload.Option) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := reload.Open(ctx, wasmFile, opts...)
	if err != nil {
		return err
	}
	defer p.Close(context.Background())

	fmt.Printf("Loaded %s (generation %d)\n", wasmFile, p.Version)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastVersion := p.Version
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nShutting down")
			return nil
		case <-ticker.C:
		}

		ret, err := p.Update(ctx)
		if err != nil {
			fmt.Printf("update failed: %v (version %d, failure %s)\n", err, p.Version, p.Failure)
			continue
		}
		if p.Version != lastVersion {
			fmt.Printf("reloaded: generation %d -> %d\n", lastVersion, p.Version)
			lastVersion = p.Version
		}
		if ret < 0 {
			fmt.Printf("guest requested stop (%d)\n", ret)
			return nil
		}
	}
}
