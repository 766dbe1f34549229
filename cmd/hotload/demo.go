package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/hotload/internal/guestgen"
	"github.com/wippyai/hotload/reload"
)

// runDemo exercises the full reload cycle against a generated guest: a
// counter that survives a rebuild, then a broken rebuild that gets rolled
// back.
func runDemo(interval time.Duration, logger *zap.Logger) error {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "hotload-demo-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	artifact := filepath.Join(dir, "guest.wasm")
	if err := os.WriteFile(artifact, guestgen.CounterGuest(0).Build(), 0o644); err != nil {
		return err
	}

	p, err := reload.Open(ctx, artifact, reload.WithLogger(logger))
	if err != nil {
		return err
	}
	defer p.Close(ctx)

	fmt.Printf("demo guest at %s\n", artifact)
	fmt.Println("phase 1: counting")

	step := func() {
		ret, err := p.Update(ctx)
		if err != nil {
			fmt.Printf("  update: %v (rolled back to generation %d)\n", err, p.Version)
			return
		}
		fmt.Printf("  counter=%d generation=%d\n", ret, p.Version)
		time.Sleep(interval)
	}

	for i := 0; i < 3; i++ {
		step()
	}

	fmt.Println("phase 2: rebuild with a fresh seed; the carried counter wins")
	g := guestgen.CounterGuest(1000)
	g.Padding = 8
	if err := os.WriteFile(artifact, g.Build(), 0o644); err != nil {
		return err
	}
	for i := 0; i < 3; i++ {
		step()
	}

	fmt.Println("phase 3: rebuild with a guest that faults on step")
	bad := guestgen.CounterGuest(0)
	bad.Padding = 16
	bad.OnStep = guestgen.Op{Action: guestgen.TrapOOBLoad}
	if err := os.WriteFile(artifact, bad.Build(), 0o644); err != nil {
		return err
	}
	step()

	fmt.Println("phase 4: the previous generation keeps running")
	for i := 0; i < 3; i++ {
		step()
	}

	fmt.Printf("done: version=%d next=%d last_working=%d failure=%s\n",
		p.Version, p.NextVersion, p.LastWorkingVersion, p.Failure)
	return nil
}
