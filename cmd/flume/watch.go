package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/flumehq/flume/internal/config"
	"github.com/flumehq/flume/internal/graphfile"
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Watch a spool directory and execute graph files as they arrive",
	Long: `Watch a directory for task graph YAML files and execute each one as
it appears. Existing files are executed first, then the directory is
watched for new or rewritten files until interrupted.

A file that fails to parse is reported and left in place; fix it and
save again to retry.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dir := args[0]
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create spool directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, shutting down...")
		cancel()
	}()

	// Drain anything already spooled before watching.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read spool directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isGraphFile(entry.Name()) {
			continue
		}
		executeSpooled(ctx, cfg, filepath.Join(dir, entry.Name()))
		if ctx.Err() != nil {
			return nil
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	fmt.Printf("Watching %s for graph files. Press Ctrl-C to stop.\n", dir)

	// Editors fire several events per save; debounce per path.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isGraphFile(filepath.Base(event.Name)) {
				continue
			}
			pending[event.Name] = time.Now()
		case <-watcher.Errors:
			// Keep watching.
		case <-ticker.C:
			for path, seen := range pending {
				if time.Since(seen) < 300*time.Millisecond {
					continue
				}
				delete(pending, path)
				executeSpooled(ctx, cfg, path)
			}
		}
	}
}

// executeSpooled runs one graph file, reporting failures without
// stopping the watch loop.
func executeSpooled(ctx context.Context, cfg *config.Config, path string) {
	fmt.Printf("\n%s %s\n", color.CyanString("Executing:"), path)

	file, err := graphfile.Load(path)
	if err != nil {
		fmt.Printf("%s %v\n", color.RedString("✗"), err)
		return
	}
	if err := executeGraph(ctx, cfg, file); err != nil {
		fmt.Printf("%s %s: %v\n", color.RedString("✗"), path, err)
	}
}

func isGraphFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
