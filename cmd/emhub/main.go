// Command emhub operates the facility data store from the command line:
// bootstrapping, session name minting, and evaluation of registered content
// functions. Storage, blob and log locations come from the environment
// (EMHUB_STORAGE_DRIVER, EMHUB_BLOB_DRIVER, EMHUB_LOGS_PATH and friends).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"emhub/internal/blob"
	"emhub/internal/core"
	"emhub/internal/infra/oplog"
	"emhub/internal/sessions"
)

func main() {
	var (
		bootstrap   = flag.Bool("bootstrap", false, "create the admin account when the store is empty")
		adminPass   = flag.String("admin-password", "", "initial admin password for -bootstrap (defaults to the admin username)")
		contentName = flag.String("content", "", "evaluate the named content function and print JSON")
		contentArgs = flag.String("args", "{}", "JSON keyword arguments for -content")
		nextSession = flag.String("next-session", "", "mint the next session name for a three-letter code")
		showNames   = flag.Bool("contents", false, "list the registered content names")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *bootstrap, *showNames, *adminPass, *contentName, *contentArgs, *nextSession); err != nil {
		fmt.Fprintln(os.Stderr, "emhub:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, bootstrap, showNames bool, adminPass, contentName, contentArgs, nextSession string) error {
	store, err := core.OpenPersistentStore(ctx, core.NewRulesEngine())
	if err != nil {
		return err
	}
	defer store.Close()

	logsPath := os.Getenv("EMHUB_LOGS_PATH")
	if logsPath == "" {
		logsPath = oplog.DefaultLogsFile
	}
	logs, err := oplog.Open(logsPath)
	if err != nil {
		return err
	}
	defer logs.Close()

	blobs, err := blob.Open(ctx)
	if err != nil {
		return err
	}

	svc := core.NewService(store,
		core.WithOperationLog(logs),
		core.WithMetrics(core.NewExpvarMetricsRecorder("")),
		core.WithSessionContainers(sessions.NewManager(blobs)),
	)

	registry := core.NewContentRegistry()
	if err := core.RegisterDefaultContent(registry, svc); err != nil {
		return err
	}

	if bootstrap {
		if err := svc.Bootstrap(ctx, adminPass); err != nil {
			return err
		}
		fmt.Println("store bootstrapped")
	}
	if showNames {
		for _, name := range registry.Names() {
			fmt.Println(name)
		}
	}
	if nextSession != "" {
		name, err := svc.NextSessionName(ctx, nextSession)
		if err != nil {
			return err
		}
		fmt.Println(name)
	}
	if contentName != "" {
		kwargs := map[string]any{}
		if err := json.Unmarshal([]byte(contentArgs), &kwargs); err != nil {
			return fmt.Errorf("parse -args: %w", err)
		}
		out, err := registry.Get(ctx, contentName, kwargs)
		if err != nil {
			return err
		}
		payload, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(payload))
	}
	return nil
}
