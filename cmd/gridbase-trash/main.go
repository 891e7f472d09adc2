// Package main implements gridbase-trash, a one-shot maintenance tool for
// the trash of a gridbase data directory.
//
// Usage:
//
//	gridbase-trash [global flags] mark
//	gridbase-trash [global flags] purge
//	gridbase-trash [global flags] structure -user N
//	gridbase-trash [global flags] contents -user N -workspace W [-application A]
//	gridbase-trash [global flags] empty -user N -workspace W [-application A]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gridbase/gridbase/internal/app"
	"github.com/gridbase/gridbase/internal/config"
	"github.com/gridbase/gridbase/internal/logging"
	"github.com/gridbase/gridbase/pkg/types"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gridbase-trash: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global := flag.NewFlagSet("gridbase-trash", flag.ContinueOnError)
	configFile := global.String("config", "", "Path to configuration file (YAML or JSON)")
	dataDir := global.String("data-dir", "", "Base directory for all data files")
	logLevel := global.String("log-level", "warn", "Log level: debug, info, warn, error")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		return fmt.Errorf("missing command: mark, purge, structure, contents or empty")
	}

	cfg := config.DefaultConfig()
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(*configFile); err != nil {
			return err
		}
	}
	config.LoadFromEnv(cfg)
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	logging.Init(os.Stderr, *logLevel)

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	if err := a.Open(ctx); err != nil {
		return err
	}
	defer a.Stop()

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "mark":
		n, err := a.Trash.MarkOldTrashForPermanentDeletion(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "marked %d entries for permanent deletion\n", n)
	case "purge":
		n, err := a.Trash.PermanentlyDeleteMarkedTrash(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "permanently deleted %d entries\n", n)
	case "structure":
		fs := flag.NewFlagSet("structure", flag.ContinueOnError)
		user := fs.Int64("user", 0, "User id")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		structure, err := a.Trash.GetTrashStructure(ctx, types.UserID(*user))
		if err != nil {
			return err
		}
		return writeJSON(out, structure)
	case "contents", "empty":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		user := fs.Int64("user", 0, "User id")
		workspaceID := fs.Int64("workspace", 0, "Workspace id")
		applicationID := fs.Int64("application", 0, "Application id, the whole workspace when omitted")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *workspaceID == 0 {
			return fmt.Errorf("%s: -workspace is required", cmd)
		}
		var appID *int64
		if *applicationID != 0 {
			appID = applicationID
		}
		if cmd == "contents" {
			entries, err := a.Trash.GetTrashContents(ctx, types.UserID(*user), *workspaceID, appID)
			if err != nil {
				return err
			}
			return writeJSON(out, entries)
		}
		n, err := a.Trash.Empty(ctx, types.UserID(*user), *workspaceID, appID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "marked %d entries for permanent deletion\n", n)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
