// ABOUTME: Management commands - validate JavaScript sources, list the
// ABOUTME: registry, and export/import collections.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/fatih/color"

	"github.com/kristerhedfors/toolgate/internal/registry"
	"github.com/kristerhedfors/toolgate/internal/share"
	"github.com/kristerhedfors/toolgate/internal/store"
	"github.com/kristerhedfors/toolgate/internal/synth"
)

func runValidate(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: toolgate validate FILE")
	}
	source, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	candidates, err := synth.SynthesizeBatch(string(source))
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	for _, c := range candidates {
		if c.Callable {
			green.Printf("✓ %s", c.Name)
		} else {
			gray.Printf("- %s (auxiliary)", c.Name)
		}
		fmt.Println()
		if c.Callable {
			fmt.Printf("  %s\n", c.Descriptor.Function.Description)
			for _, p := range c.Params {
				marker := "optional"
				if p.Required {
					marker = "required"
				}
				gray.Printf("  %s (%s)\n", p.Name, marker)
			}
		}
	}
	return nil
}

// openRegistry hydrates a registry from the configured database for the
// offline management commands.
func openRegistry(ctx context.Context) (*registry.Registry, *store.SQLiteStore, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	reg := registry.New(discardLogger(), db)
	if err := reg.Hydrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("loading registry: %w", err)
	}
	return reg, db, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runList(ctx context.Context) error {
	reg, db, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	collections := reg.Collections()
	if len(collections) == 0 {
		fmt.Println("no collections registered")
		return nil
	}

	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	for _, coll := range collections {
		bold.Printf("%s", coll.Name)
		gray.Printf("  [%s]\n", coll.Source)

		members := reg.CollectionMembers(coll.ID)
		sort.Slice(members, func(i, j int) bool { return members[i].Name < members[j].Name })
		for _, rec := range members {
			switch {
			case rec.Enabled:
				green.Printf("  ● %s\n", rec.Name)
			case !rec.Callable:
				gray.Printf("  - %s (auxiliary)\n", rec.Name)
			default:
				fmt.Printf("  ○ %s\n", rec.Name)
			}
		}
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	reg, db, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	out := os.Stdout
	if len(args) > 0 {
		f, err := os.Create(args[0])
		if err != nil {
			return fmt.Errorf("creating %s: %w", args[0], err)
		}
		defer f.Close()
		out = f
	}
	return share.Export(reg).WriteTo(out)
}

func runImport(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: toolgate import FILE")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening %s: %w", args[0], err)
	}
	defer f.Close()

	payload, err := share.Read(f)
	if err != nil {
		return err
	}

	reg, db, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	count, err := share.Import(ctx, reg, payload)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d functions in %d collections (all disabled)\n", count, len(payload.Collections))
	return nil
}
