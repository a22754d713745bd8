package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/tabdeck/tabdeck/internal/config"
)

func handleConfig(args []string) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Println("Usage: tabdeck config [show|init]")
		fmt.Println()
		fmt.Println("  show   Print the configuration with defaults applied")
		fmt.Println("  init   Write a commented example config.toml if none exists")
	}
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("flag parsing: %w", err)
	}

	sub := "show"
	if fs.NArg() > 0 {
		sub = fs.Arg(0)
	}
	switch sub {
	case "show":
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (showing defaults)\n", err)
		}
		path, _ := config.Path()
		fmt.Printf("# %s\n", path)
		return toml.NewEncoder(os.Stdout).Encode(resolvedConfig(cfg))
	case "init":
		path, wrote, err := config.CreateExampleConfig()
		if err != nil {
			return err
		}
		if wrote {
			fmt.Printf("Wrote %s\n", path)
		} else {
			fmt.Printf("%s already exists\n", path)
		}
		return nil
	default:
		fs.Usage()
		return fmt.Errorf("unknown config command %q", sub)
	}
}

// resolvedConfig returns a copy of cfg with every accessor's defaults
// filled in, so "config show" prints what the daemon will actually use.
func resolvedConfig(cfg *config.UserConfig) config.UserConfig {
	out := *cfg
	out.Theme = cfg.GetTheme()
	out.ToolbarPosition = cfg.GetToolbarPosition()
	out.Bridge = cfg.GetBridgeSettings()
	out.Resolver = cfg.GetResolverSettings()
	out.Thumbnails = cfg.GetThumbnailSettings()
	out.Favicon.TimeoutMs = int(cfg.GetFaviconTimeout().Milliseconds())
	out.Logs = cfg.GetLogSettings()
	return out
}
