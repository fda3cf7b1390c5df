// Command weft validates and runs workflow documents, lists the node
// catalog, and manages node plugins from the command line.
//
// Usage:
//
//	weft [flags] validate <workflow.json>
//	weft [flags] run <workflow.json>
//	weft [flags] nodes
//	weft [flags] plugins list
//	weft [flags] plugins install <git-url>
//	weft [flags] plugins remove <plugin-id>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"goa.design/clue/log"

	"github.com/weftworks/weft/nodes/builtin"
	"github.com/weftworks/weft/runtime/config"
	"github.com/weftworks/weft/runtime/engine"
	"github.com/weftworks/weft/runtime/hooks"
	"github.com/weftworks/weft/runtime/module"
	"github.com/weftworks/weft/runtime/plugin"
	"github.com/weftworks/weft/runtime/registry"
	"github.com/weftworks/weft/runtime/telemetry"
)

func main() {
	var (
		configF  = flag.String("config", "", "Config directory (default: <user config dir>/weft)")
		workersF = flag.Int("workers", 0, "Scheduler worker count (0 uses the engine default)")
		dbgF     = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Usage = printUsage
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, *configF, *workersF, args); err != nil {
		fmt.Fprintln(os.Stderr, "weft:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `weft runs workflow documents against the node catalog.

Usage:
  weft [flags] validate <workflow.json>   Check a document without running it
  weft [flags] run <workflow.json>        Execute a document and print results
  weft [flags] nodes                      List registered node types
  weft [flags] plugins list               List installed plugins
  weft [flags] plugins install <git-url>  Clone and install a plugin
  weft [flags] plugins remove <id>        Deactivate and delete a plugin

Flags:
`)
	flag.PrintDefaults()
}

func dispatch(ctx context.Context, cfgDir string, workers int, args []string) error {
	eng, err := newEngine(ctx, cfgDir, workers)
	if err != nil {
		return err
	}
	defer eng.Close(context.WithoutCancel(ctx))

	switch args[0] {
	case "validate":
		if len(args) != 2 {
			return fmt.Errorf("usage: weft validate <workflow.json>")
		}
		return cmdValidate(ctx, eng, args[1])
	case "run":
		if len(args) != 2 {
			return fmt.Errorf("usage: weft run <workflow.json>")
		}
		return cmdRun(ctx, eng, args[1])
	case "nodes":
		return cmdNodes(eng)
	case "plugins":
		if len(args) < 2 {
			return fmt.Errorf("usage: weft plugins list|install|remove")
		}
		return cmdPlugins(ctx, eng, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// newEngine assembles the runtime: config store, registry, module manager,
// plugin manager, and the engine façade, then activates the built-in node
// set and every discovered plugin.
func newEngine(ctx context.Context, cfgDir string, workers int) (*engine.Engine, error) {
	if cfgDir == "" {
		cfgDir = defaultConfigDir()
	}
	store, err := config.NewStore(cfgDir)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}

	logger := telemetry.NewClueLogger()
	bus := hooks.NewBus()
	reg := registry.New()
	modules := module.NewManager(module.WithBus(bus), module.WithLogger(logger))
	plugins := plugin.NewManager(modules, reg, store,
		plugin.WithPluginDir(store.Path("plugins")),
		plugin.WithCustomNodesDir(store.Path("custom_nodes")),
		plugin.WithBus(bus),
		plugin.WithLogger(logger),
	)

	eng := engine.New(
		engine.WithRegistry(reg),
		engine.WithModules(modules),
		engine.WithPlugins(plugins),
		engine.WithBus(bus),
		engine.WithConfig(store),
		engine.WithLogger(logger),
		engine.WithMetrics(telemetry.NewClueMetrics()),
		engine.WithTracer(telemetry.NewClueTracer()),
		engine.WithWorkers(workers),
	)

	if err := modules.RegisterModule(ctx, builtin.Module(reg)); err != nil {
		return nil, fmt.Errorf("register built-in nodes: %w", err)
	}
	if err := modules.Activate(ctx, builtin.ModuleID); err != nil {
		return nil, fmt.Errorf("activate built-in nodes: %w", err)
	}
	for _, id := range plugins.Discover(ctx) {
		if err := plugins.Activate(ctx, id); err != nil {
			logger.Warn(ctx, "plugin activation failed", "plugin", id, "err", err)
		}
	}
	return eng, nil
}

func defaultConfigDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ".weft"
	}
	return filepath.Join(base, "weft")
}
