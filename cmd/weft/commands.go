package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/weftworks/weft/runtime/engine"
	"github.com/weftworks/weft/runtime/hooks"
)

// cmdValidate checks the document without running it. Missing node types
// are cross-referenced against the plugin index so the report can point at
// the repositories that would provide them.
func cmdValidate(ctx context.Context, eng *engine.Engine, path string) error {
	doc, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	report, err := eng.Validate(ctx, doc)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if !report.Valid {
		return fmt.Errorf("workflow %s is invalid", path)
	}
	return nil
}

// cmdRun submits the document, prints progress as it streams off the bus,
// and renders the final results. A canceled context (Ctrl-C) cancels the
// execution and waits for it to settle before returning.
func cmdRun(ctx context.Context, eng *engine.Engine, path string) error {
	doc, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	sub := hooks.NewChannelSubscriber(128)
	reg, err := eng.Bus().Register(sub)
	if err != nil {
		return err
	}
	defer reg.Close()

	id, err := eng.Submit(ctx, doc)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "execution %s started\n", id)

	done := make(chan struct{})
	go printProgress(id, sub.Events(), done)

	status, err := eng.Wait(ctx, id)
	if err != nil {
		// Interrupted: cancel and let the execution settle.
		_ = eng.Cancel(id)
		status, err = eng.Wait(context.Background(), id)
		if err != nil {
			close(done)
			return err
		}
	}
	close(done)

	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if status.State != engine.StateCompleted {
		return fmt.Errorf("execution %s %s", id, status.State)
	}
	return nil
}

// printProgress renders bus events for one execution until done closes.
func printProgress(executionID string, events <-chan hooks.Event, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case evt := <-events:
			if evt.ExecutionID() != executionID {
				continue
			}
			switch e := evt.(type) {
			case *hooks.TaskStartEvent:
				fmt.Fprintf(os.Stderr, "  running %s (%s)\n", e.NodeID, e.NodeType)
			case *hooks.TaskCompleteEvent:
				fmt.Fprintf(os.Stderr, "  done    %s in %s\n", e.NodeID, e.Elapsed.Round(time.Millisecond))
			case *hooks.TaskFailEvent:
				fmt.Fprintf(os.Stderr, "  failed  %s: %v\n", e.NodeID, e.Err)
			case *hooks.RollbackStartEvent:
				fmt.Fprintf(os.Stderr, "  rolling back after %s\n", e.FailedNodeID)
			case *hooks.ExecutionCompleteEvent:
				fmt.Fprintf(os.Stderr, "execution %s %s\n", executionID, e.State)
			}
		}
	}
}

// cmdNodes prints the catalog grouped by category.
func cmdNodes(eng *engine.Engine) error {
	descriptors := eng.Registry().Descriptors()
	sort.Slice(descriptors, func(i, j int) bool {
		if descriptors[i].Category != descriptors[j].Category {
			return descriptors[i].Category < descriptors[j].Category
		}
		return descriptors[i].Name < descriptors[j].Name
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCATEGORY\tIN\tOUT\tDESCRIPTION")
	for _, d := range descriptors {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			d.Name, d.Category, len(d.Inputs), len(d.Outputs), d.Description)
	}
	return w.Flush()
}

func cmdPlugins(ctx context.Context, eng *engine.Engine, args []string) error {
	manager := eng.Plugins()
	switch args[0] {
	case "list":
		plugins := manager.Plugins()
		if len(plugins) == 0 {
			fmt.Println("no plugins installed")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tVERSION\tSTATE\tNAME")
		for _, man := range plugins {
			state := "registered"
			if s, ok := eng.Modules().ModuleState(man.ID); ok {
				state = string(s)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", man.ID, man.Version, state, man.Name)
		}
		return w.Flush()
	case "install":
		if len(args) != 2 {
			return fmt.Errorf("usage: weft plugins install <git-url>")
		}
		if err := manager.Install(ctx, args[1]); err != nil {
			return err
		}
		fmt.Printf("installed %s\n", args[1])
		return nil
	case "remove":
		if len(args) != 2 {
			return fmt.Errorf("usage: weft plugins remove <plugin-id>")
		}
		if err := manager.Uninstall(ctx, args[1]); err != nil {
			return err
		}
		fmt.Printf("removed %s\n", args[1])
		return nil
	default:
		return fmt.Errorf("unknown plugins command %q", args[0])
	}
}
