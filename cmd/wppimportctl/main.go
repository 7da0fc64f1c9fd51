package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/wppimport/internal/client"
	"github.com/matheus3301/wppimport/internal/config"
	"github.com/matheus3301/wppimport/internal/session"
)

func main() {
	addrFlag := flag.String("addr", "", "daemon address (default from config, then 127.0.0.1:8089)")
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	limitFlag := flag.Int("limit", 20, "number of runs to show")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	addr, instance := defaults(*addrFlag, *instanceFlag)
	if err := session.ValidateName(instance); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	c := client.New(addr)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "import":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: wppimportctl import <contacts|messages>")
			os.Exit(1)
		}
		cmdImport(ctx, c, instance, args[1], *jsonFlag)
	case "clear":
		cmdClear(ctx, c, instance)
	case "runs":
		cmdRuns(ctx, c, instance, *limitFlag, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

// defaults fills unset flags from the config file when one exists.
func defaults(addr, instance string) (string, string) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		cfg = &config.Config{DefaultInstance: "main", HTTP: config.HTTP{Listen: "127.0.0.1:8089"}}
	}
	if addr == "" {
		addr = cfg.HTTP.Listen
	}
	if instance == "" {
		instance = cfg.DefaultInstance
	}
	return addr, instance
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wppimportctl [--addr <host:port>] [--instance <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status             Show staged counts and import phase per instance")
	fmt.Fprintln(os.Stderr, "  import contacts    Import staged contacts")
	fmt.Fprintln(os.Stderr, "  import messages    Import staged messages")
	fmt.Fprintln(os.Stderr, "  clear              Drop everything staged for the instance")
	fmt.Fprintln(os.Stderr, "  runs [--limit n]   Show recent import runs")
}

func cmdStatus(ctx context.Context, c *client.Client, jsonOut bool) {
	instances, err := c.Instances(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(instances)
		return
	}
	if len(instances) == 0 {
		fmt.Println("Nothing staged.")
		return
	}
	fmt.Printf("%-20s %10s %10s  %s\n", "INSTANCE", "CONTACTS", "MESSAGES", "PHASE")
	for _, in := range instances {
		fmt.Printf("%-20s %10d %10d  %s\n", in.Tenant, in.Contacts, in.Messages, in.Phase)
	}
}

func cmdImport(ctx context.Context, c *client.Client, instance, kind string, jsonOut bool) {
	start := time.Now()
	n, err := c.Import(ctx, instance, kind)
	if err != nil {
		var apiErr *client.Error
		if errors.As(err, &apiErr) && apiErr.Count > 0 {
			fmt.Fprintf(os.Stderr, "%d %s committed before the failure\n", apiErr.Count, kind)
		}
		fail(err)
	}
	if jsonOut {
		outputJSON(map[string]any{"instance": instance, "kind": kind, "count": n})
		return
	}
	fmt.Printf("Imported %d %s for %s in %s\n", n, kind, instance, time.Since(start).Round(time.Millisecond))
}

func cmdClear(ctx context.Context, c *client.Client, instance string) {
	if err := c.Clear(ctx, instance); err != nil {
		fail(err)
	}
	fmt.Printf("Cleared staged data for %s\n", instance)
}

func cmdRuns(ctx context.Context, c *client.Client, instance string, limit int, jsonOut bool) {
	runs, err := c.Runs(ctx, instance, limit)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(runs)
		return
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return
	}
	for _, r := range runs {
		line := fmt.Sprintf("%s  %-8s %-9s %8d  %s", r.StartedAt.Local().Format(time.DateTime), r.Kind, r.Status, r.Affected, r.ID)
		if r.Error != "" {
			line += "  " + r.Error
		}
		fmt.Println(line)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
