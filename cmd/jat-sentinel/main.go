// jat-sentinel is the session automation daemon for the jat dashboard: it
// watches output from managed tmux agent sessions, matches it against
// user-defined rules, and executes automated responses.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jathq/jat-sentinel/internal/automation"
	"github.com/jathq/jat-sentinel/internal/config"
	"github.com/jathq/jat-sentinel/internal/logging"
	"github.com/jathq/jat-sentinel/internal/poller"
	"github.com/jathq/jat-sentinel/internal/rulesdb"
	sentinelsignal "github.com/jathq/jat-sentinel/internal/signal"
	"github.com/jathq/jat-sentinel/internal/tmux"
	"github.com/jathq/jat-sentinel/internal/web"
)

const Version = "0.3.1"

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "run":
		err = cmdRun(args[1:])
	case "rules":
		err = cmdRules(args[1:])
	case "presets":
		err = cmdPresets(args[1:])
	case "export":
		err = cmdExport(args[1:])
	case "import":
		err = cmdImport(args[1:])
	case "test":
		err = cmdTest(args[1:])
	case "activity":
		err = cmdActivity(args[1:])
	case "version":
		fmt.Printf("jat-sentinel v%s\n", Version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `jat-sentinel - session automation rules engine

Usage:
  jat-sentinel run [-debug]               run the automation daemon
  jat-sentinel rules list [-json]         list rules
  jat-sentinel rules show <id>            show one rule as JSON
  jat-sentinel rules enable <id>          enable a rule
  jat-sentinel rules disable <id>         disable a rule
  jat-sentinel rules delete <id>          delete a rule
  jat-sentinel presets list               list built-in rule presets
  jat-sentinel presets install <id>       install a preset as a new rule
  jat-sentinel export [-o file]           export rules + config as JSON
  jat-sentinel import [-mode merge] file  import an export document
  jat-sentinel test -text T [-state S]    dry-run rules against sample text
  jat-sentinel activity [-limit N]        show recent rule firings
  jat-sentinel activity clear             clear the activity log
  jat-sentinel version                    print version
`)
}

// openStore opens the rules database at the default location.
func openStore() (*rulesdb.DB, error) {
	return rulesdb.Open(config.DBPath())
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	debug := fs.Bool("debug", false, "enable debug logging")
	configPath := fs.String("config", config.Path(), "config file path")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		LogDir:     config.Dir(),
		Level:      logLevel(cfg, *debug),
		Format:     cfg.Logs.Format,
		MaxSizeMB:  cfg.Logs.MaxSizeMB,
		MaxBackups: cfg.Logs.MaxBackups,
		Compress:   true,
		Debug:      *debug,
	})
	defer logging.Shutdown()

	// Dump the in-memory log ring on panic so crashes in the field leave
	// something to debug with.
	defer func() {
		if rec := recover(); rec != nil {
			dumpPath := filepath.Join(config.Dir(), fmt.Sprintf("crash-%d.log", time.Now().Unix()))
			_ = logging.DumpRingBuffer(dumpPath)
			panic(rec)
		}
	}()

	if err := tmux.IsAvailable(); err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	store.SetHistoryCap(cfg.Activity.HistoryCapacity)

	signalDir := cfg.Signals.Dir
	if signalDir == "" {
		signalDir = sentinelsignal.DefaultDir()
	}
	emitter := sentinelsignal.NewFileEmitter(signalDir)

	client := tmux.NewClient()
	client.CaptureLines = cfg.Poll.CaptureLines

	engine, err := automation.NewEngine(store, client, emitter, cfg.Activity.MemoryCapacity)
	if err != nil {
		return err
	}

	p := poller.New(engine, client, emitter)
	p.Configure(cfg.Poll.IntervalMs, cfg.Poll.CaptureLines, cfg.Poll.MaxConcurrent, cfg.Signals.MaxAgeHours)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hot-reload daemon settings when config.toml changes on disk.
	watcher, err := config.NewWatcher(*configPath)
	if err != nil {
		logging.Logger().Warn("config_watch_disabled", slog.String("error", err.Error()))
	} else {
		defer watcher.Close()
		go func() {
			for fresh := range watcher.Changes() {
				p.Configure(fresh.Poll.IntervalMs, fresh.Poll.CaptureLines,
					fresh.Poll.MaxConcurrent, fresh.Signals.MaxAgeHours)
			}
		}()
	}

	var server *web.Server
	if cfg.Web.Enabled {
		server = web.NewServer(web.Config{
			ListenAddr: cfg.Web.ListenAddr,
			Token:      cfg.Web.Token,
			ReadOnly:   cfg.Web.ReadOnly,
		}, engine)
		go func() {
			if err := server.Start(); err != nil {
				logging.Logger().Error("api_server_failed", slog.String("error", err.Error()))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	logging.Logger().Info("sentinel_started",
		slog.String("version", Version),
		slog.Int("rules", len(engine.Rules())))
	fmt.Printf("jat-sentinel v%s watching %s* sessions (Ctrl+C to stop)\n", Version, tmux.SessionPrefix)

	err = p.Run(ctx)

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}
	engine.Wait()

	if err == context.Canceled {
		return nil
	}
	return err
}

func logLevel(cfg config.Config, debug bool) string {
	if debug {
		return "debug"
	}
	return cfg.Logs.Level
}

func cmdRules(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("rules: subcommand required (list|show|enable|disable|delete)")
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("rules list", flag.ExitOnError)
		asJSON := fs.Bool("json", false, "output JSON")
		_ = fs.Parse(args[1:])

		rules, err := store.ListRules()
		if err != nil {
			return err
		}
		if *asJSON {
			return printJSON(rules)
		}
		if len(rules) == 0 {
			fmt.Println("no rules defined (try: jat-sentinel presets list)")
			return nil
		}
		fmt.Printf("%-36s  %-28s  %-12s  %-8s  %s\n", "ID", "NAME", "CATEGORY", "PRIORITY", "ENABLED")
		for _, r := range rules {
			fmt.Printf("%-36s  %-28s  %-12s  %-8d  %v\n",
				r.ID, truncate(r.Name, 28), r.Category, r.Priority, r.Enabled)
		}
		return nil
	case "show":
		if len(args) < 2 {
			return fmt.Errorf("rules show: rule id required")
		}
		rule, err := store.GetRule(args[1])
		if err != nil {
			return err
		}
		return printJSON(rule)
	case "enable", "disable":
		if len(args) < 2 {
			return fmt.Errorf("rules %s: rule id required", args[0])
		}
		rule, err := store.GetRule(args[1])
		if err != nil {
			return err
		}
		rule.Enabled = args[0] == "enable"
		rule.UpdatedAt = time.Now().UTC()
		if err := store.SaveRule(rule); err != nil {
			return err
		}
		fmt.Printf("rule %q %sd\n", rule.Name, args[0])
		return nil
	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("rules delete: rule id required")
		}
		if err := store.DeleteRule(args[1]); err != nil {
			return err
		}
		fmt.Println("rule deleted")
		return nil
	default:
		return fmt.Errorf("rules: unknown subcommand %q", args[0])
	}
}

func cmdPresets(args []string) error {
	if len(args) == 0 || args[0] == "list" {
		for _, p := range automation.Presets() {
			fmt.Printf("%-24s  %s\n", p.ID, p.Description)
		}
		return nil
	}
	if args[0] == "install" {
		if len(args) < 2 {
			return fmt.Errorf("presets install: preset id required")
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		rule, err := automation.InstallPreset(store, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("installed %q as rule %s\n", rule.Name, rule.ID)
		return nil
	}
	return fmt.Errorf("presets: unknown subcommand %q", args[0])
}

func cmdExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("o", "", "output file (default stdout)")
	_ = fs.Parse(args)

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	doc, err := automation.Export(store)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if *out == "" {
		fmt.Println(string(data))
		return nil
	}
	return os.WriteFile(*out, data, 0o644)
}

func cmdImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	mode := fs.String("mode", "merge", "import mode: merge or replace")
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("import: file required")
	}
	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	doc, err := automation.ParseExportDoc(data)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	imported, err := automation.Import(store, doc, automation.ImportMode(*mode))
	if err != nil {
		return err
	}
	fmt.Printf("imported %d rules (%s mode)\n", imported, *mode)
	return nil
}

// cmdTest dry-runs the rules against sample text or a live pane capture,
// printing which rules would fire and with what interpolated actions.
func cmdTest(args []string) error {
	fs := flag.NewFlagSet("test", flag.ExitOnError)
	text := fs.String("text", "", "sample output text to evaluate")
	session := fs.String("session", "jat_test", "session name for interpolation")
	state := fs.String("state", "working", "session state (working|idle|waiting|error)")
	capture := fs.Bool("capture", false, "capture text from the live session instead")
	_ = fs.Parse(args)

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	engine, err := automation.NewEngine(store, nopSessions{}, nopSignals{}, 16)
	if err != nil {
		return err
	}

	input := *text
	if *capture {
		tmux.RefreshSessions()
		input, err = tmux.NewClient().CapturePane(*session)
		if err != nil {
			return err
		}
	}
	if input == "" {
		return fmt.Errorf("test: -text or -capture required")
	}

	matches := engine.TestEvaluate(*session, input, automation.SessionState(*state))
	if len(matches) == 0 {
		fmt.Println("no rules match")
		return nil
	}
	for _, m := range matches {
		fmt.Printf("MATCH %s (priority %d)\n", m.Rule.Name, m.Rule.Priority)
		for _, a := range m.Rule.Actions {
			fmt.Printf("  %s: %s\n", a.Type, automation.Interpolate(a.Value, m.Context))
		}
	}
	return nil
}

func cmdActivity(args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) > 0 && args[0] == "clear" {
		if err := store.ClearActivity(); err != nil {
			return err
		}
		fmt.Println("activity cleared")
		return nil
	}

	fs := flag.NewFlagSet("activity", flag.ExitOnError)
	limit := fs.Int("limit", 20, "max events to show")
	_ = fs.Parse(args)

	events, err := store.RecentActivity(*limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("no activity recorded")
		return nil
	}
	for _, ev := range events {
		ok := 0
		for _, o := range ev.Outcomes {
			if o.Success {
				ok++
			}
		}
		fmt.Printf("%s  %-24s  %-20s  %d/%d actions  %s\n",
			ev.Timestamp.Local().Format("2006-01-02 15:04:05"),
			truncate(ev.RuleName, 24), truncate(ev.Session, 20),
			ok, len(ev.Outcomes), truncate(ev.Excerpt, 60))
	}
	return nil
}

// nopSessions and nopSignals back the dry-run engine used by `test`.
type nopSessions struct{}

func (nopSessions) SendText(_, _ string) error   { return nil }
func (nopSessions) SendKeys(_, _ string) error   { return nil }
func (nopSessions) RunCommand(_, _ string) error { return nil }

type nopSignals struct{}

func (nopSignals) Emit(_, _, _ string) error { return nil }

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
