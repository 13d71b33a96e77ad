package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/miaoaixuan/a1ctf-sync/gamesync"
	_ "github.com/miaoaixuan/a1ctf-sync/gamesync/script"
)

type kvFlag map[string]string

func (k kvFlag) String() string {
	var parts []string
	for key, val := range k {
		parts = append(parts, fmt.Sprintf("%s=%s", key, val))
	}
	return strings.Join(parts, ",")
}

func (k kvFlag) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("must be key=value")
	}
	k[parts[0]] = parts[1]
	return nil
}

func main() {
	var (
		transportID string
		configPath  string
		roleFlag    string
		interval    time.Duration
		verbose     bool
		settings    = make(kvFlag)
	)

	fs := flag.NewFlagSet("a1ctf-sync", flag.ExitOnError)
	fs.StringVar(&transportID, "transport", "", "Transport ID (e.g. a1ctf, a1ctf_cookie, script)")
	fs.StringVar(&configPath, "config", "a1ctf-sync.yaml", "Path to config file")
	fs.StringVar(&roleFlag, "role", "", "Session role (user or admin)")
	fs.DurationVar(&interval, "interval", 4*time.Second, "Poll interval for watch")
	fs.BoolVar(&verbose, "v", false, "Enable debug logging")
	fs.Var(settings, "S", "Transport settings (key=value), can be repeated")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [global options] command [args...]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nGlobal Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nCommands:\n")
		fmt.Fprintf(os.Stderr, "  watch <game-id>                    Follow a game's state until interrupted\n")
		fmt.Fprintf(os.Stderr, "  status <game-id>                   Show a game's state once\n")
		fmt.Fprintf(os.Stderr, "  submit <game-id> <chall-id> <flag> Submit a flag and wait for its verdict\n")
		fmt.Fprintf(os.Stderr, "  solved <game-id>                   List solved challenge ids\n")
	}

	if len(os.Args) < 2 {
		fs.Usage()
		os.Exit(1)
	}

	// Global flags must come before the command; the flag package stops at
	// the first non-flag argument. Acceptable for a simple CLI.

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(1)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cmdName := fs.Arg(0)
	cmdArgs := fs.Args()[1:]

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Merge flags into config
	if transportID != "" {
		cfg.Transport = transportID
	}
	if roleFlag != "" {
		cfg.Role = roleFlag
	}
	for k, v := range settings {
		cfg.Settings[k] = v
	}

	if cfg.Transport == "" {
		fmt.Fprintf(os.Stderr, "Error: transport type is required (via -transport or config file)\n")
		os.Exit(1)
	}

	transport, err := gamesync.Build(cfg.Transport, cfg.Settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating transport: %v\n", err)
		os.Exit(1)
	}

	role := gamesync.RoleUser
	if strings.EqualFold(cfg.Role, string(gamesync.RoleAdmin)) {
		role = gamesync.RoleAdmin
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host := &cliHost{
		transport: transport,
		role:      role,
		interval:  interval,
		log:       logger,
	}

	var cmdErr error
	switch cmdName {
	case "watch":
		cmdErr = withGameID(cmdArgs, 1, func(gameID int64) error {
			return host.runWatch(ctx, gameID)
		})
	case "status":
		cmdErr = withGameID(cmdArgs, 1, func(gameID int64) error {
			return host.runStatus(ctx, gameID)
		})
	case "submit":
		cmdErr = withGameID(cmdArgs, 3, func(gameID int64) error {
			challengeID, err := strconv.ParseInt(cmdArgs[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid challenge id: %s", cmdArgs[1])
			}
			return host.runSubmit(ctx, gameID, challengeID, cmdArgs[2])
		})
	case "solved":
		cmdErr = withGameID(cmdArgs, 1, func(gameID int64) error {
			return host.runSolved(ctx, gameID)
		})
	default:
		cmdErr = fmt.Errorf("unknown command: %s", cmdName)
	}

	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", cmdErr)
		os.Exit(1)
	}
}

func withGameID(args []string, want int, run func(gameID int64) error) error {
	if len(args) < want {
		return fmt.Errorf("missing arguments (want %d)", want)
	}
	gameID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid game id: %s", args[0])
	}
	return run(gameID)
}
