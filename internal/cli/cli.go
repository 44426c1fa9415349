package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/oh-yeah-sea-kit2/slamp/internal/config"
	"github.com/oh-yeah-sea-kit2/slamp/internal/utils"
)

func Run(args []string) int {
	// Support a global --verbose flag anywhere in the argv (before or after the command).
	// This is helpful because the stdlib flag parser stops at the first non-flag argument.
	args, globalVerbose := extractGlobalVerbose(args)
	if globalVerbose {
		utils.Verbose = true
	}
	utils.ConfigureLogging(utils.Verbose)

	if len(args) < 2 {
		printUsage()
		return 1
	}
	if args[1] == "-h" || args[1] == "--help" || args[1] == "help" {
		printUsage()
		return 0
	}

	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}
	if cfg.LogFile != "" {
		utils.ConfigureLogFile(utils.LogFileOptions{Path: cfg.LogFile, MaxSizeMB: cfg.LogMaxSizeMB, MaxBackups: cfg.LogMaxBackups})
	}
	utils.Logf("slamp: config loaded env=%s identity=%s ack=%s cache=%s db=%s", cfg.AppEnv, cfg.StampIdentity, cfg.StampAck, cfg.CacheBackend, cfg.DBDriver)

	cmd := args[1]
	cmdArgs := args[2:]
	utils.Logf("slamp: cmd=%s args=%v", cmd, cmdArgs)

	var runErr error
	switch cmd {
	case "Slack:Serve":
		runErr = runSlackServe(ctx, cfg, cmdArgs)
	case "Emoji:Refresh":
		runErr = runEmojiRefresh(ctx, cfg, cmdArgs)
	case "Usage:Consume":
		runErr = runUsageConsume(ctx, cfg, cmdArgs)
	case "Stamp:Top":
		runErr = runStampTop(ctx, cfg, cmdArgs)
	case "migrate":
		runErr = runMigrate(ctx, cfg, cmdArgs)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		return 1
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		return 1
	}

	return 0
}

func extractGlobalVerbose(args []string) ([]string, bool) {
	if len(args) == 0 {
		return args, false
	}
	verbose := false
	out := make([]string, 0, len(args))
	for _, arg := range args {
		switch {
		case arg == "--verbose" || arg == "-verbose":
			verbose = true
			continue
		case strings.HasPrefix(arg, "--verbose="):
			raw := strings.TrimPrefix(arg, "--verbose=")
			if parsed, err := strconv.ParseBool(raw); err == nil {
				verbose = parsed
			}
			continue
		case strings.HasPrefix(arg, "-verbose="):
			raw := strings.TrimPrefix(arg, "-verbose=")
			if parsed, err := strconv.ParseBool(raw); err == nil {
				verbose = parsed
			}
			continue
		default:
			out = append(out, arg)
		}
	}
	return out, verbose
}

func printUsage() {
	fmt.Println("Usage: slamp <command> [args]")
	fmt.Println("Global flags:")
	fmt.Println("  --verbose   Enable diagnostic logging (can appear before or after the command).")
	fmt.Println("Commands:")
	fmt.Println("  Slack:Serve [--listen=:8124] [--verbose]")
	fmt.Println("  Emoji:Refresh [--verbose]")
	fmt.Println("  Usage:Consume [--sleep=N] [--once] [--verbose]")
	fmt.Println("  Stamp:Top --team=T123 [--limit=N] [--verbose]")
	fmt.Println("  migrate [up] [--dir=migrations] [--dry-run] [--verbose]")
}
