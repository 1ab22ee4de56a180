// ABOUTME: mirmod CLI for session cookies, identity checks and event waits
// ABOUTME: Subcommands open a security context from layered configuration

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
)

const banner = `
           _                          _
 _ __ ___ (_)_ __ _ __ ___   ___   __| |
| '_ ' _ \| | '__| '_ ' _ \ / _ \ / _' |
| | | | | | | |  | | | | | | (_) | (_| |
|_| |_| |_|_|_|  |_| |_| |_|\___/ \__,_|
`

// stdout is where command output goes. Logs go to stderr.
var stdout io.Writer = os.Stdout

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "whoami":
		err = cmdWhoami(ctx, args)
	case "decode":
		err = cmdDecode(args)
	case "verify":
		err = cmdVerify(ctx, args)
	case "mint":
		err = cmdMint(args)
	case "wait":
		var signalled bool
		signalled, err = cmdWait(ctx, args)
		if err == nil && !signalled {
			cancel()
			os.Exit(2)
		}
	case "extend":
		err = cmdExtend(ctx, args)
	case "log":
		err = cmdLog(ctx, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: mirmod <command> [args] [connection flags]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  whoami                      Resolve the session identity (renews proxy claims)")
	fmt.Println("  decode <cookie>             Show the outer layer of a cookie without verifying it")
	fmt.Println("  verify <cookie>             Verify a cookie against the user directory (admin)")
	fmt.Println("  verify <cookie> --secret <hex> --salt <hex>")
	fmt.Println("                              Verify offline with known key material")
	fmt.Println("  mint --subject <user> --secret <hex> --salt <hex> [--ttl 24h] [--body <json>]")
	fmt.Println("                              Issue a cookie")
	fmt.Println("  wait <event> [--timeout 60] Block until the event is signalled (exit 2 on timeout)")
	fmt.Println("  extend                      Extend the proxy account claim")
	fmt.Println("  log <id>                    Show a backend log record")
	fmt.Println()
	yellow.Println("Connection flags (layered over the config file):")
	fmt.Println("  --config <path>             Config file (default: MIRANDA_CONFIG_JSON, ~/config.json, /etc/miranda/config.json)")
	fmt.Println("  --token pxy.<user>.<pass>   Proxy account credentials")
	fmt.Println("  --host, --port, --user, --password, --database")
	fmt.Println("  --admin                     Run as an admin context")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  MIRANDA_CONFIG_JSON         Inline configuration document")
	fmt.Println("  MIRANDA_PROXY_TOKEN         Proxy token, when --token is not given")
	fmt.Println("  MIRANDA_APPLICATION         Application name for proxy claims (default: mirmod-rs)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  mirmod whoami --token pxy.build-bot.s3cret")
	fmt.Println("  mirmod verify \"$COOKIE\" --admin")
	fmt.Println("  mirmod wait docker_job:17 --timeout 300")
	fmt.Println()
}
