package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tphakala/opusrec/cmd"
	"github.com/tphakala/opusrec/internal/buildinfo"
	"github.com/tphakala/opusrec/internal/logger"
	"github.com/tphakala/opusrec/internal/telemetry"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   = "dev"
	buildDate = ""
)

func main() {
	os.Exit(run())
}

func run() int {
	build := &buildinfo.Context{Version: version, BuildDate: buildDate}

	rootCmd := cmd.RootCommand(build)
	err := rootCmd.ExecuteContext(context.Background())

	telemetry.Flush(telemetry.FlushTimeout)
	_ = logger.Global().Flush()
	_ = logger.Global().Close()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cmd.ExitCode(err)
	}
	return cmd.ExitOK
}
