// Klingnet node daemon.
//
// Usage:
//
//	klingnetd [options]          Run node
//	klingnetd --storage-check    Check the chain database and exit
//	klingnetd --help             Show help
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Klingon-tech/klingnet-node/config"
	klog "github.com/Klingon-tech/klingnet-node/internal/log"
	"github.com/Klingon-tech/klingnet-node/internal/node"
	"github.com/Klingon-tech/klingnet-node/internal/shutdown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the daemon and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	flags, err := config.ParseFlags(args)
	if errors.Is(err, config.ErrHelp) {
		config.PrintUsage(stdout)
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n\n", err)
		config.PrintUsage(stderr)
		return 2
	}
	if flags.Version {
		fmt.Fprintf(stdout, "klingnetd %s\n", config.Version)
		return 0
	}
	if flags.Help {
		config.PrintUsage(stdout)
		return 0
	}

	cfg, err := config.Load(flags)
	if err != nil {
		return report(stderr, &node.Error{Kind: node.KindConfig, Err: err})
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		return report(stderr, &node.Error{Kind: node.KindConfig, Err: fmt.Errorf("initializing logger: %w", err)})
	}
	gen, err := config.LoadGenesisFor(cfg)
	if err != nil {
		return report(stderr, &node.Error{Kind: node.KindConfig, Err: err})
	}

	if cfg.StorageCheck {
		height, err := node.CheckStorage(cfg)
		if err != nil {
			return report(stderr, err)
		}
		klog.Info().Uint64("height", height).Msg("Storage check passed")
		return 0
	}

	token := shutdown.NewToken()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	node.WatchSignals(ctx, token, klog.WithComponent("signals"))

	if err := node.New(cfg, gen, token).Run(); err != nil {
		return report(stderr, err)
	}
	return 0
}

// report prints err with its causes and returns the exit code for it.
func report(w io.Writer, err error) int {
	code := 1
	var ne *node.Error
	if errors.As(err, &ne) {
		code = ne.Code()
		if ne.Kind == node.KindInterrupted {
			klog.Info().Msg("Startup interrupted by shutdown request")
			return code
		}
	}
	printCauses(w, err)
	return code
}

// printCauses writes err and then every wrapped cause on its own line.
func printCauses(w io.Writer, err error) {
	fmt.Fprintln(w, ownMessage(err))
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		fmt.Fprintf(w, " |-> %s\n", ownMessage(cause))
	}
}

// ownMessage strips the text of err's cause from its message.
func ownMessage(err error) string {
	msg := err.Error()
	if cause := errors.Unwrap(err); cause != nil {
		msg = strings.TrimSuffix(msg, ": "+cause.Error())
	}
	return msg
}
