package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"bluecast/internal/app"
	"bluecast/internal/config"
	logx "bluecast/pkg/logx"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	var cfgPath string
	var selfTest bool

	flagSet := pflag.NewFlagSet("bluecast", pflag.ContinueOnError)
	flagSet.StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config (yaml or json)")
	flagSet.BoolVar(&selfTest, "self-test", false, "send a test message through every sink before listening")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	cmd := "run"
	if args := flagSet.Args(); len(args) > 0 {
		if len(args) > 1 {
			return fmt.Errorf("unexpected argument: %s", args[1])
		}
		cmd = args[0]
	}

	switch cmd {
	case "run":
		return serve(cfgPath, selfTest)
	case "status":
		return status(cfgPath)
	case "check":
		return check(cfgPath)
	default:
		printHelp(flagSet)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func serve(cfgPath string, selfTest bool) error {
	a, err := app.New(cfgPath, app.WithSelfTest(selfTest))
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := a.Start(context.Background()); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stopErr := a.Stop(ctx, reason)
	if err := a.Err(); err != nil {
		return err
	}
	return stopErr
}

func status(cfgPath string) error {
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	out, err := app.QueryStatus(ctx, cfg, logx.Nop())
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func check(cfgPath string) error {
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		return err
	}
	if err := app.CheckConfig(cfg); err != nil {
		return fmt.Errorf("%s: %w", cfgPath, err)
	}
	fmt.Printf("%s: ok (channel %d, sinks %v)\n", cfgPath, cfg.Bluetooth.Channel, cfg.Broadcast.SinksEnabled)
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `bluecast receives text over Bluetooth serial and broadcasts it.

Usage:
  bluecast [flags] [run|status|check]

Commands:
  run     listen for a phone and broadcast its messages (default)
  status  print adapter and service status, then exit
  check   validate the config file, then exit

Flags:
`)
	flagSet.PrintDefaults()
}
