// Command rstream replicates a rooted set of regular files from a source
// host to one or more target hosts in near real time (spec.md §1).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"syscall"

	"github.com/golang/glog"
	"github.com/urfave/cli"

	"github.com/edwiny/rstream/client"
	"github.com/edwiny/rstream/cmn"
	"github.com/edwiny/rstream/resume"
	"github.com/edwiny/rstream/server"
)

var (
	listenFlag = cli.BoolFlag{Name: "l", Usage: "server mode; absence means client mode"}
	portFlag   = cli.IntFlag{Name: "P", Value: cmn.DefaultPort, Usage: "TCP port"}
	dirFlag    = cli.StringFlag{Name: "d", Usage: "shared/working directory root", Required: true}
	regexFlag  = cli.StringFlag{Name: "r", Value: ".*", Usage: "server: include regex for filenames"}
	echoFlag   = cli.BoolFlag{Name: "s", Usage: "client: also write received bytes to standard output"}
	gzipFlag   = cli.BoolFlag{Name: "z", Usage: "server: gzip block payloads"}
	hashFlag   = cli.BoolFlag{Name: "c", Usage: "server: compute and advertise SHA-1 digests"}
	pidFlag    = cli.StringFlag{Name: "p", Value: cmn.DefaultPidFile, Usage: "pid file path"}
	fgFlag     = cli.BoolFlag{Name: "f", Usage: "run in foreground; otherwise detach"}
	verboseFlag = cli.IntFlag{Name: "v", Usage: "verbosity level as an integer (-v N); repeating the flag does not add up"}
)

func main() {
	app := cli.NewApp()
	app.Name = "rstream"
	app.Usage = "replicate append-heavy files from a source host to target hosts"
	app.ArgsUsage = "[source-host...]"
	app.Flags = []cli.Flag{
		listenFlag, portFlag, dirFlag, regexFlag, echoFlag,
		gzipFlag, hashFlag, pidFlag, fgFlag, verboseFlag,
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		glog.Errorf("rstream: %v", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	// Hand -v to glog so its glog.V(n) guards use the same level.
	if err := flag.Set("v", strconv.Itoa(cfg.Verbosity)); err != nil {
		glog.Warningf("rstream: set glog verbosity: %v", err)
	}

	if !cfg.Foreground {
		if err := daemonize(); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
	}
	if err := writePidFile(cfg.PidFile); err != nil {
		return cli.NewExitError(fmt.Sprintf("write pid file: %v", err), 1)
	}
	defer removePidFile(cfg.PidFile)

	if cfg.Listen {
		return runServer(cfg)
	}
	return runClient(cfg)
}

func buildConfig(c *cli.Context) (*cmn.Config, error) {
	include, err := regexp.Compile(c.String("r"))
	if err != nil {
		return nil, fmt.Errorf("invalid -r regex: %w", err)
	}
	cfg := &cmn.Config{
		Listen:     c.Bool("l"),
		Port:       c.Int("P"),
		Dir:        c.String("d"),
		Include:    include,
		StdoutEcho: c.Bool("s"),
		Gzip:       c.Bool("z"),
		Checksums:  c.Bool("c"),
		PidFile:    c.String("p"),
		Foreground: c.Bool("f"),
		Verbosity:  c.Int("v"),
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("-d is required")
	}
	if !cfg.Listen {
		cfg.Sources = expandHosts([]string(c.Args()))
		if len(cfg.Sources) == 0 {
			return nil, fmt.Errorf("client mode requires at least one source hostname")
		}
	}
	return cfg, nil
}

func runServer(cfg *cmn.Config) error {
	eng, err := server.New(cfg)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	installSignalHandler(eng.Stop)
	glog.Infof("rstream: server listening on :%d, root %s", cfg.Port, cfg.Dir)
	if err := eng.Run(); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}

func runClient(cfg *cmn.Config) error {
	store, err := resume.Open(cfg.Dir + "/.rstream-resume.db")
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer store.Close()

	eng, err := client.New(cfg, store)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	installSignalHandler(eng.Stop)
	glog.Infof("rstream: client tracking sources %v under %s", cfg.Sources, cfg.Dir)
	if err := eng.Run(); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}

// installSignalHandler implements SPEC_FULL.md §12's structured shutdown:
// INT/TERM/QUIT close the engine's StopCh so an in-flight loop iteration
// finishes before exit (spec.md §6 "Signals").
func installSignalHandler(stop *cmn.StopCh) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		sig := <-ch
		glog.Infof("rstream: received %v, shutting down", sig)
		stop.Close()
	}()
}
