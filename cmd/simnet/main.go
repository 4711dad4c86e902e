package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	scenario string
	db       string
	save     bool
	runID    string
	list     bool
	show     string
	verbose  bool
	quiet    bool
}

func parseFlags(args []string) (*options, error) {
	var o options
	fs := pflag.NewFlagSet("simnet", pflag.ContinueOnError)
	fs.StringVarP(&o.scenario, "scenario", "s", "", "scenario YAML file to run")
	fs.StringVar(&o.db, "db", "", "trace database path (enables persistence)")
	fs.BoolVar(&o.save, "save", false, "persist the trace in the default data dir")
	fs.StringVar(&o.runID, "run", "", "run id to store the trace under (default: <scenario>-<digest>)")
	fs.BoolVar(&o.list, "list", false, "list stored runs and exit")
	fs.StringVar(&o.show, "show", "", "print a stored run and exit")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")
	fs.BoolVarP(&o.quiet, "quiet", "q", false, "print only the summary")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.scenario == "" && !o.list && o.show == "" {
		return nil, errors.New("one of --scenario, --list or --show is required")
	}
	return &o, nil
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.OutputPaths = []string{"stderr"}
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "simnet: %v\n", err)
		os.Exit(2)
	}

	log := newLogger(opts.verbose)
	defer func() { _ = log.Sync() }()

	code, err := run(opts, os.Stdout, log)
	if err != nil {
		log.Error("simnet failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "simnet: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}
