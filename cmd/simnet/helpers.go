package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"p2p-simnet/internal/paths"
	"p2p-simnet/internal/scenario"
	"p2p-simnet/internal/storage/tracebolt"
	"p2p-simnet/internal/trace"
)

// run executes the command described by opts. The returned code is 3 when
// the scenario ran but some steps failed.
func run(opts *options, out io.Writer, log *zap.Logger) (int, error) {
	dbPath := opts.db
	if dbPath == "" && (opts.save || opts.list || opts.show != "") {
		dbPath = paths.TraceDB("")
	}

	if opts.list || opts.show != "" {
		store, err := tracebolt.Open(dbPath)
		if err != nil {
			return 0, err
		}
		defer store.Close()
		if opts.list {
			return 0, listRuns(store, out)
		}
		return 0, showRun(store, opts.show, out)
	}

	sc, err := scenario.LoadFile(opts.scenario)
	if err != nil {
		return 0, err
	}
	res, err := scenario.Run(sc, nil, scenario.WithLogger(log))
	if err != nil {
		return 0, err
	}

	if !opts.quiet {
		for _, ev := range res.Events {
			fmt.Fprintln(out, ev)
		}
	}
	for _, f := range res.Failures {
		fmt.Fprintf(out, "step %d (%s) failed: %v\n", f.Step, f.Op, f.Err)
	}
	fmt.Fprintf(out, "steps=%d events=%d received=%d failures=%d elapsed=%s\n",
		res.StepCount, len(res.Events), len(res.Received), len(res.Failures), res.Elapsed)
	fmt.Fprintf(out, "digest %s\n", hex.EncodeToString(res.Digest[:]))

	if dbPath != "" {
		runID := opts.runID
		if runID == "" {
			runID = defaultRunID(opts.scenario, res.Digest)
		}
		if err := persist(dbPath, runID, res.Events, out); err != nil {
			return 0, err
		}
		log.Info("trace stored", zap.String("db", dbPath), zap.String("run", runID))
	}

	if !res.OK() {
		return 3, nil
	}
	return 0, nil
}

func defaultRunID(scenarioPath string, digest [32]byte) string {
	base := strings.TrimSuffix(filepath.Base(scenarioPath), filepath.Ext(scenarioPath))
	return fmt.Sprintf("%s-%s", base, hex.EncodeToString(digest[:4]))
}

// persist replays events into a new run. Storing the same run id again is
// accepted when the stored digest matches.
func persist(dbPath, runID string, events []trace.Event, out io.Writer) error {
	store, err := tracebolt.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Recorder(runID)
	if errors.Is(err, tracebolt.ErrRunExists) {
		stored, derr := store.Digest(runID)
		if derr != nil {
			return derr
		}
		if stored != trace.Digest(events) {
			return errors.Newf("run %q already stored with a different digest", runID)
		}
		fmt.Fprintf(out, "run %s already stored, digest matches\n", runID)
		return nil
	}
	if err != nil {
		return err
	}
	for _, ev := range events {
		rec.Record(ev)
	}
	if err := rec.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "stored run %s in %s\n", runID, dbPath)
	return nil
}

func listRuns(store *tracebolt.Store, out io.Writer) error {
	runs, err := store.Runs()
	if err != nil {
		return err
	}
	for _, id := range runs {
		info, err := store.Info(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%-32s events=%-6d digest=%s saved=%s\n",
			id, info.Count, hex.EncodeToString(info.Digest[:8]), info.SavedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func showRun(store *tracebolt.Store, runID string, out io.Writer) error {
	events, err := store.Events(runID)
	if err != nil {
		return err
	}
	for _, ev := range events {
		fmt.Fprintln(out, ev)
	}
	ok, err := store.Verify(runID)
	if err != nil {
		return err
	}
	digest := trace.Digest(events)
	fmt.Fprintf(out, "digest %s verified=%v\n", hex.EncodeToString(digest[:]), ok)
	return nil
}
