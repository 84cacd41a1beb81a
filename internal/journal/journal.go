// Package journal keeps an optional SQLite record of every build and
// deploy, read back by the history command.
package journal

import (
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/nixlim/frida-reload/internal/bundle"
	"github.com/nixlim/frida-reload/internal/reload"
)

const (
	writeChannelSize = 256
	batchSize        = 32
	flushInterval    = 200 * time.Millisecond
	closeTimeout     = 5 * time.Second
)

// Journal records builds and deploys of one run. Record methods never
// block the caller on disk I/O.
type Journal interface {
	RecordBuild(r bundle.Result)
	RecordDeploy(d reload.Deploy)
	Close() error
}

// Run identifies the run a journal's rows belong to.
type Run struct {
	Target     string
	Package    string
	Device     string
	Spawn      string
	EntryPoint string
	StartedAt  time.Time
}

// Nop discards everything. It is used when no journal is configured or
// the database cannot be opened.
type Nop struct{}

func (Nop) RecordBuild(bundle.Result)  {}
func (Nop) RecordDeploy(reload.Deploy) {}
func (Nop) Close() error               { return nil }

type writeOp struct {
	build  *bundle.Result
	deploy *reload.Deploy
}

type SQLiteJournal struct {
	db            *sql.DB
	runID         int64
	log           logr.Logger
	writeChan     chan writeOp
	droppedWrites atomic.Int64
	doneChan      chan struct{}
	closed        atomic.Bool
}

// NewSQLiteJournal opens dbPath and starts a new run in it.
func NewSQLiteJournal(dbPath string, run Run, log logr.Logger) (*SQLiteJournal, error) {
	db, err := OpenDB(dbPath)
	if err != nil {
		return nil, err
	}

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	res, err := db.Exec(
		"INSERT INTO runs (target, package, device, spawn, entry_point, started_at) VALUES (?, ?, ?, ?, ?, ?)",
		run.Target, run.Package, run.Device, run.Spawn, run.EntryPoint, run.StartedAt.UnixNano(),
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("starting run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("reading run id: %w", err)
	}

	j := &SQLiteJournal{
		db:        db,
		runID:     runID,
		log:       log,
		writeChan: make(chan writeOp, writeChannelSize),
		doneChan:  make(chan struct{}),
	}
	go j.writerLoop()
	return j, nil
}

func (j *SQLiteJournal) RecordBuild(r bundle.Result) {
	j.sendWrite(writeOp{build: &r})
}

func (j *SQLiteJournal) RecordDeploy(d reload.Deploy) {
	j.sendWrite(writeOp{deploy: &d})
}

func (j *SQLiteJournal) DroppedWrites() int64 {
	return j.droppedWrites.Load()
}

// Close flushes pending writes and closes the database.
func (j *SQLiteJournal) Close() error {
	if !j.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(j.writeChan)

	select {
	case <-j.doneChan:
	case <-time.After(closeTimeout):
		j.log.Info("Journal writer did not finish in time, closing anyway", "timeout", closeTimeout)
	}
	return j.db.Close()
}

func (j *SQLiteJournal) sendWrite(op writeOp) {
	if j.closed.Load() {
		return
	}
	// A send racing Close may hit the closed channel.
	defer func() { _ = recover() }()
	select {
	case j.writeChan <- op:
	default:
		j.droppedWrites.Add(1)
		j.log.Info("Journal write channel full, dropped a record")
	}
}

func (j *SQLiteJournal) writerLoop() {
	defer close(j.doneChan)

	batch := make([]writeOp, 0, batchSize)
	flushTimer := time.NewTimer(flushInterval)
	defer flushTimer.Stop()

	for {
		select {
		case op, ok := <-j.writeChan:
			if !ok {
				if len(batch) > 0 {
					j.flushBatch(batch)
				}
				return
			}

			batch = append(batch, op)

			if len(batch) >= batchSize {
				j.flushBatch(batch)
				batch = batch[:0]
				flushTimer.Reset(flushInterval)
			}

		case <-flushTimer.C:
			if len(batch) > 0 {
				j.flushBatch(batch)
				batch = batch[:0]
			}
			flushTimer.Reset(flushInterval)
		}
	}
}

func (j *SQLiteJournal) flushBatch(batch []writeOp) {
	tx, err := j.db.Begin()
	if err != nil {
		j.log.Error(err, "Failed to begin journal transaction")
		return
	}
	defer func() { _ = tx.Rollback() }()

	for _, op := range batch {
		var err error
		switch {
		case op.build != nil:
			err = j.writeBuild(tx, op.build)
		case op.deploy != nil:
			err = j.writeDeploy(tx, op.deploy)
		}
		if err != nil {
			j.log.Error(err, "Failed to write journal record")
		}
	}

	if err := tx.Commit(); err != nil {
		j.log.Error(err, "Failed to commit journal transaction")
	}
}

func (j *SQLiteJournal) writeBuild(tx *sql.Tx, r *bundle.Result) error {
	_, err := tx.Exec(
		"INSERT INTO builds (run_id, started_at, duration_ms, ok, inputs, bytes, warnings, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		j.runID, r.Started.UnixNano(), r.Duration.Milliseconds(), boolInt(r.OK()),
		r.Inputs, r.Bytes, r.Warnings, errText(r.Err),
	)
	return err
}

func (j *SQLiteJournal) writeDeploy(tx *sql.Tx, d *reload.Deploy) error {
	_, err := tx.Exec(
		"INSERT INTO deploys (run_id, at, pid, spawned, initial, ok, error) VALUES (?, ?, ?, ?, ?, ?, ?)",
		j.runID, d.At.UnixNano(), d.PID, boolInt(d.Spawned), boolInt(d.Initial), boolInt(d.Err == nil), errText(d.Err),
	)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func errText(err error) any {
	if err == nil {
		return nil
	}
	return err.Error()
}
