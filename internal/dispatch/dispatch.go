// Package dispatch implements the request dispatcher of spec §4.10: one
// incoming request queue fanned out across two lanes — core-write
// requests (INSERT, CREATE TABLE, LOAD DATA, StartTransaction/Commit/
// Rollback) serialized onto a single writer goroutine with exclusive
// access to the core, and read-only requests (SELECT, EXPLAIN) spread
// across a bounded worker pool; Ping and Disconnect are answered directly
// without entering either lane. Responses are written back to
// their connection in request order even though workers can finish out
// of order — each Connection buffers completed-but-not-yet-due responses
// until its turn comes.
//
// Grounded on the teacher's internal/storage/scheduler.go (a mutex-
// guarded map of in-flight work plus a single background goroutine is
// the same shape scheduler.go uses for its cron jobs) and
// original_source's db/server/cnxn.rs for the Req/Resp shapes being
// routed. The worker pool and per-connection fan-out use
// golang.org/x/sync/errgroup (bounded via SetLimit) and
// github.com/google/uuid for connection identity, both already present
// in the teacher's own dependency set (uuid_helpers.go, scheduler.go's
// cron use).
package dispatch

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/weaverdb/weaverdb/internal/core"
	"github.com/weaverdb/weaverdb/internal/sql/exec"
	"github.com/weaverdb/weaverdb/internal/sql/parser"
	"github.com/weaverdb/weaverdb/internal/table"
	"github.com/weaverdb/weaverdb/internal/txn"
	"github.com/weaverdb/weaverdb/internal/wire"
)

// Engine is the slice of *core.Core the dispatcher needs; a narrow
// interface so tests can supply a fake without building a real on-disk
// core.
type Engine interface {
	Begin(isolation txn.IsolationLevel) *txn.Tx
	Commit(tx *txn.Tx) error
	Rollback(tx *txn.Tx) error
	ExecuteStatement(ctx context.Context, tx *txn.Tx, stmt parser.Statement) (exec.Schema, []exec.Row, error)
}

var _ Engine = (*core.Core)(nil)

// job is one unit of dispatched work: run it, then hand the result back.
type job struct {
	run  func() wire.Resp
	done chan wire.Resp
}

// Dispatcher owns the single core-write lane and the bounded read-worker
// pool shared by every connection.
type Dispatcher struct {
	engine Engine

	writeCh chan job
	writeWg sync.WaitGroup

	readGroup *errgroup.Group
}

// New starts a Dispatcher against engine with the given read-worker
// pool size (spec §4.10's --num-workers).
func New(engine Engine, numWorkers int) *Dispatcher {
	if numWorkers < 1 {
		numWorkers = 1
	}
	g := &errgroup.Group{}
	g.SetLimit(numWorkers)

	d := &Dispatcher{
		engine:    engine,
		writeCh:   make(chan job, 64),
		readGroup: g,
	}
	d.writeWg.Add(1)
	go d.runWriter()
	return d
}

func (d *Dispatcher) runWriter() {
	defer d.writeWg.Done()
	for j := range d.writeCh {
		j.done <- j.run()
	}
}

// submitWrite enqueues run onto the single writer lane and blocks for
// its result.
func (d *Dispatcher) submitWrite(run func() wire.Resp) wire.Resp {
	j := job{run: run, done: make(chan wire.Resp, 1)}
	d.writeCh <- j
	return <-j.done
}

// submitRead runs run on the bounded worker pool and blocks for its
// result. Errgroup's own goroutine body never returns an error here —
// failures are carried inside the wire.Resp itself (RespErr) — so the
// group's overall Wait error is always nil and is not consulted.
func (d *Dispatcher) submitRead(run func() wire.Resp) wire.Resp {
	done := make(chan wire.Resp, 1)
	d.readGroup.Go(func() error {
		done <- run()
		return nil
	})
	return <-done
}

// Close stops accepting new writer-lane work and waits for the pool to
// drain. Callers must ensure every Connection has stopped submitting
// work before calling Close.
func (d *Dispatcher) Close() error {
	close(d.writeCh)
	d.writeWg.Wait()
	return d.readGroup.Wait()
}

// Connection serves one client's Req/Resp exchange over a wire.Conn,
// sequencing requests and replaying their responses back in the order
// they arrived regardless of which lane (or which worker) finished them.
type Connection struct {
	id   uuid.UUID
	wc   *wire.Conn
	disp *Dispatcher

	tx *txn.Tx // nil outside an explicit transaction

	mu       sync.Mutex
	nextSeq  uint64
	nextSend uint64
	pending  map[uint64]wire.Resp
}

// NewConnection wraps an already-handshaken wire.Conn.
func NewConnection(wc *wire.Conn, disp *Dispatcher) *Connection {
	return &Connection{
		id:      uuid.New(),
		wc:      wc,
		disp:    disp,
		pending: make(map[uint64]wire.Resp),
	}
}

// ID is this connection's identity, used for logging.
func (c *Connection) ID() uuid.UUID { return c.id }

// Serve reads requests until the client disconnects or ctx is canceled,
// dispatching each one without waiting for it to finish before reading
// the next (spec §4.10: requests are fanned out, not processed one at a
// time on the connection's own goroutine).
func (c *Connection) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, err := c.wc.ReadReq()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("dispatch: read request: %w", err)
		}

		c.mu.Lock()
		seq := c.nextSeq
		c.nextSeq++
		c.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			c.deliver(seq, c.handle(ctx, req))
		}()

		if req.Kind == wire.ReqDisconnect {
			wg.Wait()
			return nil
		}
	}
}

// deliver stores resp for seq, then flushes every contiguous response
// from nextSend onward — the per-connection reassembly buffer spec
// §4.10 calls for, since workers can finish out of request order but a
// single TCP stream can only carry one ordering.
func (c *Connection) deliver(seq uint64, resp wire.Resp) {
	c.mu.Lock()
	c.pending[seq] = resp
	var toSend []wire.Resp
	for {
		r, ok := c.pending[c.nextSend]
		if !ok {
			break
		}
		delete(c.pending, c.nextSend)
		toSend = append(toSend, r)
		c.nextSend++
	}
	c.mu.Unlock()

	for _, r := range toSend {
		// A write error here means the connection is already gone;
		// there is nothing left to deliver it to.
		_ = c.wc.WriteResp(r)
	}
}

// handle classifies and executes a single request, returning the
// response to deliver. Classification happens before dispatch so a
// read-only SELECT never blocks behind the write lane, and a mutating
// statement never races another writer on the core.
func (c *Connection) handle(ctx context.Context, req wire.Req) wire.Resp {
	switch req.Kind {
	case wire.ReqPing:
		return wire.Resp{Kind: wire.RespPong}

	case wire.ReqStartTransaction:
		return c.disp.submitWrite(func() wire.Resp {
			if c.tx != nil {
				return errResp(fmt.Errorf("dispatch: transaction already active"))
			}
			c.tx = c.disp.engine.Begin(txn.SnapshotIsolation)
			return wire.Resp{Kind: wire.RespOk}
		})

	case wire.ReqCommit:
		return c.disp.submitWrite(func() wire.Resp {
			if c.tx == nil {
				return errResp(fmt.Errorf("dispatch: no active transaction"))
			}
			err := c.disp.engine.Commit(c.tx)
			c.tx = nil
			if err != nil {
				return errResp(err)
			}
			return wire.Resp{Kind: wire.RespOk}
		})

	case wire.ReqRollback:
		return c.disp.submitWrite(func() wire.Resp {
			if c.tx == nil {
				return errResp(fmt.Errorf("dispatch: no active transaction"))
			}
			err := c.disp.engine.Rollback(c.tx)
			c.tx = nil
			if err != nil {
				return errResp(err)
			}
			return wire.Resp{Kind: wire.RespOk}
		})

	case wire.ReqQuery:
		return c.execQuery(ctx, req.SQL)

	case wire.ReqDisconnect:
		return wire.Resp{Kind: wire.RespOk}

	default:
		return errResp(fmt.Errorf("dispatch: unsupported request kind %q", req.Kind))
	}
}

func (c *Connection) execQuery(ctx context.Context, sql string) wire.Resp {
	stmt, err := parser.Parse(sql)
	if err != nil {
		return errResp(err)
	}

	run := func() wire.Resp {
		tx := c.tx
		implicit := tx == nil
		if implicit {
			tx = c.disp.engine.Begin(txn.SnapshotIsolation)
		}
		sch, rows, err := c.disp.engine.ExecuteStatement(ctx, tx, stmt)
		if implicit {
			if err != nil {
				c.disp.engine.Rollback(tx)
			} else {
				err = c.disp.engine.Commit(tx)
			}
		}
		if err != nil {
			return errResp(err)
		}
		return rowsResp(sch, rows)
	}

	if core.IsReadOnly(stmt) {
		return c.disp.submitRead(run)
	}
	return c.disp.submitWrite(run)
}

func errResp(err error) wire.Resp {
	return wire.Resp{Kind: wire.RespErr, Err: err.Error()}
}

// rowsResp folds a query's schema/rows into one Resp the caller can hand
// to wire.Conn.WriteResp. The wire protocol's own Schema/Row(s)/end-of-
// stream framing (spec §6) is a per-row stream at the wire layer;
// Connection.handle deals in one buffered Resp per request instead,
// matching how internal/core.Query already buffers a statement's whole
// result set rather than streaming it incrementally across dispatch.
func rowsResp(sch exec.Schema, rows []exec.Row) wire.Resp {
	if sch == nil {
		return wire.Resp{Kind: wire.RespOk}
	}
	cols := make([]string, len(sch))
	for i, c := range sch {
		cols[i] = c.Name
	}
	encoded := make([][]table.Value, len(rows))
	for i, r := range rows {
		encoded[i] = r.Values
	}
	return wire.Resp{Kind: wire.RespSchema, Schema: encodeResultSet(cols, encoded)}
}
