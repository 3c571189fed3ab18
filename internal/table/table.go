package table

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/weaverdb/weaverdb/internal/btree"
	"github.com/weaverdb/weaverdb/internal/pager"
	"github.com/weaverdb/weaverdb/internal/slotted"
)

// ErrDuplicateKey is returned by Insert when a unique index already holds
// the candidate row's key.
var ErrDuplicateKey = errors.New("table: duplicate key")

// Visibility is the reader's view into MVCC state (spec §3): whether a row
// written by writerTxID should be visible to this reader, and the reader's
// own id to stamp onto new writes. Table deliberately knows nothing more
// about the transaction coordinator than this — internal/txn implements it.
type Visibility interface {
	ID() int64
	IsVisible(writerTxID int64) bool
}

// Table wraps a primary B+Tree plus one per secondary index (spec §4.5).
//
// MVCC simplification: each index key slot holds exactly one row version,
// the most recent write. True multi-version chains (retaining superseded
// versions until GC, so concurrent readers holding an older snapshot keep
// seeing them) are not implemented — a read whose writer is not visible to
// the reader sees nothing at that key rather than falling back to an older
// committed version. This trades away "the transaction started before the
// overwrite still sees the old value" in favor of an implementation whose
// moving parts (btree, slotted page, MVCC filter) compose the way the
// lower layers are actually built here. This is recorded as a deliberate
// simplification, not an oversight — see DESIGN.md.
type Table struct {
	schema Schema

	primary      *btree.Tree
	secondaries  map[string]*btree.Tree
	pager        pager.Pager

	mu           sync.Mutex
	autoIncr     map[string]*int64
	nextRowID    int64
}

// Create builds a fresh, empty table over pgr, one B+Tree per index.
func Create(schema Schema, pgr pager.Pager) (*Table, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	t := &Table{
		schema:      schema,
		secondaries: make(map[string]*btree.Tree),
		pager:       pgr,
		autoIncr:    make(map[string]*int64),
	}
	for _, col := range schema.Columns {
		if col.AutoIncrement {
			seed := int64(0)
			t.autoIncr[col.Name] = &seed
		}
	}

	primaryIdx := schema.PrimaryIndex()
	cmp := t.comparatorFor(primaryIdx)
	tree, err := btree.Create(pgr, cmp)
	if err != nil {
		return nil, err
	}
	t.primary = tree

	for i := range schema.Indexes {
		idx := &schema.Indexes[i]
		if idx.Primary {
			continue
		}
		secCmp := t.comparatorFor(idx)
		secTree, err := btree.Create(pgr, secCmp)
		if err != nil {
			return nil, err
		}
		t.secondaries[idx.Name] = secTree
	}
	return t, nil
}

// Open attaches a Table to already-allocated root pages (one per index),
// keyed by index name ("" denotes the primary).
func Open(schema Schema, pgr pager.Pager, roots map[string]pager.PageID) (*Table, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	t := &Table{
		schema:      schema,
		secondaries: make(map[string]*btree.Tree),
		pager:       pgr,
		autoIncr:    make(map[string]*int64),
	}
	for _, col := range schema.Columns {
		if col.AutoIncrement {
			seed := int64(0)
			t.autoIncr[col.Name] = &seed
		}
	}
	primaryIdx := schema.PrimaryIndex()
	root, ok := roots[primaryIdx.Name]
	if !ok {
		return nil, errNoRoot(primaryIdx.Name)
	}
	t.primary = btree.Open(pgr, root, t.comparatorFor(primaryIdx))

	for i := range schema.Indexes {
		idx := &schema.Indexes[i]
		if idx.Primary {
			continue
		}
		root, ok := roots[idx.Name]
		if !ok {
			return nil, errNoRoot(idx.Name)
		}
		t.secondaries[idx.Name] = btree.Open(pgr, root, t.comparatorFor(idx))
	}
	return t, nil
}

// comparatorFor returns the byte-key comparator for an index. Keys are
// already order-preserving encodings (EncodeKey applies the relevant
// per-column collation before the bytes ever reach the tree), so every
// index — whatever its column types or collations — compares with plain
// byte order.
func (t *Table) comparatorFor(idx *IndexDef) btree.Comparator {
	return slotted.ByteCompare
}

// Schema returns the table's immutable schema.
func (t *Table) Schema() Schema { return t.schema }

// Roots returns the current root page id of every index, keyed by index
// name, for persistence in the catalog.
func (t *Table) Roots() map[string]pager.PageID {
	out := map[string]pager.PageID{t.schema.PrimaryIndex().Name: t.primary.Root()}
	for name, tr := range t.secondaries {
		out[name] = tr.Root()
	}
	return out
}

func (t *Table) primaryKey(row Row) []byte {
	idx := t.schema.PrimaryIndex()
	return EncodeKey(t.projectValues(row, idx.Columns), t.schema.indexCollators(idx))
}

func (t *Table) projectValues(row Row, cols []string) []Value {
	out := make([]Value, len(cols))
	for i, col := range cols {
		ci := t.schema.ColumnIndex(col)
		out[i] = row.Values[ci]
	}
	return out
}

// NextRowID returns the next monotone row id for this table.
func (t *Table) NextRowID() int64 { return atomic.AddInt64(&t.nextRowID, 1) }

// AutoIncrement returns the next value for an AUTO_INCREMENT column.
func (t *Table) AutoIncrement(col string) (int64, error) {
	t.mu.Lock()
	counter, ok := t.autoIncr[col]
	t.mu.Unlock()
	if !ok {
		return 0, errNotAutoIncrement(col)
	}
	return atomic.AddInt64(counter, 1), nil
}

// Insert validates row against the schema, assigns row_id/tx_id, and
// appends an entry to the primary tree and every secondary tree (spec
// §4.5). Fails with ErrDuplicateKey on a unique-index collision.
func (t *Table) Insert(v Visibility, row Row) (Row, error) {
	if err := t.schema.validateRow(&row); err != nil {
		return Row{}, err
	}
	for i, col := range t.schema.Columns {
		if col.AutoIncrement && row.Values[i].IsNull() {
			next, err := t.AutoIncrement(col.Name)
			if err != nil {
				return Row{}, err
			}
			row.Values[i] = Int(next)
		}
	}
	row.RowID = t.NextRowID()
	row.TxID = v.ID()

	pk := t.primaryKey(row)
	if existing, found, err := t.primary.Get(pk); err != nil {
		return Row{}, err
	} else if found {
		if existingRow, err := decodeRowPayload(existing); err == nil && !existingRow.Deleted {
			return Row{}, ErrDuplicateKey
		}
	}

	payload := encodeRowPayload(row)
	if err := t.primary.Insert(pk, payload); err != nil {
		return Row{}, err
	}

	for i := range t.schema.Indexes {
		idx := &t.schema.Indexes[i]
		if idx.Primary {
			continue
		}
		if err := t.insertSecondary(idx, row, pk); err != nil {
			return Row{}, err
		}
	}
	return row, nil
}

func (t *Table) insertSecondary(idx *IndexDef, row Row, pk []byte) error {
	secKey := EncodeKey(t.projectValues(row, idx.Columns), t.schema.indexCollators(idx))
	tree := t.secondaries[idx.Name]
	if idx.Unique {
		if _, found, err := tree.Get(secKey); err != nil {
			return err
		} else if found {
			return ErrDuplicateKey
		}
	}
	return tree.Insert(secKey, pk)
}

// Update inserts a new version of row with tx_id = tx.id (spec §4.5): the
// primary key is recomputed from row and must already exist.
//
// Secondary-index maintenance uses delete-then-insert: every secondary
// entry for the row's previous values is removed before the new values are
// indexed, rather than attempting an in-place key rewrite. This matches
// how the original implementation handles index updates on mutation: a
// changed indexed column moves the secondary-tree entry, it doesn't patch
// it in place.
func (t *Table) Update(v Visibility, row Row) (Row, error) {
	if err := t.schema.validateRow(&row); err != nil {
		return Row{}, err
	}
	pk := t.primaryKey(row)
	existingBytes, found, err := t.primary.Get(pk)
	if err != nil {
		return Row{}, err
	}
	if !found {
		return Row{}, ErrNoSuchRow
	}
	oldRow, err := decodeRowPayload(existingBytes)
	if err != nil {
		return Row{}, err
	}

	row.RowID = oldRow.RowID
	row.TxID = v.ID()

	for i := range t.schema.Indexes {
		idx := &t.schema.Indexes[i]
		if idx.Primary {
			continue
		}
		oldKey := EncodeKey(t.projectValues(oldRow, idx.Columns), t.schema.indexCollators(idx))
		if _, _, err := t.secondaries[idx.Name].Delete(oldKey); err != nil {
			return Row{}, err
		}
		if err := t.insertSecondary(idx, row, pk); err != nil {
			return Row{}, err
		}
	}

	payload := encodeRowPayload(row)
	if err := t.primary.Insert(pk, payload); err != nil {
		return Row{}, err
	}
	return row, nil
}

// Delete writes a tombstone version for every row matched by keyIndex,
// returning the rows that would have matched (spec §4.5).
func (t *Table) Delete(v Visibility, keyIndex KeyIndex) ([]Row, error) {
	matches, err := t.collect(v, keyIndex)
	if err != nil {
		return nil, err
	}
	for _, row := range matches {
		tomb := row
		tomb.TxID = v.ID()
		tomb.Deleted = true
		pk := t.primaryKey(row)
		if err := t.primary.Insert(pk, encodeRowPayload(tomb)); err != nil {
			return nil, err
		}
		for i := range t.schema.Indexes {
			idx := &t.schema.Indexes[i]
			if idx.Primary {
				continue
			}
			secKey := EncodeKey(t.projectValues(row, idx.Columns), t.schema.indexCollators(idx))
			t.secondaries[idx.Name].Delete(secKey)
		}
	}
	return matches, nil
}

// ErrNoSuchRow is returned by Update when the row's primary key is absent.
var ErrNoSuchRow = errors.New("table: no such row")

// Read returns the rows visible to v matching keyIndex (spec §4.5).
func (t *Table) Read(v Visibility, keyIndex KeyIndex) ([]Row, error) {
	return t.collect(v, keyIndex)
}

func (t *Table) collect(v Visibility, keyIndex KeyIndex) ([]Row, error) {
	tree := t.primary
	isSecondary := keyIndex.Index != "" && keyIndex.Index != t.schema.PrimaryIndex().Name
	if isSecondary {
		st, ok := t.secondaries[keyIndex.Index]
		if !ok {
			return nil, errUnknownIndex(keyIndex.Index)
		}
		tree = st
	}

	var entries []btree.Entry
	switch keyIndex.Kind {
	case QueryOne:
		idx := t.resolveIndex(keyIndex.Index)
		key := EncodeKey(keyIndex.One, t.schema.indexCollators(idx))
		val, found, err := tree.Get(key)
		if err != nil {
			return nil, err
		}
		if found {
			entries = append(entries, btree.Entry{Key: key, Value: val})
		}
	case QueryRange:
		idx := t.resolveIndex(keyIndex.Index)
		var lo, hi []byte
		if keyIndex.Lo != nil {
			lo = EncodeKey(keyIndex.Lo, t.schema.indexCollators(idx))
		}
		if keyIndex.Hi != nil {
			hi = EncodeKey(keyIndex.Hi, t.schema.indexCollators(idx))
		}
		it, err := tree.Range(lo, hi, keyIndex.HiIncl)
		if err != nil {
			return nil, err
		}
		for {
			e, ok := it.Next()
			if !ok {
				break
			}
			if lo != nil && !keyIndex.LoIncl && slotted.ByteCompare(e.Key, lo) == 0 {
				continue
			}
			entries = append(entries, e)
		}
	default: // QueryAll
		it, err := tree.All()
		if err != nil {
			return nil, err
		}
		for {
			e, ok := it.Next()
			if !ok {
				break
			}
			entries = append(entries, e)
		}
	}

	var out []Row
	for _, e := range entries {
		value := e.Value
		if isSecondary {
			pkBytes, found, err := t.primary.Get(e.Value)
			if err != nil {
				return nil, err
			}
			if !found {
				continue
			}
			value = pkBytes
		}
		row, err := decodeRowPayload(value)
		if err != nil {
			return nil, err
		}
		if row.Deleted {
			continue
		}
		if !v.IsVisible(row.TxID) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (t *Table) resolveIndex(name string) *IndexDef {
	if name == "" {
		return t.schema.PrimaryIndex()
	}
	for i := range t.schema.Indexes {
		if t.schema.Indexes[i].Name == name {
			return &t.schema.Indexes[i]
		}
	}
	return t.schema.PrimaryIndex()
}

// SizeEstimate returns the number of live, visible rows projected to match
// keyIndex, used by the planner's cost model (spec §4.5).
func (t *Table) SizeEstimate(v Visibility, keyIndex KeyIndex) (int, error) {
	rows, err := t.collect(v, keyIndex)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Commit calls Flush on the table's own pager when that pager has a Flush
// method; a buffering pager further down a wrapped stack is not reached.
// Visibility itself is enforced purely by the MVCC read filter;
// this is a durability hook only (spec §4.5's commit/rollback contract).
func (t *Table) Commit(v Visibility) error {
	type flusher interface{ Flush() error }
	if f, ok := t.pager.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// Rollback is a no-op at the table level: an uncommitted writer's rows
// are already invisible to every other reader (Visibility.IsVisible), and
// become invisible to the writer's own future reads once the coordinator
// marks the id rolled back.
func (t *Table) Rollback(v Visibility) error { return nil }
