package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/weaverdb/weaverdb/internal/pager"
)

// registry persists the one thing the VirtualPagerTable and internal/table
// can't recover on their own: which virtual-pager id and which named
// btree roots belong to which "namespace.name" table. It is the small
// bridge between catalog-level DDL (which doesn't know about pages) and
// storage-level roots (which don't know about names).
//
// Reserved ids 0/1/2 are fixed for weaver.schemata/tables/cost so the
// catalog itself can be found before anything has been read out of it;
// every other table gets the next free id on first create.
type registry struct {
	mu   sync.Mutex
	path string

	NextID uint32                           `json:"next_id"`
	IDs    map[string]uint32                `json:"ids"`
	Roots  map[string]map[string]pager.PageID `json:"roots"`
}

const (
	vidSchemata uint32 = 0
	vidTables   uint32 = 1
	vidCost     uint32 = 2
)

func registryPath(workDir string) string {
	return filepath.Join(workDir, "weaver.catalog.json")
}

func loadRegistry(workDir string) (*registry, error) {
	path := registryPath(workDir)
	r := &registry{
		path:   path,
		NextID: 3,
		IDs: map[string]uint32{
			"weaver.schemata": vidSchemata,
			"weaver.tables":   vidTables,
			"weaver.cost":     vidCost,
		},
		Roots: map[string]map[string]pager.PageID{},
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("core: read registry: %w", err)
	}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("core: parse registry: %w", err)
	}
	r.path = path
	if r.IDs == nil {
		r.IDs = map[string]uint32{}
	}
	if r.Roots == nil {
		r.Roots = map[string]map[string]pager.PageID{}
	}
	return r, nil
}

// lookup returns the virtual-pager id for fullName, allocating a fresh one
// if this is the first time it's been seen, plus whatever roots were
// persisted for it (nil/empty for a brand-new table).
func (r *registry) lookup(fullName string) (vid uint32, roots map[string]pager.PageID, known bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vid, known = r.IDs[fullName]
	if !known {
		vid = r.NextID
		r.NextID++
		r.IDs[fullName] = vid
	}
	return vid, r.Roots[fullName], known
}

// record saves fullName's roots (after every Create/Insert that might
// have grown a btree, roots can move) and persists the registry to disk.
func (r *registry) record(fullName string, vid uint32, roots map[string]pager.PageID) error {
	r.mu.Lock()
	r.IDs[fullName] = vid
	r.Roots[fullName] = roots
	data, err := json.MarshalIndent(r, "", "  ")
	path := r.path
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("core: marshal registry: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("core: write registry: %w", err)
	}
	return nil
}
