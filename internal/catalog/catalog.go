// Package catalog implements the persisted system catalog of spec §6:
// the reserved `weaver.schemata` and `weaver.tables` tables (user schema
// and table DDL, keyed for startup re-opening) plus `weaver.cost` (the
// planner's cost rows, overwritten from defaults at startup).
//
// Grounded on the teacher's internal/storage/catalog.go CatalogManager
// (RegisterTable/GetTables idiom), generalized from its in-memory maps to
// real internal/table.Table instances so the catalog survives a restart
// the way spec §6 requires ("the core re-opens each table at startup by
// deserializing table_ddl_json"). JSON (de)serialization of ColumnDef/
// IndexDef/Schema uses encoding/json directly: every field involved is
// already exported, so no custom (Un)MarshalJSON is needed — matching the
// teacher's own plain-struct JSON use in internal/driver/driver.go's wire
// messages.
package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/weaverdb/weaverdb/internal/sql/planner"
	"github.com/weaverdb/weaverdb/internal/table"
)

const namespace = "weaver"

// systemVisibility is the catalog's own writer/reader identity. The
// catalog is core-internal bookkeeping, not user data — it has no
// concurrent transactions of its own, so every version it writes is
// visible to every subsequent read it performs (tx id 0, never rolled
// back).
type systemVisibility struct{}

func (systemVisibility) ID() int64                  { return 0 }
func (systemVisibility) IsVisible(writerTxID int64) bool { return true }

// SystemVisibility is the Visibility the catalog's own tables are read
// and written under.
var SystemVisibility table.Visibility = systemVisibility{}

// SchemataSchema describes weaver.schemata(id, name).
func SchemataSchema() table.Schema {
	return table.Schema{
		Namespace: namespace,
		Name:      "schemata",
		Columns: []table.ColumnDef{
			{Name: "id", Type: table.KindInt, AutoIncrement: true},
			{Name: "name", Type: table.KindString},
		},
		Indexes: []table.IndexDef{
			{Name: "primary", Columns: []string{"id"}, Unique: true, Primary: true},
			{Name: "by_name", Columns: []string{"name"}, Unique: true},
		},
		EngineKey: "weaver",
	}
}

// TablesSchema describes weaver.tables(id, schema_id, name, table_ddl_json).
func TablesSchema() table.Schema {
	return table.Schema{
		Namespace: namespace,
		Name:      "tables",
		Columns: []table.ColumnDef{
			{Name: "id", Type: table.KindInt, AutoIncrement: true},
			{Name: "schema_id", Type: table.KindInt},
			{Name: "name", Type: table.KindString},
			{Name: "table_ddl_json", Type: table.KindBlob},
		},
		Indexes: []table.IndexDef{
			{Name: "primary", Columns: []string{"id"}, Unique: true, Primary: true},
		},
		EngineKey: "weaver",
	}
}

// CostSchema describes weaver.cost(op, base, row_factor).
func CostSchema() table.Schema {
	return table.Schema{
		Namespace: namespace,
		Name:      "cost",
		Columns: []table.ColumnDef{
			{Name: "op", Type: table.KindString},
			{Name: "base", Type: table.KindFloat},
			{Name: "row_factor", Type: table.KindFloat},
		},
		Indexes: []table.IndexDef{
			{Name: "primary", Columns: []string{"op"}, Unique: true, Primary: true},
		},
		EngineKey: "weaver",
	}
}

// TableEntry is one row of weaver.tables, decoded back into a usable
// schema for the core to hand to its storage engine at startup.
type TableEntry struct {
	ID       int64
	SchemaID int64
	Name     string
	DDL      table.Schema
}

// Catalog wraps the three system tables behind the operations the core
// needs: registering a logical schema/table, listing everything for
// startup re-open, and refreshing the cost table from defaults.
type Catalog struct {
	schemata *table.Table
	tables   *table.Table
	cost     *table.Table
}

// New wraps already created-or-opened system tables. Creating vs.
// re-opening those tables (via table.Create / table.Open against
// whatever pager the core chose for them) is the core's job, not the
// catalog's — this package only knows how to use them once they exist.
func New(schemata, tables, cost *table.Table) *Catalog {
	return &Catalog{schemata: schemata, tables: tables, cost: cost}
}

// RegisterSchema inserts a new logical schema name, or returns the id of
// the one already registered under that name.
func (c *Catalog) RegisterSchema(name string) (int64, error) {
	if id, ok, err := c.lookupSchema(name); err != nil {
		return 0, err
	} else if ok {
		return id, nil
	}
	row, err := c.schemata.Insert(SystemVisibility, table.Row{
		Values: []table.Value{table.Null(), table.String(name)},
	})
	if err != nil {
		return 0, err
	}
	return row.Values[0].Int, nil
}

func (c *Catalog) lookupSchema(name string) (int64, bool, error) {
	rows, err := c.schemata.Read(SystemVisibility, table.One("by_name", table.String(name)))
	if err != nil {
		return 0, false, err
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[0].Values[0].Int, true, nil
}

// RegisterTable persists a table's DDL under the given schema, so the
// core can re-open it at startup (spec §6). If a row already exists for
// schemaID+name, it is overwritten in place.
func (c *Catalog) RegisterTable(schemaID int64, name string, ddl table.Schema) error {
	ddlJSON, err := json.Marshal(ddl)
	if err != nil {
		return fmt.Errorf("catalog: marshal table ddl: %w", err)
	}
	existing, err := c.findTableRow(schemaID, name)
	if err != nil {
		return err
	}
	if existing != nil {
		existing.Values[3] = table.Blob(ddlJSON)
		_, err := c.tables.Update(SystemVisibility, *existing)
		return err
	}
	_, err = c.tables.Insert(SystemVisibility, table.Row{
		Values: []table.Value{table.Null(), table.Int(schemaID), table.String(name), table.Blob(ddlJSON)},
	})
	return err
}

func (c *Catalog) findTableRow(schemaID int64, name string) (*table.Row, error) {
	rows, err := c.tables.Read(SystemVisibility, table.All(""))
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].Values[1].Int == schemaID && rows[i].Values[2].Str == name {
			return &rows[i], nil
		}
	}
	return nil, nil
}

// ListTables returns every persisted table entry, DDL already decoded,
// for the core to re-open at startup.
func (c *Catalog) ListTables() ([]TableEntry, error) {
	rows, err := c.tables.Read(SystemVisibility, table.All(""))
	if err != nil {
		return nil, err
	}
	out := make([]TableEntry, 0, len(rows))
	for _, row := range rows {
		var ddl table.Schema
		if err := json.Unmarshal(row.Values[3].Blob, &ddl); err != nil {
			return nil, fmt.Errorf("catalog: unmarshal table ddl for %s: %w", row.Values[2].Str, err)
		}
		out = append(out, TableEntry{
			ID:       row.Values[0].Int,
			SchemaID: row.Values[1].Int,
			Name:     row.Values[2].Str,
			DDL:      ddl,
		})
	}
	return out, nil
}

// RefreshCost overwrites weaver.cost from the given cost table's current
// snapshot (spec §6: "overwritten from defaults at startup").
func (c *Catalog) RefreshCost(costs *planner.CostTable) error {
	if _, err := c.cost.Delete(SystemVisibility, table.All("")); err != nil {
		return err
	}
	for op, cost := range costs.Snapshot() {
		_, err := c.cost.Insert(SystemVisibility, table.Row{
			Values: []table.Value{table.String(op), table.Float(cost.Base), table.Float(cost.RowFactor)},
		})
		if err != nil {
			return err
		}
	}
	return nil
}
