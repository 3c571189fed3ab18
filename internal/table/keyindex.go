package table

// QueryKind selects the shape of a KeyIndex read (spec §4.5).
type QueryKind int

const (
	QueryAll QueryKind = iota
	QueryRange
	QueryOne
)

// KeyIndex names an index and a query shape against it: All, Range(lo, hi)
// with independent inclusive/exclusive bounds, or One(key).
type KeyIndex struct {
	Index  string
	Kind   QueryKind
	One    []Value
	Lo, Hi []Value
	LoIncl bool
	HiIncl bool
}

// All builds a KeyIndex selecting every row visible via the named index.
func All(index string) KeyIndex { return KeyIndex{Index: index, Kind: QueryAll} }

// One builds a KeyIndex selecting the single row (if any) at key.
func One(index string, key ...Value) KeyIndex {
	return KeyIndex{Index: index, Kind: QueryOne, One: key}
}

// Range builds a KeyIndex over [lo, hi] per the given inclusivity. A nil lo
// or hi leaves that bound open.
func Range(index string, lo, hi []Value, loIncl, hiIncl bool) KeyIndex {
	return KeyIndex{Index: index, Kind: QueryRange, Lo: lo, Hi: hi, LoIncl: loIncl, HiIncl: hiIncl}
}
