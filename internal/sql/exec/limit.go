package exec

import "context"

// limitIterator implements planner.Limit: skips offset rows, then
// short-circuits after n more (spec §4.9).
type limitIterator struct {
	child    Iterator
	n        int64
	offset   int64
	produced int64
	skipped  int64
	done     bool
}

func newLimitIterator(child Iterator, n, offset int64) *limitIterator {
	return &limitIterator{child: child, n: n, offset: offset}
}

func (l *limitIterator) Schema() Schema { return l.child.Schema() }

func (l *limitIterator) Next(ctx context.Context) (Row, bool, error) {
	if l.done {
		return Row{}, false, nil
	}
	for l.skipped < l.offset {
		if _, ok, err := l.child.Next(ctx); err != nil {
			return Row{}, false, err
		} else if !ok {
			l.done = true
			return Row{}, false, nil
		}
		l.skipped++
	}
	if l.produced >= l.n {
		l.done = true
		l.child.Close()
		return Row{}, false, nil
	}
	row, ok, err := l.child.Next(ctx)
	if err != nil || !ok {
		l.done = true
		return Row{}, false, err
	}
	l.produced++
	return row, true, nil
}

func (l *limitIterator) Close() error { return l.child.Close() }
