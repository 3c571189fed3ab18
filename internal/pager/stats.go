package pager

import "github.com/dustin/go-humanize"

// Stats renders human-readable pager occupancy, used by EXPLAIN output.
func Stats(p Pager) (string, error) {
	n, err := p.Len()
	if err != nil {
		return "", err
	}
	total := int64(n) * int64(p.PageSize())
	return humanize.Comma(int64(n)) + " pages (" + humanize.Bytes(uint64(total)) + ")", nil
}
