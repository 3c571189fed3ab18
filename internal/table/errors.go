package table

import "fmt"

func errNoRoot(index string) error {
	return fmt.Errorf("table: no root page recorded for index %q", index)
}

func errNotAutoIncrement(col string) error {
	return fmt.Errorf("table: column %q is not AUTO_INCREMENT", col)
}

func errUnknownIndex(name string) error {
	return fmt.Errorf("table: no such index %q", name)
}
