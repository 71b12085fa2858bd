package operator

import (
	"github.com/polarsignals/tsflow/transform"
)

// Cursor is a position in the output of a processor, addressed by slot,
// group within the slot and row within the group.
type Cursor struct {
	slot  int
	group int
	row   int
}

// Advance calls emit for up to limit rows starting at the cursor and moves
// the cursor past them. Empty groups and slots are skipped. done is true
// once every row has been emitted.
func (c *Cursor) Advance(out [][]transform.GroupOutput, limit int, emit func(slot, group, row int)) (n int, done bool) {
	for c.seek(out) {
		if n == limit {
			return n, false
		}
		emit(c.slot, c.group, c.row)
		c.row++
		n++
	}
	return n, true
}

// seek moves the cursor to the next row to emit. It returns false if there
// is none.
func (c *Cursor) seek(out [][]transform.GroupOutput) bool {
	for c.slot < len(out) {
		groups := out[c.slot]
		for c.group < len(groups) {
			if c.row < len(groups[c.group].Rows) {
				return true
			}
			c.group++
			c.row = 0
		}
		c.slot++
		c.group = 0
	}
	return false
}
