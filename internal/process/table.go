package process

import "fmt"

// Table is the fixed-capacity process table. Slots are filled once during
// boot discovery and never removed; restart reuses the slot in place.
type Table struct {
	slots  []*Process
	sealed bool
}

// NewTable creates a table with the given capacity.
func NewTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = 4
	}
	return &Table{slots: make([]*Process, 0, capacity)}
}

// Insert assigns the next free slot and returns its index. Fails when the
// table is full or sealed.
func (t *Table) Insert(p *Process) (int, error) {
	if t.sealed {
		return 0, fmt.Errorf("process table sealed")
	}
	if len(t.slots) == cap(t.slots) {
		return 0, fmt.Errorf("process table full (%d slots)", cap(t.slots))
	}
	p.ID = len(t.slots)
	t.slots = append(t.slots, p)
	return p.ID, nil
}

// Seal forbids further inserts. Called when boot discovery completes.
func (t *Table) Seal() { t.sealed = true }

// Get resolves an index to its process. Callers re-resolve at every entry
// point instead of holding the pointer across yield or fault boundaries.
func (t *Table) Get(id int) (*Process, bool) {
	if id < 0 || id >= len(t.slots) {
		return nil, false
	}
	return t.slots[id], true
}

// Len returns the number of occupied slots.
func (t *Table) Len() int { return len(t.slots) }

// Cap returns the table capacity.
func (t *Table) Cap() int { return cap(t.slots) }

// ForEach visits every process in index order.
func (t *Table) ForEach(fn func(*Process)) {
	for _, p := range t.slots {
		fn(p)
	}
}
