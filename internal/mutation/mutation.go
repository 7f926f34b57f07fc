// Package mutation defines the DOM change records delivered to the watcher.
// Live pages report them through the CDP binding; the in-memory document
// produces them itself.
package mutation

// Op is the type of DOM mutation observed.
type Op string

const (
	OpChildList Op = "childList" // nodes added and/or removed under Target
	OpAttr      Op = "attributes"
	OpDocReset  Op = "doc_reset" // entire document replaced
)

// Record is a single DOM mutation.
type Record struct {
	Op      Op     `json:"op"`
	Target  string `json:"target,omitempty"` // tag name of the mutated parent
	Added   int    `json:"added,omitempty"`
	Removed int    `json:"removed,omitempty"`
	Name    string `json:"name,omitempty"` // attribute name for attr records
}

// Batch is one notification: all records delivered by a single observer callback.
type Batch struct {
	Seq       uint64   `json:"seq"`
	Records   []Record `json:"records"`
	Timestamp int64    `json:"timestamp"` // epoch milliseconds
}

// Added returns the total number of nodes added across the batch. A document
// reset counts as at least one added node.
func (b Batch) Added() int {
	n := 0
	for _, r := range b.Records {
		switch r.Op {
		case OpChildList:
			n += r.Added
		case OpDocReset:
			n += max(r.Added, 1)
		}
	}
	return n
}

// Empty reports whether the batch carries no records.
func (b Batch) Empty() bool { return len(b.Records) == 0 }
