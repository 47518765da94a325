package record

// EntityKind identifies a record type. It routes records in the per-range
// buffer and resolves descriptors in the Registry.
type EntityKind string

func (k EntityKind) String() string {
	return string(k)
}

// Record is a single typed fact produced by a job.
// Records are treated as immutable once collected.
type Record interface {
	// Kind returns the entity kind this record belongs to.
	Kind() EntityKind

	// BlockNumber is the block at which the fact was observed.
	BlockNumber() uint64

	// Key returns the business key of the record. Two records with the same kind
	// and key describe the same logical entity.
	Key() string

	// Values returns the column values, in the order of the kind's Descriptor.Columns.
	Values() []any
}

// ConflictPolicy describes how a store resolves a write whose primary key already exists.
type ConflictPolicy int

const (
	// ConflictUpdate overwrites the stored row (last writer wins).
	ConflictUpdate ConflictPolicy = iota
	// ConflictIgnore keeps the stored row. Used for append-only history.
	ConflictIgnore
)

func (p ConflictPolicy) String() string {
	switch p {
	case ConflictUpdate:
		return "update"
	case ConflictIgnore:
		return "ignore"
	default:
		return "unknown"
	}
}

// ProjectionKind tells whether a kind is an append-only history or a
// last-writer-wins current status keyed by business key.
type ProjectionKind int

const (
	History ProjectionKind = iota
	CurrentStatus
)

func (p ProjectionKind) String() string {
	if p == CurrentStatus {
		return "current-status"
	}
	return "history"
}

// Descriptor describes how records of a kind are stored.
type Descriptor struct {
	Kind       EntityKind
	Table      string
	Columns    []string
	PrimaryKey []string
	Conflict   ConflictPolicy
	Projection ProjectionKind
}

// ByKind groups records by their entity kind, preserving insertion order per kind.
func ByKind(records ...Record) map[EntityKind][]Record {
	out := make(map[EntityKind][]Record)
	for _, r := range records {
		out[r.Kind()] = append(out[r.Kind()], r)
	}
	return out
}
