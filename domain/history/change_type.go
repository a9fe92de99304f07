package history

// ChangeType is the kind of mutation a history entry records
type ChangeType string

const (
	ChangeCreated  ChangeType = "CREATED"
	ChangeModified ChangeType = "MODIFIED"
	ChangeDeleted  ChangeType = "DELETED"
)

// IsValid reports whether c is a known change type
func (c ChangeType) IsValid() bool {
	switch c {
	case ChangeCreated, ChangeModified, ChangeDeleted:
		return true
	}
	return false
}

// AllChangeTypes lists the known change types in a stable order
func AllChangeTypes() []ChangeType {
	return []ChangeType{ChangeCreated, ChangeModified, ChangeDeleted}
}
