package history

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200

	// RecentActivityLimit bounds Stats.RecentActivity
	RecentActivityLimit = 10

	// DefaultRetentionDays is the janitor's default age threshold
	DefaultRetentionDays = 365
)

// Page selects a window of a newest-first result set
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Normalize clamps the page to supported bounds
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Window applies the page to an already sorted slice. A negative offset
// counts as zero.
func (p Page) Window(entries []*Entry) []*Entry {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Offset >= len(entries) || p.Limit <= 0 {
		return []*Entry{}
	}
	end := p.Offset + p.Limit
	if end > len(entries) {
		end = len(entries)
	}
	return entries[p.Offset:end]
}

// Stats aggregates ledger activity, optionally scoped to one actor
type Stats struct {
	TotalChanges   int      `json:"totalChanges"`
	CreatedCount   int      `json:"createdCount"`
	ModifiedCount  int      `json:"modifiedCount"`
	DeletedCount   int      `json:"deletedCount"`
	RecentActivity []*Entry `json:"recentActivity"`
}

// Add counts one entry of the given type
func (s *Stats) Add(c ChangeType, n int) {
	switch c {
	case ChangeCreated:
		s.CreatedCount += n
	case ChangeModified:
		s.ModifiedCount += n
	case ChangeDeleted:
		s.DeletedCount += n
	}
	s.TotalChanges = s.CreatedCount + s.ModifiedCount + s.DeletedCount
}

// Probe returns the page widened by one row, so a caller can tell whether
// more rows exist beyond the window.
func (p Page) Probe() Page {
	return Page{Limit: p.Limit + 1, Offset: p.Offset}
}
