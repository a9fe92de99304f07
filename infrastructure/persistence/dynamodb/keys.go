package dynamodb

import (
	"time"
)

// Single-table key layout:
//
//	connection  PK=PAIR#<pairKey>        SK=CONNECTION  GSI1PK=CONNECTION#<id>
//	history     PK=HISTORY#<id>          SK=ENTRY       GSI1PK=PAIRHISTORY#<pairKey>  GSI2PK=ACTOR#<actorId>
//	lock        PK=LOCK#PAIR#<pairKey>   SK=LOCK
//
// History sort keys are <createdAt>#<id> with a fixed-width timestamp, so a
// descending index query returns entries newest first with id breaking ties.
const (
	entityConnection = "CONNECTION"
	entityHistory    = "HISTORY"

	connectionSK = "CONNECTION"
	historySK    = "ENTRY"
	lockSK       = "LOCK"

	// sortableTime has a constant width so lexical order is time order
	sortableTime = "2006-01-02T15:04:05.000000000Z"
)

func connectionPK(pairKey string) string { return "PAIR#" + pairKey }

func connectionByIDKey(id string) string { return "CONNECTION#" + id }

func historyPK(id string) string { return "HISTORY#" + id }

func pairHistoryKey(pairKey string) string { return "PAIRHISTORY#" + pairKey }

func actorHistoryKey(actorID string) string { return "ACTOR#" + actorID }

func lockPK(resource string) string { return "LOCK#" + resource }

func pairLockResource(pairKey string) string { return "PAIR#" + pairKey }

func formatTime(t time.Time) string {
	return t.UTC().Format(sortableTime)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(sortableTime, s)
}

func historySortKey(createdAt time.Time, id string) string {
	return formatTime(createdAt) + "#" + id
}

// itemKey identifies one item for write collapsing inside a transaction
func itemKey(pk, sk string) string {
	return pk + "\x00" + sk
}
