package valueobjects

import (
	"errors"
	"fmt"
	"strings"
)

const pairKeySeparator = "|"

// Node ids are opaque, so the separator and the escape character are
// escaped inside each id to keep keys of distinct pairs distinct.
var pairKeyEscaper = strings.NewReplacer(`\`, `\\`, pairKeySeparator, `\`+pairKeySeparator)

// NodePair is the unordered pair of nodes a connection joins.
// A() and B() keep the order the caller supplied; Key() does not.
type NodePair struct {
	a NodeID
	b NodeID
}

// NewNodePair validates and builds a pair
func NewNodePair(a, b NodeID) (NodePair, error) {
	if a.IsZero() || b.IsZero() {
		return NodePair{}, errors.New("node pair requires two node IDs")
	}
	if a.Equals(b) {
		return NodePair{}, fmt.Errorf("node %s cannot be connected to itself", a)
	}
	return NodePair{a: a, b: b}, nil
}

// NewNodePairFromStrings is NewNodePair for raw ids
func NewNodePairFromStrings(a, b string) (NodePair, error) {
	na, err := NewNodeIDFromString(a)
	if err != nil {
		return NodePair{}, fmt.Errorf("nodeA: %w", err)
	}
	nb, err := NewNodeIDFromString(b)
	if err != nil {
		return NodePair{}, fmt.Errorf("nodeB: %w", err)
	}
	return NewNodePair(na, nb)
}

func (p NodePair) A() NodeID { return p.a }
func (p NodePair) B() NodeID { return p.b }

// Key returns the canonical, order-independent key of the pair.
// Used for lock names and storage indexes.
func (p NodePair) Key() string {
	return PairKey(p.a.String(), p.b.String())
}

// Matches reports whether x and y name this pair in either order
func (p NodePair) Matches(x, y NodeID) bool {
	return (p.a.Equals(x) && p.b.Equals(y)) || (p.a.Equals(y) && p.b.Equals(x))
}

// Contains reports whether n is one of the pair's nodes
func (p NodePair) Contains(n NodeID) bool {
	return p.a.Equals(n) || p.b.Equals(n)
}

// Equals compares two pairs ignoring order
func (p NodePair) Equals(other NodePair) bool {
	return p.Matches(other.a, other.b)
}

// IsZero reports whether the pair was never initialized
func (p NodePair) IsZero() bool {
	return p.a.IsZero() && p.b.IsZero()
}

func (p NodePair) String() string {
	return p.a.String() + "<->" + p.b.String()
}

// PairKey computes the canonical key for two raw node ids
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return pairKeyEscaper.Replace(a) + pairKeySeparator + pairKeyEscaper.Replace(b)
}

// NodePairOf builds a pair from ids that are already known to be valid,
// such as those read back from storage.
func NodePairOf(a, b NodeID) NodePair {
	return NodePair{a: a, b: b}
}
