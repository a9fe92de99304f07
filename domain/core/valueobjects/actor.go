package valueobjects

import (
	"errors"
	"strings"
)

// Actor identifies who performed a change. Both fields come from the
// identity subsystem and are stored as given.
type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// NewActor builds an actor; the id is required
func NewActor(id, displayName string) (Actor, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Actor{}, errors.New("actor ID cannot be empty")
	}
	return Actor{ID: id, DisplayName: displayName}, nil
}

// SystemActor is used for maintenance work that has no human caller
func SystemActor(name string) Actor {
	return Actor{ID: "system:" + name, DisplayName: name}
}

func (a Actor) IsZero() bool { return a.ID == "" }
