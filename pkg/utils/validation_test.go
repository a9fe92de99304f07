package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type createRequest struct {
	NodeA string `json:"nodeA" validate:"required,max=256"`
	NodeB string `json:"nodeB" validate:"required,max=256,nefield=NodeA"`
	Days  *int   `json:"olderThanDays,omitempty" validate:"omitempty,gte=0"`
}

func TestValidateStruct(t *testing.T) {
	assert.NoError(t, ValidateStruct(createRequest{NodeA: "a", NodeB: "b"}))

	err := ValidateStruct(createRequest{NodeB: "b"})
	assert.EqualError(t, err, "nodeA is required")

	err = ValidateStruct(createRequest{NodeA: "a", NodeB: "a"})
	assert.EqualError(t, err, "nodeB must differ from nodeA")

	neg := -1
	err = ValidateStruct(createRequest{NodeA: "a", NodeB: "b", Days: &neg})
	assert.EqualError(t, err, "olderThanDays must be at least 0")
}
