package common

import (
	"fmt"
	"net/http"
	"strconv"
)

// LimitOffset is the raw paging window of a list request; zero values mean
// the caller did not ask for one
type LimitOffset struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ExtractLimitOffset reads limit and offset query parameters. Values that
// are not non-negative integers are rejected rather than ignored.
func ExtractLimitOffset(r *http.Request) (LimitOffset, error) {
	var p LimitOffset
	var err error
	if p.Limit, err = intParam(r, "limit"); err != nil {
		return p, err
	}
	if p.Offset, err = intParam(r, "offset"); err != nil {
		return p, err
	}
	return p, nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
