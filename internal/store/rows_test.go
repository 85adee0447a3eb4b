package store

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
)

func TestIsNoRows(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"direct":  {sql.ErrNoRows, true},
		"wrapped": {fmt.Errorf("load posting: %w", sql.ErrNoRows), true},
		"nil":     {nil, false},
		"other":   {errors.New("disk I/O error"), false},
	}
	for name, tc := range cases {
		if got := IsNoRows(tc.err); got != tc.want {
			t.Fatalf("%s: IsNoRows(%v) = %v", name, tc.err, got)
		}
	}
}
