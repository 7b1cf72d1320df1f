package store

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailureMatchesSentinelAndCause(t *testing.T) {
	err := Failure("commit", sql.ErrConnDone)

	assert.ErrorIs(t, err, ErrStoreFailure)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.Contains(t, err.Error(), "commit")
}

func TestFailureNilPassesThrough(t *testing.T) {
	assert.NoError(t, Failure("commit", nil))
}

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{ErrNotFound, ErrInsufficientStock, ErrRuleViolation, ErrDuplicate, ErrStoreFailure}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			assert.False(t, errors.Is(a, b), "%v should not match %v", a, b)
		}
	}
}
