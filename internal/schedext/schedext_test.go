package schedext

import (
	"errors"
	"testing"
	"time"

	"github.com/schedtest/schedtest/internal/errs"
	"github.com/stretchr/testify/assert"
)

func TestReadStateMissing(t *testing.T) {
	// On hosts without sched_ext compiled in, the sysfs file is simply
	// absent; this must surface as a Precondition error, not panic.
	if _, err := ReadState(); err != nil {
		assert.True(t, errors.Is(err, errs.ErrPrecondition))
	}
}

func TestWaitEnabledExitsOnProcessDeath(t *testing.T) {
	_, err := WaitEnabled(time.Millisecond, time.Now().Add(time.Second), func() bool { return true })
	assert.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrPrecondition))
}

func TestWaitEnabledTimesOut(t *testing.T) {
	_, err := WaitEnabled(time.Millisecond, time.Now().Add(5*time.Millisecond), func() bool { return false })
	assert.Error(t, err)
}
