package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	sys, err := Load()
	if err != nil {
		t.Skipf("no sysfs cpu topology on this host: %v", err)
	}
	require.NotEmpty(t, sys.Cores())
	assert.GreaterOrEqual(t, sys.LogicalCPUs(), sys.PhysicalCores())
	assert.Equal(t, sys.PhysicalCores(), len(sys.Cores()))
}

func TestMaskUnion(t *testing.T) {
	var a, b CPUSet
	a.Set(0)
	b.Set(1)
	a.Or(b)
	assert.Equal(t, 2, a.Count())
}

func TestCurrentCPU(t *testing.T) {
	cpu, err := CurrentCPU()
	if err != nil {
		t.Skipf("getcpu unavailable: %v", err)
	}
	assert.GreaterOrEqual(t, cpu, 0)
}
