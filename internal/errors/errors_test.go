package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTypeFollowsWrapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Type
	}{
		{"validation", Validation("p1", "budget_allocated", "must be >= 0"), TypeValidation},
		{"cycle", &CyclicDependencyError{Cycle: []string{"a", "b"}}, TypeCyclicDependency},
		{"infeasible", Infeasible("p1", "resource_pool", "pool is empty"), TypeInfeasible},
		{"storage", Storage("append failed", nil), TypeStorage},
		{"superseded", ErrSuperseded, TypeSuperseded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("portfolio growth: %w", tt.err)
			assert.True(t, IsType(wrapped, tt.want))
			assert.False(t, IsType(wrapped, TypeNotFound))

			got, ok := TypeOf(wrapped)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsTypeThroughCause(t *testing.T) {
	inner := NotFound("portfolio", "growth")
	outer := Internal("load failed", inner)

	assert.True(t, IsType(outer, TypeInternal))
	assert.True(t, IsType(outer, TypeNotFound))
	assert.False(t, IsType(nil, TypeInternal))

	_, ok := TypeOf(fmt.Errorf("plain"))
	assert.False(t, ok)
}

func TestCyclicDependencyError(t *testing.T) {
	err := &CyclicDependencyError{Cycle: []string{"b", "c", "a"}}

	assert.Equal(t, "[CYCLIC_DEPENDENCY] dependency cycle detected: b -> c -> a -> b", err.Error())
	assert.Equal(t, []string{"a", "b", "c"}, err.Members())
	assert.Equal(t, []string{"b", "c", "a"}, err.Cycle)

	var target *CyclicDependencyError
	require.True(t, As(fmt.Errorf("build: %w", err), &target))
	assert.Same(t, err, target)
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "[VALIDATION_ERROR] pool: must be >= 0", Validation("", "pool", "must be >= 0").Error())
	assert.Equal(t, "[VALIDATION_ERROR] project p1: status: unknown", Validation("p1", "status", "unknown").Error())
	assert.Equal(t, "[NOT_FOUND] portfolio not found: growth", NotFound("portfolio", "growth").Error())

	cause := fmt.Errorf("disk full")
	assert.Equal(t, "[STORAGE_ERROR] append failed: disk full", Storage("append failed", cause).Error())
	assert.True(t, Is(Storage("append failed", cause), cause))
}

func TestWithContext(t *testing.T) {
	err := New(TypeConfig, "bad weights").WithContext("sum", 1.2)
	assert.Equal(t, 1.2, err.Context["sum"])
}
