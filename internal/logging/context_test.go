package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextFields_Empty(t *testing.T) {
	fields := ContextFields(context.Background())
	assert.Empty(t, fields)
}

func TestContextFields_RunPhaseTask(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-42")
	ctx = WithPhase(ctx, "converge")
	ctx = WithTaskID(ctx, "task-1")

	fields := ContextFields(ctx)
	require.Len(t, fields, 3)

	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	assert.Contains(t, keys, "run.id")
	assert.Contains(t, keys, "phase")
	assert.Contains(t, keys, "task.id")
}

func TestRunIDFromContext(t *testing.T) {
	assert.Empty(t, RunIDFromContext(context.Background()))

	ctx := WithRunID(context.Background(), "run-9")
	assert.Equal(t, "run-9", RunIDFromContext(ctx))
}

func TestPhaseFromContext(t *testing.T) {
	assert.Empty(t, PhaseFromContext(context.Background()))

	ctx := WithPhase(context.Background(), "output")
	assert.Equal(t, "output", PhaseFromContext(ctx))
}

func TestTaskIDFromContext(t *testing.T) {
	assert.Empty(t, TaskIDFromContext(context.Background()))

	ctx := WithTaskID(context.Background(), "task-3")
	assert.Equal(t, "task-3", TaskIDFromContext(ctx))
}

func TestLoggerFromContext(t *testing.T) {
	// Missing logger returns a usable nop.
	logger := FromContext(context.Background())
	require.NotNil(t, logger)

	stored, err := New(NewDefaultConfig(), nil)
	require.NoError(t, err)

	ctx := WithLogger(context.Background(), stored)
	assert.Same(t, stored, FromContext(ctx))
}
