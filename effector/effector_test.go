package effector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogEffectorRecordsIntent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := NewLog(zap.New(core))
	ctx := context.Background()

	assert.NoError(t, l.TerminateBackgroundProcesses(ctx, "a"))
	assert.NoError(t, l.ClearCaches(ctx))
	assert.NoError(t, l.SetMemoryCap(ctx, "a", 10))
	assert.NoError(t, l.CompressInactiveData(ctx))
	assert.NoError(t, l.Defragment(ctx))
	assert.NoError(t, l.OptimizeServices(ctx))
	assert.NoError(t, l.PrioritizeApp(ctx, "a"))
	assert.NoError(t, l.AllocateExtraMemory(ctx, "a"))

	assert.Equal(t, 8, logs.Len())
	entry := logs.FilterMessage("set memory cap").All()[0]
	assert.Equal(t, int64(10), entry.ContextMap()["bytes"])
	assert.Equal(t, true, entry.ContextMap()["dry_run"])
}
