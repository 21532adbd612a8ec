package job

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	reg, err := OpenRegistry(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	defer reg.Close()

	older := Record{
		Token:     "aaaa-0000-0000-0001",
		Command:   "ls",
		Dir:       "/tmp/a",
		CreatedAt: time.Now().Add(-time.Hour).Truncate(time.Second),
		Status:    StatusRunning,
	}
	newer := Record{
		Token:     "bbbb-0000-0000-0002",
		Command:   "grep 'x'",
		Spec:      &Spec{Command: "grep ?", Args: []string{"x"}},
		Dir:       "/tmp/b",
		CreatedAt: time.Now().Truncate(time.Second),
		Status:    StatusRunning,
	}
	require.NoError(t, reg.Save(ctx, older))
	require.NoError(t, reg.Save(ctx, newer))

	got, err := reg.Get(ctx, newer.Token)
	require.NoError(t, err)
	assert.Equal(t, newer.Command, got.Command)
	assert.Equal(t, newer.Spec, got.Spec)
	assert.True(t, newer.CreatedAt.Equal(got.CreatedAt))
	assert.Nil(t, got.ExitCode)

	list, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.Token, list[0].Token)
	assert.Nil(t, list[1].Spec)

	code := 2
	require.NoError(t, reg.MarkFinished(ctx, older.Token, StatusFailed, &code))
	got, err = reg.Get(ctx, older.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 2, *got.ExitCode)

	_, err = reg.Get(ctx, "cccc-0000-0000-0003")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, reg.MarkFinished(ctx, "cccc-0000-0000-0003", StatusFinished, nil), ErrNotFound)
}
