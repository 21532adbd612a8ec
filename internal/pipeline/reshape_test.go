package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnsparse(t *testing.T) {
	ctx := context.Background()
	items, err := FromValues(
		`{"a":1}`,
		map[string]any{"b": "x"},
		"",
		42,
		`{"a":2,"c":true}`,
	).Unsparse().ToSlice(ctx)
	require.NoError(t, err)

	assert.Equal(t, []any{
		map[string]any{"a": float64(1), "b": nil, "c": nil},
		map[string]any{"a": nil, "b": "x", "c": nil},
		map[string]any{"a": float64(2), "b": nil, "c": true},
	}, items)
}

func TestUnsparseEmpty(t *testing.T) {
	items, err := Empty().Unsparse().ToSlice(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestNest(t *testing.T) {
	ctx := context.Background()
	rows := func() *Pipeline {
		return FromValues(
			map[string]any{"team": "red", "role": "dev", "name": "ann"},
			map[string]any{"team": "red", "role": "ops", "name": "bob"},
			map[string]any{"team": "blue", "role": "dev", "name": "cy"},
			map[string]any{"team": "red", "role": "dev", "name": "dee"},
		)
	}

	tests := []struct {
		name  string
		keys  []string
		value string
		want  map[string]any
	}{
		{
			name: "one key lists items",
			keys: []string{"team"},
			want: map[string]any{
				"red": []any{
					map[string]any{"team": "red", "role": "dev", "name": "ann"},
					map[string]any{"team": "red", "role": "ops", "name": "bob"},
					map[string]any{"team": "red", "role": "dev", "name": "dee"},
				},
				"blue": []any{
					map[string]any{"team": "blue", "role": "dev", "name": "cy"},
				},
			},
		},
		{
			name:  "two keys with value keep the last",
			keys:  []string{"team", "role"},
			value: "name",
			want: map[string]any{
				"red":  map[string]any{"dev": "dee", "ops": "bob"},
				"blue": map[string]any{"dev": "cy"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rows().Nest(ctx, tt.keys, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := rows().Nest(ctx, nil, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNestJSONLines(t *testing.T) {
	got, err := FromValues(`{"k":1,"v":"a"}`, `{"k":2,"v":"b"}`).
		Nest(context.Background(), []string{"k"}, "v")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"1": "a", "2": "b"}, got)
}
