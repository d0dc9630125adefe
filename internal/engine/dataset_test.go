package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revenue-reconciler/internal/domain"
)

func TestDataset(t *testing.T) {
	d := dataset(t, domain.OriginA,
		row("T2", "1", "1", "approved", "BrandX", "2024-01-05"),
		row("T1", "2", "1", "approved", "BrandX", "2024-01-05"),
		row("T2", "3", "1", "approved", "BrandX", "2024-01-05"),
		row("", "4", "1", "approved", "BrandX", "2024-01-05"),
		row("T3", "bad", "1", "approved", "BrandX", "2024-01-05"),
	)

	assert.Equal(t, 5, d.Len())
	assert.False(t, d.Empty())
	assert.Equal(t, []string{"T1", "T2", "T3"}, d.Keys())
	assert.True(t, d.Has("T1"))
	assert.False(t, d.Has(""))
	assert.False(t, d.Has("t1"))

	group := d.Lookup("T2")
	require.Len(t, group, 2)
	assert.Equal(t, 1, group[0].Row)
	assert.Equal(t, 3, group[1].Row)
	assert.Nil(t, d.Lookup("missing"))

	assert.True(t, d.IsDuplicated("T2"))
	assert.False(t, d.IsDuplicated("T1"))
	assert.Equal(t, []string{"T2"}, d.DuplicateKeys())
	assert.Equal(t, 2, d.DuplicateRecordCount())
	assert.Equal(t, 2, d.InvalidRecordCount())
}

func TestDataset_Empty(t *testing.T) {
	d := NewDataset(domain.OriginB, "empty.csv", nil)
	assert.True(t, d.Empty())
	assert.Empty(t, d.Keys())
	assert.Empty(t, d.DuplicateKeys())
	assert.Zero(t, d.DuplicateRecordCount())
}
