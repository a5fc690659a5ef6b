package rowkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowTime(t *testing.T) {
	s := Spec{RowWidthMillis: 1000, ColumnGranularityMillis: 1}
	assert.Equal(t, int64(0), s.RowTime(0))
	assert.Equal(t, int64(0), s.RowTime(999))
	assert.Equal(t, int64(1000), s.RowTime(1000))
	assert.Equal(t, int64(1000), s.RowTime(1999))
}

func TestColumnNameBounds(t *testing.T) {
	s := Spec{RowWidthMillis: 1000, ColumnGranularityMillis: 1}
	rt := s.RowTime(1500)

	first, err := s.ColumnName(rt, rt)
	require.NoError(t, err)
	assert.Equal(t, int32(0), first)

	last, err := s.ColumnName(rt, rt+s.RowWidthMillis-1)
	require.NoError(t, err)
	assert.Equal(t, int32(s.RowWidthMillis-1), last)

	_, err = s.ColumnName(rt, rt-1)
	assert.ErrorIs(t, err, ErrTimestampOutOfRow)

	_, err = s.ColumnName(rt, rt+s.RowWidthMillis)
	assert.ErrorIs(t, err, ErrTimestampOutOfRow)
}

func TestColumnNameMonotonic(t *testing.T) {
	s := Spec{RowWidthMillis: 1000, ColumnGranularityMillis: 1}
	rt := int64(0)
	prev, err := s.ColumnName(rt, rt)
	require.NoError(t, err)
	for ts := rt + 1; ts < rt+s.RowWidthMillis; ts++ {
		cur, err := s.ColumnName(rt, ts)
		require.NoError(t, err)
		assert.Greater(t, cur, prev, "column name must be strictly increasing in timestamp")
		prev = cur
	}
}

func TestRowKeySerializationIsOrderInsensitiveOverTags(t *testing.T) {
	a := New("cpu", "prod", 1000, "double", []Tag{{Name: "host", Value: "a"}, {Name: "dc", Value: "east"}})
	b := New("cpu", "prod", 1000, "double", []Tag{{Name: "dc", Value: "east"}, {Name: "host", Value: "a"}})

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Serialize(), b.Serialize())
}

func TestRowKeySerializationDistinguishesCluster(t *testing.T) {
	a := New("cpu", "prod", 1000, "double", nil)
	b := New("cpu", "staging", 1000, "double", nil)

	assert.False(t, a.Equal(b))
	assert.NotEqual(t, a.Serialize(), b.Serialize())
}

func TestRowKeySerializationDistinguishesDataType(t *testing.T) {
	a := New("cpu", "prod", 1000, "double", nil)
	b := New("cpu", "prod", 1000, "long", nil)
	assert.NotEqual(t, a.Serialize(), b.Serialize())
}

func TestCacheKeyMatchesSerialize(t *testing.T) {
	k := New("cpu", "prod", 1000, "double", []Tag{{Name: "host", Value: "a"}})
	assert.Equal(t, string(k.Serialize()), k.CacheKey())
}
