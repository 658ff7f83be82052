package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelab/startupcal/pkg/core"
)

func TestFrameCache_NewFrameCache(t *testing.T) {
	c := NewFrameCache()

	require.NotNil(t, c)
	assert.Equal(t, 0, c.Len())
	_, ok := c.LastKey()
	assert.False(t, ok)
}

func TestFrameCache_GetEmpty(t *testing.T) {
	c := NewFrameCache()

	_, err := c.Get(3.2)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestFrameCache_GetPicksCloserNeighbour(t *testing.T) {
	c := NewFrameCache()
	c.Put(3, []byte("imgA"))
	c.Put(4, []byte("imgB"))

	got, err := c.Get(3.2)
	require.NoError(t, err)
	assert.Equal(t, []byte("imgA"), got.Image)
	assert.Equal(t, 3.0, got.Index)

	got, err = c.Get(3.7)
	require.NoError(t, err)
	assert.Equal(t, []byte("imgB"), got.Image)
}

func TestFrameCache_GetTiePrefersFloor(t *testing.T) {
	c := NewFrameCache()
	c.Put(3, []byte("imgA"))
	c.Put(4, []byte("imgB"))

	got, err := c.Get(3.5)
	require.NoError(t, err)
	assert.Equal(t, []byte("imgA"), got.Image)
}

func TestFrameCache_GetOutsideRangeDegradesToNearest(t *testing.T) {
	c := NewFrameCache()
	c.Put(10, []byte("only"))

	got, err := c.Get(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("only"), got.Image)

	got, err = c.Get(200)
	require.NoError(t, err)
	assert.Equal(t, []byte("only"), got.Image)
}

func TestFrameCache_RoundTrip(t *testing.T) {
	c := NewFrameCache()
	c.Put(7, []byte("v"))

	got, err := c.Get(7)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got.Image)
}

func TestFrameCache_GetIsIdempotent(t *testing.T) {
	c := NewFrameCache()
	c.PutAll([]core.FrameSlot{
		{Index: 1, Image: []byte("a")},
		{Index: 5, Image: []byte("b")},
	})

	first, err := c.Get(2.9)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := c.Get(2.9)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestFrameCache_PutOverwrites(t *testing.T) {
	c := NewFrameCache()
	c.Put(2, []byte("old"))
	c.Put(2, []byte("new"))

	assert.Equal(t, 1, c.Len())
	got, err := c.Get(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got.Image)
}

func TestFrameCache_Has(t *testing.T) {
	c := NewFrameCache()
	c.Put(10, nil)

	assert.True(t, c.Has(10.8, 1))
	assert.True(t, c.Has(9, 1))
	assert.False(t, c.Has(12, 1))
	assert.False(t, NewFrameCache().Has(0, 100))
}

func TestFrameCache_LastKeyAndKeys(t *testing.T) {
	c := NewFrameCache()
	c.Put(9, nil)
	c.Put(0, nil)
	c.Put(4, nil)

	k, ok := c.LastKey()
	require.True(t, ok)
	assert.Equal(t, 9.0, k)
	assert.Equal(t, []float64{0, 4, 9}, c.Keys())

	c.Reset()
	assert.Equal(t, 0, c.Len())
}

func TestFrameCache_ConcurrentAccess(t *testing.T) {
	c := NewFrameCache()
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Put(float64(w*100+i), []byte(fmt.Sprintf("%d", i)))
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, _ = c.Get(float64(i))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 400, c.Len())
}
