package index

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_LoadOrStore(t *testing.T) {
	m := NewMap[string, int](4, StringHash)

	v, loaded := m.LoadOrStore("a", 1)
	assert.False(t, loaded)
	assert.Equal(t, 1, v)

	v, loaded = m.LoadOrStore("a", 2)
	assert.True(t, loaded)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, m.Len())
}

func TestMap_Update_ErrorPublishesNothing(t *testing.T) {
	m := NewMap[string, int](0, StringHash)
	boom := errors.New("boom")

	_, err := m.Update("k", func(int, bool) (int, bool, error) { return 7, true, boom })
	require.ErrorIs(t, err, boom)

	_, ok := m.Load("k")
	assert.False(t, ok)
	assert.Zero(t, m.Len())
}

func TestMap_Update_SkipStore(t *testing.T) {
	m := NewMap[string, int](0, StringHash)
	m.Store("k", 1)

	got, err := m.Update("k", func(cur int, exists bool) (int, bool, error) {
		assert.True(t, exists)
		return cur + 1, false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	v, _ := m.Load("k")
	assert.Equal(t, 1, v)
}

func TestMap_ConcurrentIncrements(t *testing.T) {
	m := NewMap[string, int](8, StringHash)
	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("k%d", i%10)
				_, _ = m.Update(key, func(cur int, _ bool) (int, bool, error) {
					return cur + 1, true, nil
				})
			}
		}()
	}
	wg.Wait()

	total := 0
	m.Range(func(_ string, v int) bool {
		total += v
		return true
	})
	assert.Equal(t, 16*500, total)
	assert.Equal(t, 10, m.Len())
}

func TestMap_ReadDuringWrite(t *testing.T) {
	m := NewMap[string, int](1, StringHash)
	m.Store("other", 42)

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = m.Update("busy", func(int, bool) (int, bool, error) {
			close(entered)
			<-release
			return 1, true, nil
		})
	}()
	<-entered

	// The single stripe is held; reads still proceed.
	v, ok := m.Load("other")
	assert.True(t, ok)
	assert.Equal(t, 42, v)
	close(release)
}

func TestMulti_AppendAndGet(t *testing.T) {
	x := NewMulti[string, int](4, StringHash)
	x.Append("a", 1)
	x.Append("a", 2)
	x.Append("a", 2)

	assert.Equal(t, []int{1, 2, 2}, x.Get("a"))
	assert.Nil(t, x.Get("missing"))

	assert.True(t, x.AppendUnique("b", 1))
	assert.False(t, x.AppendUnique("b", 1))
	assert.Equal(t, []int{1}, x.Get("b"))
	assert.Equal(t, 2, x.Keys())
}

func TestMulti_GetReturnsCopy(t *testing.T) {
	x := NewMulti[string, int](4, StringHash)
	x.Append("a", 1)

	got := x.Get("a")
	got[0] = 99
	assert.Equal(t, []int{1}, x.Get("a"))
}

func TestMulti_ConcurrentAppendUnique(t *testing.T) {
	x := NewMulti[string, int](4, StringHash)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				x.AppendUnique("k", i)
			}
		}()
	}
	wg.Wait()
	assert.Len(t, x.Get("k"), 100)
}
