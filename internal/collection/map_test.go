package collection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncMap(t *testing.T) {
	aMap := NewSyncMap[int, string]()
	aMap.Put(1, "one")
	aMap.Put(2, "two")

	value, ok := aMap.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "one", value)

	previous, ok := aMap.Remove(2)
	assert.True(t, ok)
	assert.Equal(t, "two", previous)

	_, ok = aMap.Remove(2)
	assert.False(t, ok)

	_, ok = aMap.Get(2)
	assert.False(t, ok)

	var seen []int
	aMap.Range(func(key int, value string) bool {
		seen = append(seen, key)
		return true
	})
	assert.Equal(t, []int{1}, seen)
}
