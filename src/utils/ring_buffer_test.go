package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingBufferEvictsOldest(t *testing.T) {
	rb := NewRingBuffer[int](3)

	for i := 1; i <= 3; i++ {
		_, evicted := rb.Append(i)
		assert.False(t, evicted)
	}
	assert.Equal(t, rb.Capacity(), rb.Size())

	old, evicted := rb.Append(4)
	assert.True(t, evicted)
	assert.Equal(t, 1, old)
	assert.Equal(t, []int{2, 3, 4}, rb.GetAll())
	assert.Equal(t, []int{3, 4}, rb.GetLatest(2))
}

func TestRingBufferDrain(t *testing.T) {
	rb := NewRingBuffer[string](4)
	rb.Append("a")
	rb.Append("b")

	assert.Equal(t, []string{"a", "b"}, rb.Drain())
	assert.Equal(t, 0, rb.Size())
	assert.Empty(t, rb.GetAll())
}

func TestRingBufferDefaultCapacity(t *testing.T) {
	assert.Equal(t, 1000, NewRingBuffer[int](0).Capacity())
}
