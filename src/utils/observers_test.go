package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObserversOrderAndRemoval(t *testing.T) {
	var obs Observers[func(int) int]

	removeA := obs.Add(func(v int) int { return v + 1 })
	obs.Add(func(v int) int { return v * 10 })
	assert.Equal(t, 2, obs.Len())

	var got []int
	for _, fn := range obs.Snapshot() {
		got = append(got, fn(3))
	}
	assert.Equal(t, []int{4, 30}, got)

	removeA()
	removeA()
	assert.Equal(t, 1, obs.Len())
	assert.Equal(t, 30, obs.Snapshot()[0](3))
}

func TestObserversRemoveDuringIteration(t *testing.T) {
	var obs Observers[func()]
	calls := 0
	var remove func()
	remove = obs.Add(func() {
		calls++
		remove()
	})
	obs.Add(func() { calls++ })

	for _, fn := range obs.Snapshot() {
		fn()
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, obs.Len())
}
