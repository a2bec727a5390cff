package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	k := NewKeyedMutex()
	counters := make([]int, 4)

	var wg sync.WaitGroup
	for i := 0; i < 400; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := i % 4
			unlock := k.Lock(int64(key))
			counters[key]++
			unlock()
		}(i)
	}
	wg.Wait()

	for _, c := range counters {
		assert.Equal(t, 100, c)
	}
	assert.Zero(t, k.Len(), "unused keys are dropped")
}
