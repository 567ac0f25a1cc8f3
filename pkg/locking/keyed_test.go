package locking

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	key := uuid.New()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock(key)
			counter++
			km.Unlock(key)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	a := uuid.New()
	b := uuid.New()

	km.Lock(a)

	// A different key must not block.
	done := make(chan struct{})
	go func() {
		km.Lock(b)
		km.Unlock(b)
		close(done)
	}()
	<-done

	km.Unlock(a)
}

func TestKeyedMutexCleansUpEntries(t *testing.T) {
	km := NewKeyedMutex()
	key := uuid.New()

	km.Lock(key)
	km.Unlock(key)

	km.mu.Lock()
	defer km.mu.Unlock()
	assert.Empty(t, km.locks, "released keys must not leak entries")
}
