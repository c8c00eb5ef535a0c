package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversationLocks(t *testing.T) {
	locks := NewConversationLocks()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		overlap bool
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("c1")
			mu.Lock()
			inside++
			if inside > 1 {
				overlap = true
			}
			mu.Unlock()

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.False(t, overlap)
	assert.Equal(t, 0, locks.size())
}

func TestConversationLocksIndependentKeys(t *testing.T) {
	locks := NewConversationLocks()
	unlockA := locks.Lock("a")
	unlockB := locks.Lock("b")
	assert.Equal(t, 2, locks.size())
	unlockA()
	unlockB()
	assert.Equal(t, 0, locks.size())
}

func TestDiffMembers(t *testing.T) {
	add, rem := diffMembers([]string{"a", "b", "c"}, []string{"a", "c", "d"}, "a")
	assert.Equal(t, []string{"d"}, add)
	assert.Equal(t, []string{"b"}, rem)

	add, rem = diffMembers([]string{"a", "b"}, []string{"b", "a"}, "b")
	assert.Empty(t, add)
	assert.NotNil(t, add)
	assert.Empty(t, rem)

	add, rem = diffMembers([]string{"a", "b"}, []string{"a", "x"}, "x")
	assert.Nil(t, add)
	assert.Nil(t, rem)
}
