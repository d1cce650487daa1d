package state

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	N     int
	Items []string
}

func TestStoreGetSetUpdate(t *testing.T) {
	s := New(counter{N: 1})
	assert.Equal(t, 1, s.Get().N)

	s.Set(counter{N: 5})
	assert.Equal(t, 5, s.Get().N)

	got := s.Update(func(c counter) counter {
		c.N++
		return c
	})
	assert.Equal(t, 6, got.N)
	assert.Equal(t, 6, s.Get().N)
}

func TestStoreNotifiesInRegistrationOrder(t *testing.T) {
	s := New(counter{})
	var order []string

	s.Subscribe(func(c counter) { order = append(order, "first") })
	s.Subscribe(func(c counter) { order = append(order, "second") })

	s.Set(counter{N: 1})
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestStoreUnsubscribe(t *testing.T) {
	s := New(counter{})
	calls := 0
	unsubscribe := s.Subscribe(func(counter) { calls++ })

	s.Set(counter{N: 1})
	unsubscribe()
	unsubscribe()
	s.Set(counter{N: 2})

	assert.Equal(t, 1, calls)
}

func TestStoreListenerMayReadStore(t *testing.T) {
	s := New(counter{})
	var seen int
	s.Subscribe(func(counter) { seen = s.Get().N })

	s.Set(counter{N: 9})
	assert.Equal(t, 9, seen)
}

func TestStoreConcurrentUpdates(t *testing.T) {
	s := New(counter{})
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(func(c counter) counter {
				c.N++
				return c
			})
		}()
	}
	wg.Wait()
	require.Equal(t, 100, s.Get().N)
}
