package queue

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueue_RunsSerially(t *testing.T) {
	q := NewQueue(10)

	var mu sync.Mutex
	var order []int
	inFlight := 0
	maxInFlight := 0

	for i := 0; i < 5; i++ {
		ok := q.Enqueue(Job{Run: func() error {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			order = append(order, i)
			inFlight--
			mu.Unlock()
			return nil
		}})
		assert.True(t, ok)
	}

	q.Start()
	q.Stop()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, 1, maxInFlight)
}

func TestQueue_FullQueueRejects(t *testing.T) {
	q := NewQueue(1)

	assert.True(t, q.Enqueue(Job{Run: func() error { return nil }}))
	assert.False(t, q.Enqueue(Job{Run: func() error { return nil }}))
}

func TestQueue_OnFail(t *testing.T) {
	q := NewQueue(1)

	var failed error
	q.Enqueue(Job{
		Run:    func() error { return errors.New("boom") },
		OnFail: func(err error) { failed = err },
	})

	q.Start()
	q.Stop()

	assert.EqualError(t, failed, "boom")
}
