// Package queue serializes workflow runs: the engine executes one run
// at a time to completion, and further requests wait their turn in
// FIFO order.
package queue

import "sync"

type Job struct {
	Run    func() error
	OnFail func(error)
}

type Queue struct {
	jobs chan Job
	stop sync.Once
	done chan struct{}
}

func NewQueue(size int) *Queue {
	return &Queue{
		jobs: make(chan Job, size),
		done: make(chan struct{}),
	}
}

// Enqueue adds a job, reporting false when the queue is full.
func (q *Queue) Enqueue(job Job) bool {
	select {
	case q.jobs <- job:
		return true
	default:
		return false
	}
}

// Start launches the single runner goroutine.
func (q *Queue) Start() {
	go func() {
		defer close(q.done)
		for job := range q.jobs {
			if err := job.Run(); err != nil {
				if job.OnFail != nil {
					job.OnFail(err)
				}
			}
		}
	}()
}

// Stop closes the queue and waits for the in-flight job to finish.
// Jobs still waiting in the channel are drained and executed first.
func (q *Queue) Stop() {
	q.stop.Do(func() {
		close(q.jobs)
	})
	<-q.done
}
