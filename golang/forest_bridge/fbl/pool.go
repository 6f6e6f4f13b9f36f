package fbl

import "sync"

//PoolTask is a unit of work executed by a Pool worker.
type PoolTask interface {
	Run()
}

//Pool runs tasks on a fixed number of worker goroutines. Tasks write to
//disjoint output slices, so the pool itself needs no result synchronization
//beyond WaitAll.
type Pool struct {
	tasks chan PoolTask
	wg    sync.WaitGroup
}

//NewPool starts threadsNum workers draining the task queue.
func NewPool(threadsNum int) *Pool {
	if threadsNum < 1 {
		threadsNum = 1
	}
	pool := &Pool{tasks: make(chan PoolTask, threadsNum)}
	pool.wg.Add(threadsNum)
	for ind := 0; ind < threadsNum; ind++ {
		go func() {
			defer pool.wg.Done()
			for task := range pool.tasks {
				task.Run()
			}
		}()
	}
	return pool
}

//AddTask enqueues one task. Must not be called after Close.
func (pool *Pool) AddTask(task PoolTask) {
	pool.tasks <- task
}

//Close signals that no more tasks will arrive.
func (pool *Pool) Close() {
	close(pool.tasks)
}

//WaitAll blocks until every queued task has finished.
func (pool *Pool) WaitAll() {
	pool.wg.Wait()
}

//TaskFunc adapts a plain function to the PoolTask interface.
type TaskFunc func()

func (f TaskFunc) Run() { f() }
