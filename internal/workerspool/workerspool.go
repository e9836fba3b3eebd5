// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs tasks in goroutines, limiting how many run at the same time.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool of workers. Create it with New, submit tasks with Go and wait for all of them with Wait.
type Pool struct {
	// maxParallelism is the limit of tasks running at the same time.
	// 0 runs tasks inline, and negative values mean unlimited.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Signaled whenever numRunning is decreased.
	numRunning     int
	wg             sync.WaitGroup
}

// New returns a new Pool with the given parallelism. If maxParallelism is -1, it uses runtime.NumCPU().
func New(maxParallelism int) *Pool {
	if maxParallelism == -1 {
		maxParallelism = runtime.NumCPU()
	}
	p := &Pool{maxParallelism: maxParallelism}
	p.cond = sync.Cond{L: &p.mu}
	return p
}

// MaxParallelism returns the limit of tasks running at the same time.
func (p *Pool) MaxParallelism() int {
	return p.maxParallelism
}

// Go waits until a worker is available and then runs task in a goroutine.
//
// If parallelism is disabled (0), the task is run inline and Go returns when it is finished.
func (p *Pool) Go(task func()) {
	if p.maxParallelism == 0 {
		task()
		return
	}
	p.wg.Add(1)
	if p.maxParallelism < 0 {
		go func() {
			defer p.wg.Done()
			task()
		}()
		return
	}

	p.mu.Lock()
	for p.numRunning >= p.maxParallelism {
		p.cond.Wait()
	}
	p.numRunning++
	p.mu.Unlock()
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			p.numRunning--
			p.cond.Signal()
			p.mu.Unlock()
		}()
		task()
	}()
}

// Wait blocks until all tasks submitted with Go have finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}
