package main

import (
	"context"
	"sync"
	"time"

	"github.com/Zelak312/frameup/rife"
	"github.com/sirupsen/logrus"
)

var retryLimit int = 5

// JobStore is the part of the history store the workers need
type JobStore interface {
	MarkRunning(job *Job) error
	MarkQueued(job *Job) error
	MarkDone(job *Job, result RunResult) error
	FailJob(job *Job, jobErr string) error
	GetJobRetries(job *Job) (int, error)
	UpdateRetries(job *Job, retries int, jobErr string) error
}

type ModelFactory func() (rife.Model, error)

type PoolWorker struct {
	ctx         context.Context
	logger      *logrus.Entry
	queue       *Queue
	config      *Config
	store       JobStore
	hub         *Hub
	uploader    Uploader
	newModel    ModelFactory
	workChannel chan Job
	workers     []*Worker
	waitGroup   sync.WaitGroup

	// Jobs taken off the queue and not yet finished by a worker
	lock   sync.Mutex
	active map[int64]int
}

func NewPoolWorker(ctx context.Context, logger *logrus.Entry, queue *Queue, config *Config,
	store JobStore, hub *Hub, uploader Uploader, newModel ModelFactory) *PoolWorker {
	p := &PoolWorker{
		ctx:         ctx,
		logger:      logger,
		queue:       queue,
		config:      config,
		store:       store,
		hub:         hub,
		uploader:    uploader,
		newModel:    newModel,
		workChannel: make(chan Job),
		active:      make(map[int64]int),
	}

	for i := 0; i < config.Workers; i++ {
		p.workers = append(p.workers, NewWorker(i, logger.WithField("worker", i), p))
	}

	return p
}

// RunDispatcher feeds queued jobs to the workers until the context is
// cancelled. A job dequeued at that moment stays queued in the store and
// is restored on the next start.
func (p *PoolWorker) RunDispatcher() {
	for _, worker := range p.workers {
		p.waitGroup.Add(1)
		go func(w *Worker) {
			defer p.waitGroup.Done()
			w.start()
		}(worker)
	}

	defer close(p.workChannel)
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		job, ok := p.claim()
		if !ok {
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		select {
		case p.workChannel <- job:
		case <-p.ctx.Done():
			p.release(job.ID)
			return
		}
	}
}

// claim dequeues the next job and marks it active until release
func (p *PoolWorker) claim() (Job, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()

	job, ok := p.queue.Dequeue()
	if ok {
		p.active[job.ID]++
	}
	return job, ok
}

func (p *PoolWorker) release(id int64) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.active[id] <= 1 {
		delete(p.active, id)
		return
	}
	p.active[id]--
}

// RemoveQueued removes the job from the queue unless a worker already
// claimed it. active reports a claimed job.
func (p *PoolWorker) RemoveQueued(id int64) (queued bool, active bool) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.active[id] > 0 {
		return false, true
	}
	_, queued = p.queue.RemoveByID(id)
	return queued, false
}

// Wait blocks until every worker has returned
func (p *PoolWorker) Wait() {
	p.waitGroup.Wait()
}

func (p *PoolWorker) GetWorkerInfos() []WorkerInfo {
	infos := make([]WorkerInfo, 0, len(p.workers))
	for _, w := range p.workers {
		infos = append(infos, w.GetInfo())
	}
	return infos
}
