package main

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/Zelak312/frameup/rife"
	"github.com/sirupsen/logrus"
)

type Worker struct {
	id         int
	logger     *logrus.Entry
	poolWorker *PoolWorker
	lock       sync.RWMutex

	workerInfo WorkerInfo
}

type WorkerInfo struct {
	ID       int     `json:"id"`
	Active   bool    `json:"active"`
	Step     string  `json:"step"`
	Progress float64 `json:"progress"`
	Job      *Job    `json:"job"`
}

func NewWorker(id int, logger *logrus.Entry, poolWorker *PoolWorker) *Worker {
	return &Worker{
		id:         id,
		logger:     logger,
		poolWorker: poolWorker,
		workerInfo: WorkerInfo{ID: id},
	}
}

func (w *Worker) start() {
	// Each worker owns its model, loaded on the first job and again after
	// the backend broke
	var model rife.Model
	defer func() {
		if model != nil {
			model.Close()
		}
	}()

	for job := range w.poolWorker.workChannel {
		if model == nil {
			loaded, err := w.poolWorker.newModel()
			if err != nil {
				w.logger.Error("Failed to load model: ", err)
				// Keep draining so the dispatcher never blocks on a dead worker
				w.handleError(&job, err)
				w.poolWorker.release(job.ID)
				continue
			}
			model = loaded
		}

		err := w.doWork(model, &job)
		w.poolWorker.release(job.ID)
		if w.poolWorker.ctx.Err() != nil {
			w.logger.Debug("Ctx was canceled")
			return
		}

		if errors.Is(err, rife.ErrProcessBroken) {
			w.logger.Warn("Model process broke, reloading it for the next job")
			model.Close()
			model = nil
		}
	}
}

// doWork runs job and returns the interpolation error, if any
func (w *Worker) doWork(model rife.Model, job *Job) error {
	logger := w.logger.WithField("jobId", job.ID)
	w.setJob(job)
	activeWorkers.Inc()
	defer func() {
		activeWorkers.Dec()
		w.setJob(nil)
	}()

	if err := w.poolWorker.store.MarkRunning(job); err != nil {
		logger.Error("Failed to mark job as running: ", err)
	}

	started := time.Now()
	w.updateStep("Interpolating frames")
	interpolator := NewInterpolator(logger, model, w.poolWorker.config)
	interpolator.OnProgress(w.progressFunc())

	result, err := interpolator.Run(w.poolWorker.ctx, job.RunOptions())
	if w.poolWorker.ctx.Err() != nil {
		// Shutting down, the job is picked up again on the next start
		logger.Info("Job interrupted by shutdown")
		if err := w.poolWorker.store.MarkQueued(job); err != nil {
			logger.Error("Failed to requeue job: ", err)
		}
		return err
	}

	if err != nil {
		w.handleError(job, err)
		return err
	}

	if w.poolWorker.uploader != nil {
		w.updateStep("Uploading output")
		keys, err := w.poolWorker.uploader.Upload(w.poolWorker.ctx, result.OutputPath, job.RunID)
		if err != nil {
			w.handleError(job, err)
			return nil
		}
		logger.WithField("objects", len(keys)).Info("Uploaded output")
	}

	if err := w.poolWorker.store.MarkDone(job, result); err != nil {
		logger.Error("Failed to mark job as done: ", err)
		return nil
	}

	jobsProcessedTotal.WithLabelValues(JobDone).Inc()
	jobDuration.Observe(time.Since(started).Seconds())
	recordResult(result)
	logger.WithFields(StructFields(result)).Info("Finished processing job")
	return nil
}

func (w *Worker) handleError(job *Job, jobErr error) {
	logger := w.logger.WithFields(StructFields(job))
	logger.Error("Error processing job: ", jobErr)

	// These never succeed on retry
	if errors.Is(jobErr, ErrVideoNotFound) || errors.Is(jobErr, rife.ErrInvalidExp) {
		w.failJob(job, jobErr)
		return
	}

	retries, err := w.poolWorker.store.GetJobRetries(job)
	if err != nil {
		logger.Error("Failed to get retries: ", err)
		return
	}

	if retries >= retryLimit {
		w.failJob(job, jobErr)
		return
	}

	retries++
	if err := w.poolWorker.store.UpdateRetries(job, retries, jobErr.Error()); err != nil {
		logger.Error("Failed to update job retries: ", err)
		return
	}

	retryTotal.Inc()
	w.poolWorker.queue.Enqueue(*job)
	logger.Info("Requeue job (back of the queue and retrying)")
}

func (w *Worker) failJob(job *Job, failError error) {
	w.logger.WithField("jobId", job.ID).Info("Job failed, removing it from queue")
	jobsProcessedTotal.WithLabelValues(JobFailed).Inc()
	if err := w.poolWorker.store.FailJob(job, failError.Error()); err != nil {
		w.logger.WithField("jobId", job.ID).Error("Failed to fail the job: ", err)
	}
}

// progressFunc only broadcasts when the whole percentage changes
func (w *Worker) progressFunc() ProgressFunc {
	last := -1.0
	return func(done, total int64) {
		if total <= 0 {
			return
		}

		progress := math.Min(100, math.Floor(float64(done)/float64(total)*100))
		if progress == last {
			return
		}

		last = progress
		w.lock.Lock()
		w.workerInfo.Progress = progress
		w.lock.Unlock()
		w.sendUpdate()
	}
}

func (w *Worker) setJob(job *Job) {
	w.lock.Lock()
	if job != nil {
		copied := *job
		w.workerInfo.Job = &copied
		w.workerInfo.Active = true
	} else {
		w.workerInfo.Job = nil
		w.workerInfo.Active = false
		w.workerInfo.Step = ""
		w.workerInfo.Progress = 0
	}
	w.lock.Unlock()
	w.sendUpdate()
}

func (w *Worker) updateStep(step string) {
	w.lock.Lock()
	w.workerInfo.Step = step
	w.workerInfo.Progress = 0
	w.lock.Unlock()
	w.sendUpdate()
}

func (w *Worker) sendUpdate() {
	if w.poolWorker.hub == nil {
		return
	}

	packet := WsWorkerProgress{
		WsBaseMessage: WsBaseMessage{
			Type: "worker_progress",
		},
		WorkerInfo: w.GetInfo(),
	}

	w.poolWorker.hub.BroadcastMessage(packet)
}

func (w *Worker) GetInfo() WorkerInfo {
	w.lock.RLock()
	defer w.lock.RUnlock()

	return w.workerInfo
}
