package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Zelak312/frameup/rife"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// JobStoreAPI is the part of the history store the HTTP handlers need
type JobStoreAPI interface {
	InsertJob(job *Job) (int64, error)
	GetJobs() ([]Job, error)
	GetJob(id int64) (Job, error)
	DeleteJob(id int64) error
}

type API struct {
	logger     *logrus.Entry
	queue      *Queue
	store      JobStoreAPI
	poolWorker *PoolWorker
}

type JobRequest struct {
	Path       string `json:"path" binding:"required"`
	OutputPath string `json:"outputPath"`
	Exp        int    `json:"exp"`
	FPS        int    `json:"fps"`
	PNG        bool   `json:"png"`
	Skip       bool   `json:"skip"`
	Ext        string `json:"ext"`
}

func NewRouter(api *API, hub *Hub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(api.logger))

	r.GET("/ping", ping)
	r.GET("/jobs", api.listJobs)
	r.GET("/jobs/:id", api.getJob)
	r.POST("/jobs", api.addJob)
	r.DELETE("/jobs/:id", api.deleteJob)
	r.GET("/queue", api.listQueue)
	r.GET("/workers", api.listWorkers)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if hub != nil {
		r.GET("/ws", hub.HandleConnections)
	}

	return r
}

func ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

func errorJSON(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func (a *API) addJob(c *gin.Context) {
	var request JobRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}

	if request.Exp == 0 {
		request.Exp = 1
	}

	if request.Exp < 1 || request.Exp > rife.MaxExp {
		errorJSON(c, http.StatusBadRequest, rife.ErrInvalidExp)
		return
	}

	if request.FPS < 0 {
		errorJSON(c, http.StatusBadRequest, errors.New("fps must be positive"))
		return
	}

	if request.Ext == "" {
		request.Ext = "mp4"
	}

	job := Job{
		RunID:      uuid.NewString(),
		Path:       request.Path,
		OutputPath: request.OutputPath,
		Exp:        request.Exp,
		FPS:        request.FPS,
		PNG:        request.PNG,
		Skip:       request.Skip,
		Ext:        request.Ext,
		Status:     JobQueued,
	}

	if _, err := a.store.InsertJob(&job); err != nil {
		a.logger.Error("Failed to insert job: ", err)
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}

	a.logger.WithFields(StructFields(job)).Debug("Job added")
	a.queue.Enqueue(job)
	c.JSON(http.StatusCreated, job)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return 0, false
	}
	return id, true
}

func (a *API) getJob(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	job, err := a.store.GetJob(id)
	if errors.Is(err, ErrJobNotFound) {
		errorJSON(c, http.StatusNotFound, err)
		return
	}

	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// deleteJob removes a job that is not running
func (a *API) deleteJob(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	job, err := a.store.GetJob(id)
	if errors.Is(err, ErrJobNotFound) {
		errorJSON(c, http.StatusNotFound, err)
		return
	}

	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}

	if a.removeQueued(id, job) {
		errorJSON(c, http.StatusConflict, errors.New("job is running"))
		return
	}

	if err := a.store.DeleteJob(id); err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}

	a.logger.WithField("id", id).Debug("Job deleted")
	c.Status(http.StatusNoContent)
}

// removeQueued drops the job from the queue and reports whether a worker
// holds it
func (a *API) removeQueued(id int64, job Job) bool {
	if a.poolWorker != nil {
		queued, active := a.poolWorker.RemoveQueued(id)
		return active || (!queued && job.Status == JobRunning)
	}

	_, queued := a.queue.RemoveByID(id)
	return !queued && job.Status == JobRunning
}

func (a *API) listJobs(c *gin.Context) {
	jobs, err := a.store.GetJobs()
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, jobs)
}

func (a *API) listQueue(c *gin.Context) {
	c.JSON(http.StatusOK, a.queue.GetJobs())
}

func (a *API) listWorkers(c *gin.Context) {
	if a.poolWorker == nil {
		c.JSON(http.StatusOK, []WorkerInfo{})
		return
	}

	c.JSON(http.StatusOK, a.poolWorker.GetWorkerInfos())
}
