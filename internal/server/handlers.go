package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/desertthunder/playbridge/internal/catalog"
	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/quota"
	"github.com/desertthunder/playbridge/internal/shared"
	"github.com/desertthunder/playbridge/internal/syncs"
	"github.com/desertthunder/playbridge/internal/tasks"
)

type handler struct {
	engine   *tasks.MigrationEngine
	syncs    *syncs.Registry
	catalogs *catalog.Registry
	governor *quota.Governor
	logger   *log.Logger
}

func (h *handler) register(r *gin.Engine) {
	r.GET("/health", h.health)

	r.POST("/migration", h.submitMigration)
	r.GET("/migration/:jobId", h.getMigration)
	r.POST("/migration/:jobId/retry-failed", h.retryFailed)
	r.POST("/migration/:jobId/revert", h.revert)
	r.POST("/migration/:jobId/resolve", h.resolve)
	r.POST("/migration/:jobId/skip", h.skip)
	r.POST("/migration/:jobId/cancel", h.cancel)
	r.POST("/migration/:jobId/resume", h.resume)
	r.GET("/migrations", h.listMigrations)

	r.GET("/platforms/:platform/playlists", h.listPlaylists)
	r.GET("/quota/:platform", h.quotaStatus)

	r.POST("/sync-registrations", h.registerSync)
	r.GET("/sync-registrations", h.listSyncs)
	r.DELETE("/sync-registrations/:id", h.disableSync)
	r.DELETE("/sync-registrations", h.clearSyncs)
}

// background detaches work that must outlive the request from client disconnects.
func background(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type submitResponse struct {
	JobID string          `json:"jobId"`
	State models.JobState `json:"state"`
}

func (h *handler) submitMigration(c *gin.Context) {
	var req models.MigrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := background(c)
	job, err := h.engine.Submit(ctx, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.engine.Start(ctx, job.ID, nil); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, submitResponse{JobID: job.ID, State: job.State})
}

func (h *handler) getMigration(c *gin.Context) {
	job, err := h.engine.Get(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job.Snapshot())
}

func (h *handler) retryFailed(c *gin.Context) {
	job, err := h.engine.RetryFailed(background(c), c.Param("jobId"), nil)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job.Snapshot())
}

func (h *handler) revert(c *gin.Context) {
	if err := h.engine.Revert(background(c), c.Param("jobId")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reverted": true})
}

type resolveRequest struct {
	SourceTrackID string `json:"sourceTrackId" binding:"required"`
	TargetTrackID string `json:"targetTrackId" binding:"required"`
}

func (h *handler) resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	override, err := h.engine.Resolve(c.Request.Context(), c.Param("jobId"), req.SourceTrackID, req.TargetTrackID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, override)
}

type skipRequest struct {
	SourceTrackID string `json:"sourceTrackId" binding:"required"`
}

func (h *handler) skip(c *gin.Context) {
	var req skipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	job, err := h.engine.Skip(c.Request.Context(), c.Param("jobId"), req.SourceTrackID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job.Snapshot())
}

func (h *handler) cancel(c *gin.Context) {
	job, err := h.engine.Cancel(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job.Snapshot())
}

func (h *handler) resume(c *gin.Context) {
	job, err := h.engine.Resume(background(c), c.Param("jobId"), nil)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job.Snapshot())
}

type listResponse struct {
	Jobs  []models.JobSnapshot    `json:"jobs"`
	Stats map[models.JobState]int `json:"stats"`
}

func (h *handler) listMigrations(c *gin.Context) {
	criteria := map[string]any{}
	if s := c.Query("state"); s != "" {
		state, err := models.ParseJobState(s)
		if err != nil {
			h.fail(c, err)
			return
		}
		criteria["state"] = state
	}
	if k := c.Query("kind"); k != "" {
		criteria["kind"] = k
	}
	limit := 50
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			h.fail(c, fmt.Errorf("%w: limit must be a positive integer", shared.ErrInvalidArgument))
			return
		}
		limit = n
	}
	criteria["limit"] = limit

	ctx := c.Request.Context()
	jobs, err := h.engine.List(ctx, criteria)
	if err != nil {
		h.fail(c, err)
		return
	}
	stats, err := h.engine.Stats(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := listResponse{Jobs: make([]models.JobSnapshot, len(jobs)), Stats: stats}
	for i, j := range jobs {
		resp.Jobs[i] = j.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) platform(c *gin.Context) (models.Platform, bool) {
	p, err := models.ParsePlatform(c.Param("platform"))
	if err != nil {
		h.fail(c, err)
		return "", false
	}
	return p, true
}

func (h *handler) listPlaylists(c *gin.Context) {
	p, ok := h.platform(c)
	if !ok {
		return
	}
	client, err := h.catalogs.Get(p)
	if err != nil {
		h.fail(c, err)
		return
	}
	playlists, err := client.ListPlaylists(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if playlists == nil {
		playlists = []models.PlaylistRef{}
	}
	c.JSON(http.StatusOK, playlists)
}

func (h *handler) quotaStatus(c *gin.Context) {
	p, ok := h.platform(c)
	if !ok {
		return
	}
	if h.governor == nil {
		h.fail(c, fmt.Errorf("%w: quota governor", shared.ErrInvalidConfig))
		return
	}
	status, err := h.governor.Status(c.Request.Context(), p, h.engine.CredentialFor(p))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *handler) syncRegistry(c *gin.Context) (*syncs.Registry, bool) {
	if h.syncs == nil {
		h.fail(c, fmt.Errorf("%w: sync registry", shared.ErrInvalidConfig))
		return nil, false
	}
	return h.syncs, true
}

func (h *handler) registerSync(c *gin.Context) {
	registry, ok := h.syncRegistry(c)
	if !ok {
		return
	}
	var req syncs.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	reg, err := registry.Register(c.Request.Context(), req, nil)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"registrationId": reg.ID, "registration": reg})
}

func (h *handler) listSyncs(c *gin.Context) {
	registry, ok := h.syncRegistry(c)
	if !ok {
		return
	}
	regs, err := registry.List()
	if err != nil {
		h.fail(c, err)
		return
	}
	if regs == nil {
		regs = []*models.SyncRegistration{}
	}
	c.JSON(http.StatusOK, regs)
}

func (h *handler) disableSync(c *gin.Context) {
	registry, ok := h.syncRegistry(c)
	if !ok {
		return
	}
	reg, err := registry.Disable(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reg)
}

func (h *handler) clearSyncs(c *gin.Context) {
	registry, ok := h.syncRegistry(c)
	if !ok {
		return
	}
	n, err := registry.Clear()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}
