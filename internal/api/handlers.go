package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"wikibook/internal/access"
	"wikibook/internal/auth"
	"wikibook/internal/store"
	"wikibook/internal/task"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type generateRequest struct {
	PageIdentifiers []string `json:"page_identifiers"`
	Title           string   `json:"title"`
	SourceBase      string   `json:"source_base"`
	IsPublic        bool     `json:"is_public"`
	Description     string   `json:"description"`
}

type generateResponse struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	IsPublic bool   `json:"is_public"`
}

type statusResponse struct {
	TaskID      string       `json:"task_id"`
	Status      store.Status `json:"status"`
	DownloadURL string       `json:"download_url,omitempty"`
	ViewURL     string       `json:"view_url,omitempty"`
	PublicURL   string       `json:"public_url,omitempty"`
	Message     string       `json:"message"`
	IsPublic    bool         `json:"is_public"`
}

type taskDetailResponse struct {
	TaskID      string       `json:"task_id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      store.Status `json:"status"`
	Message     string       `json:"message"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Filename    string       `json:"filename,omitempty"`
	FileSize    int64        `json:"file_size,omitempty"`
	IsPublic    bool         `json:"is_public"`
	Pages       []string     `json:"pages"`
	DownloadURL string       `json:"download_url,omitempty"`
	ViewURL     string       `json:"view_url,omitempty"`
	PublicURL   string       `json:"public_url,omitempty"`
}

type publicBookResponse struct {
	TaskID      string    `json:"task_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Filename    string    `json:"filename"`
	FileSize    int64     `json:"file_size"`
	Pages       []string  `json:"pages"`
	ViewURL     string    `json:"view_url"`
	DownloadURL string    `json:"download_url"`
}

type privacyRequest struct {
	IsPublic *bool `json:"is_public" binding:"required"`
}

type API struct {
	manager  *task.Manager
	tasks    store.TaskStore
	guard    *access.Guard
	verifier auth.Verifier
}

func NewAPI(manager *task.Manager, tasks store.TaskStore, guard *access.Guard, verifier auth.Verifier) *API {
	return &API{manager: manager, tasks: tasks, guard: guard, verifier: verifier}
}

// RegisterRoutes registers the API routes on the provided gin engine.
func (a *API) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", a.Health)

	owner := router.Group("/api/pdf", auth.RequireAuth(a.verifier))
	{
		owner.POST("/generate", a.Generate)
		owner.GET("/status/:task_id", a.Status)
		owner.GET("/download/:task_id/:filename", a.Download)
		owner.GET("/view/:task_id/:filename", a.View)
		owner.GET("/my-tasks", a.MyTasks)
		owner.PUT("/:task_id/privacy", a.UpdatePrivacy)
	}

	public := router.Group("/api/public")
	{
		public.GET("/pdfs", a.PublicBooks)
		public.GET("/view/:task_id/:filename", a.PublicView)
		public.GET("/download/:task_id/:filename", a.PublicDownload)
		public.GET("/info/:task_id", a.PublicInfo)
	}
}

func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Generate accepts a page list, creates the task record synchronously, and
// returns before the background run starts.
func (a *API) Generate(c *gin.Context) {
	identity, _ := auth.IdentityFrom(c)

	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	created, err := a.manager.Generate(c.Request.Context(), identity.UserID, task.Request{
		Pages:       req.PageIdentifiers,
		Title:       req.Title,
		SourceBase:  req.SourceBase,
		IsPublic:    req.IsPublic,
		Description: req.Description,
	})
	if err != nil {
		if errors.Is(err, task.ErrNoPages) || errors.Is(err, task.ErrTooManyPages) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Error().Int64("user_id", identity.UserID).Err(err).Msg("create generation task failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create task"})
		return
	}

	c.JSON(http.StatusOK, generateResponse{
		TaskID:   created.TaskID,
		Status:   string(store.StatusProcessing),
		Message:  "generation scheduled, poll the status endpoint for progress",
		IsPublic: created.IsPublic,
	})
}

// Status reports the task lifecycle state. Owner only, even for public tasks.
func (a *API) Status(c *gin.Context) {
	identity, _ := auth.IdentityFrom(c)
	taskID := c.Param("task_id")

	owner, err := a.guard.IsOwner(c.Request.Context(), taskID, identity.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ownership check failed"})
		return
	}
	if !owner {
		c.JSON(http.StatusForbidden, gin.H{"error": "you do not have permission to view this task"})
		return
	}

	t, err := a.tasks.GetByTaskID(c.Request.Context(), taskID)
	if err != nil {
		a.respondStoreError(c, err)
		return
	}

	resp := statusResponse{
		TaskID:   t.TaskID,
		Status:   t.Status,
		Message:  t.Message,
		IsPublic: t.IsPublic,
	}
	if t.Status == store.StatusCompleted && t.Filename != "" {
		resp.DownloadURL = "/api/pdf/download/" + t.TaskID + "/" + t.Filename
		resp.ViewURL = "/api/pdf/view/" + t.TaskID + "/" + t.Filename
		if t.IsPublic {
			resp.PublicURL = "/api/public/view/" + t.TaskID + "/" + t.Filename
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Download streams the finished book as an attachment. Owner only.
func (a *API) Download(c *gin.Context) {
	a.serveOwned(c, false)
}

// View streams the finished book inline. Owner only.
func (a *API) View(c *gin.Context) {
	a.serveOwned(c, true)
}

func (a *API) serveOwned(c *gin.Context, inline bool) {
	identity, _ := auth.IdentityFrom(c)
	taskID := c.Param("task_id")

	owner, err := a.guard.IsOwner(c.Request.Context(), taskID, identity.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ownership check failed"})
		return
	}
	if !owner {
		c.JSON(http.StatusForbidden, gin.H{"error": "you do not have permission to access this file"})
		return
	}

	t, err := a.tasks.GetByTaskID(c.Request.Context(), taskID)
	if err != nil {
		a.respondStoreError(c, err)
		return
	}
	a.serveBook(c, t, inline)
}

// MyTasks lists the caller's tasks, newest first.
func (a *API) MyTasks(c *gin.Context) {
	identity, _ := auth.IdentityFrom(c)

	limit := parseLimit(c.Query("limit"))
	list, err := a.tasks.ListByOwner(c.Request.Context(), identity.UserID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list tasks"})
		return
	}

	out := make([]taskDetailResponse, 0, len(list))
	for i := range list {
		out = append(out, toTaskDetail(&list[i]))
	}
	c.JSON(http.StatusOK, out)
}

// UpdatePrivacy toggles the visibility flag. Strict ownership; a non-owner
// gets the same not-found as an unknown id.
func (a *API) UpdatePrivacy(c *gin.Context) {
	identity, _ := auth.IdentityFrom(c)
	taskID := c.Param("task_id")

	var req privacyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	err := a.tasks.UpdateVisibility(c.Request.Context(), taskID, identity.UserID, *req.IsPublic)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found or you are not allowed to edit it"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update visibility"})
		return
	}
	log.Info().Str("task_id", taskID).Int64("user_id", identity.UserID).
		Bool("is_public", *req.IsPublic).Msg("task visibility updated")
	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"task_id":   taskID,
		"is_public": *req.IsPublic,
	})
}

// PublicBooks lists or searches completed public books. No credentials.
func (a *API) PublicBooks(c *gin.Context) {
	limit := parseLimit(c.Query("limit"))

	var (
		list []store.GenerationTask
		err  error
	)
	if query := c.Query("search"); query != "" {
		list, err = a.tasks.SearchPublic(c.Request.Context(), query, limit)
	} else {
		list, err = a.tasks.ListPublic(c.Request.Context(), limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list public books"})
		return
	}

	out := make([]publicBookResponse, 0, len(list))
	for i := range list {
		out = append(out, toPublicBook(&list[i]))
	}
	c.JSON(http.StatusOK, out)
}

// PublicView streams a public, completed book inline. No credentials.
func (a *API) PublicView(c *gin.Context) {
	a.servePublic(c, true)
}

// PublicDownload streams a public, completed book as an attachment.
func (a *API) PublicDownload(c *gin.Context) {
	a.servePublic(c, false)
}

func (a *API) servePublic(c *gin.Context, inline bool) {
	taskID := c.Param("task_id")

	readable, err := a.guard.IsPubliclyReadable(c.Request.Context(), taskID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "access check failed"})
		return
	}
	if !readable {
		c.JSON(http.StatusForbidden, gin.H{"error": "file is not public or does not exist"})
		return
	}

	t, err := a.tasks.GetByTaskID(c.Request.Context(), taskID)
	if err != nil {
		a.respondStoreError(c, err)
		return
	}
	a.serveBook(c, t, inline)
}

// PublicInfo returns metadata for a public, completed book.
func (a *API) PublicInfo(c *gin.Context) {
	taskID := c.Param("task_id")

	t, err := a.tasks.GetByTaskID(c.Request.Context(), taskID)
	if err != nil {
		a.respondStoreError(c, err)
		return
	}
	if !t.IsPublic || t.Status != store.StatusCompleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "public book not found"})
		return
	}
	c.JSON(http.StatusOK, toPublicBook(t))
}

// serveBook streams the task's artifact. The filename path segment must
// match the stored artifact name, which also keeps traversal input out of
// the filesystem path.
func (a *API) serveBook(c *gin.Context, t *store.GenerationTask, inline bool) {
	filename := c.Param("filename")
	if t.Status != store.StatusCompleted || t.Filename == "" || filename != t.Filename {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	if _, err := os.Stat(t.FilePath); err != nil {
		log.Warn().Str("task_id", t.TaskID).Str("path", t.FilePath).Err(err).Msg("artifact missing on disk")
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	if inline {
		c.Header("Content-Disposition", `inline; filename="`+t.Filename+`"`)
		c.Header("Content-Type", "application/pdf")
		c.File(t.FilePath)
		return
	}
	c.FileAttachment(t.FilePath, t.Filename)
}

func (a *API) respondStoreError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	log.Error().Err(err).Msg("task store error")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
}

func toTaskDetail(t *store.GenerationTask) taskDetailResponse {
	resp := taskDetailResponse{
		TaskID:      t.TaskID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Message:     t.Message,
		CreatedAt:   t.CreatedAt.UTC(),
		CompletedAt: t.CompletedAt,
		Filename:    t.Filename,
		FileSize:    t.FileSize,
		IsPublic:    t.IsPublic,
		Pages:       t.Pages,
	}
	if t.Status == store.StatusCompleted && t.Filename != "" {
		resp.DownloadURL = "/api/pdf/download/" + t.TaskID + "/" + t.Filename
		resp.ViewURL = "/api/pdf/view/" + t.TaskID + "/" + t.Filename
		if t.IsPublic {
			resp.PublicURL = "/api/public/view/" + t.TaskID + "/" + t.Filename
		}
	}
	return resp
}

func toPublicBook(t *store.GenerationTask) publicBookResponse {
	return publicBookResponse{
		TaskID:      t.TaskID,
		Title:       t.Title,
		Description: t.Description,
		CreatedAt:   t.CreatedAt.UTC(),
		Filename:    t.Filename,
		FileSize:    t.FileSize,
		Pages:       t.Pages,
		ViewURL:     "/api/public/view/" + t.TaskID + "/" + t.Filename,
		DownloadURL: "/api/public/download/" + t.TaskID + "/" + t.Filename,
	}
}

func parseLimit(raw string) int {
	if raw == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
