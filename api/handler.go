package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"torrentforge/config"
	"torrentforge/creator"
	"torrentforge/task"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	manager *task.Manager
	cfg     *config.Config
}

func NewHandler(tm *task.Manager, cfg *config.Config) *Handler {
	return &Handler{
		manager: tm,
		cfg:     cfg,
	}
}

type createRequest struct {
	InputPath string   `json:"inputPath" binding:"required"`
	SavePath  string   `json:"savePath"`
	PieceSize int      `json:"pieceSize"`
	Private   bool     `json:"private"`
	Comment   string   `json:"comment"`
	Source    string   `json:"source"`
	Trackers  []string `json:"trackers"`
	URLSeeds  []string `json:"urlSeeds"`
	Format    string   `json:"format"`
}

func (r *createRequest) toParams() *creator.Params {
	var format creator.Format
	switch strings.ToLower(r.Format) {
	case "v1":
		format = creator.FormatV1
	case "v2":
		format = creator.FormatV2
	default:
		format = creator.FormatHybrid
	}
	return &creator.Params{
		InputPath: r.InputPath,
		SavePath:  r.SavePath,
		PieceSize: r.PieceSize,
		Private:   r.Private,
		Comment:   r.Comment,
		Source:    r.Source,
		Trackers:  r.Trackers,
		URLSeeds:  r.URLSeeds,
		Format:    format,
	}
}

type taskStatus struct {
	ID           string      `json:"id"`
	InputPath    string      `json:"inputPath"`
	Private      bool        `json:"private"`
	SavePath     string      `json:"savePath,omitempty"`
	PieceSize    int         `json:"pieceSize,omitempty"`
	Comment      string      `json:"comment,omitempty"`
	Source       string      `json:"source,omitempty"`
	Trackers     []string    `json:"trackers,omitempty"`
	URLSeeds     []string    `json:"urlSeeds,omitempty"`
	Format       string      `json:"format,omitempty"`
	Status       task.Status `json:"status"`
	Progress     *int        `json:"progress,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	DownloadURL  string      `json:"downloadUrl,omitempty"`
}

func (h *Handler) taskStatusOf(c *gin.Context, t *task.Task) taskStatus {
	p := t.Params()
	st := taskStatus{
		ID:        t.ID(),
		InputPath: p.InputPath,
		Private:   p.Private,
		SavePath:  p.SavePath,
		PieceSize: p.PieceSize,
		Comment:   p.Comment,
		Source:    p.Source,
		Trackers:  p.Trackers,
		URLSeeds:  p.URLSeeds,
		Format:    string(p.Format),
		Status:    t.Status(),
	}
	switch {
	case t.IsDoneWithError():
		st.ErrorMessage = t.ErrorMessage()
	case t.IsDoneWithSuccess():
		st.DownloadURL = h.buildDownloadURL(c, t.ID())
	case t.IsRunning():
		progress := t.Progress()
		st.Progress = &progress
	}
	return st
}

// buildDownloadURL constructs the full URL for a finished task's metafile.
func (h *Handler) buildDownloadURL(c *gin.Context, id string) string {
	baseURL := h.cfg.BaseURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	return fmt.Sprintf("%s/api/v1/metafiles/%s/file", baseURL, id)
}

// handleCreateTask accepts a creation request and answers with the task id.
// Parameter problems that only surface during the build (bad input path,
// invalid piece size) become the task's error state, not an HTTP error.
func (h *Handler) handleCreateTask(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.manager.Create(req.toParams())
	if err != nil {
		if errors.Is(err, task.ErrTooManyTasks) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create task", "details": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

// handleListTasks reports the status of every registered task.
func (h *Handler) handleListTasks(c *gin.Context) {
	tasks := h.manager.List()
	statuses := make([]taskStatus, 0, len(tasks))
	for _, t := range tasks {
		statuses = append(statuses, h.taskStatusOf(c, t))
	}
	c.JSON(http.StatusOK, statuses)
}

// handleGetTaskStatus reports the status of a single task.
func (h *Handler) handleGetTaskStatus(c *gin.Context) {
	t, found := h.manager.Get(c.Param("taskId"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	c.JSON(http.StatusOK, h.taskStatusOf(c, t))
}

// handleGetTorrentFile serves the produced metafile.
func (h *Handler) handleGetTorrentFile(c *gin.Context) {
	t, found := h.manager.Get(c.Param("taskId"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	if !t.IsDoneWithSuccess() {
		c.JSON(http.StatusConflict, gin.H{"error": "Torrent file is not ready"})
		return
	}
	data := t.Content()
	if len(data) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Torrent file is not available"})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.torrent"`, t.ID()))
	c.Data(http.StatusOK, "application/x-bittorrent", data)
}

// handleDeleteTask removes a task, cancelling its build if still running.
func (h *Handler) handleDeleteTask(c *gin.Context) {
	id := c.Param("taskId")
	if !h.manager.Delete(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task deleted"})
}
