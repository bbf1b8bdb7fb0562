package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/d60-Lab/feedsync/internal/cache"
	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/internal/repository"
	"github.com/d60-Lab/feedsync/pkg/response"
)

// Handler serves the remote authority over HTTP.
type Handler struct {
	store        remote.Store
	relations    *cache.RelationCache
	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

func NewHandler(store remote.Store, relations *cache.RelationCache) *Handler {
	return &Handler{
		store:     store,
		relations: relations,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		pingInterval: 15 * time.Second,
	}
}

// SetPingInterval changes how often idle change streams get a keep-alive frame.
func (h *Handler) SetPingInterval(d time.Duration) {
	if d > 0 {
		h.pingInterval = d
	}
}

// Health 健康检查
// @Summary 健康检查
// @Tags 系统
// @Success 200 {object} response.Response
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, remote.ErrUnknownTable), errors.Is(err, repository.ErrInvalidRow):
		response.BadRequest(c, err.Error())
	case errors.Is(err, remote.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, remote.ErrConflict):
		response.Conflict(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}
