package notify

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/reelspace/core/internal/middleware"
	"github.com/reelspace/core/internal/pkg/pagination"
	"github.com/reelspace/core/internal/pkg/response"
	"gorm.io/gorm"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/notifications", authMW)

	g.GET("", h.list)
	g.GET("/unread-count", h.unreadCount)
	g.PATCH("/:id/read", h.markRead)
	g.PATCH("/read-all", h.markAllRead)
	g.DELETE("/:id", h.delete)
	g.DELETE("", h.clear)
}

func (h *Handler) list(c *gin.Context) {
	uid := middleware.UserID(c)
	q := pagination.FromContext(c)

	rows, total, err := h.svc.List(c.Request.Context(), uid, q.Page, q.Size)
	if err != nil {
		response.InternalError(c, err)
		return
	}

	totalPage := int((total + int64(q.Size) - 1) / int64(q.Size))
	response.Paged(c, rows, response.Pagination{
		Total:       total,
		CurrentPage: q.Page,
		TotalPage:   totalPage,
		Size:        q.Size,
		HasNextPage: q.Page < totalPage,
	})
}

func (h *Handler) unreadCount(c *gin.Context) {
	n, err := h.svc.UnreadCount(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{"count": n})
}

func (h *Handler) markRead(c *gin.Context) {
	err := h.svc.MarkRead(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		response.NotFound(c)
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) markAllRead(c *gin.Context) {
	if err := h.svc.MarkAllRead(c.Request.Context(), middleware.UserID(c)); err != nil {
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) delete(c *gin.Context) {
	err := h.svc.Delete(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		response.NotFound(c)
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) clear(c *gin.Context) {
	if err := h.svc.Clear(c.Request.Context(), middleware.UserID(c)); err != nil {
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}
