package video

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/reelspace/core/internal/middleware"
	"github.com/reelspace/core/internal/models"
	"github.com/reelspace/core/internal/modules/realtime/views"
	"github.com/reelspace/core/internal/pkg/pagination"
	"github.com/reelspace/core/internal/pkg/response"
	"gorm.io/gorm"
)

type CreateVideoDTO struct {
	Title       string  `json:"title"        binding:"required"`
	Description string  `json:"description"`
	PlaybackURL string  `json:"playback_url" binding:"required"`
	ThumbURL    string  `json:"thumb_url"`
	Duration    float64 `json:"duration"`
}

type Service struct{ db *gorm.DB }

func NewService(db *gorm.DB) *Service { return &Service{db: db} }

func (s *Service) Create(authorID string, dto *CreateVideoDTO) (*models.VideoModel, error) {
	v := models.VideoModel{
		AuthorID:    authorID,
		Title:       strings.TrimSpace(dto.Title),
		Description: dto.Description,
		PlaybackURL: strings.TrimSpace(dto.PlaybackURL),
		ThumbURL:    strings.TrimSpace(dto.ThumbURL),
		Duration:    dto.Duration,
	}
	if v.Title == "" {
		return nil, errors.New("title is required")
	}
	if err := s.db.Create(&v).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Service) GetByID(id string) (*models.VideoModel, error) {
	var v models.VideoModel
	if err := s.db.Preload("Author").First(&v, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// List returns the feed, newest first, optionally filtered to one author.
func (s *Service) List(authorID string, q pagination.Query) ([]models.VideoModel, response.Pagination, error) {
	tx := s.db.Model(&models.VideoModel{}).
		Preload("Author").
		Order("created_at DESC")
	if authorID != "" {
		tx = tx.Where("author_id = ?", authorID)
	}

	var videos []models.VideoModel
	pag, err := pagination.Paginate(tx, q, &videos)
	return videos, pag, err
}

// Delete removes a video and its dependent rows. Only the author may delete.
func (s *Service) Delete(id, requesterID string) error {
	var v models.VideoModel
	if err := s.db.First(&v, "id = ?", id).Error; err != nil {
		return err
	}
	if v.AuthorID != requesterID {
		return errNotOwner
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, m := range []interface{}{
			&models.LikeModel{}, &models.SaveModel{},
			&models.CommentModel{}, &models.WatchSessionModel{}, &models.ViewRecordModel{},
		} {
			if err := tx.Unscoped().Where("video_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&models.VideoModel{}, "id = ?", id).Error
	})
}

var errNotOwner = errors.New("not the author")

type Handler struct {
	svc       *Service
	batcher   *views.Batcher
	analytics *views.Analytics
}

func NewHandler(svc *Service, batcher *views.Batcher, analytics *views.Analytics) *Handler {
	return &Handler{svc: svc, batcher: batcher, analytics: analytics}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/videos")

	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.GET("/:id/viewers", h.viewers)
	g.GET("/:id/stats", h.stats)

	a := g.Group("", authMW)
	a.POST("", h.create)
	a.DELETE("/:id", h.delete)
}

func (h *Handler) create(c *gin.Context) {
	var dto CreateVideoDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	v, err := h.svc.Create(middleware.UserID(c), &dto)
	if err != nil {
		response.UnprocessableEntity(c, err.Error())
		return
	}
	response.Created(c, v)
}

func (h *Handler) get(c *gin.Context) {
	v, err := h.svc.GetByID(c.Param("id"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if v == nil {
		response.NotFound(c)
		return
	}
	response.OK(c, v)
}

func (h *Handler) list(c *gin.Context) {
	videos, pag, err := h.svc.List(c.Query("author"), pagination.FromContext(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, videos, pag)
}

func (h *Handler) delete(c *gin.Context) {
	err := h.svc.Delete(c.Param("id"), middleware.UserID(c))
	switch {
	case err == nil:
		response.NoContent(c)
	case errors.Is(err, errNotOwner):
		response.Forbidden(c)
	case errors.Is(err, gorm.ErrRecordNotFound):
		response.NotFound(c)
	default:
		response.InternalError(c, err)
	}
}

// viewers answers "how many people are watching right now" from the
// read-through cache, not from the live presence registry.
func (h *Handler) viewers(c *gin.Context) {
	count, err := h.batcher.LiveViewerCount(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{"contentId": c.Param("id"), "count": count})
}

func (h *Handler) stats(c *gin.Context) {
	since := time.Now().AddDate(0, 0, -30)
	if raw := c.Query("since"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			since = parsed
		}
	}
	stats, err := h.analytics.Stats(c.Request.Context(), c.Param("id"), since)
	switch {
	case err == nil:
		response.OK(c, stats)
	case errors.Is(err, views.ErrVideoNotFound):
		response.NotFound(c)
	default:
		response.InternalError(c, err)
	}
}
