package comment

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/reelspace/core/internal/middleware"
	"github.com/reelspace/core/internal/models"
	"github.com/reelspace/core/internal/modules/realtime/notify"
	"github.com/reelspace/core/internal/pkg/pagination"
	"github.com/reelspace/core/internal/pkg/response"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type CreateCommentDTO struct {
	VideoID  string  `json:"video_id" binding:"required"`
	Text     string  `json:"text"     binding:"required"`
	ParentID *string `json:"parent_id"`
}

var errNotOwner = errors.New("not the comment author")

type Service struct {
	db     *gorm.DB
	notify *notify.Service
	logger *zap.Logger
}

func NewService(db *gorm.DB, notifySvc *notify.Service, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, notify: notifySvc, logger: logger}
}

// Create persists the comment and notifies the video's author. The
// notification is best-effort; a failed dispatch never rolls the comment back.
func (s *Service) Create(ctx context.Context, authorID string, dto *CreateCommentDTO) (*models.CommentModel, error) {
	text := strings.TrimSpace(dto.Text)
	if text == "" {
		return nil, errors.New("text is required")
	}

	var video models.VideoModel
	if err := s.db.WithContext(ctx).First(&video, "id = ?", dto.VideoID).Error; err != nil {
		return nil, err
	}
	if dto.ParentID != nil {
		var parent models.CommentModel
		if err := s.db.WithContext(ctx).First(&parent, "id = ? AND video_id = ?", *dto.ParentID, dto.VideoID).Error; err != nil {
			return nil, err
		}
	}

	cm := models.CommentModel{
		VideoID:  dto.VideoID,
		AuthorID: authorID,
		Text:     text,
		ParentID: dto.ParentID,
	}
	if err := s.db.WithContext(ctx).Create(&cm).Error; err != nil {
		return nil, err
	}

	if s.notify != nil {
		var author models.UserModel
		if err := s.db.WithContext(ctx).First(&author, "id = ?", authorID).Error; err == nil {
			actor := notify.Actor{ID: author.ID, DisplayName: author.DisplayName, Avatar: author.Avatar}
			if err := s.notify.Dispatch(ctx, models.NotificationTypeComment, actor, video.AuthorID, cm.ID); err != nil {
				s.logger.Warn("comment notification failed", zap.String("video", video.ID), zap.Error(err))
			}
		}
	}
	return &cm, nil
}

// ListByVideo returns a video's comments, newest first.
func (s *Service) ListByVideo(videoID string, q pagination.Query) ([]models.CommentModel, response.Pagination, error) {
	tx := s.db.Model(&models.CommentModel{}).
		Preload("Author").
		Where("video_id = ?", videoID).
		Order("created_at DESC")

	var comments []models.CommentModel
	pag, err := pagination.Paginate(tx, q, &comments)
	return comments, pag, err
}

func (s *Service) Delete(id, requesterID string) error {
	var cm models.CommentModel
	if err := s.db.First(&cm, "id = ?", id).Error; err != nil {
		return err
	}
	if cm.AuthorID != requesterID {
		return errNotOwner
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("parent_id = ?", id).Delete(&models.CommentModel{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.CommentModel{}, "id = ?", id).Error
	})
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/comments")

	g.GET("/video/:videoId", h.listByVideo)

	a := g.Group("", authMW)
	a.POST("", h.create)
	a.DELETE("/:id", h.delete)
}

func (h *Handler) create(c *gin.Context) {
	var dto CreateCommentDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	cm, err := h.svc.Create(c.Request.Context(), middleware.UserID(c), &dto)
	switch {
	case err == nil:
		response.Created(c, cm)
	case errors.Is(err, gorm.ErrRecordNotFound):
		response.NotFound(c)
	default:
		response.UnprocessableEntity(c, err.Error())
	}
}

func (h *Handler) listByVideo(c *gin.Context) {
	comments, pag, err := h.svc.ListByVideo(c.Param("videoId"), pagination.FromContext(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, comments, pag)
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
