package user

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/reelspace/core/internal/middleware"
	"github.com/reelspace/core/internal/models"
	"github.com/reelspace/core/internal/pkg/jwt"
	"github.com/reelspace/core/internal/pkg/pagination"
	"github.com/reelspace/core/internal/pkg/response"
	"gorm.io/gorm"
)

const tokenTTL = 30 * 24 * time.Hour

type RegisterDTO struct {
	Username    string `json:"username"    binding:"required"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`
}

type UpdateProfileDTO struct {
	DisplayName *string `json:"display_name"`
	Bio         *string `json:"bio"`
	Avatar      *string `json:"avatar"`
}

type Service struct{ db *gorm.DB }

func NewService(db *gorm.DB) *Service { return &Service{db: db} }

func (s *Service) Register(dto *RegisterDTO) (*models.UserModel, error) {
	username := strings.TrimSpace(dto.Username)
	if username == "" {
		return nil, errors.New("username is required")
	}

	var existing models.UserModel
	err := s.db.Where("username = ?", username).First(&existing).Error
	if err == nil {
		return nil, errors.New("username already taken")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	u := models.UserModel{
		Username:    username,
		DisplayName: strings.TrimSpace(dto.DisplayName),
		Avatar:      strings.TrimSpace(dto.Avatar),
	}
	if u.DisplayName == "" {
		u.DisplayName = username
	}
	if err := s.db.Create(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Service) GetByID(id string) (*models.UserModel, error) {
	var u models.UserModel
	if err := s.db.First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (s *Service) UpdateProfile(id string, dto *UpdateProfileDTO) (*models.UserModel, error) {
	updates := map[string]interface{}{}
	if dto.DisplayName != nil {
		updates["display_name"] = strings.TrimSpace(*dto.DisplayName)
	}
	if dto.Bio != nil {
		updates["bio"] = strings.TrimSpace(*dto.Bio)
	}
	if dto.Avatar != nil {
		updates["avatar"] = strings.TrimSpace(*dto.Avatar)
	}
	if len(updates) > 0 {
		if err := s.db.Model(&models.UserModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return s.GetByID(id)
}

// Followers lists the users following uid, newest follow first.
func (s *Service) Followers(uid string, q pagination.Query) ([]models.UserModel, response.Pagination, error) {
	tx := s.db.Model(&models.UserModel{}).
		Joins("JOIN follows ON follows.follower_id = users.id").
		Where("follows.followee_id = ?", uid).
		Order("follows.created_at DESC")

	var users []models.UserModel
	pag, err := pagination.Paginate(tx, q, &users)
	return users, pag, err
}

// Following lists the users uid follows, newest follow first.
func (s *Service) Following(uid string, q pagination.Query) ([]models.UserModel, response.Pagination, error) {
	tx := s.db.Model(&models.UserModel{}).
		Joins("JOIN follows ON follows.followee_id = users.id").
		Where("follows.follower_id = ?", uid).
		Order("follows.created_at DESC")

	var users []models.UserModel
	pag, err := pagination.Paginate(tx, q, &users)
	return users, pag, err
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/users")

	g.POST("", h.register)

	a := g.Group("", authMW)
	a.GET("/me", h.me)
	a.PATCH("/me", h.updateMe)

	g.GET("/:id", h.get)
	g.GET("/:id/followers", h.followers)
	g.GET("/:id/following", h.following)
}

func (h *Handler) register(c *gin.Context) {
	var dto RegisterDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	u, err := h.svc.Register(&dto)
	if err != nil {
		response.UnprocessableEntity(c, err.Error())
		return
	}
	token, err := jwt.Sign(u.ID, tokenTTL)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Created(c, gin.H{"user": u, "token": token})
}

func (h *Handler) get(c *gin.Context) {
	u, err := h.svc.GetByID(c.Param("id"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if u == nil {
		response.NotFound(c)
		return
	}
	response.OK(c, u)
}

func (h *Handler) me(c *gin.Context) {
	u, err := h.svc.GetByID(middleware.UserID(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if u == nil {
		response.NotFound(c)
		return
	}
	response.OK(c, u)
}

func (h *Handler) updateMe(c *gin.Context) {
	var dto UpdateProfileDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	u, err := h.svc.UpdateProfile(middleware.UserID(c), &dto)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if u == nil {
		response.NotFound(c)
		return
	}
	response.OK(c, u)
}

func (h *Handler) followers(c *gin.Context) {
	users, pag, err := h.svc.Followers(c.Param("id"), pagination.FromContext(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, users, pag)
}

func (h *Handler) following(c *gin.Context) {
	users, pag, err := h.svc.Following(c.Param("id"), pagination.FromContext(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, users, pag)
}
