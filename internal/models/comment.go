package models

// CommentModel is a comment on a video.
type CommentModel struct {
	Base
	VideoID  string     `json:"videoId"  gorm:"index;not null"`
	AuthorID string     `json:"authorId" gorm:"index;not null"`
	Author   *UserModel `json:"author,omitempty" gorm:"foreignKey:AuthorID"`
	Text     string     `json:"text"     gorm:"type:text;not null"`
	ParentID *string    `json:"parentId" gorm:"index"`
}

func (CommentModel) TableName() string { return "comments" }
