package models

// VideoModel represents one piece of uploaded content. The binary itself lives
// with the third-party host; we keep only the playback reference.
// LikeCount and SaveCount are derived caches of the membership tables,
// ViewCount is bumped by the analytics pipeline only.
type VideoModel struct {
	Base
	AuthorID    string     `json:"authorId"    gorm:"index;not null"`
	Author      *UserModel `json:"author,omitempty" gorm:"foreignKey:AuthorID"`
	Title       string     `json:"title"       gorm:"not null"`
	Description string     `json:"description" gorm:"type:text"`
	PlaybackURL string     `json:"playbackUrl"`
	ThumbURL    string     `json:"thumbUrl"`
	Duration    float64    `json:"duration"`
	LikeCount   int64      `json:"likeCount"`
	SaveCount   int64      `json:"saveCount"`
	ViewCount   int64      `json:"viewCount"`
}

func (VideoModel) TableName() string { return "videos" }

// LikeModel is one user→video like membership row.
type LikeModel struct {
	Base
	UserID  string `json:"userId"  gorm:"index;uniqueIndex:uniq_like_pair;not null"`
	VideoID string `json:"videoId" gorm:"index;uniqueIndex:uniq_like_pair;not null"`
}

func (LikeModel) TableName() string { return "video_likes" }

// SaveModel is one user→video save membership row.
type SaveModel struct {
	Base
	UserID  string `json:"userId"  gorm:"index;uniqueIndex:uniq_save_pair;not null"`
	VideoID string `json:"videoId" gorm:"index;uniqueIndex:uniq_save_pair;not null"`
}

func (SaveModel) TableName() string { return "video_saves" }
