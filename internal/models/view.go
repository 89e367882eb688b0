package models

import "time"

// WatchSessionModel is the batched heartbeat record: "user X was engaged with
// video Y at time T". One row per (video, user) pair, upserted by the flush
// loop. Never used for durable view counting.
type WatchSessionModel struct {
	Base
	VideoID      string    `json:"videoId" gorm:"index;uniqueIndex:uniq_watch_pair;not null"`
	UserID       string    `json:"userId"  gorm:"index;uniqueIndex:uniq_watch_pair;not null"`
	Active       bool      `json:"active"  gorm:"index"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

func (WatchSessionModel) TableName() string { return "watch_sessions" }

// ViewRecordModel is the durable analytic view record, deduplicated per
// (video, user) per hour. Long-horizon unique-viewer and time-bucket queries
// read this table only.
type ViewRecordModel struct {
	Base
	VideoID      string  `json:"videoId" gorm:"index;not null"`
	UserID       string  `json:"userId"  gorm:"index;not null"`
	WatchSeconds float64 `json:"watchSeconds"`
	Completed    bool    `json:"completed"`
}

func (ViewRecordModel) TableName() string { return "view_records" }
