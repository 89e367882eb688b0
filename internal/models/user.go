package models

import "time"

// UserModel represents a registered account.
// FollowersCount and FollowingCount are derived caches of the follows table;
// the membership rows are the source of truth and the columns are recomputed
// on every mutation.
type UserModel struct {
	Base
	Username       string     `json:"username"    gorm:"uniqueIndex;not null"`
	DisplayName    string     `json:"displayName"`
	Bio            string     `json:"bio"`
	Avatar         string     `json:"avatar"`
	FollowersCount int64      `json:"followersCount"`
	FollowingCount int64      `json:"followingCount"`
	LastSeenAt     *time.Time `json:"lastSeenAt"`
}

func (UserModel) TableName() string { return "users" }

// FollowModel is one follower→followee membership row.
type FollowModel struct {
	Base
	FollowerID string `json:"followerId" gorm:"index;uniqueIndex:uniq_follow_pair;not null"`
	FolloweeID string `json:"followeeId" gorm:"index;uniqueIndex:uniq_follow_pair;not null"`
}

func (FollowModel) TableName() string { return "follows" }
