package models

// Notification types created by social mutations.
const (
	NotificationTypeFollow  = "follow"
	NotificationTypeLike    = "like"
	NotificationTypeSave    = "save"
	NotificationTypeComment = "comment"
)

// NotificationModel is a persisted notification row. Live delivery to the
// recipient's socket is opportunistic; the row is the durable record either way.
// Only IsRead ever changes after creation.
type NotificationModel struct {
	Base
	Type        string     `json:"type"        gorm:"index;not null"`
	SenderID    string     `json:"senderId"    gorm:"index;not null"`
	Sender      *UserModel `json:"sender,omitempty" gorm:"foreignKey:SenderID"`
	RecipientID string     `json:"recipientId" gorm:"index;not null"`
	RefID       string     `json:"refId"       gorm:"index"`
	Message     string     `json:"message"`
	IsRead      bool       `json:"isRead"      gorm:"index;default:false"`
}

func (NotificationModel) TableName() string { return "notifications" }
