package notify

import "time"

// Notification is an in-app message shown in the user's notification list.
type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"-"`
	Kind      string    `json:"notification_type"`
	Head      string    `json:"head"`
	Body      string    `json:"body"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// AdminNotification is an alert for back-office operators.
type AdminNotification struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	NotificationType string    `json:"notification_type"`
	Title            string    `json:"title"`
	Content          string    `json:"content"`
	CreatedAt        time.Time `json:"created_at"`
}
