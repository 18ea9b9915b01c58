package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Tier                  string
	Language              string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Document struct {
	ID          string
	OwnerID     string
	Title       string
	EditorState string
	ContentText string
	LiveWordCap int
	TrashedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Feedback struct {
	ID        string
	UserID    string
	Category  string
	Message   string
	CreatedAt time.Time
}
