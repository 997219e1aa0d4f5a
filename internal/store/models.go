package store

import "time"

type Privacy string

const (
	PrivacyPrivate Privacy = "private"
	PrivacyPublic  Privacy = "public"
	PrivacyLink    Privacy = "link"
)

func (p Privacy) Valid() bool {
	switch p {
	case PrivacyPrivate, PrivacyPublic, PrivacyLink:
		return true
	}
	return false
}

type User struct {
	ID          string
	DisplayName string
	AvatarURL   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Template struct {
	ID          string
	OwnerUserID string
	Title       string
	Privacy     Privacy
	SharedCount int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Board struct {
	ID         string
	TemplateID string
	DayNumber  int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Card times are "HH:MM" strings; an empty string means unset.
type Card struct {
	ID         string
	BoardID    string
	Content    string
	StartTime  string
	EndTime    string
	OrderIndex int
	Locked     bool
	Location   *Location
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Location struct {
	CardID       string
	Title        string
	Address      string
	Latitude     *float64
	Longitude    *float64
	Category     string
	ThumbnailURL string
}

type Collaborator struct {
	TemplateID  string
	UserID      string
	DisplayName string
	AvatarURL   string
	CreatedAt   time.Time
}

type Notification struct {
	ID              string
	RecipientUserID string
	ActorUserID     string
	TemplateID      string
	Kind            string
	Message         string
	ReadAt          *time.Time
	CreatedAt       time.Time
}

// TemplateTree is a template with its boards by day and cards by index.
type TemplateTree struct {
	Template
	Boards []BoardTree
}

type BoardTree struct {
	Board
	Cards []Card
}
