package models

import "time"

type WishlistStatus string

const (
	WishlistPending   WishlistStatus = "pending"
	WishlistSubmitted WishlistStatus = "submitted"
	WishlistSkipped   WishlistStatus = "skipped"
)

func (s WishlistStatus) Valid() bool {
	switch s {
	case WishlistPending, WishlistSubmitted, WishlistSkipped:
		return true
	}
	return false
}

// Event is one gift exchange. LockDate <= EventDate, both at UTC midnight.
type Event struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	EventDate  time.Time `json:"event_date"`
	LockDate   time.Time `json:"lock_date"`
	AdminToken string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsLocked reports whether wishlists are frozen and drawing is open.
func (e *Event) IsLocked(now time.Time) bool {
	return !now.Before(e.LockDate)
}

func (e *Event) IsPast(now time.Time) bool {
	return !now.Before(e.EventDate)
}

type Participant struct {
	ID             string         `json:"id"`
	EventID        string         `json:"event_id"`
	Name           string         `json:"name"`
	Token          string         `json:"-"`
	WishlistStatus WishlistStatus `json:"wishlist_status"`
	HasDrawn       bool           `json:"has_drawn"`
	DrawnAt        *time.Time     `json:"drawn_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

type WishlistItem struct {
	ParticipantID string    `json:"participant_id"`
	Item          string    `json:"item"`
	Position      int       `json:"position"`
	CreatedAt     time.Time `json:"created_at"`
}

// AssignmentEdge records that Drawer gives a gift to Target.
type AssignmentEdge struct {
	EventID   string    `json:"event_id"`
	DrawerID  string    `json:"drawer_id"`
	TargetID  string    `json:"target_id"`
	CreatedAt time.Time `json:"created_at"`
}

// StartOfDay truncates t to UTC midnight.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
