package models

import "time"

const DateLayout = "2006-01-02"

type CreateEventRequest struct {
	Name         string   `json:"name" binding:"required,notblank,max=200"`
	EventDate    string   `json:"event_date" binding:"required,datetime=2006-01-02"`
	LockDate     string   `json:"lock_date" binding:"required,datetime=2006-01-02"`
	Participants []string `json:"participants" binding:"required,min=3,dive,notblank"`
}

type AddParticipantRequest struct {
	Name string `json:"name" binding:"required,notblank,max=100"`
}

type ParticipantCredentials struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Token string `json:"token"`
	Link  string `json:"link"`
}

type CreateEventResponse struct {
	ID           string                   `json:"id"`
	Slug         string                   `json:"slug"`
	AdminToken   string                   `json:"admin_token"`
	AdminLink    string                   `json:"admin_link"`
	Participants []ParticipantCredentials `json:"participants"`
}

type EventStats struct {
	Participants int `json:"participants"`
	Drawn        int `json:"drawn"`
	NotDrawn     int `json:"not_drawn"`
}

type ParticipantSummary struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Token          string         `json:"token"`
	Link           string         `json:"link"`
	WishlistStatus WishlistStatus `json:"wishlist_status"`
	HasDrawn       bool           `json:"has_drawn"`
}

type DrawResult struct {
	DrawerName string    `json:"drawer_name"`
	TargetName string    `json:"target_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// EventDetails is the admin view. DrawResults stays nil until the event date.
type EventDetails struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	Slug           string               `json:"slug"`
	EventDate      string               `json:"event_date"`
	LockDate       string               `json:"lock_date"`
	IsLocked       bool                 `json:"is_locked"`
	IsPast         bool                 `json:"is_past"`
	DaysUntilEvent *int                 `json:"days_until_event"`
	Stats          EventStats           `json:"stats"`
	Participants   []ParticipantSummary `json:"participants"`
	DrawResults    []DrawResult         `json:"draw_results,omitempty"`
}

type ParticipantInfo struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	EventName      string         `json:"event_name"`
	EventDate      string         `json:"event_date"`
	LockDate       string         `json:"lock_date"`
	IsLocked       bool           `json:"is_locked"`
	HasDrawn       bool           `json:"has_drawn"`
	DrawnName      string         `json:"drawn_name,omitempty"`
	DrawnWishlist  []string       `json:"drawn_wishlist,omitempty"`
	MyWishlist     []string       `json:"my_wishlist"`
	WishlistStatus WishlistStatus `json:"wishlist_status"`
}

type UnlockResponse struct {
	LockDate string `json:"lock_date"`
}

type RegenerateResponse struct {
	ParticipantID string `json:"participant_id"`
	Token         string `json:"token"`
	Link          string `json:"link"`
}

type RemoveParticipantResponse struct {
	ResetParticipantIDs []string `json:"reset_participant_ids"`
}

type DrawResponse struct {
	TargetID     string `json:"target_id"`
	TargetName   string `json:"target_name"`
	AlreadyDrawn bool   `json:"already_drawn"`
}

type WishlistRequest struct {
	Items []string `json:"items"`
}

type WishlistItemRequest struct {
	Item string `json:"item" binding:"required,notblank"`
}

type WishlistResponse struct {
	Items  []string       `json:"items"`
	Status WishlistStatus `json:"status"`
}

// ParticipantLink is the relative URL handed to a participant.
func ParticipantLink(slug, token string) string {
	return "/p/" + slug + "?token=" + token
}

func AdminLink(slug, token string) string {
	return "/admin/" + slug + "?token=" + token
}
