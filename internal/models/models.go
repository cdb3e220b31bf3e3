package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending  = "pending"
	StatusBuilding = "building"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// SearchParams are the request parameters a job is built from. Two jobs
// with equal normalized params are considered the same request.
type SearchParams struct {
	LocationName   string   `json:"location_name"`
	Lat            float64  `json:"lat"`
	Lon            float64  `json:"lon"`
	Date           string   `json:"date"` // YYYY-MM-DD
	SongsPerArtist int      `json:"songs_per_artist"`
	ExcludedGenres []string `json:"excluded_genres"`
	MinStartTime   int      `json:"min_start_time"`
	MaxStartTime   int      `json:"max_start_time"`
}

type Job struct {
	ID               int64        `json:"id"`
	Status           string       `json:"status"`
	Params           SearchParams `json:"params"`
	LogHistory       []string     `json:"log_history"`
	TotalArtists     int          `json:"total_artists"`
	ProcessedArtists int          `json:"processed_artists"`
	EventsData       []Event      `json:"events_data"`
	PlaylistID       *string      `json:"playlist_id"`
	ErrorMessage     *string      `json:"error_message"`
	OwnerID          *uuid.UUID   `json:"owner_id,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Event is one raw listing from the event source. StartsAt is kept as the
// source's string; consumers parse it and fail open on bad values.
type Event struct {
	Artist    string `json:"artist"`
	Venue     string `json:"venue"`
	StartsAt  string `json:"starts_at"`
	ImageURL  string `json:"image_url,omitempty"`
	TicketURL string `json:"ticket_url,omitempty"`
}

// Log entry tags are a wire contract parsed by the UI. Do not change the
// shapes without updating the client.
const (
	ReasonNotFound    = "Not found"
	ReasonNoTracks    = "No tracks"
	ReasonAfterRetry  = "Not found after retries"
	genreReasonPrefix = "Genre: "
)

func LogArtist(name string) string {
	return fmt.Sprintf("ARTIST:%s", name)
}

func LogSkipped(name, reason string) string {
	return fmt.Sprintf("SKIPPED:%s (%s)", name, reason)
}

func LogSkippedGenre(name, tag string) string {
	return LogSkipped(name, genreReasonPrefix+tag)
}

func LogWarning(msg string) string {
	return fmt.Sprintf("WARNING:%s", msg)
}
