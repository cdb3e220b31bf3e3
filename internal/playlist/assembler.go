package playlist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dkoval/showtracks/internal/models"
)

// CatalogAPI is the slice of the catalog client the assembler needs.
type CatalogAPI interface {
	CreatePlaylist(ctx context.Context, name, description string) (string, error)
	AddTracks(ctx context.Context, playlistID string, uris []string) error
	UnfollowPlaylist(ctx context.Context, playlistID string) error
}

type Assembler struct {
	api       CatalogAPI
	describer *Describer
}

func NewAssembler(api CatalogAPI, describer *Describer) *Assembler {
	return &Assembler{api: api, describer: describer}
}

// Create makes the remote playlist up front, before any track is resolved,
// so progress log entries can reference a real playlist from the start.
func (a *Assembler) Create(ctx context.Context, params models.SearchParams) (string, error) {
	name := Name(params)
	description := a.describe(ctx, params)

	id, err := a.api.CreatePlaylist(ctx, name, description)
	if err != nil {
		return "", fmt.Errorf("failed to create playlist: %w", err)
	}

	slog.Info("playlist created", "playlist_id", id, "name", name)
	return id, nil
}

func (a *Assembler) Append(ctx context.Context, playlistID string, uris []string) error {
	return a.api.AddTracks(ctx, playlistID, uris)
}

// Rollback removes a playlist that ended up empty. A build with zero added
// tracks is a failure, not a success with an empty playlist.
func (a *Assembler) Rollback(ctx context.Context, playlistID string) error {
	if err := a.api.UnfollowPlaylist(ctx, playlistID); err != nil {
		return fmt.Errorf("failed to remove empty playlist: %w", err)
	}
	slog.Info("empty playlist removed", "playlist_id", playlistID)
	return nil
}

// Name builds the user-facing playlist title from the search context.
func Name(params models.SearchParams) string {
	date := params.Date
	if t, err := time.Parse("2006-01-02", params.Date); err == nil {
		date = t.Format("Jan 2, 2006")
	}
	return fmt.Sprintf("%s Live — %s", params.LocationName, date)
}

func (a *Assembler) describe(ctx context.Context, params models.SearchParams) string {
	if a.describer != nil {
		if desc, err := a.describer.Describe(ctx, params); err == nil && desc != "" {
			return desc
		} else if err != nil {
			slog.Warn("description generation failed, using fallback", "err", err)
		}
	}
	return fallbackDescription(params)
}

func fallbackDescription(params models.SearchParams) string {
	desc := fmt.Sprintf("Artists playing in %s on %s.", params.LocationName, params.Date)
	if len(params.ExcludedGenres) > 0 {
		desc += fmt.Sprintf(" Excluding %s.", strings.Join(params.ExcludedGenres, ", "))
	}
	return desc
}
