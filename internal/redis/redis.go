package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dkoval/showtracks/internal/spotify"
)

type Service struct {
	client *redis.Client
	ttl    time.Duration
}

func New(redisURL string, ttl time.Duration) (*Service, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Service{client: client, ttl: ttl}, nil
}

func (s *Service) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client
func (s *Service) Client() *redis.Client {
	return s.client
}

func (s *Service) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// GetArtistSearch returns cached catalog search results for the artist
// name, or (nil, false) on a miss. Only successful searches are cached, so
// a hit never masks an upstream failure.
func (s *Service) GetArtistSearch(ctx context.Context, name string) ([]spotify.Artist, bool) {
	data, err := s.client.Get(ctx, artistKey(name)).Bytes()
	if err != nil {
		return nil, false
	}

	var artists []spotify.Artist
	if err := json.Unmarshal(data, &artists); err != nil {
		return nil, false
	}
	return artists, true
}

func (s *Service) StoreArtistSearch(ctx context.Context, name string, artists []spotify.Artist) error {
	data, err := json.Marshal(artists)
	if err != nil {
		return fmt.Errorf("failed to marshal artist results: %w", err)
	}
	return s.client.Set(ctx, artistKey(name), data, s.ttl).Err()
}

func artistKey(name string) string {
	return fmt.Sprintf("artist_search:%s", strings.ToLower(strings.TrimSpace(name)))
}
