package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	redis "github.com/redis/go-redis/v9"
)

const (
	ThemeLight = "light"
	ThemeDark  = "dark"

	themeKey = "prefs:theme"
)

var ErrInvalidTheme = errors.New("invalid theme")

// Preferences holds the single persisted user preference, the display theme.
type Preferences interface {
	Theme(ctx context.Context) (string, error)
	SetTheme(ctx context.Context, theme string) error
}

func validTheme(theme string) error {
	if theme != ThemeLight && theme != ThemeDark {
		return fmt.Errorf("%w: %q", ErrInvalidTheme, theme)
	}
	return nil
}

// MemoryPreferences keeps the theme in process memory.
type MemoryPreferences struct {
	mu    sync.Mutex
	theme string
}

func NewMemoryPreferences() *MemoryPreferences { return &MemoryPreferences{theme: ThemeLight} }

func (p *MemoryPreferences) Theme(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.theme, nil
}

func (p *MemoryPreferences) SetTheme(_ context.Context, theme string) error {
	if err := validTheme(theme); err != nil {
		return err
	}
	p.mu.Lock()
	p.theme = theme
	p.mu.Unlock()
	return nil
}

// RedisPreferences persists the theme as a Redis key.
type RedisPreferences struct {
	client *redis.Client
}

func NewRedisPreferences(client *redis.Client) *RedisPreferences {
	return &RedisPreferences{client: client}
}

func (p *RedisPreferences) Theme(ctx context.Context) (string, error) {
	v, err := p.client.Get(ctx, themeKey).Result()
	if err == redis.Nil {
		return ThemeLight, nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (p *RedisPreferences) SetTheme(ctx context.Context, theme string) error {
	if err := validTheme(theme); err != nil {
		return err
	}
	return p.client.Set(ctx, themeKey, theme, 0).Err()
}
