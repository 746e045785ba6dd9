// Package prefs holds process-wide user preferences backed by a kvstore.Store.
package prefs

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/intellilearn/internal/kvstore"
)

// Theme is the UI color scheme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// ThemeKey is the store key of the theme preference.
const ThemeKey = "theme"

// ThemeProvider reads the theme once at startup and writes every change through.
type ThemeProvider struct {
	store kvstore.Store

	mu    sync.RWMutex
	theme Theme
}

// NewThemeProvider loads the stored theme. Without a valid stored value, dark is used
// when prefersDark is set and light otherwise.
func NewThemeProvider(ctx context.Context, store kvstore.Store, prefersDark bool) (*ThemeProvider, error) {
	p := &ThemeProvider{store: store, theme: ThemeLight}
	if prefersDark {
		p.theme = ThemeDark
	}
	v, ok, err := store.Get(ctx, ThemeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read theme: %w", err)
	}
	if ok && valid(Theme(v)) {
		p.theme = Theme(v)
	}
	return p, nil
}

func valid(t Theme) bool {
	return t == ThemeLight || t == ThemeDark
}

// Theme returns the current theme.
func (p *ThemeProvider) Theme() Theme {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.theme
}

// IsDark reports whether the dark theme is active.
func (p *ThemeProvider) IsDark() bool {
	return p.Theme() == ThemeDark
}

// SetTheme stores t. Unknown values fall back to light.
func (p *ThemeProvider) SetTheme(ctx context.Context, t Theme) error {
	if !valid(t) {
		t = ThemeLight
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.store.Set(ctx, ThemeKey, string(t)); err != nil {
		return fmt.Errorf("failed to save theme: %w", err)
	}
	p.theme = t
	return nil
}

// Toggle switches between light and dark and returns the new theme.
func (p *ThemeProvider) Toggle(ctx context.Context) (Theme, error) {
	next := ThemeDark
	if p.IsDark() {
		next = ThemeLight
	}
	if err := p.SetTheme(ctx, next); err != nil {
		return p.Theme(), err
	}
	return next, nil
}
