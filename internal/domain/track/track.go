// Package track provides the Track domain entity.
package track

import (
	"fmt"
	"time"
)

// Track represents a resolved, playable unit of audio.
// Created by the resolver and never mutated afterwards.
type Track struct {
	ID         string        // Source video ID
	Title      string        // Display title
	StreamURL  string        // Playable stream locator (opaque to the queue)
	WebpageURL string        // Canonical page URL
	Duration   time.Duration // Nominal duration, 0 if unknown
	Requester  Requester     // Who asked for it
}

// Requester identifies the principal that requested a track.
type Requester struct {
	ID          string // External user ID (Discord snowflake)
	DisplayName string // Display name at request time
}

// HasDuration reports whether the source announced a duration.
func (t Track) HasDuration() bool {
	return t.Duration > 0
}

// Label returns a short human readable description used in queue listings.
func (t Track) Label() string {
	if !t.HasDuration() {
		return t.Title
	}
	total := int(t.Duration.Round(time.Second).Seconds())
	if total >= 3600 {
		return fmt.Sprintf("%s [%d:%02d:%02d]", t.Title, total/3600, (total%3600)/60, total%60)
	}
	return fmt.Sprintf("%s [%d:%02d]", t.Title, total/60, total%60)
}
