package filter

import (
	"context"
	"regexp"
	"strings"

	"github.com/primebot/primebot/internal/domain/track"
)

// DuplicateTrackFilter rejects tracks already sitting in the queue or
// occupying the playback slot. Detects exact ID matches and re-uploads of the
// same song under a normalized title.
type DuplicateTrackFilter struct {
	queue QueueView
}

// QueueView is the read-only queue access the filter needs.
type QueueView interface {
	Items() []track.Track
	Current() (track.Track, bool)
}

// NewDuplicateTrackFilter creates a new duplicate track filter.
func NewDuplicateTrackFilter(queue QueueView) *DuplicateTrackFilter {
	return &DuplicateTrackFilter{
		queue: queue,
	}
}

// Name returns the filter name.
func (f *DuplicateTrackFilter) Name() string {
	return "duplicate_track_filter"
}

// Description returns the filter description.
func (f *DuplicateTrackFilter) Description() string {
	return "Rejects tracks already queued or playing, including remastered re-uploads"
}

// ReturnCodes returns possible return codes.
func (f *DuplicateTrackFilter) ReturnCodes() []string {
	return []string{"duplicate_track"}
}

// ValidateConfig validates the filter configuration.
func (f *DuplicateTrackFilter) ValidateConfig(config map[string]any) error {
	// No configuration needed
	return nil
}

// Check checks if the track is a duplicate.
func (f *DuplicateTrackFilter) Check(ctx context.Context, req Request, requested track.Track) Result {
	queued := f.queue.Items()
	if cur, ok := f.queue.Current(); ok {
		queued = append(queued, cur)
	}

	for _, q := range queued {
		if q.ID == requested.ID {
			return Reject("duplicate_track")
		}
		if normalizeTitle(q.Title) == normalizeTitle(requested.Title) {
			return Reject("duplicate_track")
		}
	}

	return Accept()
}

var (
	remasterPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),      // "- 2011 Remaster"
		regexp.MustCompile(`\s*\(remaster(ed)?\s*\d{0,4}\)`),     // "(Remastered 2023)"
		regexp.MustCompile(`\s*\[remaster(ed)?\s*\d{0,4}\]`),     // "[Remastered]"
		regexp.MustCompile(`\s*-?\s*remaster(ed)?(\s+version)?`), // "- Remastered"
		regexp.MustCompile(`\s*\(.*?remaster.*?\)`),              // "(Any Remaster text)"
		regexp.MustCompile(`\s*\[.*?remaster.*?\]`),              // "[Any Remaster text]"
	}
	versionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*\(.*?version\)`),        // "(Single Version)"
		regexp.MustCompile(`\s*\(.*?edit\)`),           // "(Radio Edit)"
		regexp.MustCompile(`\s*\(official\s+.*?\)`),    // "(Official Video)"
		regexp.MustCompile(`\s*\[official\s+.*?\]`),    // "[Official Audio]"
		regexp.MustCompile(`\s*-?\s*radio\s+edit`),     // "- Radio Edit"
		regexp.MustCompile(`\s*-?\s*single\s+version`), // "- Single Version"
	}
	spacePattern = regexp.MustCompile(`\s+`)
)

// normalizeTitle strips remaster and version decorations from a track title.
func normalizeTitle(name string) string {
	normalized := strings.ToLower(name)

	for _, pattern := range remasterPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}
	for _, pattern := range versionPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}

	normalized = strings.TrimSpace(normalized)
	normalized = spacePattern.ReplaceAllString(normalized, " ")
	normalized = strings.TrimRight(normalized, " -")

	return normalized
}

// Register omitted intentionally: the filter needs a queue view, so the
// session layer constructs it directly.
