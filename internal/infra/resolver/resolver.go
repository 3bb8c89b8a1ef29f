// Package resolver turns user queries into playable tracks via yt-dlp.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lrstanley/go-ytdlp"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/primebot/primebot/internal/domain/track"
)

// Errors
var (
	ErrNoResults = errors.New("no playable results")
)

const searchCandidates = 5

// Config holds resolver configuration.
type Config struct {
	SearchPrefix string        // yt-dlp search scheme, e.g. "ytsearch"
	Timeout      time.Duration // Per-query extraction deadline
	PerSecond    float64       // Extraction rate limit across all sessions
}

func (c *Config) applyDefaults() {
	if c.SearchPrefix == "" {
		c.SearchPrefix = "ytsearch"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.PerSecond <= 0 {
		c.PerSecond = 2
	}
}

// extractFunc runs the metadata extraction and returns raw tab-separated
// lines, one candidate per line. Swappable for tests.
type extractFunc func(ctx context.Context, target string) (string, error)

// Resolver resolves URLs and free-text queries into tracks. Direct URLs are
// extracted as-is; anything else goes through a search, and the first entry
// with a usable stream wins.
type Resolver struct {
	cfg     Config
	limiter *rate.Limiter
	extract extractFunc
}

// New creates a resolver.
func New(cfg Config) *Resolver {
	cfg.applyDefaults()
	return &Resolver{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.PerSecond), 1),
		extract: ytdlpExtract,
	}
}

// Resolve turns a query into a track attributed to the requester.
func (r *Resolver) Resolve(ctx context.Context, query string, requester track.Requester) (track.Track, error) {
	if strings.TrimSpace(query) == "" {
		return track.Track{}, errors.New("empty query")
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return track.Track{}, errors.Wrap(err, "rate limit wait")
	}

	target := query
	if !isURL(query) {
		target = fmt.Sprintf("%s%d:%s", r.cfg.SearchPrefix, searchCandidates, query)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	start := time.Now()
	out, err := r.extract(ctx, target)
	if err != nil {
		return track.Track{}, errors.Wrapf(err, "extract %q", query)
	}
	zlog.Debug().Msgf("resolved query: query=%s elapsed=%s", query, time.Since(start))

	t, ok := firstUsable(out)
	if !ok {
		return track.Track{}, errors.Wrapf(ErrNoResults, "query %q", query)
	}
	t.Requester = requester
	return t, nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// firstUsable scans extraction output for the first entry carrying both a
// title and a stream URL. Lines are id, title, webpage URL, stream URL and
// duration in seconds, tab separated.
func firstUsable(out string) (track.Track, bool) {
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		ps := strings.Split(line, "\t")
		if len(ps) < 5 {
			continue
		}
		id, title, page, stream := ps[0], ps[1], ps[2], ps[3]
		if title == "" || stream == "" || stream == "NA" {
			continue
		}

		// Live streams report no duration.
		var duration time.Duration
		if d, err := time.ParseDuration(ps[4] + "s"); err == nil {
			duration = d
		}

		return track.Track{
			ID:         id,
			Title:      title,
			WebpageURL: page,
			StreamURL:  stream,
			Duration:   duration,
		}, true
	}
	return track.Track{}, false
}

func ytdlpExtract(ctx context.Context, target string) (string, error) {
	res, err := ytdlp.New().
		Print("%(id)s\t%(title)s\t%(webpage_url)s\t%(url)s\t%(duration)s").
		Format("bestaudio/best").
		NoPlaylist().
		NoCheckFormats().
		NoWarnings().
		IgnoreConfig().
		Run(ctx, "--skip-download", target)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}
