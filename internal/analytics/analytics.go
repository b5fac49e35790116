// Package analytics records first-party page views from the tracking pixel.
// Visitors are identified by a random cookie that is hashed with a server
// salt before storage, so the table never holds a value that can be matched
// back to the browser.
package analytics

import (
	"context"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"hearth/internal/types"
)

const (
	maxPathLength = 512
	// SummaryLimit caps the number of paths in a summary.
	SummaryLimit = 50
	// MaxSummaryDays bounds the summary window.
	MaxSummaryDays = 90
)

// Device classes.
const (
	DeviceBot     = "bot"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

// Store persists page views.
type Store interface {
	Insert(ctx context.Context, v types.PageView) error
	Summary(ctx context.Context, since time.Time, limit int) ([]types.PathStats, error)
}

// Hit is one pixel request.
type Hit struct {
	Path      string
	Referrer  string
	VisitorID string
	UserAgent string
	// SiteHost is the host of the site itself; same-site referrers are dropped.
	SiteHost string
}

// Recorder turns pixel hits into stored page views.
type Recorder struct {
	store  Store
	salt   []byte
	clock  types.Clock
	logger types.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(store Store, salt string, clock types.Clock, logger types.Logger) *Recorder {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Recorder{store: store, salt: []byte(salt), clock: clock, logger: logger}
}

// Record stores h. Bots and hits without a usable path are skipped and
// reported as not recorded. Storage errors are logged, never returned.
func (r *Recorder) Record(ctx context.Context, h Hit) bool {
	path, ok := NormalizePath(h.Path)
	if !ok {
		return false
	}
	device := DeviceClass(h.UserAgent)
	if device == DeviceBot {
		return false
	}

	v := types.PageView{
		Path:         path,
		ReferrerHost: ReferrerHost(h.Referrer, h.SiteHost),
		VisitorHash:  r.VisitorHash(h.VisitorID),
		DeviceClass:  device,
		CreatedAt:    r.clock.Now(),
	}
	if err := r.store.Insert(ctx, v); err != nil {
		r.logger.Warn("page view not recorded", "path", path, "error", err.Error())
		return false
	}
	return true
}

// Summary returns per-path views and unique visitors for the last days.
func (r *Recorder) Summary(ctx context.Context, days int) ([]types.PathStats, error) {
	days = max(1, min(days, MaxSummaryDays))
	since := r.clock.Now().AddDate(0, 0, -days)
	return r.store.Summary(ctx, since, SummaryLimit)
}

// VisitorHash returns hex(blake2b-256(salt || visitorID)). An empty id
// hashes to "".
func (r *Recorder) VisitorHash(visitorID string) string {
	if visitorID == "" {
		return ""
	}
	buf := make([]byte, 0, len(r.salt)+len(visitorID))
	buf = append(append(buf, r.salt...), visitorID...)
	sum := blake2b.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// NormalizePath keeps the path component of p, drops query and fragment,
// and reports false for anything that is not an absolute site path.
func NormalizePath(p string) (string, bool) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", false
	}
	u, err := url.Parse(p)
	if err != nil || u.Host != "" || u.Scheme != "" || !strings.HasPrefix(u.Path, "/") {
		return "", false
	}
	path := u.Path
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	if len(path) > maxPathLength {
		path = path[:maxPathLength]
	}
	return path, true
}

// ReferrerHost returns the lowercased host of referrer, or "" when it is
// missing, unparseable or the site itself.
func ReferrerHost(referrer, siteHost string) string {
	u, err := url.Parse(strings.TrimSpace(referrer))
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	site := strings.TrimPrefix(strings.ToLower(siteHost), "www.")
	if site != "" && host == site {
		return ""
	}
	return host
}

var botMarkers = []string{"bot", "crawl", "spider", "slurp", "preview", "headless", "curl", "wget", "python-requests"}

// DeviceClass buckets a user agent.
func DeviceClass(ua string) string {
	ua = strings.ToLower(ua)
	if ua == "" {
		return DeviceBot
	}
	for _, m := range botMarkers {
		if strings.Contains(ua, m) {
			return DeviceBot
		}
	}
	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		return DeviceTablet
	case strings.Contains(ua, "android") && !strings.Contains(ua, "mobile"):
		return DeviceTablet
	case strings.Contains(ua, "mobi") || strings.Contains(ua, "iphone"):
		return DeviceMobile
	default:
		return DeviceDesktop
	}
}
