// Package notify delivers recognition results to users.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/himanishpuri/EarPrint/pkg/earprint"
	"github.com/himanishpuri/EarPrint/pkg/models"
)

const (
	DefaultBaseURL = "https://api.omi.me"
	DefaultTimeout = 30 * time.Second
)

var ErrNotConfigured = errors.New("notifier credentials not configured")

type Config struct {
	BaseURL string
	AppID   string
	APIKey  string
	Timeout time.Duration
}

func (c Config) Configured() bool {
	return c.AppID != "" && c.APIKey != ""
}

// New returns an OmiNotifier when credentials are present and a LogNotifier
// otherwise.
func New(cfg Config, log earprint.Logger) earprint.Notifier {
	if !cfg.Configured() {
		log.Warnf("Omi app id or api key not set, notifications will only be logged")
		return NewLogNotifier(log)
	}
	n, err := NewOmiNotifier(cfg, log)
	if err != nil {
		log.Warnf("Omi notifier disabled: %v", err)
		return NewLogNotifier(log)
	}
	log.Infof("Omi notifications enabled for app %s", cfg.AppID)
	return n
}

// OmiNotifier posts to the Omi integrations notification endpoint.
type OmiNotifier struct {
	endpoint string
	apiKey   string
	client   *http.Client
	log      earprint.Logger
}

func NewOmiNotifier(cfg Config, log earprint.Logger) (*OmiNotifier, error) {
	if !cfg.Configured() {
		return nil, ErrNotConfigured
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid notification base url %q: %w", base, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &OmiNotifier{
		endpoint: strings.TrimRight(base, "/") + "/v2/integrations/" + url.PathEscape(cfg.AppID) + "/notification",
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}, nil
}

func (n *OmiNotifier) Notify(ctx context.Context, userID string, result models.MatchResult) error {
	message := FormatMessage(result)
	q := url.Values{}
	q.Set("uid", userID)
	q.Set("message", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+n.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification to %s: %w", userID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification to %s rejected: %s: %s", userID, resp.Status, strings.TrimSpace(string(body)))
	}
	n.log.Infof("Notified %s: %s", userID, message)
	return nil
}

// LogNotifier only logs the message it would have sent.
type LogNotifier struct {
	log earprint.Logger
}

func NewLogNotifier(log earprint.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, userID string, result models.MatchResult) error {
	n.log.Infof("Notification for %s (not sent): %s", userID, FormatMessage(result))
	return nil
}

// FormatMessage renders a recognition as user-facing text. Lower confidence
// adds a hedge to the wording.
func FormatMessage(result models.MatchResult) string {
	title := result.Title
	if title == "" {
		title = "Unknown Song"
	}
	artist := result.Artist
	if artist == "" {
		artist = "Unknown Artist"
	}

	icon, hedge := "🎵", ""
	switch {
	case result.Confidence > 0.8:
	case result.Confidence > 0.5:
		icon, hedge = "🎶", " (likely)"
	default:
		icon, hedge = "🎼", " (maybe)"
	}
	return fmt.Sprintf("%s You're listening to: '%s' by %s%s", icon, title, artist, hedge)
}
