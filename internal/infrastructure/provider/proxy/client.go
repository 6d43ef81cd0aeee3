package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dreschagin/media-relay/internal/application/port"
	"github.com/dreschagin/media-relay/internal/domain/entity"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
)

const (
	LabelPrimary = "proxy-api:primary"
	LabelLegacy  = "proxy-api:legacy"

	DefaultBaseURL = "https://twitter-api45.p.rapidapi.com"
	DefaultHost    = "twitter-api45.p.rapidapi.com"
	DefaultTimeout = 15 * time.Second

	maxResponseBytes = 2 << 20
)

// created_at в ответах прокси приходит в старом формате Twitter
var createdAtLayouts = []string{time.RubyDate, time.RFC3339}

type Config struct {
	BaseURL string
	APIKey  string
	APIHost string
	Timeout time.Duration
}

// Provider tier 2: платный прокси к Twitter с резервным legacy-эндпоинтом
type Provider struct {
	baseURL string
	apiKey  string
	apiHost string
	client  *http.Client
	now     func() time.Time
}

func NewProvider(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIHost == "" {
		cfg.APIHost = DefaultHost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Provider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		apiHost: cfg.APIHost,
		client:  &http.Client{Timeout: cfg.Timeout},
		now:     time.Now,
	}
}

func (p *Provider) Name() string  { return "proxy" }
func (p *Provider) Metered() bool { return true }

// Fetch пробует основной эндпоинт, при ошибке переходит на legacy timeline
func (p *Provider) Fetch(ctx context.Context, subject string, mediaType valueobject.MediaType, maxResults int) (*entity.MediaQueryResult, error) {
	if p.apiKey == "" {
		return nil, port.ErrMissingCredential
	}

	user, err := p.lookupUser(ctx, subject)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("screenname", subject)
	query.Set("rest_id", user.RestID)

	var timeline timelineResponse
	primaryErr := p.getJSON(ctx, "/replies.php?"+query.Encode(), &timeline)
	if primaryErr == nil {
		return entity.NewMediaQueryResult(p.normalize(timeline, subject, user.Avatar), LabelPrimary), nil
	}

	legacyQuery := url.Values{}
	legacyQuery.Set("screenname", subject)
	if err := p.getJSON(ctx, "/timeline.php?"+legacyQuery.Encode(), &timeline); err != nil {
		return nil, fmt.Errorf("primary: %v; legacy: %w", primaryErr, err)
	}

	return entity.NewMediaQueryResult(p.normalize(timeline, subject, user.Avatar), LabelLegacy), nil
}

func (p *Provider) lookupUser(ctx context.Context, subject string) (*userResponse, error) {
	query := url.Values{}
	query.Set("screenname", subject)

	var user userResponse
	if err := p.getJSON(ctx, "/screenname.php?"+query.Encode(), &user); err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user.RestID == "" {
		return nil, fmt.Errorf("lookup user: %s not found", subject)
	}
	return &user, nil
}

func (p *Provider) getJSON(ctx context.Context, path string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-rapidapi-key", p.apiKey)
	req.Header.Set("x-rapidapi-host", p.apiHost)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (p *Provider) normalize(timeline timelineResponse, subject, avatar string) []entity.MediaItem {
	capturedAt := p.now().UTC()
	items := make([]entity.MediaItem, 0, len(timeline.Timeline))

	for _, tweet := range timeline.Timeline {
		item := entity.MediaItem{
			ID:              tweet.TweetID,
			Text:            tweet.Text,
			Media:           []entity.MediaAsset{},
			CreatedAt:       parseCreatedAt(tweet.CreatedAt, capturedAt),
			SubjectUsername: subject,
			ProfileImageURL: avatar,
			IsRetweet:       tweet.Retweeted,
		}

		if tweet.Media != nil {
			item.Media = append(item.Media, toAssets(tweet.Media.Photo, valueobject.AssetPhoto)...)
			item.Media = append(item.Media, toAssets(tweet.Media.Video, valueobject.AssetVideo)...)
			item.Media = append(item.Media, toAssets(tweet.Media.AnimatedGIF, valueobject.AssetAnimatedGIF)...)
		}

		items = append(items, item)
	}

	return items
}

func toAssets(entries []mediaEntry, assetType valueobject.AssetType) []entity.MediaAsset {
	assets := make([]entity.MediaAsset, 0, len(entries))
	for _, e := range entries {
		assets = append(assets, entity.MediaAsset{
			MediaKey: e.ID,
			Type:     assetType,
			URL:      e.MediaURLHTTPS,
			Variants: e.Variants,
		})
	}
	return assets
}

func parseCreatedAt(raw string, fallback time.Time) time.Time {
	for _, layout := range createdAtLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC()
		}
	}
	return fallback
}

type userResponse struct {
	RestID string `json:"rest_id"`
	Avatar string `json:"avatar"`
}

type mediaEntry struct {
	ID            string          `json:"id"`
	MediaURLHTTPS string          `json:"media_url_https"`
	Variants      json.RawMessage `json:"variants,omitempty"`
}

type timelineEntry struct {
	TweetID   string `json:"tweet_id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
	Retweeted bool   `json:"retweeted"`
	Media     *struct {
		Photo       []mediaEntry `json:"photo"`
		Video       []mediaEntry `json:"video"`
		AnimatedGIF []mediaEntry `json:"animated_gif"`
	} `json:"media"`
}

type timelineResponse struct {
	Timeline []timelineEntry `json:"timeline"`
}
