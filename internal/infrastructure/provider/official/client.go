package official

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/dreschagin/media-relay/internal/application/port"
	"github.com/dreschagin/media-relay/internal/domain/entity"
	"github.com/dreschagin/media-relay/internal/domain/service"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
)

const (
	SourceLabel = "twitter-api-v2"

	DefaultBaseURL = "https://api.twitter.com"
	DefaultTimeout = 15 * time.Second

	minPageSize = 5
	maxPageSize = 100

	// 1MB более чем достаточно для страницы из 100 твитов
	maxResponseBytes = 1 << 20
)

type Config struct {
	BaseURL        string
	BearerToken    string
	ConsumerKey    string
	ConsumerSecret string
	Timeout        time.Duration
}

// Provider tier 1: официальный Twitter API v2
type Provider struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// NewProvider настраивает OAuth2 клиент. Без учетных данных провайдер
// создается, но каждый Fetch возвращает port.ErrMissingCredential.
func NewProvider(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	base := &http.Client{Timeout: cfg.Timeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	var client *http.Client
	switch {
	case cfg.BearerToken != "":
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.BearerToken,
			TokenType:   "Bearer",
		}))
	case cfg.ConsumerKey != "" && cfg.ConsumerSecret != "":
		oauthConf := &clientcredentials.Config{
			ClientID:     cfg.ConsumerKey,
			ClientSecret: cfg.ConsumerSecret,
			TokenURL:     baseURL + "/oauth2/token",
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
		client = oauthConf.Client(ctx)
	}
	if client != nil {
		client.Timeout = cfg.Timeout
	}

	return &Provider{
		baseURL: baseURL,
		client:  client,
		now:     time.Now,
	}
}

func (p *Provider) Name() string  { return "official" }
func (p *Provider) Metered() bool { return true }

func (p *Provider) Fetch(ctx context.Context, subject string, mediaType valueobject.MediaType, maxResults int) (*entity.MediaQueryResult, error) {
	if p.client == nil {
		return nil, port.ErrMissingCredential
	}

	user, err := p.lookupUser(ctx, subject)
	if err != nil {
		return nil, err
	}

	pageSize := maxResults
	if pageSize < minPageSize {
		pageSize = minPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	query := url.Values{}
	query.Set("max_results", strconv.Itoa(pageSize))
	query.Set("exclude", "retweets,replies")
	query.Set("expansions", "attachments.media_keys")
	query.Set("media.fields", "url,preview_image_url,type,variants,media_key")
	query.Set("tweet.fields", "created_at,referenced_tweets,attachments")

	var timeline timelineResponse
	endpoint := fmt.Sprintf("%s/2/users/%s/tweets?%s", p.baseURL, url.PathEscape(user.ID), query.Encode())
	if err := p.getJSON(ctx, endpoint, &timeline); err != nil {
		return nil, fmt.Errorf("fetch timeline: %w", err)
	}

	return entity.NewMediaQueryResult(p.normalize(timeline, user), SourceLabel), nil
}

func (p *Provider) lookupUser(ctx context.Context, subject string) (*userData, error) {
	var resp userResponse
	endpoint := fmt.Sprintf("%s/2/users/by/username/%s?user.fields=profile_image_url", p.baseURL, url.PathEscape(subject))
	if err := p.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if resp.Data == nil || resp.Data.ID == "" {
		if len(resp.Errors) > 0 {
			return nil, fmt.Errorf("lookup user: %s", resp.Errors[0].Detail)
		}
		return nil, fmt.Errorf("lookup user: %s not found", subject)
	}
	if resp.Data.Username == "" {
		resp.Data.Username = subject
	}
	return resp.Data, nil
}

func (p *Provider) getJSON(ctx context.Context, endpoint string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
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
	if ct := resp.Header.Get("Content-Type"); !isJSONContentType(ct) {
		return fmt.Errorf("unexpected content type %q", ct)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isJSONContentType(header string) bool {
	mediaType, _, err := mime.ParseMediaType(header)
	return err == nil && mediaType == "application/json"
}

func (p *Provider) normalize(timeline timelineResponse, user *userData) []entity.MediaItem {
	mediaByKey := make(map[string]mediaData, len(timeline.Includes.Media))
	for _, m := range timeline.Includes.Media {
		mediaByKey[m.MediaKey] = m
	}

	capturedAt := p.now().UTC()
	items := make([]entity.MediaItem, 0, len(timeline.Data))
	for _, tweet := range timeline.Data {
		item := entity.MediaItem{
			ID:              tweet.ID,
			Text:            tweet.Text,
			Media:           []entity.MediaAsset{},
			CreatedAt:       capturedAt,
			SubjectUsername: user.Username,
			ProfileImageURL: user.ProfileImageURL,
			IsRetweet:       tweet.isRetweet(),
		}
		if ts, err := time.Parse(time.RFC3339, tweet.CreatedAt); err == nil {
			item.CreatedAt = ts.UTC()
		}

		if tweet.Attachments != nil {
			for _, key := range tweet.Attachments.MediaKeys {
				m, ok := mediaByKey[key]
				if !ok {
					continue
				}
				item.Media = append(item.Media, entity.MediaAsset{
					MediaKey:        m.MediaKey,
					Type:            valueobject.AssetType(m.Type),
					URL:             service.ResolveURL(m.URL, m.PreviewImageURL),
					PreviewImageURL: m.PreviewImageURL,
					Variants:        m.Variants,
				})
			}
		}

		items = append(items, item)
	}

	return items
}
