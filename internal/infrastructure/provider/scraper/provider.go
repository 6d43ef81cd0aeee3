package scraper

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/dreschagin/media-relay/internal/domain/entity"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
	"github.com/dreschagin/media-relay/pkg/logger"
)

const (
	LabelWidget      = "scraper:widget"
	LabelUnavailable = "scraper:unavailable"

	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

	maxPageBytes = 4 << 20
)

type Config struct {
	Mirrors        []string
	Timeout        time.Duration
	UserAgent      string
	WidgetFallback bool
}

// Provider tier 3: страницы зеркал с деградацией до embed-виджета
type Provider struct {
	mirrors        []string
	client         *http.Client
	parser         MarkupParser
	userAgent      string
	widgetFallback bool
	next           atomic.Uint64
	logger         *logger.Logger
	now            func() time.Time
}

func NewProvider(cfg Config, parser MarkupParser, log *logger.Logger) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if parser == nil {
		parser = NewRegexParser()
	}

	mirrors := make([]string, 0, len(cfg.Mirrors))
	for _, m := range cfg.Mirrors {
		if m = strings.TrimRight(strings.TrimSpace(m), "/"); m != "" {
			mirrors = append(mirrors, m)
		}
	}

	// часть зеркал выдает cookie после первой проверки браузера
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})

	return &Provider{
		mirrors:        mirrors,
		client:         &http.Client{Timeout: cfg.Timeout, Jar: jar},
		parser:         parser,
		userAgent:      cfg.UserAgent,
		widgetFallback: cfg.WidgetFallback,
		logger:         log,
		now:            time.Now,
	}
}

// FetchAlternative никогда не возвращает ошибку: при отказе всех зеркал
// отдает embed-виджет, либо пустой результат если виджет отключен.
func (p *Provider) FetchAlternative(ctx context.Context, subject string, mediaType valueobject.MediaType) *entity.MediaQueryResult {
	if n := len(p.mirrors); n > 0 {
		start := int((p.next.Add(1) - 1) % uint64(n))
		for i := 0; i < n; i++ {
			mirror := p.mirrors[(start+i)%n]
			if ctx.Err() != nil {
				break
			}

			items, err := p.fetchMirror(ctx, mirror, subject)
			if err != nil {
				p.logger.Warn("Mirror fetch failed", "mirror", mirror, "subject", subject, "error", err.Error())
				continue
			}
			if len(items) == 0 {
				p.logger.Debug("Mirror returned no posts", "mirror", mirror, "subject", subject)
				continue
			}

			p.logger.Debug("Mirror fetch succeeded",
				"mirror", mirror,
				"subject", subject,
				"media_type", mediaType.String(),
				"items", len(items),
			)
			return entity.NewMediaQueryResult(items, "scraper:"+mirrorHost(mirror))
		}
	}

	if !p.widgetFallback {
		return entity.NewMediaQueryResult(nil, LabelUnavailable)
	}
	return entity.NewMediaQueryResult([]entity.MediaItem{p.widgetItem(subject)}, LabelWidget)
}

func (p *Provider) fetchMirror(ctx context.Context, mirror, subject string) ([]entity.MediaItem, error) {
	endpoint := fmt.Sprintf("%s/%s/media", mirror, url.PathEscape(subject))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	items := p.parser.ParseMirrorMarkup(string(body), mirror, subject)
	capturedAt := p.now().UTC()
	for i := range items {
		if items[i].CreatedAt.IsZero() {
			items[i].CreatedAt = capturedAt
		}
	}
	return items, nil
}

func (p *Provider) widgetItem(subject string) entity.MediaItem {
	escaped := html.EscapeString(subject)
	return entity.MediaItem{
		ID:              "widget-" + escaped,
		Text:            "",
		Media:           []entity.MediaAsset{},
		CreatedAt:       p.now().UTC(),
		SubjectUsername: subject,
		WidgetHTML:      WidgetHTML(subject),
	}
}

// WidgetHTML стандартный embed timeline-виджета Twitter
func WidgetHTML(subject string) string {
	escaped := html.EscapeString(subject)
	return fmt.Sprintf(
		`<a class="twitter-timeline" href="https://twitter.com/%s?ref_src=twsrc%%5Etfw">Tweets by %s</a>`+
			`<script async src="https://platform.twitter.com/widgets.js" charset="utf-8"></script>`,
		escaped, escaped,
	)
}

func mirrorHost(mirror string) string {
	if u, err := url.Parse(mirror); err == nil && u.Host != "" {
		return u.Host
	}
	return mirror
}
