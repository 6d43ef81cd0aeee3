package scraper

import (
	"html"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dreschagin/media-relay/internal/domain/entity"
	"github.com/dreschagin/media-relay/internal/domain/service"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
)

// MaxItems ограничивает число постов, разбираемых с одной страницы зеркала
const MaxItems = 20

const cdnBase = "https://pbs.twimg.com/"

// MarkupParser извлекает посты с медиа из HTML страницы зеркала
type MarkupParser interface {
	ParseMirrorMarkup(markup, mirrorBase, subject string) []entity.MediaItem
}

// NewMarkupParser выбирает реализацию по имени из конфигурации
func NewMarkupParser(kind string) MarkupParser {
	if strings.EqualFold(kind, "html") {
		return NewHTMLParser()
	}
	return NewRegexParser()
}

var (
	statusIDPattern = regexp.MustCompile(`/status/(\d+)`)
	tagPattern      = regexp.MustCompile(`(?s)<[^>]*>`)
	spacePattern    = regexp.MustCompile(`\s+`)
)

// зеркала подписывают дату как "Oct 1, 2026 · 10:00 AM UTC"
const dateLayout = "Jan 2, 2006 · 3:04 PM MST"

func statusIDFromHref(href string) string {
	match := statusIDPattern.FindStringSubmatch(href)
	if len(match) < 2 {
		return ""
	}
	return match[1]
}

func isAvatar(src string) bool {
	return strings.Contains(src, "profile_images")
}

func isVideoThumb(src string) bool {
	return strings.Contains(src, "video_thumb") || strings.Contains(src, "card_img")
}

func isRepostText(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "RT @")
}

// cleanText убирает теги и HTML-сущности, схлопывает пробелы
func cleanText(fragment string) string {
	text := tagPattern.ReplaceAllString(fragment, " ")
	text = html.UnescapeString(text)
	return strings.TrimSpace(spacePattern.ReplaceAllString(text, " "))
}

func parseDate(title string) time.Time {
	title = strings.TrimSpace(html.UnescapeString(title))
	ts, err := time.Parse(dateLayout, title)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// resolveMediaURL переводит ссылки зеркала вида /pic/... на CDN Twitter
func resolveMediaURL(src, mirrorBase string) string {
	src = strings.TrimSpace(html.UnescapeString(src))
	if src == "" {
		return ""
	}
	if strings.HasPrefix(src, "//") {
		return "https:" + src
	}
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		if u, err := url.Parse(src); err == nil && strings.HasPrefix(u.Path, "/pic/") {
			return resolveMediaURL(u.Path, mirrorBase)
		}
		return src
	}

	if rest, ok := strings.CutPrefix(src, "/pic/"); ok {
		if unescaped, err := url.PathUnescape(rest); err == nil {
			rest = unescaped
		}
		rest = strings.TrimPrefix(rest, "orig/")
		if i := strings.IndexAny(rest, "?&"); i >= 0 {
			rest = rest[:i]
		}
		switch {
		case strings.HasPrefix(rest, "video.twimg.com/"), strings.HasPrefix(rest, "pbs.twimg.com/"):
			return "https://" + rest
		default:
			return cdnBase + strings.TrimPrefix(rest, "/")
		}
	}

	return strings.TrimRight(mirrorBase, "/") + "/" + strings.TrimPrefix(src, "/")
}

func mediaKeyFor(itemID, mediaURL string, n int) string {
	base := path.Base(mediaURL)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	if base == "" || base == "." || base == "/" {
		return itemID + "_" + strconv.Itoa(n)
	}
	return base
}

// postDraft промежуточное состояние поста, общее для обеих реализаций
type postDraft struct {
	id        string
	text      string
	avatar    string
	createdAt time.Time
	repost    bool
	photos    []string
	videos    []videoDraft
}

type videoDraft struct {
	src    string
	poster string
	gif    bool
}

func (d *postDraft) toItem(mirrorBase, subject string) (entity.MediaItem, bool) {
	if d.id == "" || d.repost || isRepostText(d.text) {
		return entity.MediaItem{}, false
	}

	item := entity.MediaItem{
		ID:              d.id,
		Text:            d.text,
		Media:           []entity.MediaAsset{},
		CreatedAt:       d.createdAt,
		SubjectUsername: subject,
	}
	if d.avatar != "" {
		item.ProfileImageURL = resolveMediaURL(d.avatar, mirrorBase)
	}

	seen := make(map[string]struct{})
	for _, src := range d.photos {
		if isAvatar(src) || isVideoThumb(src) {
			continue
		}
		resolved := resolveMediaURL(src, mirrorBase)
		if _, dup := seen[resolved]; dup || resolved == "" {
			continue
		}
		seen[resolved] = struct{}{}
		item.Media = append(item.Media, entity.MediaAsset{
			MediaKey: mediaKeyFor(d.id, resolved, len(item.Media)),
			Type:     valueobject.AssetPhoto,
			URL:      resolved,
		})
	}

	for _, v := range d.videos {
		assetType := valueobject.AssetVideo
		if v.gif {
			assetType = valueobject.AssetAnimatedGIF
		}
		poster := ""
		if v.poster != "" {
			poster = resolveMediaURL(v.poster, mirrorBase)
		}
		src := ""
		if v.src != "" {
			src = resolveMediaURL(v.src, mirrorBase)
		}
		key := src
		if key == "" {
			key = poster
		}
		if _, dup := seen[key]; dup || key == "" {
			continue
		}
		seen[key] = struct{}{}
		item.Media = append(item.Media, entity.MediaAsset{
			MediaKey:        mediaKeyFor(d.id, key, len(item.Media)),
			Type:            assetType,
			URL:             service.ResolveURL(src, poster),
			PreviewImageURL: poster,
		})
	}

	return item, true
}
