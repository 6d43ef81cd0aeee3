package valueobject

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	MinResults = 1
	MaxResults = 100
)

// CacheKey составной ключ кэша: "{subject}-{mediaType}-{maxResults}"
type CacheKey struct {
	Subject    string
	MediaType  MediaType
	MaxResults int
}

// NewCacheKey нормализует subject (нижний регистр, без "@")
func NewCacheKey(subject string, mediaType MediaType, maxResults int) CacheKey {
	return CacheKey{
		Subject:    NormalizeSubject(subject),
		MediaType:  mediaType,
		MaxResults: maxResults,
	}
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s-%s-%d", k.Subject, k.MediaType, k.MaxResults)
}

func (k CacheKey) Validate() error {
	if k.Subject == "" {
		return errors.New("cache key subject is empty")
	}
	if err := k.MediaType.Validate(); err != nil {
		return err
	}
	if k.MaxResults < MinResults || k.MaxResults > MaxResults {
		return fmt.Errorf("max results %d out of range %d..%d", k.MaxResults, MinResults, MaxResults)
	}
	return nil
}

// SubjectPattern допустимое имя аккаунта, "@" в начале необязателен
var SubjectPattern = regexp.MustCompile(`^@?[A-Za-z0-9_]{1,15}$`)

// IsValidSubject проверяет имя аккаунта до нормализации
func IsValidSubject(raw string) bool {
	return SubjectPattern.MatchString(strings.TrimSpace(raw))
}

// NormalizeSubject приводит имя аккаунта к каноническому виду
func NormalizeSubject(subject string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(subject), "@"))
}
