package entity

import "time"

// CacheRecord сохраненный результат запроса
type CacheRecord struct {
	Key     string           `json:"key"`
	Payload MediaQueryResult `json:"payload"`
	SavedAt time.Time        `json:"saved_at"`
}

// IsExpired запись считается отсутствующей если now - savedAt > ttl
func (r *CacheRecord) IsExpired(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.SavedAt) > ttl
}
