package port

import (
	"context"
	"time"
)

// LogLevel уровень записи в том виде, в каком он уходит во внешний sink
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogEntry одна запись logger'а. Fields собираются из пар key/value вызова.
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
	Fields    map[string]interface{}
}

// LogPublisher внешний приемник логов (CloudWatch Logs).
// Logger вызывает Publish из отдельной goroutine и игнорирует ошибки.
type LogPublisher interface {
	Publish(ctx context.Context, entry LogEntry) error

	// PublishBatch буферизует записи; лимиты запроса соблюдает реализация
	PublishBatch(ctx context.Context, entries []LogEntry) error

	// Flush отправляет буфер немедленно
	Flush(ctx context.Context) error

	// Close останавливает фоновую отправку и сбрасывает остаток
	Close(ctx context.Context) error
}
