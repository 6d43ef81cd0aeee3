package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dreschagin/media-relay/internal/application/port"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// publishTimeout ограничивает отправку одной записи во внешний sink
const publishTimeout = 5 * time.Second

const timeLayout = "2006-01-02 15:04:05"

// Logger пишет строки вида
//
//	[2026-10-18 12:00:00] [INFO] message | key=value key2=value2
//
// и дублирует записи в port.LogPublisher, если он подключен.
type Logger struct {
	out    *log.Logger
	level  Level
	fields []interface{}
	sink   *sink
}

// sink общий для logger'а и всех его потомков из With
type sink struct {
	mu        sync.RWMutex
	publisher port.LogPublisher
}

func New(level string) *Logger {
	return NewWithWriter(level, os.Stdout)
}

// NewWithWriter создает logger, пишущий в произвольный writer
func NewWithWriter(level string, w io.Writer) *Logger {
	return &Logger{
		out:   log.New(w, "", 0),
		level: parseLevel(level),
		sink:  &sink{},
	}
}

// With возвращает logger, добавляющий пары key/value к каждой записи
func (l *Logger) With(args ...interface{}) *Logger {
	child := *l
	child.fields = append(append([]interface{}{}, l.fields...), args...)
	return &child
}

// SetLogPublisher подключает внешний sink (CloudWatch Logs).
// nil отключает публикацию. Действует и на потомков из With.
func (l *Logger) SetLogPublisher(publisher port.LogPublisher) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.publisher = publisher
}

func parseLevel(level string) Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	l.write(DEBUG, port.LogLevelDebug, msg, args)
}

func (l *Logger) Info(msg string, args ...interface{}) {
	l.write(INFO, port.LogLevelInfo, msg, args)
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	l.write(WARN, port.LogLevelWarn, msg, args)
}

// Error добавляет err к полям под ключом "error"
func (l *Logger) Error(msg string, err error, args ...interface{}) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	l.write(ERROR, port.LogLevelError, msg, args)
}

func (l *Logger) write(level Level, name port.LogLevel, msg string, args []interface{}) {
	if level < l.level {
		return
	}
	if len(l.fields) > 0 {
		args = append(append([]interface{}{}, l.fields...), args...)
	}

	now := time.Now()
	var b strings.Builder
	b.WriteString("[" + now.Format(timeLayout) + "] [" + string(name) + "] " + msg)
	if len(args) > 0 {
		b.WriteString(" |")
		for i := 0; i < len(args); i += 2 {
			if i+1 == len(args) {
				fmt.Fprintf(&b, " !extra=%v", args[i])
				break
			}
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		}
	}

	l.out.Println(b.String())
	l.publish(now, name, msg, args)
}

func (l *Logger) publish(ts time.Time, level port.LogLevel, msg string, args []interface{}) {
	l.sink.mu.RLock()
	publisher := l.sink.publisher
	l.sink.mu.RUnlock()
	if publisher == nil {
		return
	}

	entry := port.LogEntry{
		Timestamp: ts,
		Level:     level,
		Message:   msg,
		Fields:    fieldsFromArgs(args),
	}

	// отправка не должна блокировать вызывающий код
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		_ = publisher.Publish(ctx, entry)
	}()
}

func fieldsFromArgs(args []interface{}) map[string]interface{} {
	if len(args) < 2 {
		return nil
	}
	fields := make(map[string]interface{}, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		fields[fmt.Sprint(args[i])] = args[i+1]
	}
	return fields
}
