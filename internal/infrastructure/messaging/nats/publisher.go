package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dreschagin/media-relay/internal/application/dto"
	"github.com/dreschagin/media-relay/internal/application/port"
	"github.com/dreschagin/media-relay/pkg/logger"
	"github.com/nats-io/nats.go"
)

// DefaultStream имя JetStream стрима для событий медиа
const DefaultStream = "MEDIA"

const dedupWindow = 2 * time.Minute

// Config параметры подключения к NATS
type Config struct {
	URL string
	// Stream создается при старте, если его нет
	Stream string
	// SubjectPrefix добавляется к subject'ам событий ("relay" -> "relay.media.fetched")
	SubjectPrefix string
}

// NATSPublisher публикует события медиа в NATS JetStream.
// Реализует port.EventPublisher
type NATSPublisher struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	prefix string
	logger *logger.Logger
}

// NewNATSPublisher подключается к NATS и гарантирует наличие стрима
func NewNATSPublisher(cfg Config, log *logger.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("media-relay"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	p := &NATSPublisher{
		nc:     nc,
		js:     js,
		prefix: strings.Trim(cfg.SubjectPrefix, "."),
		logger: log,
	}

	stream := cfg.Stream
	if stream == "" {
		stream = DefaultStream
	}
	if err := p.ensureStream(stream); err != nil {
		nc.Close()
		return nil, err
	}

	log.Info("Connected to NATS", "url", cfg.URL, "stream", stream)
	return p, nil
}

func (p *NATSPublisher) ensureStream(name string) error {
	_, err := p.js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{subjectFor(p.prefix, "media.>")},
		Storage:    nats.FileStorage,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: dedupWindow,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", name, err)
	}
	p.logger.Info("NATS stream created", "stream", name)
	return nil
}

// Publish ставит событие в очередь JetStream без ожидания ack.
// Nats-Msg-Id равен event.ID, повтор в окне дедупликации стрим отбросит.
func (p *NATSPublisher) Publish(ctx context.Context, event *dto.MediaEventDTO) error {
	if event == nil {
		return errors.New("event is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := port.EventSubject(event.Type)
	if subject == "" {
		return fmt.Errorf("no subject for event type %q", event.Type)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	full := subjectFor(p.prefix, subject)
	if _, err := p.js.PublishAsync(full, data, nats.MsgId(event.ID)); err != nil {
		return fmt.Errorf("publish %s: %w", full, err)
	}

	p.logger.Debug("Event queued", "subject", full, "event_id", event.ID, "bytes", len(data))
	return nil
}

// Close дожидается подтверждения отправленных событий и закрывает соединение
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	select {
	case <-p.js.PublishAsyncComplete():
	case <-time.After(5 * time.Second):
		p.logger.Warn("NATS pending acks not completed before close", "pending", p.js.PublishAsyncPending())
	}
	p.logger.Info("Closing NATS connection")
	p.nc.Close()
	return nil
}

func subjectFor(prefix, subject string) string {
	if prefix == "" {
		return subject
	}
	return prefix + "." + subject
}
