package cloudwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	applicationPort "github.com/dreschagin/media-relay/internal/application/port"
	"github.com/dreschagin/media-relay/internal/infrastructure/awsclient"
)

// Лимиты PutLogEvents
const (
	putEventsMaxCount = 10000
	putEventsMaxBytes = 1 << 20
	eventMaxBytes     = 256000
	// CloudWatch добавляет к размеру каждого события 26 байт
	eventOverheadBytes = 26
)

// bufferCap верхняя граница буфера, пока CloudWatch недоступен.
// Сверх нее выбрасываются самые старые записи.
const bufferCap = 10000

const (
	defaultLogsBatch    = 50
	defaultLogsInterval = 5 * time.Second
	flushTimeout        = 30 * time.Second
)

type LogsPublisherConfig struct {
	LogGroupName    string
	LogStreamName   string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	// Service попадает в каждую запись
	Service string
	// BatchSize записей в буфере, после которых отправка не ждет тикера
	BatchSize     int
	FlushInterval time.Duration
	// RetentionDays 0 не трогает политику группы
	RetentionDays int32
	AutoCreate    bool
}

func (cfg *LogsPublisherConfig) normalize() error {
	switch {
	case cfg.LogGroupName == "":
		return errors.New("log group name is required")
	case cfg.LogStreamName == "":
		return errors.New("log stream name is required")
	case cfg.Region == "":
		return errors.New("region is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultLogsBatch
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultLogsInterval
	}
	return nil
}

type logsAPI interface {
	PutLogEvents(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
	CreateLogGroup(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	CreateLogStream(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutRetentionPolicy(ctx context.Context, params *cloudwatchlogs.PutRetentionPolicyInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutRetentionPolicyOutput, error)
}

// LogsPublisher реализует port.LogPublisher: копит записи logger'а
// и отправляет их пачками по таймеру или при заполнении.
type LogsPublisher struct {
	client  logsAPI
	group   string
	stream  string
	service string
	batch   int

	mu      sync.Mutex
	pending []applicationPort.LogEntry
	dropped int

	// PutLogEvents в один stream выполняются по очереди
	sendMu sync.Mutex

	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewLogsPublisher(ctx context.Context, cfg LogsPublisherConfig) (*LogsPublisher, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	settings := awsclient.Settings{
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	}
	awsCfg, err := awsclient.Load(ctx, settings)
	if err != nil {
		return nil, err
	}
	client := cloudwatchlogs.NewFromConfig(awsCfg, func(o *cloudwatchlogs.Options) {
		o.BaseEndpoint = settings.BaseEndpoint()
	})

	p := newLogsPublisher(client, cfg)
	if cfg.AutoCreate {
		if err := p.provision(ctx, cfg.RetentionDays); err != nil {
			return nil, err
		}
	}

	p.wg.Add(1)
	go p.run()
	return p, nil
}

func newLogsPublisher(client logsAPI, cfg LogsPublisherConfig) *LogsPublisher {
	return &LogsPublisher{
		client:   client,
		group:    cfg.LogGroupName,
		stream:   cfg.LogStreamName,
		service:  cfg.Service,
		batch:    cfg.BatchSize,
		interval: cfg.FlushInterval,
		stop:     make(chan struct{}),
	}
}

func (p *LogsPublisher) Publish(ctx context.Context, entry applicationPort.LogEntry) error {
	return p.PublishBatch(ctx, []applicationPort.LogEntry{entry})
}

func (p *LogsPublisher) PublishBatch(ctx context.Context, entries []applicationPort.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	p.mu.Lock()
	p.pending = append(p.pending, entries...)
	if over := len(p.pending) - bufferCap; over > 0 {
		p.pending = append(p.pending[:0], p.pending[over:]...)
		p.dropped += over
	}
	ready := len(p.pending) >= p.batch
	p.mu.Unlock()

	if !ready {
		return nil
	}
	return p.Flush(ctx)
}

// Flush отправляет все накопленное. Потерянные при переполнении записи
// отражаются одной WARN записью в той же отправке.
func (p *LogsPublisher) Flush(ctx context.Context) error {
	entries := p.drain()
	if len(entries) == 0 {
		return nil
	}

	// внутри запроса события должны идти по времени
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	events := make([]types.InputLogEvent, 0, len(entries))
	for _, entry := range entries {
		if event, err := p.encodeEntry(entry); err == nil {
			events = append(events, event)
		}
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	for _, batch := range splitBatches(events) {
		if err := p.put(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (p *LogsPublisher) drain() []applicationPort.LogEntry {
	p.mu.Lock()
	entries, dropped := p.pending, p.dropped
	p.pending, p.dropped = nil, 0
	p.mu.Unlock()

	if dropped > 0 {
		entries = append(entries, applicationPort.LogEntry{
			Timestamp: time.Now(),
			Level:     applicationPort.LogLevelWarn,
			Message:   "CloudWatch log buffer overflow",
			Fields:    map[string]interface{}{"dropped": dropped},
		})
	}
	return entries
}

// Close останавливает фоновую отправку и досылает остаток
func (p *LogsPublisher) Close(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
	return p.Flush(ctx)
}

func (p *LogsPublisher) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			if err := p.Flush(ctx); err != nil {
				// logger сам публикует сюда, поэтому только stderr
				fmt.Fprintf(os.Stderr, "cloudwatch logs: %v\n", err)
			}
			cancel()
		}
	}
}

func (p *LogsPublisher) put(ctx context.Context, events []types.InputLogEvent) error {
	err := retry(ctx, func() error {
		_, err := p.client.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
			LogGroupName:  aws.String(p.group),
			LogStreamName: aws.String(p.stream),
			LogEvents:     events,
		})
		return err
	}, func(err error) bool {
		var missing *types.ResourceNotFoundException
		return errors.As(err, &missing)
	})
	if err != nil {
		return fmt.Errorf("put %d log events to %s/%s: %w", len(events), p.group, p.stream, err)
	}
	return nil
}

// splitBatches режет события по лимитам количества и размера запроса
func splitBatches(events []types.InputLogEvent) [][]types.InputLogEvent {
	var batches [][]types.InputLogEvent
	var current []types.InputLogEvent
	size := 0

	for _, event := range events {
		eventSize := len(aws.ToString(event.Message)) + eventOverheadBytes
		if len(current) > 0 && (len(current) == putEventsMaxCount || size+eventSize > putEventsMaxBytes) {
			batches = append(batches, current)
			current, size = nil, 0
		}
		current = append(current, event)
		size += eventSize
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// logRecord JSON тело одного события в CloudWatch
type logRecord struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Service   string                 `json:"service,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func (p *LogsPublisher) encodeEntry(entry applicationPort.LogEntry) (types.InputLogEvent, error) {
	body, err := json.Marshal(logRecord{
		Timestamp: entry.Timestamp.UTC().Format(time.RFC3339Nano),
		Level:     string(entry.Level),
		Service:   p.service,
		Message:   entry.Message,
		Fields:    entry.Fields,
	})
	if err != nil {
		return types.InputLogEvent{}, fmt.Errorf("encode log entry: %w", err)
	}

	message := string(body)
	if len(message) > eventMaxBytes {
		message = message[:eventMaxBytes-3] + "..."
	}
	return types.InputLogEvent{
		Message:   aws.String(message),
		Timestamp: aws.Int64(entry.Timestamp.UnixMilli()),
	}, nil
}

// provision создает группу и stream, существующие не считаются ошибкой
func (p *LogsPublisher) provision(ctx context.Context, retentionDays int32) error {
	var exists *types.ResourceAlreadyExistsException

	if _, err := p.client.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(p.group),
	}); err != nil && !errors.As(err, &exists) {
		return fmt.Errorf("create log group %s: %w", p.group, err)
	}

	if retentionDays > 0 {
		if _, err := p.client.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
			LogGroupName:    aws.String(p.group),
			RetentionInDays: aws.Int32(retentionDays),
		}); err != nil {
			return fmt.Errorf("set retention for %s: %w", p.group, err)
		}
	}

	if _, err := p.client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(p.group),
		LogStreamName: aws.String(p.stream),
	}); err != nil && !errors.As(err, &exists) {
		return fmt.Errorf("create log stream %s: %w", p.stream, err)
	}
	return nil
}
