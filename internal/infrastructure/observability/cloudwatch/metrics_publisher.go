package cloudwatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/dreschagin/media-relay/internal/infrastructure/awsclient"
	"github.com/dreschagin/media-relay/pkg/logger"
)

const (
	// лимит PutMetricData
	maxMetricsPerRequest = 1000
)

// Metric names published by MetricsPublisher.
const (
	metricTierRequests   = "TierRequests"
	metricTierLatency    = "TierLatency"
	metricCacheLookups   = "CacheLookups"
	metricQuotaDenied    = "QuotaDenied"
	metricArchivedAssets = "ArchivedAssets"
)

// MetricsPublisherConfig holds configuration for CloudWatch metrics publishing.
type MetricsPublisherConfig struct {
	Namespace         string            // CloudWatch namespace (e.g., "MediaRelay")
	Region            string            // AWS region (e.g., "us-east-1")
	Endpoint          string            // Optional endpoint override (for LocalStack)
	AccessKeyID       string            // AWS access key
	SecretAccessKey   string            // AWS secret key
	DefaultDimensions map[string]string // Default dimensions added to all metrics
	BufferSize        int               // Buffer size that triggers an early flush
	FlushInterval     time.Duration     // Automatic flush interval
	StorageResolution int32             // Storage resolution in seconds (1 or 60)
}

// datapoint is a buffered observation waiting to be sent.
type datapoint struct {
	name       string
	value      float64
	unit       types.StandardUnit
	dimensions map[string]string
	at         time.Time
}

// putMetricDataAPI is the subset of the CloudWatch client used here.
type putMetricDataAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// MetricsPublisher buffers media relay observations and ships them to CloudWatch.
// It implements port.MediaMetrics; Observe* never block on the network.
type MetricsPublisher struct {
	client            putMetricDataAPI
	namespace         string
	defaultDimensions map[string]string
	storageResolution int32
	logger            *logger.Logger

	buffer     []datapoint
	bufferSize int
	mu         sync.Mutex
	now        func() time.Time

	flushInterval time.Duration
	flushCh       chan struct{}
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// NewMetricsPublisher creates a new CloudWatch metrics publisher and starts its flush loop.
func NewMetricsPublisher(ctx context.Context, cfg MetricsPublisherConfig, log *logger.Logger) (*MetricsPublisher, error) {
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
	client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		o.BaseEndpoint = settings.BaseEndpoint()
	})

	p := newMetricsPublisher(client, cfg, log)
	p.wg.Add(1)
	go p.flushLoop()

	return p, nil
}

func (cfg *MetricsPublisherConfig) normalize() error {
	if cfg.Namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	if cfg.Region == "" {
		return fmt.Errorf("region is required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.StorageResolution != 1 && cfg.StorageResolution != 60 {
		cfg.StorageResolution = 60
	}
	return nil
}

func newMetricsPublisher(client putMetricDataAPI, cfg MetricsPublisherConfig, log *logger.Logger) *MetricsPublisher {
	return &MetricsPublisher{
		client:            client,
		namespace:         cfg.Namespace,
		defaultDimensions: cfg.DefaultDimensions,
		storageResolution: cfg.StorageResolution,
		logger:            log,
		buffer:            make([]datapoint, 0, cfg.BufferSize),
		bufferSize:        cfg.BufferSize,
		now:               time.Now,
		flushInterval:     cfg.FlushInterval,
		flushCh:           make(chan struct{}, 1),
		stopCh:            make(chan struct{}),
	}
}

// ObserveTier records one provider tier attempt and its latency.
func (p *MetricsPublisher) ObserveTier(tier, outcome string, duration time.Duration) {
	dims := map[string]string{"Tier": tier, "Outcome": outcome}
	p.add(datapoint{name: metricTierRequests, value: 1, unit: types.StandardUnitCount, dimensions: dims})
	p.add(datapoint{
		name:       metricTierLatency,
		value:      float64(duration.Milliseconds()),
		unit:       types.StandardUnitMilliseconds,
		dimensions: map[string]string{"Tier": tier},
	})
}

// ObserveCache records a lookup against one cache layer.
func (p *MetricsPublisher) ObserveCache(layer string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	p.add(datapoint{
		name:       metricCacheLookups,
		value:      1,
		unit:       types.StandardUnitCount,
		dimensions: map[string]string{"Layer": layer, "Result": result},
	})
}

// ObserveQuotaDenied records a request rejected by the quota governor.
func (p *MetricsPublisher) ObserveQuotaDenied(ceiling string) {
	p.add(datapoint{
		name:       metricQuotaDenied,
		value:      1,
		unit:       types.StandardUnitCount,
		dimensions: map[string]string{"Ceiling": ceiling},
	})
}

// ObserveArchive records the per-outcome asset counts of one archive batch.
func (p *MetricsPublisher) ObserveArchive(outcome string, count int) {
	if count <= 0 {
		return
	}
	p.add(datapoint{
		name:       metricArchivedAssets,
		value:      float64(count),
		unit:       types.StandardUnitCount,
		dimensions: map[string]string{"Outcome": outcome},
	})
}

func (p *MetricsPublisher) add(dp datapoint) {
	p.mu.Lock()
	dp.at = p.now()
	p.buffer = append(p.buffer, dp)
	full := len(p.buffer) >= p.bufferSize
	p.mu.Unlock()

	if full {
		select {
		case p.flushCh <- struct{}{}:
		default:
		}
	}
}

// Flush forces immediate publication of all buffered observations.
func (p *MetricsPublisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	pending := p.buffer
	p.buffer = make([]datapoint, 0, p.bufferSize)
	p.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	data := make([]types.MetricDatum, 0, len(pending))
	for _, dp := range pending {
		data = append(data, p.convertToDatum(dp))
	}

	// CloudWatch limit: 1000 metrics/request
	for i := 0; i < len(data); i += maxMetricsPerRequest {
		end := i + maxMetricsPerRequest
		if end > len(data) {
			end = len(data)
		}
		if err := p.putMetricData(ctx, data[i:end]); err != nil {
			return fmt.Errorf("failed to publish chunk: %w", err)
		}
	}

	return nil
}

// Close stops the background flush goroutine and flushes remaining metrics.
func (p *MetricsPublisher) Close(ctx context.Context) error {
	close(p.stopCh)
	p.wg.Wait()

	return p.Flush(ctx)
}

func (p *MetricsPublisher) flushLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-p.flushCh:
		case <-p.stopCh:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := p.Flush(ctx); err != nil {
			// Точки потеряны, следующая пачка уйдет по расписанию
			p.logger.Warn("CloudWatch metrics flush failed", "error", err.Error())
		}
		cancel()
	}
}

func (p *MetricsPublisher) putMetricData(ctx context.Context, data []types.MetricDatum) error {
	return retry(ctx, func() error {
		_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(p.namespace),
			MetricData: data,
		})
		return err
	}, nil)
}

func (p *MetricsPublisher) convertToDatum(dp datapoint) types.MetricDatum {
	dimensions := make([]types.Dimension, 0, len(p.defaultDimensions)+len(dp.dimensions))
	for key, value := range p.defaultDimensions {
		dimensions = append(dimensions, types.Dimension{Name: aws.String(key), Value: aws.String(value)})
	}
	for key, value := range dp.dimensions {
		if value == "" {
			continue
		}
		dimensions = append(dimensions, types.Dimension{Name: aws.String(key), Value: aws.String(value)})
	}

	datum := types.MetricDatum{
		MetricName: aws.String(dp.name),
		Value:      aws.Float64(dp.value),
		Unit:       dp.unit,
		Timestamp:  aws.Time(dp.at),
		Dimensions: dimensions,
	}
	if p.storageResolution > 0 {
		datum.StorageResolution = aws.Int32(p.storageResolution)
	}

	return datum
}
