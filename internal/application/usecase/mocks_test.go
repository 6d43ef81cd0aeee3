package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dreschagin/media-relay/internal/application/dto"
	"github.com/dreschagin/media-relay/internal/application/port"
	"github.com/dreschagin/media-relay/internal/domain/entity"
	"github.com/dreschagin/media-relay/internal/domain/service"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
)

type mockMediaCache struct {
	mu      sync.Mutex
	fresh   map[string]*entity.MediaQueryResult
	records map[string]*entity.CacheRecord
	saves   int
}

func newMockMediaCache() *mockMediaCache {
	return &mockMediaCache{
		fresh:   make(map[string]*entity.MediaQueryResult),
		records: make(map[string]*entity.CacheRecord),
	}
}

func (m *mockMediaCache) SaveCache(_ context.Context, key valueobject.CacheKey, payload *entity.MediaQueryResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.fresh[key.String()] = payload
	m.records[key.String()] = &entity.CacheRecord{Key: key.String(), Payload: *payload, SavedAt: time.Now()}
}

func (m *mockMediaCache) LoadCache(_ context.Context, key valueobject.CacheKey) *entity.MediaQueryResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fresh[key.String()]
}

func (m *mockMediaCache) LoadStaleCache(_ context.Context, key valueobject.CacheKey) *entity.CacheRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[key.String()]
}

// expire оставляет запись доступной только через LoadStaleCache
func (m *mockMediaCache) expire(key valueobject.CacheKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fresh, key.String())
}

type mockRecentCache struct {
	entries map[string]*entity.MediaQueryResult
}

func newMockRecentCache() *mockRecentCache {
	return &mockRecentCache{entries: make(map[string]*entity.MediaQueryResult)}
}

func (m *mockRecentCache) Get(key valueobject.CacheKey) (*entity.MediaQueryResult, bool) {
	v, ok := m.entries[key.String()]
	return v, ok
}

func (m *mockRecentCache) Set(key valueobject.CacheKey, value *entity.MediaQueryResult) {
	m.entries[key.String()] = value
}

type mockQuota struct {
	decision service.QuotaDecision
	records  int
}

func allowQuota() *mockQuota {
	return &mockQuota{decision: service.QuotaDecision{Allowed: true}}
}

func denyQuota(ceiling string) *mockQuota {
	return &mockQuota{decision: service.QuotaDecision{
		Allowed: false,
		Ceiling: ceiling,
		Reason:  ceiling + " limit reached",
	}}
}

func (m *mockQuota) CanProceed() service.QuotaDecision { return m.decision }
func (m *mockQuota) RecordRequest()                    { m.records++ }

type mockProvider struct {
	name    string
	metered bool
	result  *entity.MediaQueryResult
	err     error
	calls   int
}

func (m *mockProvider) Name() string  { return m.name }
func (m *mockProvider) Metered() bool { return m.metered }

func (m *mockProvider) Fetch(context.Context, string, valueobject.MediaType, int) (*entity.MediaQueryResult, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func failingProvider(name string) *mockProvider {
	return &mockProvider{name: name, metered: true, err: errors.New("unexpected status 503")}
}

type mockAlternative struct {
	result *entity.MediaQueryResult
	calls  int
}

func (m *mockAlternative) FetchAlternative(context.Context, string, valueobject.MediaType) *entity.MediaQueryResult {
	m.calls++
	return m.result
}

type mockArchiver struct {
	mu    sync.Mutex
	calls [][]entity.MediaItem
}

func (m *mockArchiver) Execute(_ context.Context, items []entity.MediaItem) (*ArchiveBatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, items)
	return &ArchiveBatchResult{}, nil
}

func (m *mockArchiver) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockPublisher struct {
	mu     sync.Mutex
	events map[string]int
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{events: make(map[string]int)}
}

func (m *mockPublisher) Publish(_ context.Context, event *dto.MediaEventDTO) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[port.EventSubject(event.Type)]++
	return nil
}

func (m *mockPublisher) Close() error { return nil }

func (m *mockPublisher) count(subject string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[subject]
}

type mockNotifier struct {
	mu     sync.Mutex
	events []*dto.MediaEventDTO
}

func (m *mockNotifier) BroadcastEvent(event *dto.MediaEventDTO) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *mockNotifier) ClientCount() int { return 0 }

type mockDownloader struct {
	mu    sync.Mutex
	calls int
	errAt map[string]error
}

func (m *mockDownloader) Download(_ context.Context, url string) (*port.DownloadedAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err, ok := m.errAt[url]; ok {
		return nil, err
	}
	return &port.DownloadedAsset{Body: []byte("img:" + url), ContentType: "image/jpeg"}, nil
}

type mockObjectStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	failAll bool
}

func newMockObjectStorage() *mockObjectStorage {
	return &mockObjectStorage{objects: make(map[string][]byte)}
}

func (m *mockObjectStorage) Upload(_ context.Context, key, _ string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return errors.New("s3 unavailable")
	}
	m.objects[key] = body
	return nil
}

func (m *mockObjectStorage) DownloadURL(_ context.Context, key string) (string, error) {
	return "https://media.example/" + key, nil
}

type mockArchiveRepository struct {
	mu      sync.Mutex
	records map[string]entity.ArchivedAsset
	// raceIDs имитирует конкурентную запись: Exists=false, Put=ErrAlreadyArchived
	raceIDs map[string]bool
}

func newMockArchiveRepository() *mockArchiveRepository {
	return &mockArchiveRepository{
		records: make(map[string]entity.ArchivedAsset),
		raceIDs: make(map[string]bool),
	}
}

func (m *mockArchiveRepository) Exists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[id]
	return ok, nil
}

func (m *mockArchiveRepository) Put(_ context.Context, asset entity.ArchivedAsset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[asset.ID]; ok || m.raceIDs[asset.ID] {
		return port.ErrAlreadyArchived
	}
	m.records[asset.ID] = asset
	return nil
}

func (m *mockArchiveRepository) ListBySubject(_ context.Context, query port.ArchiveListQuery) (port.ArchiveListPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page := port.ArchiveListPage{}
	for _, r := range m.records {
		if r.SubjectUsername == query.Subject {
			page.Items = append(page.Items, r)
		}
	}
	if len(page.Items) > query.Limit {
		page.Items = page.Items[:query.Limit]
		page.NextCursor = "next"
	}
	return page, nil
}
