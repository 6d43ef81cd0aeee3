package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dreschagin/media-relay/internal/application/port"
	"github.com/dreschagin/media-relay/internal/domain/entity"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
	"github.com/dreschagin/media-relay/pkg/logger"
)

func photoItem(id string, retweet bool) entity.MediaItem {
	return entity.MediaItem{
		ID:              id,
		Text:            "post " + id,
		CreatedAt:       time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC),
		SubjectUsername: "alice",
		IsRetweet:       retweet,
		Media: []entity.MediaAsset{{
			MediaKey: "3_" + id,
			Type:     valueobject.AssetPhoto,
			URL:      "https://pbs.twimg.com/media/" + id + ".jpg",
		}},
	}
}

type testChain struct {
	uc        *FetchMediaUseCase
	cache     *mockMediaCache
	recent    *mockRecentCache
	quota     *mockQuota
	official  *mockProvider
	proxy     *mockProvider
	scraper   *mockAlternative
	archiver  *mockArchiver
	publisher *mockPublisher
	notifier  *mockNotifier
	clock     *time.Time
}

func newTestChain(quota *mockQuota) *testChain {
	clock := time.Date(2026, 10, 14, 14, 30, 0, 0, time.UTC)
	c := &testChain{
		cache:     newMockMediaCache(),
		recent:    newMockRecentCache(),
		quota:     quota,
		official:  failingProvider("official"),
		proxy:     failingProvider("proxy"),
		scraper:   &mockAlternative{result: entity.NewMediaQueryResult(nil, "scraper:unavailable")},
		archiver:  &mockArchiver{},
		publisher: newMockPublisher(),
		notifier:  &mockNotifier{},
		clock:     &clock,
	}
	c.uc = NewFetchMediaUseCase(FetchMediaDeps{
		Cache:       c.cache,
		Recent:      c.recent,
		Quota:       c.quota,
		Providers:   []port.MediaProvider{c.official, c.proxy},
		Alternative: c.scraper,
		Archiver:    c.archiver,
		Publisher:   c.publisher,
		Notifier:    c.notifier,
	}, FetchMediaConfig{Cooldown: 30 * time.Minute}, logger.New("error"))
	c.uc.now = func() time.Time { return *c.clock }
	return c
}

func (c *testChain) advance(d time.Duration) {
	*c.clock = c.clock.Add(d)
}

func photosCommand(max int) FetchMediaCommand {
	return FetchMediaCommand{Subject: "alice", MediaType: "photos", MaxResults: max}
}

func TestFetchMediaUseCase_AliceScenario(t *testing.T) {
	c := newTestChain(allowQuota())
	c.official.err = nil
	c.official.result = entity.NewMediaQueryResult([]entity.MediaItem{
		photoItem("900", true),
		photoItem("1001", false),
	}, "twitter-api-v2")

	result, err := c.uc.Execute(context.Background(), photosCommand(20))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	c.uc.Wait()

	if len(result.Items) != 1 || result.TotalCount != 1 {
		t.Fatalf("expected exactly the original post, got %d items (total %d)", len(result.Items), result.TotalCount)
	}
	if result.Items[0].ID != "1001" || len(result.Items[0].Media) != 1 {
		t.Fatalf("unexpected item %+v", result.Items[0])
	}
	if result.SourceLabel != "twitter-api-v2" {
		t.Fatalf("SourceLabel = %q", result.SourceLabel)
	}
	if c.quota.records != 1 {
		t.Fatalf("quota records = %d, want 1", c.quota.records)
	}
	if c.cache.saves != 1 {
		t.Fatalf("cache saves = %d, want 1", c.cache.saves)
	}
	if c.archiver.callCount() != 1 {
		t.Fatalf("archiver calls = %d, want 1", c.archiver.callCount())
	}
	if c.publisher.count(port.SubjectMediaFetched) != 1 || len(c.notifier.events) != 1 {
		t.Fatalf("expected one fetched event on both channels")
	}
}

func TestFetchMediaUseCase_FallbackOrdering(t *testing.T) {
	c := newTestChain(allowQuota())
	c.proxy.err = nil
	c.proxy.result = entity.NewMediaQueryResult([]entity.MediaItem{photoItem("2001", false)}, "proxy-api:primary")

	result, err := c.uc.Execute(context.Background(), photosCommand(5))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	c.uc.Wait()

	if result.SourceLabel != "proxy-api:primary" {
		t.Fatalf("SourceLabel = %q", result.SourceLabel)
	}
	if c.official.calls != 1 || c.proxy.calls != 1 {
		t.Fatalf("calls official=%d proxy=%d", c.official.calls, c.proxy.calls)
	}
	if c.scraper.calls != 0 {
		t.Fatalf("scraper must not be called, got %d calls", c.scraper.calls)
	}
	if c.quota.records != 1 {
		t.Fatalf("quota should be recorded once per run, got %d", c.quota.records)
	}
}

func TestFetchMediaUseCase_CacheLayers(t *testing.T) {
	c := newTestChain(allowQuota())
	c.official.err = nil
	c.official.result = entity.NewMediaQueryResult([]entity.MediaItem{photoItem("1001", false)}, "twitter-api-v2")

	if _, err := c.uc.Execute(context.Background(), photosCommand(5)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	c.uc.Wait()

	t.Run("cooldown serves stale", func(t *testing.T) {
		result, err := c.uc.Execute(context.Background(), photosCommand(5))
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if result.SourceLabel != "stale-cache:twitter-api-v2" {
			t.Fatalf("SourceLabel = %q", result.SourceLabel)
		}
	})

	t.Run("persistent cache after cooldown", func(t *testing.T) {
		c.advance(31 * time.Minute)
		result, err := c.uc.Execute(context.Background(), photosCommand(5))
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if result.SourceLabel != "cache:twitter-api-v2" {
			t.Fatalf("SourceLabel = %q", result.SourceLabel)
		}
	})

	t.Run("memory cache writes back", func(t *testing.T) {
		c.advance(31 * time.Minute)
		key := valueobject.NewCacheKey("alice", valueobject.MediaPhotos, 5)
		c.cache.expire(key)
		savesBefore := c.cache.saves

		result, err := c.uc.Execute(context.Background(), photosCommand(5))
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if result.SourceLabel != "memory:twitter-api-v2" {
			t.Fatalf("SourceLabel = %q", result.SourceLabel)
		}
		if c.cache.saves != savesBefore+1 {
			t.Fatalf("memory hit should write back to persistent cache")
		}
		if saved := c.cache.LoadCache(context.Background(), key); saved.SourceLabel != "twitter-api-v2" {
			t.Fatalf("write-back should keep original label, got %q", saved.SourceLabel)
		}
	})

	if c.official.calls != 1 {
		t.Fatalf("upstream should be called once, got %d", c.official.calls)
	}
}

func TestFetchMediaUseCase_CooldownStartsOnCacheHit(t *testing.T) {
	c := newTestChain(allowQuota())
	c.official.err = nil
	c.official.result = entity.NewMediaQueryResult([]entity.MediaItem{photoItem("1001", false)}, "twitter-api-v2")

	key := valueobject.NewCacheKey("alice", valueobject.MediaPhotos, 5)
	c.cache.SaveCache(context.Background(), key, entity.NewMediaQueryResult([]entity.MediaItem{photoItem("900", false)}, "twitter-api-v2"))

	result, err := c.uc.Execute(context.Background(), photosCommand(5))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.SourceLabel != "cache:twitter-api-v2" {
		t.Fatalf("SourceLabel = %q", result.SourceLabel)
	}

	c.advance(10 * time.Minute)
	c.cache.expire(key)

	result, err = c.uc.Execute(context.Background(), photosCommand(5))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.SourceLabel != "stale-cache:twitter-api-v2" {
		t.Fatalf("SourceLabel = %q, want stale-cache:twitter-api-v2", result.SourceLabel)
	}
	if c.official.calls != 0 || c.quota.records != 0 {
		t.Fatalf("repeat query within cooldown went upstream: official=%d quota=%d", c.official.calls, c.quota.records)
	}

	t.Run("cooldown ends", func(t *testing.T) {
		c.advance(31 * time.Minute)
		result, err := c.uc.Execute(context.Background(), photosCommand(5))
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		c.uc.Wait()
		if result.SourceLabel != "twitter-api-v2" || c.official.calls != 1 {
			t.Fatalf("expected upstream fetch after cooldown, got %q calls=%d", result.SourceLabel, c.official.calls)
		}
	})
}

// cancelCallerProvider отменяет контекст вызывающего посреди своего запроса
type cancelCallerProvider struct {
	mockProvider
	cancel context.CancelFunc
}

func (p *cancelCallerProvider) Fetch(ctx context.Context, subject string, mediaType valueobject.MediaType, limit int) (*entity.MediaQueryResult, error) {
	p.cancel()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.mockProvider.Fetch(ctx, subject, mediaType, limit)
}

type ctxRecordingProvider struct {
	mockProvider
	ctxErr error
}

func (p *ctxRecordingProvider) Fetch(ctx context.Context, subject string, mediaType valueobject.MediaType, limit int) (*entity.MediaQueryResult, error) {
	p.ctxErr = ctx.Err()
	return p.mockProvider.Fetch(ctx, subject, mediaType, limit)
}

func TestFetchMediaUseCase_CallerCancellationDoesNotAbortChain(t *testing.T) {
	c := newTestChain(allowQuota())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	official := &cancelCallerProvider{
		mockProvider: mockProvider{name: "official", metered: true, err: errors.New("unexpected status 503")},
		cancel:       cancel,
	}
	proxy := &ctxRecordingProvider{mockProvider: mockProvider{
		name:    "proxy",
		metered: true,
		result:  entity.NewMediaQueryResult([]entity.MediaItem{photoItem("2001", false)}, "proxy-api:primary"),
	}}
	c.uc.deps.Providers = []port.MediaProvider{official, proxy}

	result, err := c.uc.Execute(ctx, photosCommand(5))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	c.uc.Wait()

	if result.SourceLabel != "proxy-api:primary" {
		t.Fatalf("SourceLabel = %q", result.SourceLabel)
	}
	if proxy.calls != 1 || proxy.ctxErr != nil {
		t.Fatalf("proxy calls=%d ctxErr=%v, want one call on a live context", proxy.calls, proxy.ctxErr)
	}
	if c.cache.saves != 1 || c.quota.records != 1 {
		t.Fatalf("cache saves=%d quota records=%d, want 1 and 1", c.cache.saves, c.quota.records)
	}
}

func TestFetchMediaUseCase_FetchTimeoutBoundsChain(t *testing.T) {
	c := newTestChain(allowQuota())
	c.uc.config.FetchTimeout = time.Nanosecond
	blocking := &blockingProvider{mockProvider: mockProvider{name: "official", metered: true}}
	c.uc.deps.Providers = []port.MediaProvider{blocking}

	_, err := c.uc.Execute(context.Background(), photosCommand(5))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context.DeadlineExceeded", err)
	}
}

// blockingProvider ждет окончания контекста
type blockingProvider struct {
	mockProvider
}

func (p *blockingProvider) Fetch(ctx context.Context, _ string, _ valueobject.MediaType, _ int) (*entity.MediaQueryResult, error) {
	p.calls++
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestFetchMediaUseCase_QuotaDenied(t *testing.T) {
	t.Run("stale entry", func(t *testing.T) {
		c := newTestChain(denyQuota("hourly"))
		key := valueobject.NewCacheKey("alice", valueobject.MediaPhotos, 5)
		c.cache.SaveCache(context.Background(), key, entity.NewMediaQueryResult([]entity.MediaItem{photoItem("1", false)}, "proxy-api:legacy"))
		c.cache.expire(key)

		result, err := c.uc.Execute(context.Background(), photosCommand(5))
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if result.SourceLabel != "stale-cache:proxy-api:legacy" {
			t.Fatalf("SourceLabel = %q", result.SourceLabel)
		}
		if c.official.calls+c.proxy.calls+c.scraper.calls != 0 {
			t.Fatalf("no tier should run when a stale entry exists")
		}
	})

	t.Run("falls through to scraping", func(t *testing.T) {
		c := newTestChain(denyQuota("economy"))
		c.scraper.result = entity.NewMediaQueryResult([]entity.MediaItem{photoItem("3001", false)}, "scraper:nitter.net")

		result, err := c.uc.Execute(context.Background(), photosCommand(5))
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		c.uc.Wait()

		if result.SourceLabel != "scraper:nitter.net" {
			t.Fatalf("SourceLabel = %q", result.SourceLabel)
		}
		if c.official.calls != 0 || c.proxy.calls != 0 {
			t.Fatalf("metered tiers must be skipped, calls official=%d proxy=%d", c.official.calls, c.proxy.calls)
		}
		if c.quota.records != 0 {
			t.Fatalf("quota must not be recorded without a metered call")
		}
	})
}

func TestFetchMediaUseCase_WidgetPlaceholder(t *testing.T) {
	c := newTestChain(allowQuota())
	c.official.err = port.ErrMissingCredential
	c.proxy.err = port.ErrMissingCredential
	c.scraper.result = entity.NewMediaQueryResult([]entity.MediaItem{{
		ID:              "widget-alice",
		SubjectUsername: "alice",
		WidgetHTML:      `<a class="twitter-timeline" href="https://twitter.com/alice?ref_src=twsrc%5Etfw">Tweets by alice</a>`,
	}}, "scraper:widget")

	result, err := c.uc.Execute(context.Background(), photosCommand(5))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	c.uc.Wait()

	if result.SourceLabel != "scraper:widget" || !result.IsDegraded() {
		t.Fatalf("expected degraded widget result, got %q", result.SourceLabel)
	}
	if c.quota.records != 0 {
		t.Fatalf("missing credentials must not consume quota, got %d", c.quota.records)
	}
	if c.cache.saves != 0 || len(c.recent.entries) != 0 {
		t.Fatalf("widget results must not be cached")
	}
	if c.archiver.callCount() != 0 {
		t.Fatalf("widget results must not be archived")
	}
}

func TestFetchMediaUseCase_EmbeddedPhotosFromScraper(t *testing.T) {
	c := newTestChain(allowQuota())
	c.scraper.result = entity.NewMediaQueryResult([]entity.MediaItem{{
		ID:              "4001",
		Text:            "new set https://pbs.twimg.com/media/FzQ1.jpg",
		SubjectUsername: "alice",
		Media:           []entity.MediaAsset{},
	}}, "scraper:nitter.net")

	result, err := c.uc.Execute(context.Background(), photosCommand(5))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	c.uc.Wait()

	if len(result.Items) != 1 || len(result.Items[0].Media) != 1 {
		t.Fatalf("expected embedded photo to be attached, got %+v", result.Items)
	}
	if got := result.Items[0].Media[0]; got.Type != valueobject.AssetPhoto || got.URL != "https://pbs.twimg.com/media/FzQ1.jpg" {
		t.Fatalf("unexpected embedded asset %+v", got)
	}
}

func TestFetchMediaUseCase_AllProvidersFailed(t *testing.T) {
	c := newTestChain(allowQuota())

	_, err := c.uc.Execute(context.Background(), photosCommand(5))
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("error = %v, want ErrAllProvidersFailed", err)
	}

	var failed *AllProvidersFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected *AllProvidersFailedError")
	}
	if len(failed.Failures) != 3 {
		t.Fatalf("failures = %+v, want 3 tiers", failed.Failures)
	}
	wantTiers := []string{"official", "proxy", "scraper"}
	for i, tier := range wantTiers {
		if failed.Failures[i].Tier != tier {
			t.Fatalf("failure %d tier = %q, want %q", i, failed.Failures[i].Tier, tier)
		}
	}
	if !strings.Contains(err.Error(), "official: unexpected status 503; proxy: unexpected status 503") {
		t.Fatalf("unexpected flattened error %q", err.Error())
	}
}

func TestFetchMediaUseCase_VideosAreNotArchived(t *testing.T) {
	c := newTestChain(allowQuota())
	c.official.err = nil
	c.official.result = entity.NewMediaQueryResult([]entity.MediaItem{{
		ID:              "5001",
		SubjectUsername: "alice",
		Media: []entity.MediaAsset{
			{MediaKey: "7_1", Type: valueobject.AssetVideo, URL: "https://video.twimg.com/v.mp4"},
			{MediaKey: "3_1", Type: valueobject.AssetPhoto, URL: "https://pbs.twimg.com/media/p.jpg"},
		},
	}}, "twitter-api-v2")

	result, err := c.uc.Execute(context.Background(), FetchMediaCommand{Subject: "@Alice", MediaType: "videos", MaxResults: 5})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	c.uc.Wait()

	if len(result.Items[0].Media) != 1 || result.Items[0].Media[0].Type != valueobject.AssetVideo {
		t.Fatalf("expected only the video asset, got %+v", result.Items[0].Media)
	}
	if c.archiver.callCount() != 0 {
		t.Fatalf("only photo requests are archived")
	}
}

func TestFetchMediaUseCase_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		command FetchMediaCommand
	}{
		{name: "bad characters", command: FetchMediaCommand{Subject: "al ice", MediaType: "photos", MaxResults: 5}},
		{name: "too long", command: FetchMediaCommand{Subject: "a_very_long_username", MediaType: "photos", MaxResults: 5}},
		{name: "empty", command: FetchMediaCommand{Subject: "@", MediaType: "photos", MaxResults: 5}},
		{name: "media type", command: FetchMediaCommand{Subject: "alice", MediaType: "gifs", MaxResults: 5}},
		{name: "zero results", command: FetchMediaCommand{Subject: "alice", MediaType: "all", MaxResults: 0}},
		{name: "too many results", command: FetchMediaCommand{Subject: "alice", MediaType: "all", MaxResults: 101}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestChain(allowQuota())
			_, err := c.uc.Execute(context.Background(), tt.command)
			if !errors.Is(err, ErrInvalidQuery) {
				t.Fatalf("error = %v, want ErrInvalidQuery", err)
			}
			if c.official.calls != 0 {
				t.Fatalf("providers must not run on invalid input")
			}
		})
	}
}
