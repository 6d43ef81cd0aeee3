package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dreschagin/media-relay/internal/application/port"
	"github.com/dreschagin/media-relay/internal/domain/entity"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
	"github.com/dreschagin/media-relay/pkg/logger"
)

type archiveFixture struct {
	uc         *ArchiveMediaUseCase
	downloader *mockDownloader
	storage    *mockObjectStorage
	repository *mockArchiveRepository
	publisher  *mockPublisher
}

func newArchiveFixture() *archiveFixture {
	f := &archiveFixture{
		downloader: &mockDownloader{errAt: map[string]error{}},
		storage:    newMockObjectStorage(),
		repository: newMockArchiveRepository(),
		publisher:  newMockPublisher(),
	}
	f.uc = NewArchiveMediaUseCase(
		f.downloader,
		f.storage,
		f.repository,
		f.publisher,
		nil,
		nil,
		ArchiveMediaConfig{KeyPrefix: "twitter-media/", Delay: 0},
		logger.New("error"),
	)
	f.uc.now = func() time.Time { return time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC) }
	return f
}

func archiveBatch() []entity.MediaItem {
	twoPhotos := photoItem("1001", false)
	twoPhotos.Media = append(twoPhotos.Media, entity.MediaAsset{
		MediaKey: "3_second",
		Type:     valueobject.AssetPhoto,
		URL:      "https://pbs.twimg.com/media/second.png?name=orig",
	})
	textOnly := entity.MediaItem{ID: "1002", Text: "no media", SubjectUsername: "alice", Media: []entity.MediaAsset{}}
	return []entity.MediaItem{twoPhotos, textOnly, photoItem("1003", false)}
}

func TestArchiveMediaUseCase_Success(t *testing.T) {
	f := newArchiveFixture()

	result, err := f.uc.Execute(context.Background(), archiveBatch())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if len(result.Saved) != 3 {
		t.Fatalf("saved = %d, want 3", len(result.Saved))
	}
	if len(result.Skipped) != 1 || result.Skipped[0] != "1002" {
		t.Fatalf("skipped = %v, want the text-only item", result.Skipped)
	}
	if len(result.Failed) != 0 {
		t.Fatalf("failed = %v", result.Failed)
	}

	first := result.Saved[0]
	if first.ID != "1001_3_1001" {
		t.Fatalf("ID = %q", first.ID)
	}
	if first.StoragePath != "twitter-media/alice/1001_3_1001.jpg" {
		t.Fatalf("StoragePath = %q", first.StoragePath)
	}
	if first.StorageURL != "https://media.example/twitter-media/alice/1001_3_1001.jpg" {
		t.Fatalf("StorageURL = %q", first.StorageURL)
	}
	if result.Saved[1].StoragePath != "twitter-media/alice/1001_3_second.png" {
		t.Fatalf("extension should come from the url path, got %q", result.Saved[1].StoragePath)
	}
	if first.FileSizeBytes == 0 || first.MimeType != "image/jpeg" {
		t.Fatalf("unexpected file metadata %+v", first)
	}
	if f.publisher.count(port.SubjectMediaArchived) != 1 {
		t.Fatalf("expected one archived event")
	}
}

func TestArchiveMediaUseCase_Idempotent(t *testing.T) {
	f := newArchiveFixture()
	batch := archiveBatch()

	if _, err := f.uc.Execute(context.Background(), batch); err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	second, err := f.uc.Execute(context.Background(), batch)
	if err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}

	if len(second.Saved) != 0 {
		t.Fatalf("second run saved %d assets, want 0", len(second.Saved))
	}
	if len(second.Skipped) != 4 {
		t.Fatalf("second run skipped = %v, want 3 assets and 1 item", second.Skipped)
	}
	if len(f.repository.records) != 3 {
		t.Fatalf("repository holds %d records, want 3", len(f.repository.records))
	}
	if f.downloader.calls != 3 {
		t.Fatalf("downloads = %d, want 3", f.downloader.calls)
	}
}

func TestArchiveMediaUseCase_DuplicatesAndRaces(t *testing.T) {
	f := newArchiveFixture()
	f.repository.raceIDs[entity.ArchivedAssetID("1003", "3_1003")] = true

	batch := []entity.MediaItem{photoItem("1001", false), photoItem("1001", false), photoItem("1003", false)}
	result, err := f.uc.Execute(context.Background(), batch)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if len(result.Saved) != 1 {
		t.Fatalf("saved = %d, want 1", len(result.Saved))
	}
	want := []string{"1001_3_1001", "1003_3_1003"}
	if len(result.Skipped) != len(want) {
		t.Fatalf("skipped = %v, want %v", result.Skipped, want)
	}
	for i := range want {
		if result.Skipped[i] != want[i] {
			t.Fatalf("skipped = %v, want %v", result.Skipped, want)
		}
	}
}

func TestArchiveMediaUseCase_PartialFailure(t *testing.T) {
	f := newArchiveFixture()
	f.downloader.errAt["https://pbs.twimg.com/media/1001.jpg"] = errors.New("unexpected status 404")

	result, err := f.uc.Execute(context.Background(), []entity.MediaItem{photoItem("1001", false), photoItem("1003", false)})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if len(result.Failed) != 1 || result.Failed[0] != "1001_3_1001" {
		t.Fatalf("failed = %v", result.Failed)
	}
	if len(result.Saved) != 1 || result.Saved[0].SourceItemID != "1003" {
		t.Fatalf("processing should continue after a failure, saved = %+v", result.Saved)
	}

	t.Run("storage outage", func(t *testing.T) {
		f := newArchiveFixture()
		f.storage.failAll = true
		result, err := f.uc.Execute(context.Background(), []entity.MediaItem{photoItem("1001", false)})
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if len(result.Failed) != 1 || len(f.repository.records) != 0 {
			t.Fatalf("upload failure must not write metadata")
		}
	})
}

func TestArchiveMediaUseCase_Errors(t *testing.T) {
	f := newArchiveFixture()

	if _, err := f.uc.Execute(context.Background(), nil); !errors.Is(err, ErrNothingToArchive) {
		t.Fatalf("nil input error = %v, want ErrNothingToArchive", err)
	}

	f.uc.config.Delay = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result, err := f.uc.Execute(ctx, []entity.MediaItem{photoItem("1001", false), photoItem("1003", false)})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded during inter-download delay", err)
	}
	if result == nil || len(result.Saved) != 1 {
		t.Fatalf("first asset should be saved before the delay, got %+v", result)
	}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		url         string
		contentType string
		want        string
	}{
		{url: "https://pbs.twimg.com/media/a.jpg", contentType: "image/jpeg", want: "jpg"},
		{url: "https://pbs.twimg.com/media/a.jpeg", want: "jpg"},
		{url: "https://pbs.twimg.com/media/a?format=png&name=orig", contentType: "image/png", want: "png"},
		{url: "https://video.twimg.com/v.mp4?tag=12", want: "mp4"},
		{url: "https://example.com/blob", contentType: "application/octet-stream", want: "bin"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := extensionFor(tt.url, tt.contentType); got != tt.want {
				t.Fatalf("extensionFor() = %q, want %q", got, tt.want)
			}
		})
	}
}
