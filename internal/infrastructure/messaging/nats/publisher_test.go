package nats

import (
	"testing"

	"github.com/dreschagin/media-relay/internal/application/dto"
	"github.com/dreschagin/media-relay/internal/application/port"
)

func TestSubjectFor(t *testing.T) {
	tests := []struct {
		prefix  string
		subject string
		want    string
	}{
		{prefix: "", subject: "media.fetched", want: "media.fetched"},
		{prefix: "relay", subject: "media.archived", want: "relay.media.archived"},
		{prefix: "prod.relay", subject: "media.>", want: "prod.relay.media.>"},
	}

	for _, tt := range tests {
		if got := subjectFor(tt.prefix, tt.subject); got != tt.want {
			t.Fatalf("subjectFor(%q, %q) = %q, want %q", tt.prefix, tt.subject, got, tt.want)
		}
	}
}

func TestEventSubjects(t *testing.T) {
	tests := []struct {
		eventType string
		want      string
	}{
		{eventType: dto.EventMediaFetched, want: "relay.media.fetched"},
		{eventType: dto.EventMediaArchived, want: "relay.media.archived"},
	}

	for _, tt := range tests {
		if got := subjectFor("relay", port.EventSubject(tt.eventType)); got != tt.want {
			t.Fatalf("subject for %q = %q, want %q", tt.eventType, got, tt.want)
		}
	}
	if port.EventSubject("media_deleted") != "" {
		t.Fatal("unknown event type must not map to a subject")
	}
}
