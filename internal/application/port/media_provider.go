package port

import (
	"context"
	"errors"

	"github.com/dreschagin/media-relay/internal/domain/entity"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
)

// ErrMissingCredential is returned by a provider whose credential is not configured.
var ErrMissingCredential = errors.New("missing credential")

// MediaProvider is one data-returning tier of the provider chain.
type MediaProvider interface {
	// Name is used as the tier name in failures and metrics.
	Name() string

	// Metered reports whether calls count against the request quota.
	Metered() bool

	// Fetch returns provider data normalized to the canonical model.
	// Items may still contain reposts and assets of other types; the chain filters them.
	Fetch(ctx context.Context, subject string, mediaType valueobject.MediaType, maxResults int) (*entity.MediaQueryResult, error)
}

// AlternativeProvider is the scraping tier. It never fails; it degrades to a widget placeholder.
type AlternativeProvider interface {
	FetchAlternative(ctx context.Context, subject string, mediaType valueobject.MediaType) *entity.MediaQueryResult
}
