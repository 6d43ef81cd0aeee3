package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/dreschagin/media-relay/internal/application/port"
	"github.com/dreschagin/media-relay/internal/domain/entity"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
	"github.com/dreschagin/media-relay/pkg/logger"
)

type ListArchivedAssetsCommand struct {
	Subject string
	Limit   int
	Cursor  string
}

type ListArchivedAssetsResult struct {
	Items      []entity.ArchivedAsset `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

type ListArchivedAssetsConfig struct {
	DefaultLimit int
	MaxLimit     int
}

type ListArchivedAssetsUseCase struct {
	repository port.ArchivedAssetRepository
	config     ListArchivedAssetsConfig
	logger     *logger.Logger
}

func NewListArchivedAssetsUseCase(
	repository port.ArchivedAssetRepository,
	config ListArchivedAssetsConfig,
	log *logger.Logger,
) *ListArchivedAssetsUseCase {
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 24
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = 100
	}
	return &ListArchivedAssetsUseCase{
		repository: repository,
		config:     config,
		logger:     log,
	}
}

func (uc *ListArchivedAssetsUseCase) Execute(ctx context.Context, cmd ListArchivedAssetsCommand) (*ListArchivedAssetsResult, error) {
	subject := valueobject.NormalizeSubject(cmd.Subject)
	if !valueobject.IsValidSubject(subject) {
		return nil, fmt.Errorf("%w: invalid subject", ErrInvalidQuery)
	}

	limit := cmd.Limit
	if limit <= 0 {
		limit = uc.config.DefaultLimit
	}
	if limit > uc.config.MaxLimit {
		limit = uc.config.MaxLimit
	}

	page, err := uc.repository.ListBySubject(ctx, port.ArchiveListQuery{
		Subject: subject,
		Limit:   limit,
		Cursor:  cmd.Cursor,
	})
	if errors.Is(err, port.ErrInvalidCursor) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if err != nil {
		uc.logger.Error("Failed to list archived assets", err, "subject", subject)
		return nil, fmt.Errorf("failed to list archived assets: %w", err)
	}

	items := page.Items
	if items == nil {
		items = []entity.ArchivedAsset{}
	}

	return &ListArchivedAssetsResult{
		Items:      items,
		NextCursor: page.NextCursor,
	}, nil
}
