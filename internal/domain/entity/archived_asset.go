package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"github.com/dreschagin/media-relay/internal/domain/valueobject"
)

// ArchivedAsset запись о сохраненном в object storage медиафайле
type ArchivedAsset struct {
	ID              string                `json:"id"`
	SubjectUsername string                `json:"subject_username"`
	SourceItemID    string                `json:"source_item_id"`
	MediaKey        string                `json:"media_key"`
	MediaType       valueobject.AssetType `json:"media_type"`
	SourceURL       string                `json:"source_url"`
	StorageURL      string                `json:"storage_url"`
	StoragePath     string                `json:"storage_path"`
	Text            string                `json:"text"`
	CreatedAt       time.Time             `json:"created_at"`
	SavedAt         time.Time             `json:"saved_at"`
	FileSizeBytes   int64                 `json:"file_size_bytes"`
	MimeType        string                `json:"mime_type"`
}

var (
	plainItemID   = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	plainMediaKey = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// ArchivedAssetID детерминированный ключ дедупликации (itemID, mediaKey).
// Читаемая форма "itemID_mediaKey" используется, только когда первый "_"
// однозначно разделяет части; иначе ключ строится из sha256 пары и не содержит "_".
func ArchivedAssetID(itemID, mediaKey string) string {
	if plainItemID.MatchString(itemID) && plainMediaKey.MatchString(mediaKey) {
		return itemID + "_" + mediaKey
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s%s", len(itemID), itemID, mediaKey)))
	return "h-" + hex.EncodeToString(sum[:16])
}
