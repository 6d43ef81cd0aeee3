package valueobject

import (
	"errors"
	"strings"
)

// MediaType представляет тип запрашиваемого контента (Value Object)
type MediaType string

const (
	MediaPhotos MediaType = "photos"
	MediaVideos MediaType = "videos"
	MediaAll    MediaType = "all"
)

var ErrInvalidMediaType = errors.New("invalid media type: want photos, videos or all")

// ParseMediaType нормализует строку и проверяет допустимость
func ParseMediaType(raw string) (MediaType, error) {
	mt := MediaType(strings.ToLower(strings.TrimSpace(raw)))
	if err := mt.Validate(); err != nil {
		return "", err
	}
	return mt, nil
}

// Validate проверяет валидность типа
func (mt MediaType) Validate() error {
	switch mt {
	case MediaPhotos, MediaVideos, MediaAll:
		return nil
	default:
		return ErrInvalidMediaType
	}
}

// Accepts сообщает, подходит ли ассет данного типа под запрос
func (mt MediaType) Accepts(asset AssetType) bool {
	switch mt {
	case MediaAll:
		return asset.Validate() == nil
	case MediaPhotos:
		return asset == AssetPhoto
	case MediaVideos:
		return asset == AssetVideo || asset == AssetAnimatedGIF
	default:
		return false
	}
}

func (mt MediaType) String() string {
	return string(mt)
}

// AssetType тип отдельного медиа-вложения
type AssetType string

const (
	AssetPhoto       AssetType = "photo"
	AssetVideo       AssetType = "video"
	AssetAnimatedGIF AssetType = "animated_gif"
)

func (at AssetType) Validate() error {
	switch at {
	case AssetPhoto, AssetVideo, AssetAnimatedGIF:
		return nil
	default:
		return errors.New("invalid asset type")
	}
}

func (at AssetType) String() string {
	return string(at)
}
