package models

import (
	"fmt"
	"strconv"
	"strings"
)

// MediaKind identifies the catalog namespace an item lives in.
type MediaKind string

const (
	KindMovie MediaKind = "movie"
	KindTV    MediaKind = "tv"
)

// IsValid reports whether the kind is one the catalog understands.
func (k MediaKind) IsValid() bool {
	return k == KindMovie || k == KindTV
}

// Genre is a catalog genre as returned on detail responses.
type Genre struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// MediaItem is a single catalog title. The (Kind, ID) pair is the composite
// key; it is unique within one catalog namespace but the numeric ID alone is
// not guaranteed unique across movies and TV shows.
type MediaItem struct {
	Kind        MediaKind `json:"kind"`
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	PosterPath  string    `json:"posterPath"`
	Overview    string    `json:"overview,omitempty"`
	Popularity  float64   `json:"popularity"`
	VoteAverage float64   `json:"voteAverage"`
	VoteCount   int       `json:"voteCount"`
	ReleaseDate string    `json:"releaseDate,omitempty"` // YYYY-MM-DD, may be empty
	GenreIDs    []int64   `json:"genreIds,omitempty"`
	Genres      []Genre   `json:"genres,omitempty"` // populated on detail lookups only
}

// CompositeKey returns the "kind:id" key used for favorites and
// catalog-originated deduplication.
func (m MediaItem) CompositeKey() string {
	return fmt.Sprintf("%s:%d", m.Kind, m.ID)
}

// ParseCompositeKey splits a "kind:id" favorite key back into its parts.
func ParseCompositeKey(key string) (MediaKind, int64, error) {
	kindStr, idStr, ok := strings.Cut(key, ":")
	if !ok {
		return "", 0, fmt.Errorf("malformed media key %q", key)
	}
	kind := MediaKind(kindStr)
	if !kind.IsValid() {
		return "", 0, fmt.Errorf("unknown media kind in key %q", key)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("invalid media id in key %q", key)
	}
	return kind, id, nil
}

// Provider is a single streaming/rental offering.
type Provider struct {
	ID       int64  `json:"providerId"`
	Name     string `json:"providerName"`
	LogoPath string `json:"logoPath,omitempty"`
}

// ProviderInfo is the regional watch-provider entry for one title.
// A nil ProviderInfo means availability is unknown, not that the lookup failed.
type ProviderInfo struct {
	Link     string     `json:"link,omitempty"`
	Flatrate []Provider `json:"flatrate,omitempty"`
	Rent     []Provider `json:"rent,omitempty"`
	Buy      []Provider `json:"buy,omitempty"`
}

// EnrichedMediaItem is a MediaItem carrying its watch-provider enrichment.
type EnrichedMediaItem struct {
	MediaItem
	Providers *ProviderInfo `json:"providers,omitempty"`
}

// DisplayItem is the projection handed to the frontend. IsFavorite is
// recomputed on every projection rather than cached on the item, because
// favorites change without the result set being refetched.
type DisplayItem struct {
	EnrichedMediaItem
	IsFavorite bool `json:"isFavorite"`
}

// DetailedItem is the payload for the detail overlay: the full item plus a
// curated list of similar titles.
type DetailedItem struct {
	EnrichedMediaItem
	Similar []MediaItem `json:"similar"`
}
