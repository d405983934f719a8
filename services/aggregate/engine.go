// Package aggregate merges, deduplicates, enriches, sorts, and filters result
// sets from the catalog and assistant clients. Every function is pure over
// its inputs; all state lives with the caller, which keeps the engine
// independently testable.
package aggregate

import (
	"context"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/sourcegraph/conc/pool"

	"cinesuggest/models"
)

// NominalPageSize is the page size the upstream catalog aims for. A trending
// page shorter than this is treated as the last one.
const NominalPageSize = 20

// KeyFunc derives the deduplication key for an item.
type KeyFunc func(models.MediaItem) string

// CompositeKey keys an item by (kind, id). This is the sole deduplication key
// for catalog-originated sets.
func CompositeKey(m models.MediaItem) string {
	return m.CompositeKey()
}

// NumericKey keys an item by its numeric id alone. Used when merging
// multi-term search aggregates, where the kind is not guaranteed consistent
// across terms. A movie and a TV show sharing an id will collapse; this
// matches the upstream merge behavior and is a known limitation.
func NumericKey(m models.MediaItem) string {
	return strconv.FormatInt(m.ID, 10)
}

// MergeAndDeduplicate concatenates existing then incoming and collapses key
// collisions so the later-inserted occurrence wins, keeping each key at its
// first insertion position. Items without a positive id are dropped.
func MergeAndDeduplicate(existing, incoming []models.EnrichedMediaItem, key KeyFunc) []models.EnrichedMediaItem {
	out := make([]models.EnrichedMediaItem, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing)+len(incoming))
	for _, lst := range [][]models.EnrichedMediaItem{existing, incoming} {
		for _, item := range lst {
			if item.ID <= 0 {
				continue
			}
			k := key(item.MediaItem)
			if at, seen := index[k]; seen {
				out[at] = item
				continue
			}
			index[k] = len(out)
			out = append(out, item)
		}
	}
	return out
}

// Deduplicate collapses a flattened multi-term result list so the first
// occurrence of each key wins. Used on the raw flatten of parallel term
// searches, before enrichment.
func Deduplicate(items []models.MediaItem, key KeyFunc) []models.MediaItem {
	out := make([]models.MediaItem, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if item.ID <= 0 {
			continue
		}
		k := key(item)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, item)
	}
	return out
}

// ProviderLookup resolves watch-provider availability for one title.
type ProviderLookup interface {
	WatchProviders(ctx context.Context, kind models.MediaKind, id int64, region string) (*models.ProviderInfo, error)
}

// Enrich attaches watch-provider info to every item, one lookup per item in
// parallel. A failed lookup leaves that item's Providers nil rather than
// failing the batch or dropping the item. Input ordering is preserved.
//
// Fan-out is deliberately unbounded: page sizes top out around twenty items.
func Enrich(ctx context.Context, items []models.MediaItem, region string, lookup ProviderLookup) []models.EnrichedMediaItem {
	enriched := make([]models.EnrichedMediaItem, len(items))
	p := pool.New()
	for i, item := range items {
		enriched[i].MediaItem = item
		if item.ID <= 0 {
			continue
		}
		p.Go(func() {
			info, err := lookup.WatchProviders(ctx, item.Kind, item.ID, region)
			if err != nil {
				log.Printf("[aggregate] provider lookup failed for %s: %v", item.CompositeKey(), err)
				return
			}
			enriched[i].Providers = info
		})
	}
	p.Wait()
	return enriched
}

// TrendingFetcher fetches one trending page.
type TrendingFetcher interface {
	Trending(ctx context.Context, page int, language string) ([]models.MediaItem, error)
}

// Searcher fetches one result page for a single search term.
type Searcher interface {
	Search(ctx context.Context, term string, page int, language string) ([]models.MediaItem, error)
}

// PageResult is the outcome of an initial fetch or a load-more pass.
type PageResult struct {
	Items       []models.EnrichedMediaItem
	Page        int
	CanLoadMore bool
}

// SearchTerms runs every term at the given page in parallel and flattens the
// results in term order. Any single term failure fails the whole operation.
func SearchTerms(ctx context.Context, searcher Searcher, terms []string, page int, language string) ([]models.MediaItem, error) {
	pages := make([][]models.MediaItem, len(terms))
	p := pool.New().WithContext(ctx).WithCancelOnError()
	for i, term := range terms {
		p.Go(func(ctx context.Context) error {
			items, err := searcher.Search(ctx, term, page, language)
			if err != nil {
				return err
			}
			pages[i] = items
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	var flat []models.MediaItem
	for _, items := range pages {
		flat = append(flat, items...)
	}
	return flat, nil
}

// FetchTrendingPage fetches and enriches one trending page and merges it onto
// the existing set by composite key.
func FetchTrendingPage(ctx context.Context, fetcher TrendingFetcher, lookup ProviderLookup, page int, language, region string, existing []models.EnrichedMediaItem) (PageResult, error) {
	raw, err := fetcher.Trending(ctx, page, language)
	if err != nil {
		return PageResult{}, err
	}
	enriched := Enrich(ctx, raw, region, lookup)
	return PageResult{
		Items:       MergeAndDeduplicate(existing, enriched, CompositeKey),
		Page:        page,
		CanLoadMore: len(raw) >= NominalPageSize,
	}, nil
}

// FetchSearchPage re-issues every session term at the given page, collapses
// the flatten by numeric id, enriches only the new items, and merges them
// onto the existing enriched set (numeric id key, new items win ties).
// CanLoadMore stays true until an empty page is observed, since the upstream
// does not report totals reliably for multi-term aggregates.
func FetchSearchPage(ctx context.Context, searcher Searcher, lookup ProviderLookup, terms []string, page int, language, region string, existing []models.EnrichedMediaItem) (PageResult, error) {
	flat, err := SearchTerms(ctx, searcher, terms, page, language)
	if err != nil {
		return PageResult{}, err
	}
	fresh := Deduplicate(flat, NumericKey)
	enriched := Enrich(ctx, fresh, region, lookup)
	return PageResult{
		Items:       MergeAndDeduplicate(existing, enriched, NumericKey),
		Page:        page,
		CanLoadMore: len(fresh) > 0,
	}, nil
}

// SortKey selects the explicit ordering for non-search views.
type SortKey string

const (
	SortPopularity  SortKey = "popularity"
	SortRating      SortKey = "rating"
	SortReleaseDate SortKey = "release_date"
)

// FilterKey restricts a result set to one media kind.
type FilterKey string

const (
	FilterAll   FilterKey = "all"
	FilterMovie FilterKey = "movie"
	FilterTV    FilterKey = "tv"
)

func parseReleaseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// byQuality orders rating descending with popularity descending as the
// tie-break.
func byQuality(a, b models.MediaItem) bool {
	if a.VoteAverage != b.VoteAverage {
		return a.VoteAverage > b.VoteAverage
	}
	return a.Popularity > b.Popularity
}

// SortAndFilter projects a result set for display. searchMode forces the
// quality ordering regardless of sortKey; otherwise sortKey is honored.
// Relative order is preserved across equal elements, and every returned item
// carries a freshly computed favorite flag.
func SortAndFilter(items []models.EnrichedMediaItem, searchMode bool, sortKey SortKey, filter FilterKey, favorites map[string]bool) []models.DisplayItem {
	kept := make([]models.EnrichedMediaItem, 0, len(items))
	for _, item := range items {
		if filter != FilterAll && string(item.Kind) != string(filter) {
			continue
		}
		kept = append(kept, item)
	}

	if searchMode {
		sort.SliceStable(kept, func(i, j int) bool {
			return byQuality(kept[i].MediaItem, kept[j].MediaItem)
		})
	} else {
		switch sortKey {
		case SortReleaseDate:
			sort.SliceStable(kept, func(i, j int) bool {
				return parseReleaseDate(kept[i].ReleaseDate).After(parseReleaseDate(kept[j].ReleaseDate))
			})
		case SortRating:
			sort.SliceStable(kept, func(i, j int) bool {
				return kept[i].VoteAverage > kept[j].VoteAverage
			})
		default:
			sort.SliceStable(kept, func(i, j int) bool {
				return kept[i].Popularity > kept[j].Popularity
			})
		}
	}

	display := make([]models.DisplayItem, len(kept))
	for i, item := range kept {
		display[i] = models.DisplayItem{
			EnrichedMediaItem: item,
			IsFavorite:        favorites[item.CompositeKey()],
		}
	}
	return display
}

// Quality gate for the similar-titles rail. Recommendation feeds are noisy;
// these thresholds cap the payload at material titles only.
const (
	similarMinVoteCount = 500
	similarMinRating    = 6.5
	similarMaxItems     = 20
)

// CurateSimilar combines the similar and recommended feeds for one title,
// deduplicates by numeric id (later entries win), excludes the title being
// viewed, keeps items above the quality gate, and returns the top items by
// rating then popularity.
func CurateSimilar(similar, recommended []models.MediaItem, currentID int64) []models.MediaItem {
	combined := make([]models.MediaItem, 0, len(similar)+len(recommended))
	index := make(map[int64]int, len(similar)+len(recommended))
	for _, lst := range [][]models.MediaItem{similar, recommended} {
		for _, item := range lst {
			if item.ID <= 0 || item.ID == currentID {
				continue
			}
			if at, seen := index[item.ID]; seen {
				combined[at] = item
				continue
			}
			index[item.ID] = len(combined)
			combined = append(combined, item)
		}
	}

	curated := combined[:0]
	for _, item := range combined {
		if item.VoteCount > similarMinVoteCount && item.VoteAverage > similarMinRating {
			curated = append(curated, item)
		}
	}
	sort.SliceStable(curated, func(i, j int) bool {
		return byQuality(curated[i], curated[j])
	})
	if len(curated) > similarMaxItems {
		curated = curated[:similarMaxItems]
	}
	return curated
}
