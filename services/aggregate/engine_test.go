package aggregate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cinesuggest/models"
)

func movie(id int64, title string) models.MediaItem {
	return models.MediaItem{Kind: models.KindMovie, ID: id, Title: title, PosterPath: "/p.png"}
}

func tv(id int64, title string) models.MediaItem {
	return models.MediaItem{Kind: models.KindTV, ID: id, Title: title, PosterPath: "/p.png"}
}

func enriched(items ...models.MediaItem) []models.EnrichedMediaItem {
	out := make([]models.EnrichedMediaItem, len(items))
	for i, it := range items {
		out[i] = models.EnrichedMediaItem{MediaItem: it}
	}
	return out
}

func titles(items []models.EnrichedMediaItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Title
	}
	return out
}

func TestMergeAndDeduplicateLastWriteWins(t *testing.T) {
	existing := enriched(movie(1, "old"))
	incoming := enriched(movie(1, "new"))

	merged := MergeAndDeduplicate(existing, incoming, CompositeKey)

	require.Len(t, merged, 1)
	assert.Equal(t, "new", merged[0].Title)
}

func TestMergeAndDeduplicateKeepsInsertionOrder(t *testing.T) {
	existing := enriched(movie(1, "a"), movie(2, "b"))
	incoming := enriched(movie(3, "c"), movie(2, "b2"))

	merged := MergeAndDeduplicate(existing, incoming, CompositeKey)

	assert.Equal(t, []string{"a", "b2", "c"}, titles(merged))
}

func TestMergeAndDeduplicateIsIdempotent(t *testing.T) {
	items := enriched(movie(1, "a"), movie(2, "b"), movie(1, "a2"))

	once := MergeAndDeduplicate(items, nil, CompositeKey)
	twice := MergeAndDeduplicate(once, items, CompositeKey)

	assert.Equal(t, titles(once), titles(twice))
}

func TestCompositeKeySeparatesKinds(t *testing.T) {
	merged := MergeAndDeduplicate(nil, enriched(movie(7, "film"), tv(7, "show")), CompositeKey)
	assert.Len(t, merged, 2)
}

func TestNumericKeyCollapsesAcrossKinds(t *testing.T) {
	// Known limitation of multi-term aggregation: a movie and a TV show
	// sharing a numeric id collapse to one entry.
	merged := MergeAndDeduplicate(nil, enriched(movie(7, "film"), tv(7, "show")), NumericKey)
	require.Len(t, merged, 1)
	assert.Equal(t, "show", merged[0].Title)
}

func TestDeduplicateFirstOccurrenceWins(t *testing.T) {
	out := Deduplicate([]models.MediaItem{movie(1, "first"), movie(2, "b"), movie(1, "second")}, NumericKey)
	require.Len(t, out, 2)
	assert.Equal(t, "first", out[0].Title)
}

type stubLookup struct {
	calls int64
	fn    func(kind models.MediaKind, id int64) (*models.ProviderInfo, error)
}

func (s *stubLookup) WatchProviders(_ context.Context, kind models.MediaKind, id int64, _ string) (*models.ProviderInfo, error) {
	atomic.AddInt64(&s.calls, 1)
	if s.fn == nil {
		return nil, nil
	}
	return s.fn(kind, id)
}

func TestEnrichNeverDropsItems(t *testing.T) {
	items := []models.MediaItem{movie(1, "a"), movie(2, "b"), movie(3, "c")}
	lookup := &stubLookup{fn: func(models.MediaKind, int64) (*models.ProviderInfo, error) {
		return nil, errors.New("boom")
	}}

	out := Enrich(context.Background(), items, "US", lookup)

	require.Len(t, out, len(items))
	for i, it := range out {
		assert.Equal(t, items[i].ID, it.ID)
		assert.Nil(t, it.Providers)
	}
}

func TestEnrichPreservesOrderAndAttachesProviders(t *testing.T) {
	items := []models.MediaItem{movie(1, "a"), movie(2, "b")}
	lookup := &stubLookup{fn: func(_ models.MediaKind, id int64) (*models.ProviderInfo, error) {
		if id == 2 {
			return &models.ProviderInfo{Link: "https://example/2"}, nil
		}
		return nil, nil
	}}

	out := Enrich(context.Background(), items, "US", lookup)

	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Title)
	assert.Nil(t, out[0].Providers)
	require.NotNil(t, out[1].Providers)
	assert.Equal(t, "https://example/2", out[1].Providers.Link)
	assert.EqualValues(t, 2, lookup.calls)
}

func TestSortAndFilterQualityOrderInSearchMode(t *testing.T) {
	items := enriched(
		models.MediaItem{Kind: models.KindMovie, ID: 1, VoteAverage: 7, Popularity: 10},
		models.MediaItem{Kind: models.KindMovie, ID: 2, VoteAverage: 9, Popularity: 1},
		models.MediaItem{Kind: models.KindMovie, ID: 3, VoteAverage: 9, Popularity: 5},
	)

	// Search mode ignores the explicit sort key entirely.
	out := SortAndFilter(items, true, SortPopularity, FilterAll, nil)

	require.Len(t, out, 3)
	assert.EqualValues(t, 3, out[0].ID)
	assert.EqualValues(t, 2, out[1].ID)
	assert.EqualValues(t, 1, out[2].ID)
}

func TestSortAndFilterByKindPreservesRelativeOrder(t *testing.T) {
	items := enriched(
		models.MediaItem{Kind: models.KindMovie, ID: 1, Popularity: 5},
		models.MediaItem{Kind: models.KindTV, ID: 2, Popularity: 9},
		models.MediaItem{Kind: models.KindMovie, ID: 3, Popularity: 5},
	)

	out := SortAndFilter(items, false, SortPopularity, FilterMovie, nil)

	require.Len(t, out, 2)
	assert.EqualValues(t, 1, out[0].ID)
	assert.EqualValues(t, 3, out[1].ID)
}

func TestSortAndFilterByReleaseDate(t *testing.T) {
	items := enriched(
		models.MediaItem{Kind: models.KindMovie, ID: 1, ReleaseDate: "1999-03-31"},
		models.MediaItem{Kind: models.KindMovie, ID: 2}, // missing date sorts last
		models.MediaItem{Kind: models.KindMovie, ID: 3, ReleaseDate: "2023-07-21"},
	)

	out := SortAndFilter(items, false, SortReleaseDate, FilterAll, nil)

	require.Len(t, out, 3)
	assert.EqualValues(t, 3, out[0].ID)
	assert.EqualValues(t, 1, out[1].ID)
	assert.EqualValues(t, 2, out[2].ID)
}

func TestSortAndFilterComputesFavoriteFlags(t *testing.T) {
	items := enriched(movie(1, "a"), tv(2, "b"))
	favorites := map[string]bool{"tv:2": true}

	out := SortAndFilter(items, false, SortPopularity, FilterAll, favorites)

	require.Len(t, out, 2)
	for _, it := range out {
		assert.Equal(t, it.Kind == models.KindTV, it.IsFavorite, "item %d", it.ID)
	}
}

func TestCurateSimilarQualityGate(t *testing.T) {
	sim := []models.MediaItem{
		{Kind: models.KindMovie, ID: 1, VoteCount: 400, VoteAverage: 9.0, PosterPath: "/p"},
		{Kind: models.KindMovie, ID: 2, VoteCount: 600, VoteAverage: 6.4, PosterPath: "/p"},
		{Kind: models.KindMovie, ID: 3, VoteCount: 600, VoteAverage: 6.6, PosterPath: "/p"},
	}

	out := CurateSimilar(sim, nil, 99)

	require.Len(t, out, 1)
	assert.EqualValues(t, 3, out[0].ID)
}

func TestCurateSimilarExcludesCurrentAndCaps(t *testing.T) {
	var sim []models.MediaItem
	for i := int64(1); i <= 30; i++ {
		sim = append(sim, models.MediaItem{
			Kind: models.KindMovie, ID: i, VoteCount: 1000,
			VoteAverage: 7 + float64(i)*0.01, Popularity: float64(i),
		})
	}

	out := CurateSimilar(sim, nil, 30)

	assert.Len(t, out, 20)
	for _, it := range out {
		assert.NotEqualValues(t, 30, it.ID)
	}
	// Top rated first.
	assert.EqualValues(t, 29, out[0].ID)
}

func TestCurateSimilarRecommendedOverridesDuplicate(t *testing.T) {
	sim := []models.MediaItem{{Kind: models.KindMovie, ID: 5, Title: "from similar", VoteCount: 600, VoteAverage: 7}}
	rec := []models.MediaItem{{Kind: models.KindMovie, ID: 5, Title: "from recommended", VoteCount: 600, VoteAverage: 7}}

	out := CurateSimilar(sim, rec, 1)

	require.Len(t, out, 1)
	assert.Equal(t, "from recommended", out[0].Title)
}

type stubSearcher struct {
	mu    sync.Mutex
	calls []struct {
		term string
		page int
	}
	results map[string][]models.MediaItem
	err     error
}

func (s *stubSearcher) Search(_ context.Context, term string, page int, _ string) ([]models.MediaItem, error) {
	s.mu.Lock()
	s.calls = append(s.calls, struct {
		term string
		page int
	}{term, page})
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.results[term], nil
}

func TestFetchSearchPageIssuesOneFetchPerTerm(t *testing.T) {
	searcher := &stubSearcher{results: map[string][]models.MediaItem{
		"Alpha": {movie(1, "alpha hit")},
		"Beta":  {movie(2, "beta hit"), movie(1, "alpha dupe")},
	}}
	lookup := &stubLookup{}
	existing := enriched(movie(9, "kept"))
	existing[0].Providers = &models.ProviderInfo{Link: "cached"}

	res, err := FetchSearchPage(context.Background(), searcher, lookup, []string{"Alpha", "Beta"}, 2, "en-US", "US", existing)

	require.NoError(t, err)
	require.Len(t, searcher.calls, 2)
	for _, call := range searcher.calls {
		assert.Equal(t, 2, call.page)
	}
	assert.True(t, res.CanLoadMore)
	assert.Equal(t, 2, res.Page)
	// Existing enriched item untouched, new items appended deduplicated.
	require.Len(t, res.Items, 3)
	assert.Equal(t, "kept", res.Items[0].Title)
	assert.Equal(t, "cached", res.Items[0].Providers.Link)
	// Only the two new items were enriched.
	assert.EqualValues(t, 2, lookup.calls)
}

func TestFetchSearchPageNewItemsWinTies(t *testing.T) {
	searcher := &stubSearcher{results: map[string][]models.MediaItem{
		"Alpha": {movie(9, "fresher")},
	}}
	existing := enriched(movie(9, "stale"))

	res, err := FetchSearchPage(context.Background(), searcher, &stubLookup{}, []string{"Alpha"}, 2, "en-US", "US", existing)

	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "fresher", res.Items[0].Title)
}

func TestFetchSearchPageEmptyPageEndsPagination(t *testing.T) {
	searcher := &stubSearcher{}
	existing := enriched(movie(1, "a"))

	res, err := FetchSearchPage(context.Background(), searcher, &stubLookup{}, []string{"Alpha"}, 3, "en-US", "US", existing)

	require.NoError(t, err)
	assert.False(t, res.CanLoadMore)
	assert.Equal(t, titles(existing), titles(res.Items))
}

func TestFetchSearchPagePropagatesTermFailure(t *testing.T) {
	searcher := &stubSearcher{err: errors.New("upstream down")}

	_, err := FetchSearchPage(context.Background(), searcher, &stubLookup{}, []string{"Alpha"}, 1, "en-US", "US", nil)

	require.Error(t, err)
}

type stubTrending struct {
	pages map[int][]models.MediaItem
	err   error
}

func (s *stubTrending) Trending(_ context.Context, page int, _ string) ([]models.MediaItem, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.pages[page], nil
}

func TestFetchTrendingPageCanLoadMoreFollowsPageSize(t *testing.T) {
	full := make([]models.MediaItem, NominalPageSize)
	for i := range full {
		full[i] = movie(int64(i+1), "t")
	}
	fetcher := &stubTrending{pages: map[int][]models.MediaItem{
		1: full,
		2: {movie(100, "last one")},
	}}

	first, err := FetchTrendingPage(context.Background(), fetcher, &stubLookup{}, 1, "en-US", "US", nil)
	require.NoError(t, err)
	assert.True(t, first.CanLoadMore)

	second, err := FetchTrendingPage(context.Background(), fetcher, &stubLookup{}, 2, "en-US", "US", first.Items)
	require.NoError(t, err)
	assert.False(t, second.CanLoadMore)
	assert.Len(t, second.Items, NominalPageSize+1)
}
