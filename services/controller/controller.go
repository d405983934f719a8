// Package controller sequences catalog and assistant operations under view
// transitions and guards displayed state against stale asynchronous results.
package controller

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"cinesuggest/models"
	"cinesuggest/services/aggregate"
	"cinesuggest/services/assistant"
	"cinesuggest/services/prefs"
)

// View is the active main view. The detail overlay and chat are orthogonal
// to it.
type View string

const (
	ViewTrending  View = "trending"
	ViewResults   View = "results"
	ViewFavorites View = "favorites"
)

// Catalog is the media lookup capability consumed by the controller.
type Catalog interface {
	Trending(ctx context.Context, page int, language string) ([]models.MediaItem, error)
	Search(ctx context.Context, term string, page int, language string) ([]models.MediaItem, error)
	Details(ctx context.Context, kind models.MediaKind, id int64, language string) (*models.MediaItem, error)
	Similar(ctx context.Context, kind models.MediaKind, id int64, language string) ([]models.MediaItem, error)
	Recommended(ctx context.Context, kind models.MediaKind, id int64, language string) ([]models.MediaItem, error)
	WatchProviders(ctx context.Context, kind models.MediaKind, id int64, region string) (*models.ProviderInfo, error)
}

// Assistant is the language-model capability consumed by the controller.
type Assistant interface {
	ExpandTextQuery(ctx context.Context, query string) assistant.TermExpansion
	IdentifyFromImage(ctx context.Context, image []byte, mimeType, hint string) (assistant.ImageIdentification, error)
	StreamChatReply(ctx context.Context, transcript []models.ChatMessage, onChunk func(string) error) error
}

// searchSession records the expansion terms behind the current result set so
// later pages can be fetched consistently.
type searchSession struct {
	id    string
	terms []string
}

const chatGreeting = "Hi! I'm CineSuggest AI. Ask me for movie recommendations, trivia, or anything film-related!"

// Controller owns the active result set, the detail overlay, and the chat
// transcript. All mutation goes through it; the aggregation engine stays
// purely functional underneath.
type Controller struct {
	catalog Catalog
	bot     Assistant
	store   *prefs.Store

	mu          sync.Mutex
	view        View
	items       []models.EnrichedMediaItem
	page        int
	canLoadMore bool
	sortKey     aggregate.SortKey
	filterKey   aggregate.FilterKey
	hasSearched bool
	loading     bool
	paginating  bool
	errMsg      string

	session        *searchSession
	generation     uint64
	searchInFlight bool

	detailKey     string
	detail        *models.DetailedItem
	detailLoading bool

	chat     []models.ChatMessage
	chatBusy bool
}

func New(catalog Catalog, bot Assistant, store *prefs.Store) *Controller {
	return &Controller{
		catalog:     catalog,
		bot:         bot,
		store:       store,
		view:        ViewTrending,
		page:        1,
		canLoadMore: true,
		sortKey:     aggregate.SortPopularity,
		filterKey:   aggregate.FilterAll,
		chat: []models.ChatMessage{
			{Role: models.RoleAssistant, Content: chatGreeting},
		},
	}
}

// beginListFetch starts a new generation for a list-replacing fetch. Results
// from earlier generations are discarded on commit.
func (c *Controller) beginListFetch() uint64 {
	c.generation++
	c.loading = true
	c.errMsg = ""
	return c.generation
}

// commit applies fn if the given generation is still current. A stale fetch
// neither commits nor touches the loading flags; those belong to the fetch
// that superseded it.
func (c *Controller) commit(gen uint64, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		log.Printf("[controller] discarding stale result (generation %d, current %d)", gen, c.generation)
		return false
	}
	c.loading = false
	c.paginating = false
	fn()
	return true
}

// fail surfaces a terminal error for the given generation and resets loading
// state so the UI never sits in a perpetual spinner.
func (c *Controller) fail(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.loading = false
	c.paginating = false
	c.errMsg = fmt.Sprintf("An error occurred: %v", err)
	log.Printf("[controller] operation failed: %v", err)
}

// ShowTrending switches to the trending view: sort and filter reset to
// defaults, pagination resets, and a fresh first page is fetched.
func (c *Controller) ShowTrending(ctx context.Context) error {
	c.mu.Lock()
	c.closeDetailLocked()
	c.view = ViewTrending
	c.sortKey = aggregate.SortPopularity
	c.filterKey = aggregate.FilterAll
	c.items = nil
	c.page = 1
	c.canLoadMore = true
	c.session = nil
	c.hasSearched = false
	gen := c.beginListFetch()
	c.mu.Unlock()

	return c.fetchTrending(ctx, gen)
}

// refreshTrending refetches the trending view in place, keeping the user's
// sort and filter choices. Used by locale changes.
func (c *Controller) refreshTrending(ctx context.Context) error {
	c.mu.Lock()
	c.items = nil
	c.page = 1
	c.canLoadMore = true
	gen := c.beginListFetch()
	c.mu.Unlock()

	return c.fetchTrending(ctx, gen)
}

func (c *Controller) fetchTrending(ctx context.Context, gen uint64) error {
	language, region := c.store.Locale()
	res, err := aggregate.FetchTrendingPage(ctx, c.catalog, c.catalog, 1, language, region, nil)
	if err != nil {
		c.fail(gen, err)
		return err
	}
	c.commit(gen, func() {
		c.items = res.Items
		c.page = res.Page
		c.canLoadMore = res.CanLoadMore
	})
	return nil
}

// Search expands a free-text query into search terms and aggregates results
// across them. Expansion failures degrade to a direct single-term search
// inside the assistant client, so this only fails on catalog errors.
func (c *Controller) Search(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	if err := c.store.AddHistory(query); err != nil {
		log.Printf("[controller] failed to record history: %v", err)
	}

	gen := c.beginSearch()
	defer c.clearSearchInFlight()

	expansion := c.bot.ExpandTextQuery(ctx, query)
	log.Printf("[controller] expanded %q into %d terms", query, len(expansion.Terms))
	return c.finishSearch(ctx, gen, expansion.Terms)
}

// SearchByImage identifies a title from an image. A confident identification
// short-circuits to a single-term search with the title verbatim; otherwise
// the descriptive terms are aggregated like a text search. There is no safe
// fallback when the assistant cannot identify the image, so that error is
// terminal.
func (c *Controller) SearchByImage(ctx context.Context, image []byte, mimeType, hint string) error {
	if hint = strings.TrimSpace(hint); hint != "" {
		if err := c.store.AddHistory(hint); err != nil {
			log.Printf("[controller] failed to record history: %v", err)
		}
	}

	gen := c.beginSearch()
	defer c.clearSearchInFlight()

	ident, err := c.bot.IdentifyFromImage(ctx, image, mimeType, hint)
	if err != nil {
		c.fail(gen, err)
		return err
	}

	terms := ident.Terms
	if ident.Title != "" {
		terms = []string{ident.Title}
	}
	return c.finishSearch(ctx, gen, terms)
}

// beginSearch transitions to an empty results view before any network work,
// so a search that fails at the assistant stage still lands on the results
// view with the error rather than the previous list.
func (c *Controller) beginSearch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeDetailLocked()
	c.searchInFlight = true
	c.view = ViewResults
	c.sortKey = aggregate.SortRating
	c.filterKey = aggregate.FilterAll
	c.items = nil
	c.page = 1
	c.canLoadMore = true
	c.hasSearched = true
	c.session = nil
	return c.beginListFetch()
}

func (c *Controller) clearSearchInFlight() {
	c.mu.Lock()
	c.searchInFlight = false
	c.mu.Unlock()
}

func (c *Controller) finishSearch(ctx context.Context, gen uint64, terms []string) error {
	session := &searchSession{id: uuid.NewString(), terms: terms}
	c.mu.Lock()
	if gen == c.generation {
		c.session = session
	}
	c.mu.Unlock()

	language, region := c.store.Locale()
	log.Printf("[controller] search session %s: %d terms at page 1", session.id, len(terms))
	res, err := aggregate.FetchSearchPage(ctx, c.catalog, c.catalog, terms, 1, language, region, nil)
	if err != nil {
		c.fail(gen, err)
		return err
	}
	c.commit(gen, func() {
		c.items = res.Items
		c.page = res.Page
		c.canLoadMore = true
	})
	return nil
}

// LoadMore fetches the next page for the current view and merges it onto the
// accumulated set. Previously enriched items are preserved. A no-op while a
// page fetch is already running or when the end has been reached.
func (c *Controller) LoadMore(ctx context.Context) error {
	c.mu.Lock()
	if c.loading || c.paginating || !c.canLoadMore {
		c.mu.Unlock()
		return nil
	}
	view := c.view
	if view == ViewFavorites {
		c.mu.Unlock()
		return nil
	}
	var terms []string
	if view == ViewResults {
		if c.session == nil || len(c.session.terms) == 0 {
			c.mu.Unlock()
			return nil
		}
		terms = c.session.terms
	}
	gen := c.generation
	nextPage := c.page + 1
	existing := c.items
	c.paginating = true
	c.mu.Unlock()

	language, region := c.store.Locale()
	var (
		res aggregate.PageResult
		err error
	)
	if view == ViewTrending {
		res, err = aggregate.FetchTrendingPage(ctx, c.catalog, c.catalog, nextPage, language, region, existing)
	} else {
		res, err = aggregate.FetchSearchPage(ctx, c.catalog, c.catalog, terms, nextPage, language, region, existing)
	}
	if err != nil {
		c.fail(gen, err)
		return err
	}
	c.commit(gen, func() {
		c.items = res.Items
		c.page = res.Page
		c.canLoadMore = res.CanLoadMore
	})
	return nil
}

// ShowFavorites switches to the favorites view and fetches details for every
// favorited key in parallel. A favorite whose lookup fails is omitted from
// the displayed set rather than erroring the whole view.
func (c *Controller) ShowFavorites(ctx context.Context) error {
	c.mu.Lock()
	c.closeDetailLocked()
	c.view = ViewFavorites
	c.items = nil
	c.page = 1
	c.canLoadMore = false
	c.session = nil
	c.hasSearched = false
	gen := c.beginListFetch()
	c.mu.Unlock()

	language, region := c.store.Locale()
	keys := c.store.FavoriteKeys()

	fetched := make([]*models.MediaItem, len(keys))
	p := pool.New()
	for i, key := range keys {
		p.Go(func() {
			kind, id, err := models.ParseCompositeKey(key)
			if err != nil {
				log.Printf("[controller] skipping malformed favorite %q: %v", key, err)
				return
			}
			item, err := c.catalog.Details(ctx, kind, id, language)
			if err != nil {
				log.Printf("[controller] favorite %s lookup failed, omitting: %v", key, err)
				return
			}
			fetched[i] = item
		})
	}
	p.Wait()

	items := make([]models.MediaItem, 0, len(fetched))
	for _, item := range fetched {
		if item != nil {
			items = append(items, *item)
		}
	}
	enriched := aggregate.Enrich(ctx, items, region, c.catalog)

	c.commit(gen, func() {
		c.items = aggregate.MergeAndDeduplicate(nil, enriched, aggregate.CompositeKey)
	})
	return nil
}

// ToggleFavorite flips membership for a composite key. The displayed set is
// untouched; favorite flags are recomputed on the next projection.
func (c *Controller) ToggleFavorite(key string) (bool, error) {
	if _, _, err := models.ParseCompositeKey(key); err != nil {
		return false, err
	}
	return c.store.ToggleFavorite(key)
}

// SetSort changes the explicit sort key. Ignored visually in the results
// view, which always orders by quality.
func (c *Controller) SetSort(key aggregate.SortKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sortKey = key
}

// SetFilter changes the media-kind filter.
func (c *Controller) SetFilter(key aggregate.FilterKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filterKey = key
}

// SetLocale persists a new language/region pair and refetches the current
// view. Favorites and results views are refetched by their own triggers, and
// a search already in flight will land with the new locale's generation
// guard, so neither is refetched here.
func (c *Controller) SetLocale(ctx context.Context, code string) error {
	locale, ok := prefs.LocaleByCode(code)
	if !ok {
		return fmt.Errorf("unsupported locale %q", code)
	}
	if err := c.store.SetLocale(locale.Code, locale.Region); err != nil {
		return err
	}

	c.mu.Lock()
	refetch := c.view == ViewTrending && !c.searchInFlight
	c.mu.Unlock()

	if !refetch {
		return nil
	}
	return c.refreshTrending(ctx)
}

// Snapshot is a copy of the displayable state for the frontend.
type Snapshot struct {
	View        View
	Items       []models.DisplayItem
	Page        int
	CanLoadMore bool
	SortKey     aggregate.SortKey
	FilterKey   aggregate.FilterKey
	HasSearched bool
	Loading     bool
	Paginating  bool
	Error       string
	Language    string
	Region      string
	History     []string

	DetailOpen    bool
	DetailLoading bool
	Detail        *models.DetailedItem

	Chat     []models.ChatMessage
	ChatBusy bool
}

// Snapshot projects the current state. Sorting, filtering, and favorite
// flags are computed fresh on every call.
func (c *Controller) Snapshot() Snapshot {
	favorites := c.store.Favorites()
	language, region := c.store.Locale()
	history := c.store.History()

	c.mu.Lock()
	defer c.mu.Unlock()

	chat := make([]models.ChatMessage, len(c.chat))
	copy(chat, c.chat)

	return Snapshot{
		View:          c.view,
		Items:         aggregate.SortAndFilter(c.items, c.view == ViewResults, c.sortKey, c.filterKey, favorites),
		Page:          c.page,
		CanLoadMore:   c.canLoadMore,
		SortKey:       c.sortKey,
		FilterKey:     c.filterKey,
		HasSearched:   c.hasSearched,
		Loading:       c.loading,
		Paginating:    c.paginating,
		Error:         c.errMsg,
		Language:      language,
		Region:        region,
		History:       history,
		DetailOpen:    c.detailKey != "",
		DetailLoading: c.detailLoading,
		Detail:        c.detail,
		Chat:          chat,
		ChatBusy:      c.chatBusy,
	}
}
