package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"cinesuggest/models"
)

const tmdbBaseURL = "https://api.themoviedb.org/3"

// PageSize is the nominal number of results TMDB returns per page.
const PageSize = 20

// ErrMalformedResponse marks a response body that did not decode into the
// expected shape. The rest of the application never sees unvalidated shapes.
var ErrMalformedResponse = errors.New("catalog: malformed response")

// Client is a minimal TMDB v3 client covering trending, multi search, details,
// similar/recommended titles, and regional watch providers.
type Client struct {
	apiKey string
	httpc  *http.Client
	cache  *fileCache
}

// NewClient creates a catalog client. cacheDir may be empty to disable the
// response cache (tests do this to observe every request).
func NewClient(apiKey string, httpc *http.Client, cacheDir string, cacheTTLHours int) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	var cache *fileCache
	if cacheDir != "" {
		cache = newFileCache(cacheDir, cacheTTLHours)
	}
	return &Client{
		apiKey: strings.TrimSpace(apiKey),
		httpc:  httpc,
		cache:  cache,
	}
}

// IsConfigured reports whether an API key is present.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// ClearCache drops all cached responses. Called when the API key changes.
func (c *Client) ClearCache() error {
	if c.cache == nil {
		return nil
	}
	return c.cache.clear()
}

// normalizeLanguage maps loose language inputs to the BCP-47 form TMDB
// expects. Bare language codes get a default region.
func normalizeLanguage(lang string) string {
	lang = strings.TrimSpace(strings.ReplaceAll(lang, "_", "-"))
	if lang == "" {
		return "en-US"
	}
	code, region, ok := strings.Cut(lang, "-")
	code = strings.ToLower(code)
	if !ok || region == "" {
		return code + "-US"
	}
	return code + "-" + strings.ToUpper(region)
}

// tmdbResult is the raw list/detail entry shape shared by the endpoints we use.
type tmdbResult struct {
	ID           int64          `json:"id"`
	MediaType    string         `json:"media_type"`
	Title        string         `json:"title"`
	Name         string         `json:"name"`
	PosterPath   string         `json:"poster_path"`
	Overview     string         `json:"overview"`
	Popularity   float64        `json:"popularity"`
	VoteAverage  float64        `json:"vote_average"`
	VoteCount    int            `json:"vote_count"`
	ReleaseDate  string         `json:"release_date"`
	FirstAirDate string         `json:"first_air_date"`
	GenreIDs     []int64        `json:"genre_ids"`
	Genres       []models.Genre `json:"genres"`
}

type tmdbListResponse struct {
	Page       int          `json:"page"`
	Results    []tmdbResult `json:"results"`
	TotalPages int          `json:"total_pages"`
}

type tmdbProvider struct {
	ProviderID   int64  `json:"provider_id"`
	ProviderName string `json:"provider_name"`
	LogoPath     string `json:"logo_path"`
}

type tmdbProviderEntry struct {
	Link     string         `json:"link"`
	Flatrate []tmdbProvider `json:"flatrate"`
	Rent     []tmdbProvider `json:"rent"`
	Buy      []tmdbProvider `json:"buy"`
}

type tmdbProviderResponse struct {
	ID      int64                        `json:"id"`
	Results map[string]tmdbProviderEntry `json:"results"`
}

func (r tmdbResult) toMediaItem(kind models.MediaKind) models.MediaItem {
	title := r.Title
	if title == "" {
		title = r.Name
	}
	release := r.ReleaseDate
	if release == "" {
		release = r.FirstAirDate
	}
	return models.MediaItem{
		Kind:        kind,
		ID:          r.ID,
		Title:       title,
		PosterPath:  r.PosterPath,
		Overview:    r.Overview,
		Popularity:  r.Popularity,
		VoteAverage: r.VoteAverage,
		VoteCount:   r.VoteCount,
		ReleaseDate: release,
		GenreIDs:    r.GenreIDs,
		Genres:      r.Genres,
	}
}

// get issues one GET against the TMDB API with retry on transient failures
// and decodes the body into v.
func (c *Client) get(ctx context.Context, endpoint, language string, query url.Values, v any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.apiKey)
	if language != "" {
		query.Set("language", normalizeLanguage(language))
	}
	fullURL := fmt.Sprintf("%s/%s?%s", tmdbBaseURL, endpoint, query.Encode())

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := c.httpc.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				io.Copy(io.Discard, resp.Body)
				return fmt.Errorf("catalog request %s: status %d", endpoint, resp.StatusCode)
			}
			if resp.StatusCode >= 400 {
				body, _ := io.ReadAll(resp.Body)
				return retry.Unrecoverable(fmt.Errorf("catalog request %s: status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body))))
			}
			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				return retry.Unrecoverable(fmt.Errorf("%w: %s: %v", ErrMalformedResponse, endpoint, err))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("[catalog] retrying %s (attempt %d): %v", endpoint, n+1, err)
		}),
	)
}

// keepDisplayable filters a raw result list down to movie/tv entries that
// carry a poster, stamping each with its kind.
func keepDisplayable(results []tmdbResult) []models.MediaItem {
	items := make([]models.MediaItem, 0, len(results))
	for _, r := range results {
		kind := models.MediaKind(r.MediaType)
		if !kind.IsValid() || r.PosterPath == "" {
			continue
		}
		items = append(items, r.toMediaItem(kind))
	}
	return items
}

// Trending returns one page of this week's trending movies and TV shows.
func (c *Client) Trending(ctx context.Context, page int, language string) ([]models.MediaItem, error) {
	if page <= 0 {
		page = 1
	}
	key := cacheKey("trending", fmt.Sprint(page), normalizeLanguage(language))
	var cached []models.MediaItem
	if c.cache != nil {
		if ok, _ := c.cache.get(key, &cached); ok {
			return cached, nil
		}
	}

	var resp tmdbListResponse
	q := url.Values{}
	q.Set("page", fmt.Sprint(page))
	if err := c.get(ctx, "trending/all/week", language, q, &resp); err != nil {
		return nil, fmt.Errorf("fetch trending page %d: %w", page, err)
	}
	items := keepDisplayable(resp.Results)
	if c.cache != nil {
		if err := c.cache.set(key, items); err != nil {
			log.Printf("[catalog] failed to cache trending page %d: %v", page, err)
		}
	}
	return items, nil
}

// Search runs a multi search for a single term at the given page.
func (c *Client) Search(ctx context.Context, term string, page int, language string) ([]models.MediaItem, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}
	if page <= 0 {
		page = 1
	}
	var resp tmdbListResponse
	q := url.Values{}
	q.Set("query", term)
	q.Set("page", fmt.Sprint(page))
	q.Set("include_adult", "false")
	if err := c.get(ctx, "search/multi", language, q, &resp); err != nil {
		return nil, fmt.Errorf("search %q page %d: %w", term, page, err)
	}
	return keepDisplayable(resp.Results), nil
}

// Details fetches one title. Returns (nil, nil) for missing identifiers so
// callers can treat an unknown key as a silent omission.
func (c *Client) Details(ctx context.Context, kind models.MediaKind, id int64, language string) (*models.MediaItem, error) {
	if !kind.IsValid() || id <= 0 {
		return nil, nil
	}
	key := cacheKey("details", string(kind), fmt.Sprint(id), normalizeLanguage(language))
	var cached models.MediaItem
	if c.cache != nil {
		if ok, _ := c.cache.get(key, &cached); ok {
			return &cached, nil
		}
	}

	var raw tmdbResult
	if err := c.get(ctx, fmt.Sprintf("%s/%d", kind, id), language, nil, &raw); err != nil {
		return nil, fmt.Errorf("fetch %s/%d details: %w", kind, id, err)
	}
	item := raw.toMediaItem(kind)
	if c.cache != nil {
		if err := c.cache.set(key, item); err != nil {
			log.Printf("[catalog] failed to cache %s/%d details: %v", kind, id, err)
		}
	}
	return &item, nil
}

// related fetches a relation list (similar or recommendations) and stamps the
// parent's kind on every entry, since these endpoints omit media_type.
func (c *Client) related(ctx context.Context, kind models.MediaKind, id int64, language, relation string) ([]models.MediaItem, error) {
	if !kind.IsValid() || id <= 0 {
		return nil, nil
	}
	var resp tmdbListResponse
	if err := c.get(ctx, fmt.Sprintf("%s/%d/%s", kind, id, relation), language, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch %s/%d %s: %w", kind, id, relation, err)
	}
	items := make([]models.MediaItem, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.PosterPath == "" {
			continue
		}
		items = append(items, r.toMediaItem(kind))
	}
	return items, nil
}

// Similar returns titles TMDB considers similar to the given one.
func (c *Client) Similar(ctx context.Context, kind models.MediaKind, id int64, language string) ([]models.MediaItem, error) {
	return c.related(ctx, kind, id, language, "similar")
}

// Recommended returns TMDB's recommendation feed for the given title.
func (c *Client) Recommended(ctx context.Context, kind models.MediaKind, id int64, language string) ([]models.MediaItem, error) {
	return c.related(ctx, kind, id, language, "recommendations")
}

// WatchProviders returns the streaming availability entry for one region, or
// nil when the region has no data. Absence is not an error.
func (c *Client) WatchProviders(ctx context.Context, kind models.MediaKind, id int64, region string) (*models.ProviderInfo, error) {
	region = strings.ToUpper(strings.TrimSpace(region))
	if !kind.IsValid() || id <= 0 || region == "" {
		return nil, nil
	}
	key := cacheKey("providers", string(kind), fmt.Sprint(id), region)
	var cached *models.ProviderInfo
	if c.cache != nil {
		if ok, _ := c.cache.get(key, &cached); ok {
			return cached, nil
		}
	}

	var resp tmdbProviderResponse
	if err := c.get(ctx, fmt.Sprintf("%s/%d/watch/providers", kind, id), "", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch %s/%d providers: %w", kind, id, err)
	}
	var info *models.ProviderInfo
	if entry, ok := resp.Results[region]; ok {
		info = &models.ProviderInfo{
			Link:     entry.Link,
			Flatrate: toProviders(entry.Flatrate),
			Rent:     toProviders(entry.Rent),
			Buy:      toProviders(entry.Buy),
		}
	}
	if c.cache != nil {
		if err := c.cache.set(key, info); err != nil {
			log.Printf("[catalog] failed to cache %s/%d providers: %v", kind, id, err)
		}
	}
	return info, nil
}

func toProviders(raw []tmdbProvider) []models.Provider {
	if len(raw) == 0 {
		return nil
	}
	out := make([]models.Provider, 0, len(raw))
	for _, p := range raw {
		out = append(out, models.Provider{ID: p.ProviderID, Name: p.ProviderName, LogoPath: p.LogoPath})
	}
	return out
}
