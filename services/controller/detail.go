package controller

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/sourcegraph/conc/pool"

	"cinesuggest/models"
	"cinesuggest/services/aggregate"
)

// ErrDetailsUnavailable is returned when the primary details lookup for an
// opened item yields nothing.
var ErrDetailsUnavailable = errors.New("could not fetch media details")

// OpenDetail opens the detail overlay for an item and fetches its details,
// providers, and curated similar titles in parallel. If the overlay has been
// closed or reopened for a different item by the time responses land, they
// are discarded; a late response must not resurrect a closed overlay.
func (c *Controller) OpenDetail(ctx context.Context, kind models.MediaKind, id int64) error {
	if !kind.IsValid() || id <= 0 {
		return fmt.Errorf("invalid detail target %s/%d", kind, id)
	}
	key := fmt.Sprintf("%s:%d", kind, id)

	c.mu.Lock()
	c.detailKey = key
	c.detail = nil
	c.detailLoading = true
	c.errMsg = ""
	c.mu.Unlock()

	language, region := c.store.Locale()

	var (
		details     *models.MediaItem
		providers   *models.ProviderInfo
		similar     []models.MediaItem
		recommended []models.MediaItem
	)
	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		var err error
		details, err = c.catalog.Details(ctx, kind, id, language)
		return err
	})
	p.Go(func(ctx context.Context) error {
		var err error
		providers, err = c.catalog.WatchProviders(ctx, kind, id, region)
		return err
	})
	p.Go(func(ctx context.Context) error {
		var err error
		similar, err = c.catalog.Similar(ctx, kind, id, language)
		return err
	})
	p.Go(func(ctx context.Context) error {
		var err error
		recommended, err = c.catalog.Recommended(ctx, kind, id, language)
		return err
	})
	if err := p.Wait(); err != nil {
		c.failDetail(key, err)
		return err
	}
	if details == nil {
		c.failDetail(key, ErrDetailsUnavailable)
		return ErrDetailsUnavailable
	}

	detail := &models.DetailedItem{
		EnrichedMediaItem: models.EnrichedMediaItem{
			MediaItem: *details,
			Providers: providers,
		},
		Similar: aggregate.CurateSimilar(similar, recommended, id),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detailKey != key {
		log.Printf("[controller] discarding detail response for closed overlay %s", key)
		return nil
	}
	c.detail = detail
	c.detailLoading = false
	return nil
}

// CloseDetail clears all detail state immediately. In-flight responses for
// the closed item are dropped when they arrive.
func (c *Controller) CloseDetail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeDetailLocked()
}

func (c *Controller) closeDetailLocked() {
	c.detailKey = ""
	c.detail = nil
	c.detailLoading = false
}

func (c *Controller) failDetail(key string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detailKey != key {
		return
	}
	c.detailLoading = false
	c.errMsg = fmt.Sprintf("An error occurred: %v", err)
	log.Printf("[controller] detail fetch for %s failed: %v", key, err)
}
