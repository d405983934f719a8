package catalog

import "testing"

func TestFileCacheRoundTrip(t *testing.T) {
	cache := newFileCache(t.TempDir(), 24)
	key := cacheKey("trending", "1", "en-US")

	var missing []string
	if ok, _ := cache.get(key, &missing); ok {
		t.Fatal("expected miss for unset key")
	}

	if err := cache.set(key, []string{"a", "b"}); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	var got []string
	ok, err := cache.get(key, &got)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if len(got) != 2 || got[0] != "a" {
		t.Fatalf("unexpected cached value: %v", got)
	}

	if err := cache.clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if ok, _ := cache.get(key, &got); ok {
		t.Fatal("expected miss after clear")
	}
}

func TestCacheKeyIsStable(t *testing.T) {
	a := cacheKey("details", "movie", "603", "en-US")
	b := cacheKey("details", "movie", "603", "en-US")
	c := cacheKey("details", "movie", "604", "en-US")
	if a != b {
		t.Fatal("same parts must produce the same key")
	}
	if a == c {
		t.Fatal("different parts must produce different keys")
	}
}
