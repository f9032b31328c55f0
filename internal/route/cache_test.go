package route

import (
	"testing"
	"time"
)

func TestTTLCache_SetGet(t *testing.T) {
	c := NewTTLCache(time.Minute)
	r := &Route{Protocol: "uniswap-v2"}

	if _, ok := c.Get("k"); ok {
		t.Fatal("empty cache must miss")
	}

	c.Set("k", r)
	got, ok := c.Get("k")
	if !ok || got != r {
		t.Fatal("expected a cache hit returning the stored route")
	}
}

func TestTTLCache_Expiry(t *testing.T) {
	c := NewTTLCache(10 * time.Minute)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Set("k", &Route{})

	base = base.Add(9 * time.Minute)
	if _, ok := c.Get("k"); !ok {
		t.Error("entry must survive within its TTL")
	}

	base = base.Add(2 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Error("entry must expire after its TTL")
	}
	if len(c.entries) != 0 {
		t.Error("expired entry must be evicted on read")
	}
}

func TestTTLCache_LastWriteWins(t *testing.T) {
	c := NewTTLCache(time.Minute)
	first := &Route{Protocol: "first"}
	second := &Route{Protocol: "second"}

	c.Set("k", first)
	c.Set("k", second)

	got, ok := c.Get("k")
	if !ok || got != second {
		t.Fatal("later write must replace the earlier entry")
	}
}
