package cache_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/danielgonzagat/peninaocubo-sub006/internal/cache"
)

func TestPutGetRoundTrip(t *testing.T) {
	c := cache.New([]byte("secret"))
	payload := []byte(`{"answer":42}`)
	fp := cache.Fingerprint([]byte("request-1"))

	c.Put(fp, payload, time.Minute)
	got := c.Get(fp)
	if !bytes.Equal(got, payload) {
		t.Fatalf("want %q, got %q", payload, got)
	}
}

func TestMissWhenAbsent(t *testing.T) {
	c := cache.New([]byte("secret"))
	if got := c.Get(cache.Fingerprint([]byte("nope"))); got != nil {
		t.Fatalf("want miss, got %q", got)
	}
}

func TestExpiryEvicts(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := cache.NewWithClock([]byte("secret"), func() time.Time { return now })
	fp := cache.Fingerprint([]byte("request-1"))

	c.Put(fp, []byte("payload"), time.Minute)
	now = now.Add(2 * time.Minute)
	if got := c.Get(fp); got != nil {
		t.Fatalf("want expired entry to miss, got %q", got)
	}
	if c.Len() != 0 {
		t.Fatalf("want expired entry evicted, len=%d", c.Len())
	}
}

func TestTamperedEntryIsNeverReturned(t *testing.T) {
	c := cache.New([]byte("secret"))
	fp := cache.Fingerprint([]byte("request-1"))
	c.Put(fp, []byte("genuine"), time.Minute)

	if !c.Tamper(fp, []byte("poison")) {
		t.Fatalf("tamper target missing")
	}
	if got := c.Get(fp); got != nil {
		t.Fatalf("tampered entry must be a miss, got %q", got)
	}
	if c.Len() != 0 {
		t.Fatalf("tampered entry must be evicted, len=%d", c.Len())
	}
}

func TestDistinctSecretsProduceDistinctTags(t *testing.T) {
	fp := cache.Fingerprint([]byte("request-1"))

	a := cache.New([]byte("secret-a"))
	a.Put(fp, []byte("payload"), time.Minute)
	if got := a.Get(fp); got == nil {
		t.Fatalf("entry must verify under its own secret")
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	if cache.Fingerprint([]byte("x")) != cache.Fingerprint([]byte("x")) {
		t.Fatalf("fingerprint must be deterministic")
	}
	if cache.Fingerprint([]byte("x")) == cache.Fingerprint([]byte("y")) {
		t.Fatalf("distinct payloads must not collide in tests")
	}
}
