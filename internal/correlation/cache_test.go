package correlation

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testCache(t *testing.T) (*Cache, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	loc, err := ParseLocation("bridge-correlation/contacts")
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	return NewCache(store, loc, nil), store
}

func TestParseLocation(t *testing.T) {
	cases := []struct {
		in      string
		bucket  string
		prefix  string
		wantErr bool
	}{
		{in: "bucket-only", bucket: "bucket-only"},
		{in: "bucket/prefix", bucket: "bucket", prefix: "prefix"},
		{in: "bucket/deep/prefix", bucket: "bucket", prefix: "deep/prefix"},
		{in: "  bucket/prefix/  ", bucket: "bucket", prefix: "prefix"},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		loc, err := ParseLocation(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if loc.Bucket != tc.bucket || loc.Prefix != tc.prefix {
			t.Fatalf("%q: got %+v", tc.in, loc)
		}
	}
}

func TestLocationKeyIsPure(t *testing.T) {
	loc := Location{Bucket: "b", Prefix: "contacts"}
	if got := loc.Key("C1"); got != "contacts/C1" {
		t.Fatalf("key with prefix: %q", got)
	}
	if got := (Location{Bucket: "b"}).Key("C1"); got != "C1" {
		t.Fatalf("key without prefix: %q", got)
	}
}

func TestPutThenGetRoundTrips(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	created := time.Unix(1700000000, 0).UTC()
	want := Record{ContactID: "C1", TenantID: "T1", AccessTenantID: "T1-rest", CreatedAt: created}
	if err := c.Put(ctx, want); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := c.Get(ctx, "C1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ContactID != want.ContactID || got.TenantID != want.TenantID || got.AccessTenantID != want.AccessTenantID {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("created at mismatch: got %v want %v", got.CreatedAt, want.CreatedAt)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	c, _ := testCache(t)
	_, err := c.Get(context.Background(), "never-seen")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBackendErrorIsNotAMiss(t *testing.T) {
	c, store := testCache(t)
	store.FailWith = errors.New("connection reset")

	_, err := c.Get(context.Background(), "C1")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected backend error distinct from ErrNotFound, got %v", err)
	}
}

func TestMergePreservesExistingFields(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	created := time.Unix(1700000000, 0).UTC()
	if err := c.Put(ctx, Record{ContactID: "C1", TenantID: "T1", CreatedAt: created}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.Merge(ctx, "C1", Fields{VoiceCallID: "0LQxx0000001"}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	got, err := c.Get(ctx, "C1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TenantID != "T1" || !got.CreatedAt.Equal(created) {
		t.Fatalf("merge clobbered fields: %+v", got)
	}
	if got.VoiceCallID != "0LQxx0000001" {
		t.Fatalf("merge did not add voice call id: %+v", got)
	}
}

func TestMergeWithoutExistingRecordCreatesOne(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	if err := c.Merge(ctx, "C2", Fields{VoiceCallID: "v-1"}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	got, err := c.Get(ctx, "C2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ContactID != "C2" || got.VoiceCallID != "v-1" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestPutIsLastWriteWins(t *testing.T) {
	c, store := testCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, Record{ContactID: "C1", TenantID: "T1"}); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if err := c.Put(ctx, Record{ContactID: "C1", TenantID: "T1", VoiceCallID: "v-2"}); err != nil {
		t.Fatalf("second put: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected a single object, got %d", store.Len())
	}
	got, _ := c.Get(ctx, "C1")
	if got.VoiceCallID != "v-2" {
		t.Fatalf("expected last write to win: %+v", got)
	}
}

func TestLookupDegradesOnMissAndFailure(t *testing.T) {
	c, store := testCache(t)
	ctx := context.Background()

	if _, ok := c.Lookup(ctx, "never-seen"); ok {
		t.Fatalf("expected miss to report ok=false")
	}

	store.FailWith = errors.New("backend down")
	if _, ok := c.Lookup(ctx, "C1"); ok {
		t.Fatalf("expected backend failure to report ok=false")
	}
}
