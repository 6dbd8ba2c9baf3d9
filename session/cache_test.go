package session

import "testing"

func TestCacheDeleteIf(t *testing.T) {
	c := newCache()
	old := Record{Verifier: "v1"}
	c.put("u1", old)
	c.put("u1", Record{Verifier: "v2"})

	if c.deleteIf("u1", old) {
		t.Fatal("deleteIf removed a record that was replaced")
	}
	if !c.deleteIf("u1", Record{Verifier: "v2"}) {
		t.Fatal("deleteIf did not remove the current record")
	}
	if c.len() != 0 {
		t.Fatalf("expected empty cache, got %d", c.len())
	}
}

func TestCacheExpired(t *testing.T) {
	c := newCache()
	c.put("never", Record{Verifier: "v"})
	c.put("past", Record{Verifier: "v", ExpiresEnabled: true, ExpiresAtMillis: 100})
	c.put("edge", Record{Verifier: "v", ExpiresEnabled: true, ExpiresAtMillis: 200})

	got := c.expired(200)
	if len(got) != 1 {
		t.Fatalf("expected one expired record, got %v", got)
	}
	if _, ok := got["past"]; !ok {
		t.Fatalf("expected past to be expired, got %v", got)
	}
}
