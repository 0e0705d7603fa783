package signaling

import "testing"

func TestStoreCreateAndGet(t *testing.T) {
	store := NewStore()
	sess := store.Create()
	if sess.ID == "" {
		t.Fatalf("expected non-empty session id")
	}
	got, ok := store.Get(sess.ID)
	if !ok || got != sess {
		t.Fatalf("expected to find created session")
	}
	if _, ok := store.Get("nope"); ok {
		t.Fatalf("expected miss for unknown id")
	}
}

func TestStoreIDsAreUnique(t *testing.T) {
	store := NewStore()
	a := store.Create()
	b := store.Create()
	if a.ID == b.ID {
		t.Fatalf("expected unique ids, got %q twice", a.ID)
	}
	if store.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", store.Len())
	}
}

func TestStoreDelete(t *testing.T) {
	store := NewStore()
	sess := store.Create()
	if !store.Delete(sess.ID) {
		t.Fatalf("expected delete to succeed")
	}
	if store.Delete(sess.ID) {
		t.Fatalf("expected second delete to report missing")
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store")
	}
}

func TestSessionDocumentLifecycle(t *testing.T) {
	sess := NewStore().Create()
	if sess.Document() != nil {
		t.Fatalf("expected no document on fresh session")
	}

	meta := map[string]string{"title": "Alice in Wonderland", "mime": "application/pdf"}
	sess.SetDocument(meta)
	meta["title"] = "mutated" // caller copies must not leak in

	got := sess.Document()
	if got["title"] != "Alice in Wonderland" {
		t.Fatalf("expected stored copy, got %q", got["title"])
	}

	sess.ClearDocument()
	if sess.Document() != nil {
		t.Fatalf("expected cleared document")
	}
}
