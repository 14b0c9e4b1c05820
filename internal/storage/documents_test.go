package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"marketplace-ledger-reconciler/pkg/errors"
)

type testDoc struct {
	File     string `json:"file"`
	Accepted int    `json:"accepted"`
}

func newTestDocumentStore(t *testing.T) (*RedisDocumentStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisDocumentStore(rdb), mr
}

func TestRedisDocumentStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestDocumentStore(t)

	var got testDoc
	if err := store.Get(ctx, "ingestions", "missing", &got); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := store.Set(ctx, "ingestions", "id-1", testDoc{File: "sales.xlsx", Accepted: 3}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !mr.Exists("reconciler:ingestions:id-1") {
		t.Error("expected document key in redis")
	}

	if err := store.Get(ctx, "ingestions", "id-1", &got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.File != "sales.xlsx" || got.Accepted != 3 {
		t.Errorf("Get() = %+v", got)
	}

	if err := store.Delete(ctx, "ingestions", "id-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Get(ctx, "ingestions", "id-1", &got); !IsNotFound(err) {
		t.Errorf("expected not found after delete, got %v", err)
	}
	if err := store.Delete(ctx, "ingestions", "id-1"); err != nil {
		t.Errorf("deleting twice should succeed, got %v", err)
	}
}

func TestRedisDocumentStoreList(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestDocumentStore(t)

	for i, file := range []string{"a.csv", "b.csv", "c.csv"} {
		if err := store.Set(ctx, "ingestions", file, testDoc{File: file, Accepted: i}); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	docs, err := store.List(ctx, "ingestions", 0, 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}

	var newest testDoc
	if err := json.Unmarshal(docs[0], &newest); err != nil {
		t.Fatalf("invalid document: %v", err)
	}
	if newest.File != "c.csv" {
		t.Errorf("expected newest first, got %s", newest.File)
	}

	next, err := store.List(ctx, "ingestions", 2, 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var oldest testDoc
	if len(next) != 1 || json.Unmarshal(next[0], &oldest) != nil || oldest.File != "a.csv" {
		t.Errorf("expected the second page to hold only a.csv, got %s", next)
	}

	empty, err := store.List(ctx, "other", 0, 10)
	if err != nil || len(empty) != 0 {
		t.Errorf("List() of empty collection = %v, %v", empty, err)
	}
}

func TestRedisDocumentStoreSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, _ := newTestDocumentStore(t)

	events, err := store.Subscribe(ctx, "ingestions")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := store.Set(ctx, "ingestions", "id-9", testDoc{File: "refunds.csv"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	select {
	case event := <-events:
		if event.Op != OpSet || event.ID != "id-9" || event.Collection != "ingestions" {
			t.Errorf("unexpected event %+v", event)
		}
		var doc testDoc
		if err := json.Unmarshal(event.Data, &doc); err != nil || doc.File != "refunds.csv" {
			t.Errorf("unexpected event data %s (%v)", event.Data, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	cancel()
	select {
	case _, ok := <-events:
		if ok {
			// a late event is acceptable; the channel must still close
			for range events {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestRedisUnavailable(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestDocumentStore(t)
	mr.Close()

	err := store.Set(ctx, "ingestions", "id", testDoc{})
	if !errors.HasCode(err, errors.CodeStoreUnavailable) {
		t.Errorf("expected store_unavailable, got %v", err)
	}
}

func TestNewRedisClientPingFails(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := NewRedisClient(ctx, RedisOptions{Address: addr}); !errors.HasCode(err, errors.CodeStoreUnavailable) {
		t.Errorf("expected store_unavailable, got %v", err)
	}
}
