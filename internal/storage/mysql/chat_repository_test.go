package mysql

import (
	"context"
	"testing"
)

func TestMemoryChatRepositorySaveAndList(t *testing.T) {
	repo, err := NewMemoryChatRepository(t.TempDir())
	if err != nil {
		t.Fatalf("create repo: %v", err)
	}

	records := []ChatRecord{
		{SessionID: "s1", Prompt: "第一条", Reply: "回复一", Model: "m", CreatedAt: 100},
		{SessionID: "s1", Prompt: "第二条", Reply: "回复二", Model: "m", CreatedAt: 200},
		{SessionID: "s2", Prompt: "第三条", Reply: "回复三", Model: "m", CreatedAt: 300},
	}
	for _, record := range records {
		if err := repo.Save(context.Background(), record); err != nil {
			t.Fatalf("save record: %v", err)
		}
	}

	latest, err := repo.ListLatest(context.Background(), 2)
	if err != nil {
		t.Fatalf("list latest: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("expected 2 records, got %d", len(latest))
	}
	if latest[0].Prompt != "第三条" || latest[1].Prompt != "第二条" {
		t.Fatalf("records must come back newest first: %+v", latest)
	}

	all, err := repo.ListLatest(context.Background(), 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
}

func TestMemoryChatRepositoryReload(t *testing.T) {
	dir := t.TempDir()

	repo, err := NewMemoryChatRepository(dir)
	if err != nil {
		t.Fatalf("create repo: %v", err)
	}
	if err := repo.Save(context.Background(), ChatRecord{Prompt: "持久化", Reply: "ok", CreatedAt: 1}); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := NewMemoryChatRepository(dir)
	if err != nil {
		t.Fatalf("reload repo: %v", err)
	}
	restored, err := reloaded.ListLatest(context.Background(), 10)
	if err != nil {
		t.Fatalf("list after reload: %v", err)
	}
	if len(restored) != 1 || restored[0].Prompt != "持久化" {
		t.Fatalf("records not restored from disk: %+v", restored)
	}
}
