package store

import (
	"strings"
	"testing"
)

func ptr(v int64) *int64 { return &v }

func TestSessionLogAppendAndLoad(t *testing.T) {
	log := OpenSessionLog(t.TempDir(), "s1")

	if !strings.HasSuffix(log.Path(), "s1.jsonl") {
		t.Fatalf("unexpected path %q", log.Path())
	}

	if _, err := log.Append(SessionEntry{ID: 1, Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	entries, err := log.Append(SessionEntry{ID: 2, ParentID: ptr(1), Role: "assistant", Content: "hello"})
	if err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	loaded, result, err := log.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if result.InvalidLines != 0 {
		t.Fatalf("unexpected invalid lines: %d", result.InvalidLines)
	}
	if len(loaded) != 2 || loaded[1].Content != "hello" {
		t.Fatalf("unexpected loaded entries: %+v", loaded)
	}
}

func TestSessionLogAppendRejectsNonIncreasingID(t *testing.T) {
	log := OpenSessionLog(t.TempDir(), "s2")
	if _, err := log.Append(SessionEntry{ID: 5, Role: "user", Content: "a"}); err != nil {
		t.Fatalf("append 5: %v", err)
	}
	if _, err := log.Append(SessionEntry{ID: 5, Role: "user", Content: "b"}); err == nil {
		t.Fatal("expected error for repeated id")
	}
	if _, err := log.Append(SessionEntry{ID: 3, Role: "user", Content: "c"}); err == nil {
		t.Fatal("expected error for decreasing id")
	}
}

func TestSessionLogAppendRejectsUnknownParent(t *testing.T) {
	log := OpenSessionLog(t.TempDir(), "s3")
	if _, err := log.Append(SessionEntry{ID: 1, Role: "user", Content: "a"}); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if _, err := log.Append(SessionEntry{ID: 2, ParentID: ptr(99), Role: "user", Content: "b"}); err == nil {
		t.Fatal("expected error for unknown parent_id")
	}
}

func TestHeadIDLinearHistory(t *testing.T) {
	entries := []SessionEntry{
		{ID: 1, Role: "user", Content: "a"},
		{ID: 2, ParentID: ptr(1), Role: "assistant", Content: "b"},
		{ID: 3, ParentID: ptr(2), Role: "user", Content: "c"},
	}
	head, ok := HeadID(entries)
	if !ok || head != 3 {
		t.Fatalf("head = %d, %v, want 3, true", head, ok)
	}
	if !IsBranchTip(entries, 3) {
		t.Fatal("id 3 should be a branch tip")
	}
	if IsBranchTip(entries, 1) {
		t.Fatal("id 1 is referenced as a parent, should not be a tip")
	}
}

func TestHeadIDBranchedHistory(t *testing.T) {
	// 1 -> 2 -> 3
	//      \--> 4  (rewind from 2, new branch tip 4)
	entries := []SessionEntry{
		{ID: 1, Role: "user", Content: "a"},
		{ID: 2, ParentID: ptr(1), Role: "assistant", Content: "b"},
		{ID: 3, ParentID: ptr(2), Role: "user", Content: "c"},
		{ID: 4, ParentID: ptr(2), Role: "user", Content: "d (edit of c)"},
	}
	head, ok := HeadID(entries)
	if !ok || head != 4 {
		t.Fatalf("head = %d, %v, want 4, true (last entry not referenced as a parent)", head, ok)
	}
	if !IsBranchTip(entries, 3) {
		t.Fatal("id 3 is never referenced as a parent, should still be a tip")
	}
	if !IsBranchTip(entries, 4) {
		t.Fatal("id 4 should be a tip")
	}
}

func TestHeadIDEmptyLog(t *testing.T) {
	head, ok := HeadID(nil)
	if ok || head != 0 {
		t.Fatalf("expected (0, false) for empty log, got (%d, %v)", head, ok)
	}
}
