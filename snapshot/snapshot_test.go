package snapshot

import (
	"testing"
)

func TestValidateIdentifierAccepts(t *testing.T) {
	for _, s := range []string{"shop", "127_0_0_1_5001", "Task_1", "abc123"} {
		if err := ValidateIdentifier(s); err != nil {
			t.Errorf("expected %q to be valid, got %v", s, err)
		}
	}
}

func TestValidateIdentifierRejects(t *testing.T) {
	for _, s := range []string{"../etc/passwd", "shop;drop", "a b", "", "shop.json", "127.0.0.1:5001"} {
		if err := ValidateIdentifier(s); err == nil {
			t.Errorf("expected %q to be rejected", s)
		}
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	type doc struct {
		TaskID string `json:"task_id"`
	}
	if err := s.SaveJSON("127_0_0_1_5001", "shop", doc{TaskID: "t1"}); err != nil {
		t.Fatal(err)
	}

	var got doc
	if err := s.LoadJSON("127_0_0_1_5001", "shop", &got); err != nil {
		t.Fatal(err)
	}
	if got.TaskID != "t1" {
		t.Errorf("expected round-tripped task_id t1, got %q", got.TaskID)
	}
}

func TestSaveRejectsBadIdentifier(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save("../escape", "shop", []byte("{}")); err == nil {
		t.Error("expected rejection of path-traversal server_ip_port component")
	}
}

func TestLoadMissingSnapshotErrors(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load("127_0_0_1_5001", "shop"); err == nil {
		t.Error("expected error loading a snapshot that was never saved")
	}
}

func TestSaveOverwritesPreviousSnapshot(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save("127_0_0_1_5001", "shop", []byte(`{"v":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("127_0_0_1_5001", "shop", []byte(`{"v":2}`)); err != nil {
		t.Fatal(err)
	}
	data, err := s.Load("127_0_0_1_5001", "shop")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"v":2}` {
		t.Errorf("expected latest save to win, got %s", data)
	}
}
