package app

import (
	"context"
	"os"
	"testing"

	"coachline/internal/config"
	"coachline/internal/domain"
)

func TestOpenAndSyncDefaultContent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	ws, err := Open(ctx, dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ws.Close()

	if _, fromFile, err := LoadContent(dir); err != nil || fromFile {
		t.Fatalf("expected built-in content, fromFile=%v err=%v", fromFile, err)
	}
	sum, err := ws.SyncContent(ctx, "tester")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if sum.Quizzes != 1 || sum.Stages != 3 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	q, err := ws.Engine.Repo.GetQuiz(ctx, nil, domain.QuizVersion{Version: "v1", Track: "fast"})
	if err != nil || len(q.Questions) != 2 {
		t.Fatalf("quiz not imported: %+v %v", q, err)
	}
}

func TestWriteDefaultContent(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteDefaultContent(dir, false)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if path != config.Path(dir) {
		t.Fatalf("unexpected path %s", path)
	}
	if _, err := WriteDefaultContent(dir, false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if err := os.WriteFile(path, []byte("quizzes: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadContent(dir); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := WriteDefaultContent(dir, true); err != nil {
		t.Fatalf("force write: %v", err)
	}
	if _, fromFile, err := LoadContent(dir); err != nil || !fromFile {
		t.Fatalf("expected file content: %v %v", fromFile, err)
	}
}
