package auth_test

import (
	"context"
	"errors"
	"testing"

	"coachline/internal/db"
	"coachline/internal/engine/auth"
	"coachline/internal/migrate"
	"coachline/internal/repo"
)

func TestRequireCustomer(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	for _, q := range []string{
		`INSERT INTO coaches(id,name,created_at) VALUES ('c1','One','2024-01-01T00:00:00Z'),('c2','Two','2024-01-01T00:00:00Z')`,
		`INSERT INTO customers(id,coach_id,name,created_at) VALUES ('u1','c1','Cust','2024-01-01T00:00:00Z')`,
	} {
		if _, err := conn.ExecContext(ctx, q); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	svc := auth.Service{Repo: repo.Repo{DB: conn}}
	if err := svc.RequireCustomer(ctx, "c1", "u1"); err != nil {
		t.Fatalf("owner should pass: %v", err)
	}
	var fe auth.ForbiddenError
	if err := svc.RequireCustomer(ctx, "c2", "u1"); !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for other coach, got %v", err)
	}
	if err := svc.RequireCustomer(ctx, "c1", "missing"); !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for unknown customer, got %v", err)
	}
	if err := svc.RequireCustomer(ctx, "", "u1"); err == nil {
		t.Fatalf("expected error for empty coach")
	}
}
