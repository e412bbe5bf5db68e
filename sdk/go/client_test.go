package coachlinesdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coachline/internal/app"
	"coachline/internal/domain"
	"coachline/internal/engine"
	"coachline/internal/server"
)

func newAPI(t *testing.T) (*httptest.Server, engine.Engine) {
	t.Helper()
	ctx := context.Background()
	ws, err := app.Open(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	if _, err := ws.SyncContent(ctx, "test"); err != nil {
		t.Fatalf("sync content: %v", err)
	}
	if _, err := ws.Engine.RegisterCoach(ctx, "coach-1", "Ada", "test"); err != nil {
		t.Fatalf("register coach: %v", err)
	}
	if _, err := ws.Engine.RegisterCustomer(ctx, "cust-1", "coach-1", "Sam", "test"); err != nil {
		t.Fatalf("register customer: %v", err)
	}
	h, err := server.New(server.Config{
		Engine: ws.Engine,
		Auth:   server.AuthConfig{JWTSecret: "sdk-secret", AdminAPIKey: "sdk-admin"},
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, ws.Engine
}

func TestInviteRoundTrip(t *testing.T) {
	srv, e := newAPI(t)
	iss, err := e.IssueInvite(context.Background(), engine.IssueInviteOptions{
		CoachID:    "coach-1",
		CustomerID: "cust-1",
		Quiz:       domain.QuizVersion{Version: "v1", Track: "fast"},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	c := New(srv.URL)
	ctx := context.Background()

	started, err := c.StartAttempt(ctx, iss.Token)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	rec, err := c.RecordAnswers(ctx, iss.Token, started.AttemptID, map[string]string{"q-goal": "q-goal-routine"})
	if err != nil || rec.Answered != 1 {
		t.Fatalf("answers: %+v %v", rec, err)
	}
	res, err := c.Result(ctx, iss.Token)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if res.Invite.Status != "entered" || res.Attempt == nil || res.Attempt.Answers["q-goal"] != "q-goal-routine" {
		t.Fatalf("unexpected result: %+v", res)
	}

	_, err = c.RecordAnswers(ctx, iss.Token, started.AttemptID, map[string]string{"q-goal": "nope"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Code != "validation_failed" {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCoachAndAdminCalls(t *testing.T) {
	srv, _ := newAPI(t)
	tok, err := server.SignCoachToken("sdk-secret", "coach-1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	c := New(srv.URL)
	ctx := context.Background()

	if _, err := c.Stage(ctx, "cust-1"); err == nil {
		t.Fatalf("expected unauthorized without token")
	}
	c.BearerToken = tok
	st, err := c.AdvanceStage(ctx, "cust-1")
	if err != nil || st.Stage != "mid" {
		t.Fatalf("advance: %+v %v", st, err)
	}
	tags, err := c.AddCoachTag(ctx, "cust-1", "coach:vip")
	if err != nil || len(tags) != 1 {
		t.Fatalf("add tag: %v %v", tags, err)
	}
	r, err := c.Recommendation(ctx, "cust-1")
	if err != nil || r.Stage != "mid" || r.Panel.Source != "stage" {
		t.Fatalf("recommendation: %+v %v", r, err)
	}

	admin := New(srv.URL)
	admin.APIKey = "sdk-admin"
	p, err := admin.MatchSOP(ctx, "mid", []string{"energy:low"})
	if err != nil || p == nil || p.RuleID != "rule-mid-low-energy" {
		t.Fatalf("match: %+v %v", p, err)
	}
}
