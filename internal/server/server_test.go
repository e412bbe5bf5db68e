package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"coachline/internal/config"
	"coachline/internal/db"
	"coachline/internal/domain"
	"coachline/internal/engine"
	"coachline/internal/migrate"
	"coachline/internal/ratelimit"
)

const (
	testSecret   = "test-secret"
	testAdminKey = "admin-key"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, limiter RateLimiter) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn)
	ctx := context.Background()
	for _, id := range []string{"coach-1", "coach-2"} {
		if _, err := e.RegisterCoach(ctx, id, id, "admin"); err != nil {
			t.Fatalf("register coach: %v", err)
		}
	}
	if _, err := e.RegisterCustomer(ctx, "cust-1", "coach-1", "Sam", "admin"); err != nil {
		t.Fatalf("register customer: %v", err)
	}
	if _, err := e.ImportContent(ctx, config.Default(), "admin"); err != nil {
		t.Fatalf("import content: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, AdminAPIKey: testAdminKey},
		Limiter:  limiter,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func (s *testServer) issue(t *testing.T) string {
	t.Helper()
	inv, err := s.Engine.IssueInvite(context.Background(), engine.IssueInviteOptions{
		CoachID:    "coach-1",
		CustomerID: "cust-1",
		Quiz:       domain.QuizVersion{Version: "v1", Track: "fast"},
		ActorID:    "coach-1",
	})
	if err != nil {
		t.Fatalf("issue invite: %v", err)
	}
	return inv.Token
}

func coachHeaders(t *testing.T, coachID string) map[string]string {
	t.Helper()
	tok, err := SignCoachToken(testSecret, coachID, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + tok}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, string(data))
	}
	return env.Error
}

func TestHealthAndOpenAPI(t *testing.T) {
	srv := newTestServer(t, nil)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi: %d", res.StatusCode)
	}
	var oas struct {
		Paths      map[string]map[string]json.RawMessage `json:"paths"`
		Components struct {
			SecuritySchemes map[string]any `json:"securitySchemes"`
		} `json:"components"`
	}
	if err := json.Unmarshal(data, &oas); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	if _, ok := oas.Paths["/v1/invites/{token}/start"]; !ok {
		t.Fatalf("start route missing from openapi")
	}
	if _, ok := oas.Components.SecuritySchemes["bearerAuth"]; !ok {
		t.Fatalf("bearer scheme missing")
	}
}

func TestOpenAPIConcurrentFirstFetch(t *testing.T) {
	srv := newTestServer(t, nil)
	const n = 8
	type fetch struct {
		status int
		body   string
		err    error
	}
	results := make(chan fetch, n)
	for i := 0; i < n; i++ {
		go func() {
			res, err := srv.Client().Get(srv.URL + "/v1/openapi.json")
			if err != nil {
				results <- fetch{err: err}
				return
			}
			defer res.Body.Close()
			b, err := io.ReadAll(res.Body)
			results <- fetch{status: res.StatusCode, body: string(b), err: err}
		}()
	}
	var first string
	for i := 0; i < n; i++ {
		f := <-results
		if f.err != nil || f.status != http.StatusOK || f.body == "" {
			t.Fatalf("fetch %d: %d %v", i, f.status, f.err)
		}
		if first == "" {
			first = f.body
		} else if f.body != first {
			t.Fatalf("openapi documents differ between requests")
		}
	}
}

func TestInviteFlow(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()
	token := srv.issue(t)
	base := srv.URL + "/v1/invites/" + token

	res, data := doJSON(t, client, http.MethodPost, base+"/start", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start: %d %s", res.StatusCode, string(data))
	}
	var started StartAttemptResponse
	if err := json.Unmarshal(data, &started); err != nil {
		t.Fatalf("decode start: %v", err)
	}
	if started.AttemptID == "" || started.Resumed {
		t.Fatalf("unexpected start response: %+v", started)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/start", nil, nil)
	var resumed StartAttemptResponse
	_ = json.Unmarshal(data, &resumed)
	if res.StatusCode != http.StatusOK || resumed.AttemptID != started.AttemptID || !resumed.Resumed {
		t.Fatalf("resume: %d %s", res.StatusCode, string(data))
	}

	answersURL := base + "/attempts/" + started.AttemptID + "/answers"
	res, data = doJSON(t, client, http.MethodPut, answersURL, RecordAnswersRequest{Answers: map[string]string{"q-energy": "q-energy-low"}}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("answers: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPut, answersURL, RecordAnswersRequest{Answers: map[string]string{"q-energy": "q-goal-routine"}}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("foreign option: expected 422, got %d %s", res.StatusCode, string(data))
	}
	if e := decodeError(t, data); e.Code != "validation_failed" || e.Details["field"] != "answers.q-energy" {
		t.Fatalf("unexpected validation error: %+v", e)
	}

	res, data = doJSON(t, client, http.MethodPut, base+"/attempts/not-mine/answers", RecordAnswersRequest{Answers: map[string]string{"q-energy": "q-energy-low"}}, nil)
	if res.StatusCode != http.StatusForbidden || decodeError(t, data).Code != "attempt_forbidden" {
		t.Fatalf("foreign attempt: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/invites/unknown/start", nil, nil)
	if res.StatusCode != http.StatusNotFound || decodeError(t, data).Code != "invite_invalid" {
		t.Fatalf("unknown invite: %d %s", res.StatusCode, string(data))
	}

	if _, err := srv.Engine.SubmitAttempt(context.Background(), started.AttemptID, engine.Submission{Tags: []string{"energy:low"}, Stage: "mid"}, "scorer"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/start", nil, nil)
	if res.StatusCode != http.StatusGone || decodeError(t, data).Code != "invite_closed" {
		t.Fatalf("start after submit: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPut, answersURL, RecordAnswersRequest{Answers: map[string]string{"q-goal": "q-goal-clarity"}}, nil)
	if res.StatusCode != http.StatusConflict || decodeError(t, data).Code != "attempt_submitted" {
		t.Fatalf("answers after submit: expected 409 attempt_submitted, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/result", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("result: %d %s", res.StatusCode, string(data))
	}
	var result ResultResponse
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Invite.Status != domain.InviteCompleted || result.Attempt == nil || result.Attempt.SubmittedAt == "" {
		t.Fatalf("unexpected result: %s", string(data))
	}
	if result.Attempt.Answers["q-energy"] != "q-energy-low" || len(result.Attempt.Tags) != 1 {
		t.Fatalf("unexpected attempt view: %+v", result.Attempt)
	}
}

func TestCoachRoutesRequireOwnership(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()
	stageURL := srv.URL + "/v1/customers/cust-1/stage"

	res, data := doJSON(t, client, http.MethodGet, stageURL, nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, stageURL, nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, stageURL, nil, coachHeaders(t, "coach-2"))
	if res.StatusCode != http.StatusForbidden || decodeError(t, data).Code != "forbidden" {
		t.Fatalf("other coach: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/customers/ghost/stage", nil, coachHeaders(t, "coach-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("unknown customer: %d %s", res.StatusCode, string(data))
	}
}

func TestStageTagsAndRecommendation(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()
	h := coachHeaders(t, "coach-1")
	base := srv.URL + "/v1/customers/cust-1"

	res, data := doJSON(t, client, http.MethodGet, base+"/stage", nil, h)
	var st engine.StageState
	_ = json.Unmarshal(data, &st)
	if res.StatusCode != http.StatusOK || st.Stage != "pre" {
		t.Fatalf("initial stage: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/recommendation", nil, h)
	var rec engine.Recommendation
	_ = json.Unmarshal(data, &rec)
	if res.StatusCode != http.StatusOK || rec.Panel.Source != "default" || rec.Panel.SOPID != "sop-pre-welcome" {
		t.Fatalf("pre recommendation: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/stage/advance", nil, h)
	_ = json.Unmarshal(data, &st)
	if res.StatusCode != http.StatusOK || st.Stage != "mid" {
		t.Fatalf("advance: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPut, base+"/stage", SetStageRequest{Stage: "later"}, h)
	if res.StatusCode != http.StatusUnprocessableEntity && res.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid stage: %d %s", res.StatusCode, string(data))
	}

	token := srv.issue(t)
	started, err := srv.Engine.StartAttempt(context.Background(), token)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := srv.Engine.SubmitAttempt(context.Background(), started.Attempt.ID, engine.Submission{Tags: []string{"energy:low"}}, "scorer"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/recommendation", nil, h)
	rec = engine.Recommendation{}
	_ = json.Unmarshal(data, &rec)
	if res.StatusCode != http.StatusOK || rec.Panel.Source != "rule" || rec.Panel.RuleID != "rule-mid-low-energy" {
		t.Fatalf("mid recommendation: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/tags", AddCoachTagRequest{Tag: "paused"}, h)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unprefixed tag: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/tags", AddCoachTagRequest{Tag: "coach:paused"}, h)
	var tagsRes CoachTagsResponse
	_ = json.Unmarshal(data, &tagsRes)
	if res.StatusCode != http.StatusCreated || len(tagsRes.Tags) != 1 {
		t.Fatalf("add tag: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/recommendation", nil, h)
	rec = engine.Recommendation{}
	_ = json.Unmarshal(data, &rec)
	if res.StatusCode != http.StatusOK || rec.Panel.Source != "stage" || len(rec.Tags) != 2 {
		t.Fatalf("excluded recommendation: %d %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodDelete, base+"/tags/coach:paused", nil, h)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("remove tag: %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodDelete, base+"/tags/coach:paused", nil, h)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("remove missing tag: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/stages/post/panel", nil, h)
	var p struct {
		Source string `json:"source"`
	}
	_ = json.Unmarshal(data, &p)
	if res.StatusCode != http.StatusOK || p.Source != "stage" {
		t.Fatalf("post panel: %d %s", res.StatusCode, string(data))
	}
}

func TestAdminSOPMatch(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()
	body := MatchSOPRequest{Stage: "mid", Tags: []string{"energy:low"}}

	res, _ := doJSON(t, client, http.MethodPost, srv.URL+"/v1/sop/match", body, coachHeaders(t, "coach-1"))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("coach token on admin route: %d", res.StatusCode)
	}
	admin := map[string]string{"X-Api-Key": testAdminKey}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/sop/match", body, admin)
	var out MatchSOPResponse
	_ = json.Unmarshal(data, &out)
	if res.StatusCode != http.StatusOK || !out.Matched || out.Panel.RuleID != "rule-mid-low-energy" {
		t.Fatalf("match: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/sop/match", MatchSOPRequest{Stage: "mid", Tags: []string{"energy:low", "coach:paused"}}, admin)
	out = MatchSOPResponse{}
	_ = json.Unmarshal(data, &out)
	if res.StatusCode != http.StatusOK || out.Matched || out.Panel != nil {
		t.Fatalf("excluded match: %d %s", res.StatusCode, string(data))
	}
}

func TestInviteRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisLimiter("redis://"+mr.Addr(), 2, time.Minute)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	t.Cleanup(func() { limiter.Close() })
	srv := newTestServer(t, limiter)
	token := srv.issue(t)
	url := srv.URL + "/v1/invites/" + token + "/result"

	for i := 0; i < 2; i++ {
		if res, data := doJSON(t, srv.Client(), http.MethodGet, url, nil, nil); res.StatusCode != http.StatusOK {
			t.Fatalf("hit %d: %d %s", i, res.StatusCode, string(data))
		}
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, url, nil, nil)
	if res.StatusCode != http.StatusTooManyRequests || decodeError(t, data).Code != "rate_limited" {
		t.Fatalf("expected 429, got %d %s", res.StatusCode, string(data))
	}
	if res.Header.Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health must not be limited: %d", res.StatusCode)
	}

	mr.Close()
	if res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/invites/"+srv.issue(t)+"/result", nil, nil); res.StatusCode != http.StatusOK {
		t.Fatalf("limiter outage should fail open: %d %s", res.StatusCode, string(data))
	}
}
