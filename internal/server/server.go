package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"coachline/internal/engine"
	"coachline/internal/engine/auth"
	"coachline/internal/engine/sop"
	"coachline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Limiter  RateLimiter
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invite_closed"`
	Message string         `json:"message" example:"invite expired or completed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"field\":\"answers.q1\"}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// handlers carries what every operation needs.
type handlers struct {
	e      engine.Engine
	owners auth.Service
	log    *log.Logger
}

// New returns an HTTP handler exposing the coachline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	logger := cfg.Auth.logger()
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(newInviteRateLimitMiddleware(basePath, cfg.Limiter, logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Coachline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{e: cfg.Engine, owners: auth.Service{Repo: cfg.Engine.Repo}, log: logger}
	registerDocs(router, basePath)
	registerHealth(group)
	registerInvites(group, h)
	registerCustomers(group, h)
	registerStages(group, h)
	registerSOP(group, h)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps domain failures to the error envelope. Anything unrecognized is logged
// with the operation id and reported without details.
func (h handlers) handleError(op string, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	var fe auth.ForbiddenError
	switch {
	case errors.Is(err, engine.ErrInviteInvalid):
		return newAPIError(http.StatusNotFound, "invite_invalid", "invalid invite link", nil)
	case errors.Is(err, engine.ErrInviteExpiredOrCompleted):
		return newAPIError(http.StatusGone, "invite_closed", "invite expired or already completed", nil)
	case errors.Is(err, engine.ErrAttemptNotFound):
		return newAPIError(http.StatusForbidden, "attempt_forbidden", "attempt does not belong to this invite", nil)
	case errors.Is(err, engine.ErrAttemptAlreadySubmitted):
		return newAPIError(http.StatusConflict, "attempt_submitted", "attempt already submitted", nil)
	case errors.As(err, &ve):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", ve.Error(), map[string]any{"field": ve.Field, "reason": ve.Reason})
	case errors.Is(err, engine.ErrStageConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), nil)
	case errors.As(err, &fe):
		return newAPIError(http.StatusForbidden, "forbidden", "customer not accessible", nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", "not found", nil)
	default:
		h.log.Printf("%s: %v", op, err)
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// requireCustomer checks the authenticated coach owns customerID.
func (h handlers) requireCustomer(ctx context.Context, op, customerID string) (string, huma.StatusError) {
	coachID, authErr := coachIDFromContext(ctx)
	if authErr != nil {
		return "", authErr
	}
	if err := h.owners.RequireCustomer(ctx, coachID, customerID); err != nil {
		return "", h.handleError(op, err)
	}
	return coachID, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	bearer := []map[string][]string{{"bearerAuth": {}}}
	apiKey := []map[string][]string{{"apiKeyAuth": {}}}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			switch classifyRoute(basePath, route) {
			case routePublic, routeInvite:
				op.Security = []map[string][]string{}
			case routeAdmin:
				op.Security = apiKey
			default:
				op.Security = bearer
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Coachline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Coach routes take Authorization: Bearer &lt;token&gt;; admin routes take X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerInvites(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "start-attempt",
		Method:      http.MethodPost,
		Path:        "/invites/{token}/start",
		Summary:     "Start or resume the invite's attempt",
		Errors:      []int{http.StatusNotFound, http.StatusGone, http.StatusTooManyRequests},
	}, func(ctx context.Context, input *struct {
		Token string `path:"token"`
	}) (*struct {
		Body StartAttemptResponse `json:"body"`
	}, error) {
		res, err := h.e.StartAttempt(ctx, input.Token)
		if err != nil {
			return nil, h.handleError("start-attempt", err)
		}
		return &struct {
			Body StartAttemptResponse `json:"body"`
		}{Body: startAttemptResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-answers",
		Method:      http.MethodPut,
		Path:        "/invites/{token}/attempts/{attempt_id}/answers",
		Summary:     "Merge answers into an open attempt",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusGone,
			http.StatusUnprocessableEntity,
			http.StatusTooManyRequests,
		},
	}, func(ctx context.Context, input *struct {
		Token     string               `path:"token"`
		AttemptID string               `path:"attempt_id"`
		Body      RecordAnswersRequest `json:"body"`
	}) (*struct {
		Body RecordAnswersResponse `json:"body"`
	}, error) {
		res, err := h.e.RecordAnswers(ctx, input.Token, input.AttemptID, input.Body.Answers)
		if err != nil {
			return nil, h.handleError("record-answers", err)
		}
		return &struct {
			Body RecordAnswersResponse `json:"body"`
		}{Body: RecordAnswersResponse{AttemptID: res.AttemptID, Answered: res.Answered}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "view-result",
		Method:      http.MethodGet,
		Path:        "/invites/{token}/result",
		Summary:     "View the invite's latest attempt",
		Errors:      []int{http.StatusNotFound, http.StatusTooManyRequests},
	}, func(ctx context.Context, input *struct {
		Token string `path:"token"`
	}) (*struct {
		Body ResultResponse `json:"body"`
	}, error) {
		view, err := h.e.ViewResult(ctx, input.Token)
		if err != nil {
			return nil, h.handleError("view-result", err)
		}
		return &struct {
			Body ResultResponse `json:"body"`
		}{Body: resultResponse(view)}, nil
	})
}

func registerCustomers(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "get-stage",
		Method:      http.MethodGet,
		Path:        "/customers/{customer_id}/stage",
		Summary:     "Current coaching stage",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		CustomerID string `path:"customer_id"`
	}) (*struct {
		Body engine.StageState `json:"body"`
	}, error) {
		if _, authErr := h.requireCustomer(ctx, "get-stage", input.CustomerID); authErr != nil {
			return nil, authErr
		}
		st, err := h.e.CurrentStage(ctx, input.CustomerID)
		if err != nil {
			return nil, h.handleError("get-stage", err)
		}
		return &struct {
			Body engine.StageState `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-stage",
		Method:      http.MethodPut,
		Path:        "/customers/{customer_id}/stage",
		Summary:     "Set coaching stage",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		CustomerID string          `path:"customer_id"`
		Body       SetStageRequest `json:"body"`
	}) (*struct {
		Body engine.StageState `json:"body"`
	}, error) {
		coachID, authErr := h.requireCustomer(ctx, "set-stage", input.CustomerID)
		if authErr != nil {
			return nil, authErr
		}
		st, err := h.e.SetStage(ctx, input.CustomerID, input.Body.Stage, coachID)
		if err != nil {
			return nil, h.handleError("set-stage", err)
		}
		return &struct {
			Body engine.StageState `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-stage",
		Method:      http.MethodPost,
		Path:        "/customers/{customer_id}/stage/advance",
		Summary:     "Advance coaching stage one step",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		CustomerID string `path:"customer_id"`
	}) (*struct {
		Body engine.StageState `json:"body"`
	}, error) {
		coachID, authErr := h.requireCustomer(ctx, "advance-stage", input.CustomerID)
		if authErr != nil {
			return nil, authErr
		}
		st, err := h.e.AdvanceStage(ctx, input.CustomerID, coachID)
		if err != nil {
			return nil, h.handleError("advance-stage", err)
		}
		return &struct {
			Body engine.StageState `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-coach-tags",
		Method:      http.MethodGet,
		Path:        "/customers/{customer_id}/tags",
		Summary:     "List coach tags",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		CustomerID string `path:"customer_id"`
	}) (*struct {
		Body CoachTagsResponse `json:"body"`
	}, error) {
		if _, authErr := h.requireCustomer(ctx, "list-coach-tags", input.CustomerID); authErr != nil {
			return nil, authErr
		}
		list, err := h.e.CoachTags(ctx, input.CustomerID)
		if err != nil {
			return nil, h.handleError("list-coach-tags", err)
		}
		return &struct {
			Body CoachTagsResponse `json:"body"`
		}{Body: CoachTagsResponse{CustomerID: input.CustomerID, Tags: list}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-coach-tag",
		Method:        http.MethodPost,
		Path:          "/customers/{customer_id}/tags",
		Summary:       "Add a coach tag",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		CustomerID string             `path:"customer_id"`
		Body       AddCoachTagRequest `json:"body"`
	}) (*struct {
		Body CoachTagsResponse `json:"body"`
	}, error) {
		coachID, authErr := h.requireCustomer(ctx, "add-coach-tag", input.CustomerID)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := h.e.AddCoachTag(ctx, input.CustomerID, input.Body.Tag, coachID); err != nil {
			return nil, h.handleError("add-coach-tag", err)
		}
		list, err := h.e.CoachTags(ctx, input.CustomerID)
		if err != nil {
			return nil, h.handleError("add-coach-tag", err)
		}
		return &struct {
			Body CoachTagsResponse `json:"body"`
		}{Body: CoachTagsResponse{CustomerID: input.CustomerID, Tags: list}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-coach-tag",
		Method:        http.MethodDelete,
		Path:          "/customers/{customer_id}/tags/{tag}",
		Summary:       "Remove a coach tag",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CustomerID string `path:"customer_id"`
		Tag        string `path:"tag"`
	}) (*struct{}, error) {
		coachID, authErr := h.requireCustomer(ctx, "remove-coach-tag", input.CustomerID)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.e.RemoveCoachTag(ctx, input.CustomerID, input.Tag, coachID); err != nil {
			return nil, h.handleError("remove-coach-tag", err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-recommendation",
		Method:      http.MethodGet,
		Path:        "/customers/{customer_id}/recommendation",
		Summary:     "Guidance for the customer's stage and tags",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		CustomerID string `path:"customer_id"`
	}) (*struct {
		Body engine.Recommendation `json:"body"`
	}, error) {
		if _, authErr := h.requireCustomer(ctx, "get-recommendation", input.CustomerID); authErr != nil {
			return nil, authErr
		}
		rec, err := h.e.Recommend(ctx, input.CustomerID)
		if err != nil {
			return nil, h.handleError("get-recommendation", err)
		}
		return &struct {
			Body engine.Recommendation `json:"body"`
		}{Body: rec}, nil
	})
}

func registerStages(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "stage-panel",
		Method:      http.MethodGet,
		Path:        "/stages/{stage_id}/panel",
		Summary:     "Fallback guidance for a stage",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		StageID string `path:"stage_id"`
	}) (*struct {
		Body sop.Panel `json:"body"`
	}, error) {
		if _, authErr := coachIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := h.e.DefaultPanel(ctx, input.StageID)
		if err != nil {
			return nil, h.handleError("stage-panel", err)
		}
		return &struct {
			Body sop.Panel `json:"body"`
		}{Body: p}, nil
	})
}

func registerSOP(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "match-sop",
		Method:      http.MethodPost,
		Path:        "/sop/match",
		Summary:     "Evaluate SOP rules for a stage and tag set",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body MatchSOPRequest `json:"body"`
	}) (*struct {
		Body MatchSOPResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Stage) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "stage is required", map[string]any{"field": "stage"})
		}
		p, err := h.e.MatchSOP(ctx, input.Body.Stage, input.Body.Tags)
		if err != nil {
			return nil, h.handleError("match-sop", err)
		}
		return &struct {
			Body MatchSOPResponse `json:"body"`
		}{Body: MatchSOPResponse{Matched: p != nil, Panel: p}}, nil
	})
}
