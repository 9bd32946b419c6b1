package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"planifica/internal/domain"
	"planifica/internal/engine"
	"planifica/internal/repo"
	"planifica/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"duplicate_period"`
	Message string         `json:"message" example:"actor already has an open record for this period"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"period\":\"2025-09\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Planifica API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
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

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Planifica API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	coordinator := workflow.New(cfg.Engine)

	registerDocs(router, basePath)
	registerHealth(group)
	registerRecords(group, cfg.Engine, coordinator)
	registerDashboard(group, coordinator)
	registerGoals(group, cfg.Engine)
	registerActors(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startSyncDispatcher(cfg.Engine)

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

// handleError maps engine error values to HTTP statuses. Consistency
// errors carry the current authoritative record so a stale caller can
// reconcile.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var dup engine.DuplicatePeriodError
	if errors.As(err, &dup) {
		return newAPIError(http.StatusConflict, "duplicate_period", err.Error(),
			map[string]any{"period": dup.Period, "existing_id": dup.ExistingID})
	}
	var terminal engine.TerminalStateError
	if errors.As(err, &terminal) {
		return newAPIError(http.StatusConflict, "terminal_state", err.Error(),
			map[string]any{"record": recordResponse(terminal.Record)})
	}
	var conflict engine.ConflictingTransitionError
	if errors.As(err, &conflict) {
		return newAPIError(http.StatusConflict, "conflicting_transition", err.Error(),
			map[string]any{"record": recordResponse(conflict.Record), "state": string(conflict.State)})
	}
	var invalidTotal engine.InvalidTotalError
	if errors.As(err, &invalidTotal) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_total", err.Error(),
			map[string]any{"declared": invalidTotal.Declared, "computed": invalidTotal.Computed})
	}
	var invalidTarget engine.InvalidTargetError
	if errors.As(err, &invalidTarget) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_target", err.Error(), nil)
	}
	var comment engine.CommentRequiredError
	if errors.As(err, &comment) {
		return newAPIError(http.StatusUnprocessableEntity, "comment_required", err.Error(),
			map[string]any{"event": string(comment.Event)})
	}
	var invalidTransition engine.InvalidTransitionError
	if errors.As(err, &invalidTransition) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", err.Error(),
			map[string]any{"from": string(invalidTransition.From), "event": string(invalidTransition.Event)})
	}
	var forbidden engine.ForbiddenError
	if errors.As(err, &forbidden) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(),
			map[string]any{"role": string(forbidden.Role)})
	}
	var scope engine.ScopeForbiddenError
	if errors.As(err, &scope) {
		return newAPIError(http.StatusForbidden, "scope_forbidden", err.Error(),
			map[string]any{"scope": scope.ScopeKind, "id": scope.ScopeID})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") ||
		strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
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

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
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
    <title>Planifica API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
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

func registerRecords(api huma.API, e engine.Engine, c workflow.Coordinator) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-record",
		Method:        http.MethodPost,
		Path:          "/records",
		Summary:       "Submit a monthly record",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body SubmitRecordRequest `json:"body"`
	}) (*struct {
		Body WriteResultResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.SubmitOptions{
			ActorID:       actorID,
			Community:     input.Body.Community,
			Period:        input.Body.Period,
			Tally:         domainTally(input.Body.Tally),
			DeclaredTotal: input.Body.Total,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		res, err := c.SubmitRecord(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WriteResultResponse `json:"body"`
		}{Body: writeResult(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-records",
		Method:      http.MethodGet,
		Path:        "/records",
		Summary:     "List records",
	}, func(ctx context.Context, input *struct {
		Owner     string `query:"owner"`
		Community string `query:"community"`
		State     string `query:"state" enum:",pending,in_review,approved,rejected"`
		Period    string `query:"period"`
		Limit     int    `query:"limit"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body RecordListResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		cursorCreatedAt, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", nil)
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.Repo.ListRecords(ctx, repo.RecordFilters{
			OwnerActorID:    input.Owner,
			Community:       input.Community,
			State:           input.State,
			Period:          input.Period,
			Limit:           limit,
			CursorCreatedAt: cursorCreatedAt,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := RecordListResponse{Items: mapRecords(items)}
		if len(items) == limit {
			last := items[len(items)-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		return &struct {
			Body RecordListResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-record",
		Method:      http.MethodGet,
		Path:        "/records/{record_id}",
		Summary:     "Get record with transition log",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RecordID string `path:"record_id"`
	}) (*struct {
		Body RecordDetailResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		rec, err := e.Repo.GetRecord(ctx, input.RecordID)
		if err != nil {
			return nil, handleError(err)
		}
		log, err := e.Repo.ListTransitions(ctx, rec.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecordDetailResponse `json:"body"`
		}{Body: RecordDetailResponse{
			Record:      recordResponse(rec),
			Transitions: mapTransitions(log),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-record",
		Method:      http.MethodPost,
		Path:        "/records/{record_id}/transition",
		Summary:     "Apply a review transition",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		RecordID string            `path:"record_id"`
		Body     TransitionRequest `json:"body"`
	}) (*struct {
		Body WriteResultResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := c.TransitionRecord(ctx, engine.TransitionOptions{
			ActorID:  actorID,
			RecordID: input.RecordID,
			Event:    domain.TransitionEvent(input.Body.Event),
			Comment:  input.Body.Comment,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WriteResultResponse `json:"body"`
		}{Body: writeResult(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "comment-record",
		Method:      http.MethodPost,
		Path:        "/records/{record_id}/comment",
		Summary:     "Attach a comment without changing state",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		RecordID string         `path:"record_id"`
		Body     CommentRequest `json:"body"`
	}) (*struct {
		Body RecordResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.AddComment(ctx, actorID, input.RecordID, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecordResponse `json:"body"`
		}{Body: recordResponse(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sync-record",
		Method:      http.MethodPost,
		Path:        "/records/{record_id}/sync",
		Summary:     "Merge a device-local transition log",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		RecordID string      `path:"record_id"`
		Body     SyncRequest `json:"body"`
	}) (*struct {
		Body WriteResultResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entries := make([]domain.Transition, 0, len(input.Body.Entries))
		for _, entry := range input.Body.Entries {
			entries = append(entries, domain.Transition{
				RecordID:  input.RecordID,
				FromState: domain.RecordState(entry.FromState),
				ToState:   domain.RecordState(entry.ToState),
				ActorID:   entry.ActorID,
				TS:        entry.TS,
				Comment:   entry.Comment,
			})
		}
		res, err := c.SyncRecord(ctx, engine.MergeOptions{
			ActorID:  actorID,
			RecordID: input.RecordID,
			Entries:  entries,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WriteResultResponse `json:"body"`
		}{Body: writeResult(res)}, nil
	})
}

func registerDashboard(api huma.API, c workflow.Coordinator) {
	huma.Register(api, huma.Operation{
		OperationID: "get-dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Scoped coverage dashboard",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ScopeKind string `query:"scope" enum:",self,community,territory,municipality"`
		ScopeID   string `query:"scope_id"`
	}) (*struct {
		Body workflow.Dashboard `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := c.GetDashboard(ctx, actorID, workflow.Scope{
			Kind: workflow.ScopeKind(input.ScopeKind),
			ID:   input.ScopeID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body workflow.Dashboard `json:"body"`
		}{Body: d}, nil
	})
}

func registerGoals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "set-method-goal",
		Method:      http.MethodPut,
		Path:        "/goals/methods/{method}",
		Summary:     "Set the annual target for a method",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Method string               `path:"method"`
		Body   SetMethodGoalRequest `json:"body"`
	}) (*struct {
		Body domain.MethodGoal `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.SetMethodGoal(ctx, actorID, domain.Method(input.Method), input.Body.Year, input.Body.Target)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MethodGoal `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-community-goal",
		Method:      http.MethodPut,
		Path:        "/goals/communities/{community}",
		Summary:     "Set the annual target for a community",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Community string                  `path:"community"`
		Body      SetCommunityGoalRequest `json:"body"`
	}) (*struct {
		Body domain.CommunityGoal `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.SetCommunityGoal(ctx, actorID, input.Community, input.Body.Year, input.Body.Target, input.Body.MEFPopulation)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CommunityGoal `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-goals",
		Method:      http.MethodGet,
		Path:        "/goals",
		Summary:     "List goals for a year",
	}, func(ctx context.Context, input *struct {
		Year int `query:"year"`
	}) (*struct {
		Body GoalsResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		year := input.Year
		if year == 0 {
			year = time.Now().UTC().Year()
		}
		methods, err := e.Repo.ListMethodGoals(ctx, year)
		if err != nil {
			return nil, handleError(err)
		}
		communities, err := e.Repo.ListCommunityGoals(ctx, year)
		if err != nil {
			return nil, handleError(err)
		}
		total := 0
		for _, g := range methods {
			total += g.Target
		}
		return &struct {
			Body GoalsResponse `json:"body"`
		}{Body: GoalsResponse{
			Year:              year,
			Methods:           methods,
			Communities:       communities,
			TotalAnnualTarget: total,
		}}, nil
	})
}

func registerActors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-actor",
		Method:        http.MethodPost,
		Path:          "/actors",
		Summary:       "Register an actor",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateActorRequest `json:"body"`
	}) (*struct {
		Body ActorResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		caller, err := e.Repo.GetActor(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if !caller.Role.CanManageGoals() {
			return nil, handleError(engine.ForbiddenError{Role: caller.Role, Action: "register actors"})
		}
		if !domain.ValidRoles[domain.Role(input.Body.Role)] {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid role", nil)
		}
		a := domain.Actor{
			ID:          input.Body.ID,
			DisplayName: input.Body.DisplayName,
			Role:        domain.Role(input.Body.Role),
			Community:   input.Body.Community,
			Territory:   input.Body.Territory,
			CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		}
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if err := e.Repo.InsertActor(ctx, a); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActorResponse `json:"body"`
		}{Body: actorResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-actors",
		Method:      http.MethodGet,
		Path:        "/actors",
		Summary:     "List actors",
	}, func(ctx context.Context, input *struct {
		Role string `query:"role" enum:",field_worker,supervisor,manager,coordinator"`
	}) (*struct {
		Body []ActorResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListActors(ctx, input.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ActorResponse `json:"body"`
		}{Body: mapActors(items)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit event feed, newest first",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit"`
		Cursor     int64  `query:"cursor"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.LatestEventsFrom(ctx, normalizeLimit(input.Limit), input.Cursor,
			input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Authenticated actor",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ActorResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.Repo.GetActor(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActorResponse `json:"body"`
		}{Body: actorResponse(a)}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func signDevToken(secret, actorID string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   actorID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(12 * time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
