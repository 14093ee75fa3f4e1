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

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"cogniledger/internal/domain"
	"cogniledger/internal/engine"
	"cogniledger/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"epoch_not_open"`
	Message string         `json:"message" example:"epoch 3 is not open"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"component_id\":\"treasury.allocation\"}"`
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

// New returns an HTTP handler exposing the ledger API.
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
	hcfg := huma.DefaultConfig("Cogniledger API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerScopes(group, cfg.Engine)
	registerEpochs(group, cfg.Engine)
	registerReceipts(group, cfg.Engine)
	registerCurations(group, cfg.Engine)
	registerAllocations(group, cfg.Engine)
	registerPool(group, cfg.Engine)
	registerStatements(group, cfg.Engine)
	registerRoles(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var notOpen *domain.EpochNotOpenError
	if errors.As(err, &notOpen) {
		return newAPIError(http.StatusConflict, "epoch_not_open", err.Error(), map[string]any{"epoch_id": notOpen.EpochID})
	}
	var closed *domain.EpochAlreadyClosedError
	if errors.As(err, &closed) {
		return newAPIError(http.StatusConflict, "epoch_already_closed", err.Error(), map[string]any{"epoch_id": closed.EpochID})
	}
	var missing *domain.PoolComponentMissingError
	if errors.As(err, &missing) {
		return newAPIError(http.StatusUnprocessableEntity, "pool_component_missing", err.Error(), map[string]any{
			"epoch_id":     missing.EpochID,
			"component_id": missing.ComponentID,
		})
	}
	var denied *domain.IssuerNotAuthorizedError
	if errors.As(err, &denied) {
		return newAPIError(http.StatusForbidden, "issuer_not_authorized", err.Error(), map[string]any{
			"address":       denied.Address,
			"required_role": denied.RequiredRole,
		})
	}
	var badSig *domain.ReceiptSignatureInvalidError
	if errors.As(err, &badSig) {
		return newAPIError(http.StatusUnprocessableEntity, "receipt_signature_invalid", err.Error(), map[string]any{
			"receipt_id": badSig.ReceiptID,
			"reason":     badSig.Reason,
		})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") ||
		strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown role") ||
		strings.Contains(lowered, "must"):
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

func bodyBytes(ctx context.Context) []byte {
	if b, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return b
	}
	return nil
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
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
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
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
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
    <title>Cogniledger API Docs</title>
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

func registerScopes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-scope",
		Method:        http.MethodPost,
		Path:          "/scopes",
		Summary:       "Create scope",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateScopeRequest `json:"body"`
	}) (*struct {
		Body ScopeResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		actorID, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.InitScope(ctx, input.Body.ID, stringOrEmpty(input.Body.Description), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScopeResponse `json:"body"`
		}{Body: scopeResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-scopes",
		Method:      http.MethodGet,
		Path:        "/scopes",
		Summary:     "List scopes",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ScopeResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListScopes(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ScopeResponse `json:"body"`
		}{Body: mapScopes(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-scope",
		Method:      http.MethodGet,
		Path:        "/scopes/{scope_id}",
		Summary:     "Get scope",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ScopeID string `path:"scope_id"`
	}) (*struct {
		Body ScopeResponse `json:"body"`
	}, error) {
		s, err := e.Repo.GetScope(ctx, input.ScopeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScopeResponse `json:"body"`
		}{Body: scopeResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-scope-config",
		Method:      http.MethodGet,
		Path:        "/scopes/{scope_id}/config",
		Summary:     "Get scope config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ScopeID string `path:"scope_id"`
	}) (*struct {
		Body ScopeConfigResponse `json:"body"`
	}, error) {
		cfg, err := e.Repo.GetScopeConfig(ctx, input.ScopeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScopeConfigResponse `json:"body"`
		}{Body: ScopeConfigResponse{Config: cfg}}, nil
	})
}

func registerEpochs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "open-epoch",
		Method:        http.MethodPost,
		Path:          "/scopes/{scope_id}/epochs",
		Summary:       "Open epoch",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ScopeID string           `path:"scope_id"`
		Body    OpenEpochRequest `json:"body"`
	}) (*struct {
		Body EpochResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ep, err := e.OpenEpoch(ctx, engine.OpenEpochOptions{
			ScopeID:     input.ScopeID,
			PeriodStart: input.Body.PeriodStart,
			PeriodEnd:   input.Body.PeriodEnd,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EpochResponse `json:"body"`
		}{Body: epochResponse(ep)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-epochs",
		Method:      http.MethodGet,
		Path:        "/scopes/{scope_id}/epochs",
		Summary:     "List epochs",
	}, func(ctx context.Context, input *struct {
		ScopeID string `path:"scope_id"`
	}) (*struct {
		Body []EpochResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListEpochs(ctx, input.ScopeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EpochResponse `json:"body"`
		}{Body: mapEpochs(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-epoch",
		Method:      http.MethodGet,
		Path:        "/epochs/{epoch_id}",
		Summary:     "Get epoch",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EpochID int64 `path:"epoch_id"`
	}) (*struct {
		Body EpochResponse `json:"body"`
	}, error) {
		ep, err := e.Repo.GetEpoch(ctx, input.EpochID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EpochResponse `json:"body"`
		}{Body: epochResponse(ep)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "close-epoch",
		Method:        http.MethodPost,
		Path:          "/epochs/{epoch_id}/close",
		Summary:       "Close epoch and issue payout statement",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		EpochID int64 `path:"epoch_id"`
	}) (*struct {
		Body StatementResponse `json:"body"`
	}, error) {
		actorID, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.CloseEpoch(ctx, input.EpochID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatementResponse `json:"body"`
		}{Body: statementResponse(st)}, nil
	})
}

func registerReceipts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-receipt",
		Method:        http.MethodPost,
		Path:          "/epochs/{epoch_id}/receipts",
		Summary:       "Submit activity receipt",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		EpochID int64                `path:"epoch_id"`
		Body    SubmitReceiptRequest `json:"body"`
	}) (*struct {
		Body ReceiptResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := e.SubmitReceipt(ctx, engine.SubmitReceiptOptions{
			EpochID:      input.EpochID,
			UserID:       input.Body.UserID,
			WorkItemID:   input.Body.WorkItemID,
			Role:         input.Body.Role,
			Units:        input.Body.Units,
			ArtifactRef:  stringOrEmpty(input.Body.ArtifactRef),
			RationaleRef: stringOrEmpty(input.Body.RationaleRef),
			OccurredAt:   stringOrEmpty(input.Body.OccurredAt),
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReceiptResponse `json:"body"`
		}{Body: receiptResponse(ev)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-receipts",
		Method:      http.MethodGet,
		Path:        "/epochs/{epoch_id}/receipts",
		Summary:     "List receipts for epoch",
	}, func(ctx context.Context, input *struct {
		EpochID int64 `path:"epoch_id"`
	}) (*struct {
		Body []ReceiptResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListActivityForEpoch(ctx, input.EpochID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ReceiptResponse `json:"body"`
		}{Body: mapReceipts(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-receipt-message",
		Method:      http.MethodGet,
		Path:        "/receipts/{receipt_id}/message",
		Summary:     "Canonical signing message for a receipt",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ReceiptID string `path:"receipt_id"`
	}) (*struct {
		Body ReceiptMessageResponse `json:"body"`
	}, error) {
		msg, hash, err := e.ReceiptMessage(ctx, input.ReceiptID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReceiptMessageResponse `json:"body"`
		}{Body: ReceiptMessageResponse{
			ActivityEventID: input.ReceiptID,
			Message:         msg,
			MessageHash:     hash,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-signature",
		Method:        http.MethodPost,
		Path:          "/receipts/{receipt_id}/signatures",
		Summary:       "Record receipt signature",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ReceiptID string                 `path:"receipt_id"`
		Body      RecordSignatureRequest `json:"body"`
	}) (*struct {
		Body SignatureResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sig, err := e.RecordSignature(ctx, engine.RecordSignatureOptions{
			ActivityEventID: input.ReceiptID,
			SignerAddress:   input.Body.SignerAddress,
			Signature:       input.Body.Signature,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SignatureResponse `json:"body"`
		}{Body: signatureResponse(sig)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-signatures",
		Method:      http.MethodGet,
		Path:        "/receipts/{receipt_id}/signatures",
		Summary:     "List signatures for a receipt",
	}, func(ctx context.Context, input *struct {
		ReceiptID string `path:"receipt_id"`
	}) (*struct {
		Body []SignatureResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListSignaturesForEvent(ctx, input.ReceiptID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]SignatureResponse, 0, len(items))
		for _, s := range items {
			res = append(res, signatureResponse(s))
		}
		return &struct {
			Body []SignatureResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerCurations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "set-curation",
		Method:      http.MethodPut,
		Path:        "/epochs/{epoch_id}/curations",
		Summary:     "Set curation decision for a receipt",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		EpochID int64              `path:"epoch_id"`
		Body    SetCurationRequest `json:"body"`
	}) (*struct {
		Body CurationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ActivityEventID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "activity_event_id is required", nil)
		}
		actorID, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.SetCuration(ctx, engine.SetCurationOptions{
			EpochID:             input.EpochID,
			ActivityEventID:     input.Body.ActivityEventID,
			Included:            input.Body.Included,
			WeightOverrideMilli: input.Body.WeightOverrideMilli,
			Note:                stringOrEmpty(input.Body.Note),
			ActorID:             actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CurationResponse `json:"body"`
		}{Body: curationResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-curations",
		Method:      http.MethodGet,
		Path:        "/epochs/{epoch_id}/curations",
		Summary:     "List curation decisions for epoch",
	}, func(ctx context.Context, input *struct {
		EpochID int64 `path:"epoch_id"`
	}) (*struct {
		Body []CurationResponse `json:"body"`
	}, error) {
		items, err := e.Repo.GetCurationForEpoch(ctx, input.EpochID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []CurationResponse `json:"body"`
		}{Body: mapCurations(items)}, nil
	})
}

func registerAllocations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-allocations",
		Method:      http.MethodGet,
		Path:        "/epochs/{epoch_id}/allocations",
		Summary:     "List allocations for epoch",
	}, func(ctx context.Context, input *struct {
		EpochID int64 `path:"epoch_id"`
	}) (*struct {
		Body []AllocationResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListAllocationsForEpoch(ctx, input.EpochID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AllocationResponse `json:"body"`
		}{Body: mapAllocations(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "override-allocation",
		Method:      http.MethodPatch,
		Path:        "/epochs/{epoch_id}/allocations/{user_id}",
		Summary:     "Override allocation final units",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		EpochID int64                     `path:"epoch_id"`
		UserID  string                    `path:"user_id"`
		Body    OverrideAllocationRequest `json:"body"`
	}) (*struct {
		Body AllocationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.OverrideAllocation(ctx, input.EpochID, input.UserID, input.Body.FinalUnits, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AllocationResponse `json:"body"`
		}{Body: allocationResponse(a)}, nil
	})
}

func registerPool(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-pool-component",
		Method:        http.MethodPost,
		Path:          "/epochs/{epoch_id}/pool",
		Summary:       "Record pool component",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		EpochID int64                   `path:"epoch_id"`
		Body    AddPoolComponentRequest `json:"body"`
	}) (*struct {
		Body PoolComponentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddPoolComponent(ctx, input.EpochID, input.Body.ComponentID, input.Body.AmountCredits, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PoolComponentResponse `json:"body"`
		}{Body: poolComponentResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pool-components",
		Method:      http.MethodGet,
		Path:        "/epochs/{epoch_id}/pool",
		Summary:     "List pool components",
	}, func(ctx context.Context, input *struct {
		EpochID int64 `path:"epoch_id"`
	}) (*struct {
		Body []PoolComponentResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListPoolComponents(ctx, input.EpochID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []PoolComponentResponse `json:"body"`
		}{Body: mapPoolComponents(items)}, nil
	})
}

func registerStatements(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-statements",
		Method:      http.MethodGet,
		Path:        "/epochs/{epoch_id}/statements",
		Summary:     "List payout statements for epoch",
	}, func(ctx context.Context, input *struct {
		EpochID int64 `path:"epoch_id"`
	}) (*struct {
		Body []StatementResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListStatementsForEpoch(ctx, input.EpochID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []StatementResponse `json:"body"`
		}{Body: mapStatements(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "latest-statement",
		Method:      http.MethodGet,
		Path:        "/epochs/{epoch_id}/statements/latest",
		Summary:     "Latest payout statement for epoch",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EpochID int64 `path:"epoch_id"`
	}) (*struct {
		Body StatementResponse `json:"body"`
	}, error) {
		st, err := e.Repo.LatestStatementForEpoch(ctx, input.EpochID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatementResponse `json:"body"`
		}{Body: statementResponse(st)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "supersede-statement",
		Method:        http.MethodPost,
		Path:          "/epochs/{epoch_id}/statements/supersede",
		Summary:       "Issue superseding payout statement",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		EpochID int64                     `path:"epoch_id"`
		Body    SupersedeStatementRequest `json:"body"`
	}) (*struct {
		Body StatementResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.SupersedeStatement(ctx, input.EpochID, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatementResponse `json:"body"`
		}{Body: statementResponse(st)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-statement",
		Method:      http.MethodGet,
		Path:        "/statements/{statement_id}",
		Summary:     "Get payout statement",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		StatementID string `path:"statement_id"`
	}) (*struct {
		Body StatementResponse `json:"body"`
	}, error) {
		st, err := e.Repo.GetStatement(ctx, input.StatementID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatementResponse `json:"body"`
		}{Body: statementResponse(st)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-statement",
		Method:      http.MethodGet,
		Path:        "/statements/{statement_id}/verify",
		Summary:     "Recompute a statement's hash and conservation check",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		StatementID string `path:"statement_id"`
	}) (*struct {
		Body engine.StatementVerification `json:"body"`
	}, error) {
		v, err := e.VerifyStatement(ctx, input.StatementID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.StatementVerification `json:"body"`
		}{Body: v}, nil
	})
}

func registerRoles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "grant-role",
		Method:        http.MethodPost,
		Path:          "/scopes/{scope_id}/roles",
		Summary:       "Grant issuer role",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ScopeID string           `path:"scope_id"`
		Body    GrantRoleRequest `json:"body"`
	}) (*struct {
		Body IssuerRoleResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ir, err := e.GrantRole(ctx, input.ScopeID, input.Body.Address, input.Body.Role, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssuerRoleResponse `json:"body"`
		}{Body: issuerRoleResponse(ir)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-role",
		Method:      http.MethodDelete,
		Path:        "/scopes/{scope_id}/roles/{address}/{role}",
		Summary:     "Revoke issuer role",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ScopeID string `path:"scope_id"`
		Address string `path:"address"`
		Role    string `path:"role"`
	}) (*struct{}, error) {
		actorID, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeRole(ctx, input.ScopeID, input.Address, input.Role, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-roles",
		Method:      http.MethodGet,
		Path:        "/scopes/{scope_id}/roles",
		Summary:     "List issuer roles",
	}, func(ctx context.Context, input *struct {
		ScopeID string `path:"scope_id"`
		Address string `query:"address"`
	}) (*struct {
		Body []IssuerRoleResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListRoles(ctx, input.ScopeID, input.Address)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []IssuerRoleResponse `json:"body"`
		}{Body: mapIssuerRoles(items)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/scopes/{scope_id}/events",
		Summary:     "Audit log events",
	}, func(ctx context.Context, input *struct {
		ScopeID string `path:"scope_id"`
		Limit   int    `query:"limit"`
		Cursor  int64  `query:"cursor"`
		Type    string `query:"type"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit, input.Cursor, input.ScopeID, input.Type, "", "")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}
