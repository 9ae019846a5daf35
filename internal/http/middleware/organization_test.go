package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gatehouse-api/internal/auth"
	"gatehouse-api/internal/http/httperr"
	"gatehouse-api/internal/observability/logger"

	"github.com/go-chi/chi/v5"
)

// setupTestContext creates a context with logger for testing
func setupTestContext() context.Context {
	log, _ := logger.New("test", "info")
	return logger.SetLoggerInContext(context.Background(), log)
}

// validateErrorResponse validates JSON error response
func validateErrorResponse(t *testing.T, body string, expectedCode string) {
	var errResp httperr.ErrorResponse
	if err := json.Unmarshal([]byte(body), &errResp); err != nil {
		t.Fatalf("failed to parse error response: %v, body: %s", err, body)
	}

	if errResp.OK {
		t.Error("expected ok=false in error response")
	}

	if errResp.Error == nil {
		t.Fatal("expected error detail, got nil")
	}

	if errResp.Error.Code != expectedCode {
		t.Errorf("expected error code %s, got %s", expectedCode, errResp.Error.Code)
	}
}

func TestValidateOrgIDFormat(t *testing.T) {
	tests := []struct {
		name     string
		orgID    string
		expected bool
	}{
		{
			name:     "ValidAlphanumeric",
			orgID:    "org123",
			expected: true,
		},
		{
			name:     "ValidULID",
			orgID:    "01J8ZQ4G9W2N3V5X7B8C9D0E1F",
			expected: true,
		},
		{
			name:     "ValidWithHyphen",
			orgID:    "org-123",
			expected: true,
		},
		{
			name:     "ValidWithUnderscore",
			orgID:    "org_123",
			expected: true,
		},
		{
			name:     "EmptyString",
			orgID:    "",
			expected: false,
		},
		{
			name:     "TooLong",
			orgID:    "a123456789012345678901234567890123456789012345678901234567890123456",
			expected: false,
		},
		{
			name:     "InvalidCharacters_Slash",
			orgID:    "org/123",
			expected: false,
		},
		{
			name:     "InvalidCharacters_Dot",
			orgID:    "org.123",
			expected: false,
		},
		{
			name:     "InvalidCharacters_Space",
			orgID:    "org 123",
			expected: false,
		},
		{
			name:     "InvalidCharacters_Special",
			orgID:    "org@123",
			expected: false,
		},
		{
			name:     "ExactlyMaxLength",
			orgID:    "a12345678901234567890123456789012345678901234567890123456789012",
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validateOrgIDFormat(tt.orgID)
			if result != tt.expected {
				t.Errorf("validateOrgIDFormat(%q) = %v, expected %v", tt.orgID, result, tt.expected)
			}
		})
	}
}

func newOrgTestRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Route("/v1/orgs/{orgId}", func(r chi.Router) {
		r.Use(OrganizationMiddleware)
		r.Get("/test", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})
	return r
}

func TestOrganizationMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name           string
		orgID          string
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "EmptyOrgID",
			orgID:          "",
			expectedStatus: http.StatusBadRequest,
			expectedCode:   httperr.ErrCodeMissingParameter,
		},
		{
			name:           "InvalidCharacters",
			orgID:          "org.dot",
			expectedStatus: http.StatusBadRequest,
			expectedCode:   httperr.ErrCodeInvalidOrgID,
		},
		{
			name:           "TooLong",
			orgID:          "a123456789012345678901234567890123456789012345678901234567890123456",
			expectedStatus: http.StatusBadRequest,
			expectedCode:   httperr.ErrCodeInvalidOrgID,
		},
		{
			name:           "SpecialCharacters",
			orgID:          "org@123",
			expectedStatus: http.StatusBadRequest,
			expectedCode:   httperr.ErrCodeInvalidOrgID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := setupTestContext()

			if tt.orgID != "" {
				authCtx := auth.AuthContext{
					OrgID:      "dummy-org",
					ActorID:    "test-user",
					ActorType:  "user",
					AuthMethod: "jwt",
				}
				ctx = auth.SetAuthContextForTesting(ctx, &authCtx)
			}

			r := newOrgTestRouter()

			path := "/v1/orgs/" + tt.orgID + "/test"
			if tt.orgID == "" {
				path = "/v1/orgs//test" // Chi won't match empty param
			}
			req := httptest.NewRequest(http.MethodGet, path, nil)
			req = req.WithContext(ctx)
			rr := httptest.NewRecorder()

			r.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d, body: %s", tt.expectedStatus, rr.Code, rr.Body.String())
			}
			validateErrorResponse(t, rr.Body.String(), tt.expectedCode)
		})
	}
}

func TestOrganizationMiddleware_Mismatch_JWT(t *testing.T) {
	tests := []struct {
		name           string
		pathOrgID      string
		claimsOrgID    string
		role           string
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "Match",
			pathOrgID:      "org-123",
			claimsOrgID:    "org-123",
			role:           "org_admin",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Mismatch",
			pathOrgID:      "org-123",
			claimsOrgID:    "org-456",
			role:           "org_admin",
			expectedStatus: http.StatusForbidden,
			expectedCode:   httperr.ErrCodeOrgMismatch,
		},
		{
			name:           "PlatformAdminCrossOrg",
			pathOrgID:      "org-123",
			claimsOrgID:    "org-456",
			role:           "platform_admin",
			expectedStatus: http.StatusOK, // Platform admins operate across organizations
		},
		{
			name:           "EmptyClaimsOrgID",
			pathOrgID:      "org-123",
			claimsOrgID:    "",
			role:           "platform_admin",
			expectedStatus: http.StatusOK, // No validation when claims org is empty
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := setupTestContext()

			authCtx := auth.AuthContext{
				OrgID:      tt.claimsOrgID,
				ActorID:    "user-123",
				Role:       tt.role,
				ActorType:  "user",
				AuthMethod: "jwt",
				Issuer:     "gatehouse-portal",
			}
			ctx = auth.SetAuthContextForTesting(ctx, &authCtx)

			r := newOrgTestRouter()

			req := httptest.NewRequest(http.MethodGet, "/v1/orgs/"+tt.pathOrgID+"/test", nil)
			req = req.WithContext(ctx)
			rr := httptest.NewRecorder()

			r.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d, body: %s", tt.expectedStatus, rr.Code, rr.Body.String())
			}
			if tt.expectedCode != "" {
				validateErrorResponse(t, rr.Body.String(), tt.expectedCode)
			}
		})
	}
}

func TestOrganizationMiddleware_Mismatch_S2S(t *testing.T) {
	tests := []struct {
		name           string
		pathOrgID      string
		headerOrgID    string
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "Match",
			pathOrgID:      "org-prod-01",
			headerOrgID:    "org-prod-01",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Mismatch",
			pathOrgID:      "org-prod-01",
			headerOrgID:    "org-dev-02",
			expectedStatus: http.StatusForbidden,
			expectedCode:   httperr.ErrCodeOrgMismatch,
		},
		{
			name:           "NoHeaderOrgID",
			pathOrgID:      "org-prod-01",
			headerOrgID:    "",
			expectedStatus: http.StatusOK, // No validation when S2S header is absent
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := setupTestContext()

			authCtx := auth.AuthContext{
				OrgID:      tt.headerOrgID,
				ActorID:    "service-scheduler",
				ActorType:  "service",
				AuthMethod: "s2s",
				Client:     "scheduler",
			}
			ctx = auth.SetAuthContextForTesting(ctx, &authCtx)

			r := newOrgTestRouter()

			req := httptest.NewRequest(http.MethodGet, "/v1/orgs/"+tt.pathOrgID+"/test", nil)
			req = req.WithContext(ctx)
			rr := httptest.NewRecorder()

			r.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d, body: %s", tt.expectedStatus, rr.Code, rr.Body.String())
			}
			if tt.expectedCode != "" {
				validateErrorResponse(t, rr.Body.String(), tt.expectedCode)
			}
		})
	}
}

func TestOrganizationMiddleware_NoAuthContext(t *testing.T) {
	ctx := setupTestContext()

	r := newOrgTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/v1/orgs/org-123/test", nil)
	req = req.WithContext(ctx)
	rr := httptest.NewRecorder()

	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
	validateErrorResponse(t, rr.Body.String(), httperr.ErrCodeInvalidToken)
}
