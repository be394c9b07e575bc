package echo_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	app "github.com/mohammadpnp/roster-import/internal/application/user"
	domain "github.com/mohammadpnp/roster-import/internal/domain/user"
	"github.com/mohammadpnp/roster-import/internal/infrastructure/file"
	httpecho "github.com/mohammadpnp/roster-import/internal/interfaces/http/echo"
	"github.com/stretchr/testify/require"
)

type memIndex map[string]bool

func (m memIndex) Exists(ctx context.Context, identifier string) (bool, error) {
	return m[app.NormalizeIdentifier(identifier)], nil
}

type memStore struct {
	mu   sync.Mutex
	next int
	live map[string]domain.CandidateRecord
}

func (s *memStore) Apply(ctx context.Context, rec domain.CandidateRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := fmt.Sprintf("user-%d", s.next)
	s.live[id] = rec
	return id, nil
}

func (s *memStore) Revert(ctx context.Context, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, entityID)
	return nil
}

type staticRoles map[string][]string

func (r staticRoles) Resolve(ctx context.Context, group string) (domain.PermissionSet, error) {
	return domain.NewPermissionSet(r[group]...), nil
}

type nopWriter struct{}

func (nopWriter) AssignPermissions(ctx context.Context, entityIDs []string, perms domain.PermissionSet) error {
	return nil
}

type apiEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func newImportServer(t *testing.T) *echo.Echo {
	t.Helper()

	validator := app.NewValidator(memIndex{"admin@company.com": true}, app.ValidatorConfig{})
	jobs := app.NewImportJobController(&memStore{live: map[string]domain.CandidateRecord{}}, nil, app.JobControllerConfig{})
	svc := app.NewBatchService(app.BatchServiceDeps{
		Normalizer:  app.NewFieldNormalizer(app.NormalizerConfig{}),
		Validator:   validator,
		Selection:   app.NewSelectionManager(validator),
		Jobs:        jobs,
		Assignments: app.NewAssignmentStage(jobs, staticRoles{"student": {"courses.read"}}, nopWriter{}, nil),
		Sheets:      file.NewSpreadsheetReader(),
	})

	e := echo.New()
	httpecho.RegisterRoutes(e, httpecho.NewImportHandler(svc), httpecho.NewJobHandler(svc, nil), nil)
	return e
}

func multipartUpload(t *testing.T, filename, group, content string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if group != "" {
		require.NoError(t, w.WriteField("group", group))
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = io.Copy(part, strings.NewReader(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports/users", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, target, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data any) apiEnvelope {
	t.Helper()

	var env apiEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if data != nil && env.Data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func uploadRoster(t *testing.T, e *echo.Echo, content string) app.BatchView {
	t.Helper()

	rec := serve(e, multipartUpload(t, "roster.csv", "student", content))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var view app.BatchView
	decode(t, rec, &view)
	return view
}
