package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stoik/mailbridge/internal/mock"
	"github.com/stoik/mailbridge/internal/models"
	"github.com/stoik/mailbridge/services/scim-bridge/internal/mailbox"
	"github.com/stoik/mailbridge/services/scim-bridge/internal/metrics"
	"github.com/stoik/mailbridge/services/scim-bridge/internal/provisioning"
	"github.com/stoik/mailbridge/services/scim-bridge/internal/store"
)

const testToken = "scim-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	t      *testing.T
	router http.Handler
	remote *mock.Server
}

func newHarness(t *testing.T, policy provisioning.Policy) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	remote := mock.NewServer("mailcow-key")
	remoteSrv := httptest.NewServer(remote.Handler())
	t.Cleanup(remoteSrv.Close)

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "data.db"), logger)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	client := mailbox.NewClient(mailbox.Options{
		BaseURL: remoteSrv.URL + "/api/v1/",
		APIKey:  "mailcow-key",
	})
	reg, err := metrics.NewRegistry(st, logger)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	return &harness{
		t: t,
		router: NewRouter(Options{
			Token:    testToken,
			Users:    provisioning.NewService(st, client, policy, logger),
			Gatherer: reg,
			Logger:   logger,
		}),
		remote: remote,
	}
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			h.t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/scim+json")
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, scimType string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	body := decode[models.Error](t, rec)
	if len(body.Schemas) != 1 || body.Schemas[0] != models.MessageError {
		t.Errorf("schemas = %v", body.Schemas)
	}
	if body.Status != strconv.Itoa(status) {
		t.Errorf("status field = %q", body.Status)
	}
	if body.ScimType != scimType {
		t.Errorf("scimType = %q, want %q", body.ScimType, scimType)
	}
}

func userBody(userName, address string) map[string]any {
	return map[string]any{
		"schemas":     []string{models.SchemaUser},
		"externalId":  "ext-" + userName,
		"active":      true,
		"userName":    userName,
		"displayName": "User " + userName,
		"emails":      []map[string]any{{"value": address, "primary": true, "type": "work"}},
	}
}

func TestUserLifecycle(t *testing.T) {
	h := newHarness(t, provisioning.Policy{AllowDelete: true, DeleteMailbox: true})

	rec := h.do(http.MethodPost, "/Users", testToken, userBody("alice", "alice@example.com"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decode[models.User](t, rec)
	if created.ID == "" || created.Meta == nil || rec.Header().Get("Location") != "/Users/"+created.ID {
		t.Fatalf("created = %+v, location %q", created, rec.Header().Get("Location"))
	}
	if _, ok := h.remote.Mailbox("alice@example.com"); !ok {
		t.Fatal("mailbox not created remotely")
	}

	rec = h.do(http.MethodGet, "/Users/"+created.ID, testToken, nil)
	if rec.Code != http.StatusOK || decode[models.User](t, rec).UserName != "alice" {
		t.Fatalf("GET = %d %s", rec.Code, rec.Body.String())
	}

	update := userBody("alice", "alice.liddell@example.com")
	update["active"] = false
	rec = h.do(http.MethodPut, "/Users/"+created.ID, testToken, update)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body %s", rec.Code, rec.Body.String())
	}
	renamed, ok := h.remote.Mailbox("alice.liddell@example.com")
	if !ok || renamed.Active != 0 {
		t.Fatalf("renamed mailbox = %+v, %v", renamed, ok)
	}

	rec = h.do(http.MethodGet, "/Users?startIndex=1&count=10", testToken, nil)
	list := decode[models.ListResponse[models.User]](t, rec)
	if list.TotalResults != 1 || len(list.Resources) != 1 || list.Resources[0].Active {
		t.Fatalf("list = %+v", list)
	}

	rec = h.do(http.MethodDelete, "/Users/"+created.ID, testToken, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := h.remote.Addresses(); len(got) != 0 {
		t.Errorf("remote mailboxes after delete = %v", got)
	}

	rec = h.do(http.MethodGet, "/metrics", "", nil)
	for _, line := range []string{"users_created 1", "users_updated 1", "users_deleted 1"} {
		if !strings.Contains(rec.Body.String(), line) {
			t.Errorf("metrics missing %q:\n%s", line, rec.Body.String())
		}
	}
}

func TestCreateMinimalUser(t *testing.T) {
	h := newHarness(t, provisioning.Policy{AllowDelete: true})

	if rec := h.do(http.MethodGet, "/metrics", "", nil); !strings.Contains(rec.Body.String(), "users_created 0") {
		t.Fatalf("metrics before create:\n%s", rec.Body.String())
	}

	rec := h.do(http.MethodPost, "/Users", testToken,
		`{"userName":"alice","emails":[{"value":"alice@example.com","primary":true}],"active":true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST status = %d, body %s", rec.Code, rec.Body.String())
	}
	if created := decode[models.User](t, rec); created.ID == "" || created.ExternalID != "" {
		t.Errorf("created = %+v", created)
	}
	if rec := h.do(http.MethodGet, "/metrics", "", nil); !strings.Contains(rec.Body.String(), "users_created 1") {
		t.Errorf("metrics after create:\n%s", rec.Body.String())
	}
}

func TestCreateStringBooleans(t *testing.T) {
	h := newHarness(t, provisioning.Policy{AllowDelete: true})

	rec := h.do(http.MethodPost, "/Users", testToken, `{
		"userName": "alice",
		"active": "True",
		"emails": [
			{"value": "alice.old@example.com", "primary": "false"},
			{"value": "alice@example.com", "primary": "true"}
		]
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decode[models.User](t, rec)
	if !created.Active {
		t.Error("active \"True\" decoded as false")
	}
	if _, ok := h.remote.Mailbox("alice@example.com"); !ok {
		t.Errorf("mailbox not created for the string-primary address, have %v", h.remote.Addresses())
	}

	rec = h.do(http.MethodPost, "/Users", testToken,
		`{"userName":"bob","active":"sometimes","emails":[{"value":"bob@example.com"}]}`)
	expectError(t, rec, http.StatusBadRequest, "invalidSyntax")
}

func TestCreateErrors(t *testing.T) {
	h := newHarness(t, provisioning.Policy{AllowDelete: true})

	rec := h.do(http.MethodPost, "/Users", testToken, "{not json")
	expectError(t, rec, http.StatusBadRequest, "invalidSyntax")

	noName := userBody("", "bob@example.com")
	delete(noName, "userName")
	rec = h.do(http.MethodPost, "/Users", testToken, noName)
	expectError(t, rec, http.StatusBadRequest, "invalidSyntax")

	noEmails := userBody("bob", "")
	noEmails["emails"] = []any{}
	rec = h.do(http.MethodPost, "/Users", testToken, noEmails)
	expectError(t, rec, http.StatusBadRequest, "invalidSyntax")

	if rec := h.do(http.MethodPost, "/Users", testToken, userBody("bob", "bob@example.com")); rec.Code != http.StatusCreated {
		t.Fatalf("POST status = %d", rec.Code)
	}
	rec = h.do(http.MethodPost, "/Users", testToken, userBody("bob", "bob2@example.com"))
	expectError(t, rec, http.StatusConflict, "uniqueness")

	h.remote.Fail(mock.PathAdd)
	rec = h.do(http.MethodPost, "/Users", testToken, userBody("carol", "carol@example.com"))
	expectError(t, rec, http.StatusBadGateway, "serverError")

	rec = h.do(http.MethodGet, "/Users", testToken, nil)
	if list := decode[models.ListResponse[models.User]](t, rec); list.TotalResults != 1 {
		t.Errorf("totalResults = %d, want 1", list.TotalResults)
	}
	if rec := h.do(http.MethodGet, "/metrics", "", nil); !strings.Contains(rec.Body.String(), "users_created 1") {
		t.Errorf("metrics:\n%s", rec.Body.String())
	}
}

func TestNotFoundAndForbidden(t *testing.T) {
	h := newHarness(t, provisioning.Policy{AllowDelete: false})

	expectError(t, h.do(http.MethodGet, "/Users/unknown", testToken, nil), http.StatusNotFound, "notFound")
	expectError(t, h.do(http.MethodPut, "/Users/unknown", testToken, userBody("dave", "dave@example.com")), http.StatusNotFound, "notFound")
	expectError(t, h.do(http.MethodDelete, "/Users/unknown", testToken, nil), http.StatusForbidden, "mutability")

	h2 := newHarness(t, provisioning.Policy{AllowDelete: true})
	expectError(t, h2.do(http.MethodDelete, "/Users/unknown", testToken, nil), http.StatusNotFound, "notFound")
}

func TestBearerRequired(t *testing.T) {
	h := newHarness(t, provisioning.Policy{AllowDelete: true})

	for _, token := range []string{"", "wrong", testToken + "x"} {
		rec := h.do(http.MethodGet, "/Users", token, nil)
		expectError(t, rec, http.StatusUnauthorized, "")
	}

	req := httptest.NewRequest(http.MethodGet, "/Users", nil)
	req.Header.Set("Authorization", "Basic "+testToken)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("basic auth status = %d", rec.Code)
	}

	for _, path := range []string{"/healthz", "/metrics", "/ServiceProviderConfig"} {
		if rec := h.do(http.MethodGet, path, "", nil); rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d without token", path, rec.Code)
		}
	}
}

func TestListParams(t *testing.T) {
	h := newHarness(t, provisioning.Policy{AllowDelete: true})
	for _, name := range []string{"u1", "u2", "u3"} {
		if rec := h.do(http.MethodPost, "/Users", testToken, userBody(name, name+"@example.com")); rec.Code != http.StatusCreated {
			t.Fatalf("POST %s = %d", name, rec.Code)
		}
	}

	list := decode[models.ListResponse[models.User]](t, h.do(http.MethodGet, "/Users?index=2&count=1", testToken, nil))
	if list.TotalResults != 3 || list.ItemsPerPage != 1 || list.StartIndex != 2 || list.Resources[0].UserName != "u2" {
		t.Errorf("legacy index list = %+v", list)
	}

	list = decode[models.ListResponse[models.User]](t, h.do(http.MethodGet, "/Users", testToken, nil))
	if list.ItemsPerPage != 3 || list.StartIndex != 1 {
		t.Errorf("default list = %+v", list)
	}

	expectError(t, h.do(http.MethodGet, "/Users?count=many", testToken, nil), http.StatusBadRequest, "invalidSyntax")
	expectError(t, h.do(http.MethodGet, "/Users?startIndex=first", testToken, nil), http.StatusBadRequest, "invalidSyntax")
}

func TestGroupStubs(t *testing.T) {
	h := newHarness(t, provisioning.Policy{AllowDelete: true})

	group := map[string]any{"schemas": []string{models.SchemaGroup}, "displayName": "staff"}
	rec := h.do(http.MethodPost, "/Groups", testToken, group)
	if rec.Code != http.StatusCreated || decode[models.Group](t, rec).DisplayName != "staff" {
		t.Errorf("POST /Groups = %d %s", rec.Code, rec.Body.String())
	}

	rec = h.do(http.MethodGet, "/Groups/staff", testToken, nil)
	if got := decode[models.Group](t, rec); got.ID != "staff" || got.Members == nil {
		t.Errorf("GET /Groups/staff = %+v", got)
	}

	list := decode[models.ListResponse[models.Group]](t, h.do(http.MethodGet, "/Groups", testToken, nil))
	if list.TotalResults != 0 || list.Resources == nil {
		t.Errorf("GET /Groups = %+v", list)
	}

	if rec := h.do(http.MethodDelete, "/Groups/staff", testToken, nil); rec.Code != http.StatusNoContent {
		t.Errorf("DELETE /Groups/staff = %d", rec.Code)
	}
	if rec := h.do(http.MethodGet, "/Groups", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("GET /Groups without token = %d", rec.Code)
	}
}

func TestServiceProviderConfig(t *testing.T) {
	h := newHarness(t, provisioning.Policy{})
	body := decode[map[string]any](t, h.do(http.MethodGet, "/ServiceProviderConfig", "", nil))

	if body["id"] != "mailcow-scim-bridge" {
		t.Errorf("id = %v", body["id"])
	}
	for _, feature := range []string{"patch", "bulk", "filter", "changePassword", "sort", "etag"} {
		entry, _ := body[feature].(map[string]any)
		if entry == nil || entry["supported"] != false {
			t.Errorf("%s = %v", feature, body[feature])
		}
	}
}
