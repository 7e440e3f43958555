package mock

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type client struct {
	t   *testing.T
	srv *httptest.Server
	key string
}

func newClient(t *testing.T, s *Server) *client {
	t.Helper()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &client{t: t, srv: srv, key: "test-key"}
}

func (c *client) post(path string, payload any) (int, []result) {
	c.t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		c.t.Fatalf("marshal: %v", err)
	}
	req, _ := http.NewRequest(http.MethodPost, c.srv.URL+"/api/v1/"+path, bytes.NewReader(body))
	req.Header.Set("X-API-Key", c.key)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()

	var results []result
	_ = json.NewDecoder(resp.Body).Decode(&results)
	return resp.StatusCode, results
}

func msgAt(t *testing.T, r result, i int) string {
	t.Helper()
	msg, ok := r.Msg.([]any)
	if !ok || len(msg) <= i {
		t.Fatalf("msg = %#v, want index %d", r.Msg, i)
	}
	s, _ := msg[i].(string)
	return s
}

func add(c *client, localPart string) []result {
	_, results := c.post(PathAdd, map[string]any{
		"active":     "1",
		"domain":     "example.com",
		"local_part": localPart,
		"name":       "User " + localPart,
		"quota":      "3072",
		"tags":       []string{"scim"},
	})
	return results
}

func TestMailboxLifecycle(t *testing.T) {
	s := NewServer("test-key")
	c := newClient(t, s)

	results := add(c, "Alice")
	if len(results) != 1 || results[0].Type != "success" || msgAt(t, results[0], 1) != "alice@example.com" {
		t.Fatalf("add = %+v", results)
	}
	mb, ok := s.Mailbox("alice@example.com")
	if !ok || mb.Active != 1 || mb.Quota != 3072 || mb.Name != "User Alice" {
		t.Fatalf("mailbox = %+v", mb)
	}

	if results := add(c, "alice"); results[0].Type != "danger" {
		t.Errorf("duplicate add = %+v", results)
	}

	_, results = c.post(PathEdit, map[string]any{
		"attr":  map[string]any{"active": "0", "name": "Alice L"},
		"items": []string{"alice@example.com"},
	})
	if results[0].Type != "success" {
		t.Fatalf("edit = %+v", results)
	}
	if mb, _ := s.Mailbox("alice@example.com"); mb.Active != 0 || mb.Name != "Alice L" {
		t.Errorf("edited mailbox = %+v", mb)
	}

	_, results = c.post(PathRename, map[string]any{
		"attr": map[string]any{
			"domain":         "example.com",
			"old_local_part": "alice",
			"new_local_part": "alice.l",
			"create_alias":   "1",
		},
		"items": []string{"alice@example.com"},
	})
	if results[0].Type != "success" || msgAt(t, results[0], 1) != "alice.l@example.com" {
		t.Fatalf("rename = %+v", results)
	}
	if _, ok := s.Mailbox("alice@example.com"); ok {
		t.Error("old address still present after rename")
	}

	_, results = c.post(PathDelete, []string{"alice.l@example.com"})
	if results[0].Type != "success" {
		t.Fatalf("delete = %+v", results)
	}
	if got := s.Addresses(); len(got) != 0 {
		t.Errorf("addresses = %v", got)
	}

	_, results = c.post(PathDelete, []string{"alice.l@example.com"})
	if results[0].Type != "danger" {
		t.Errorf("second delete = %+v", results)
	}
}

func TestGetUnknownMailbox(t *testing.T) {
	c := newClient(t, NewServer("test-key"))

	req, _ := http.NewRequest(http.MethodGet, c.srv.URL+"/api/v1/get/mailbox/nobody@example.com", nil)
	req.Header.Set("X-API-Key", c.key)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || len(body) != 0 {
		t.Errorf("status %d, body %v", resp.StatusCode, body)
	}
}

func TestFailInjection(t *testing.T) {
	s := NewServer("test-key")
	c := newClient(t, s)

	s.Fail(PathAdd)
	if results := add(c, "bob"); results[0].Type != "danger" {
		t.Errorf("add while failing = %+v", results)
	}
	if _, ok := s.Mailbox("bob@example.com"); ok {
		t.Error("mailbox created while failing")
	}

	s.Recover(PathAdd)
	if results := add(c, "bob"); results[0].Type != "success" {
		t.Errorf("add after recover = %+v", results)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	c := newClient(t, NewServer("test-key"))
	c.key = "wrong"

	status, _ := c.post(PathAdd, map[string]any{"domain": "example.com", "local_part": "eve"})
	if status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", status)
	}
}
