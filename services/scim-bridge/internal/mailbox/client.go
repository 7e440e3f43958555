package mailbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds every request when Options.Timeout is zero.
	DefaultTimeout = 30 * time.Second

	// DefaultQuota is the mailbox quota in MiB for new mailboxes.
	DefaultQuota = 3072

	// DefaultAuthSource makes new mailboxes authenticate through the identity provider.
	DefaultAuthSource = "generic-oidc"

	// maxResponseSize bounds response body reads.
	maxResponseSize int64 = 4 << 20

	apiKeyHeader = "X-API-Key"
)

// DefaultTags are attached to every mailbox the bridge creates.
var DefaultTags = []string{"scim"}

// Options configures a Client.
type Options struct {
	// BaseURL is the API root, e.g. https://mail.example.com/api/v1/.
	BaseURL string

	// APIKey is sent in the X-API-Key header.
	APIKey string

	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration

	// SkipVerifyCertificate disables TLS certificate verification for all hosts.
	SkipVerifyCertificate bool

	// Quota, AuthSource and Tags are applied to created mailboxes.
	Quota      int
	AuthSource string
	Tags       []string
}

// Client issues mailbox operations against a mailcow-compatible API.
// It is stateless apart from its HTTP client and safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	opts    Options
	client  *http.Client
}

var _ Mailboxes = (*Client)(nil)

// NewClient creates a new mailbox API client
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Quota <= 0 {
		opts.Quota = DefaultQuota
	}
	if opts.AuthSource == "" {
		opts.AuthSource = DefaultAuthSource
	}
	if opts.Tags == nil {
		opts.Tags = DefaultTags
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.SkipVerifyCertificate {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit operator opt-out
	}

	return &Client{
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		opts:    opts,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
	}
}

type createRequest struct {
	Active        string   `json:"active"`
	Domain        string   `json:"domain"`
	LocalPart     string   `json:"local_part"`
	Name          string   `json:"name"`
	AuthSource    string   `json:"authsource"`
	Password      string   `json:"password"`
	Password2     string   `json:"password2"`
	Quota         string   `json:"quota"`
	ForcePwUpdate string   `json:"force_pw_update"`
	TLSEnforceIn  string   `json:"tls_enforce_in"`
	TLSEnforceOut string   `json:"tls_enforce_out"`
	Tags          []string `json:"tags"`
}

type itemsRequest struct {
	Attr  map[string]any `json:"attr"`
	Items []string       `json:"items"`
}

// Create implements Mailboxes.Create
func (c *Client) Create(ctx context.Context, localPart, domain, name string) (Response, error) {
	body := createRequest{
		Active:        "1",
		Domain:        domain,
		LocalPart:     localPart,
		Name:          name,
		AuthSource:    c.opts.AuthSource,
		Quota:         fmt.Sprint(c.opts.Quota),
		ForcePwUpdate: "0",
		TLSEnforceIn:  "1",
		TLSEnforceOut: "1",
		Tags:          c.opts.Tags,
	}
	return c.postResults(ctx, "add/mailbox", body)
}

// Edit implements Mailboxes.Edit
func (c *Client) Edit(ctx context.Context, id string, attrs EditAttrs) (Response, error) {
	attr := map[string]any{}
	if attrs.Active != nil {
		attr["active"] = "0"
		if *attrs.Active {
			attr["active"] = "1"
		}
	}
	if attrs.Name != nil {
		attr["name"] = *attrs.Name
	}
	if attrs.Tags != nil {
		attr["tags"] = attrs.Tags
	}
	return c.postResults(ctx, "edit/mailbox", itemsRequest{Attr: attr, Items: []string{id}})
}

// Rename implements Mailboxes.Rename
func (c *Client) Rename(ctx context.Context, id, localPart, domain string) (Response, error) {
	oldLocalPart := id
	if i := strings.LastIndex(id, "@"); i >= 0 {
		oldLocalPart = id[:i]
	}
	attr := map[string]any{
		"domain":         domain,
		"old_local_part": oldLocalPart,
		"new_local_part": localPart,
		"create_alias":   "1",
	}
	return c.postResults(ctx, "edit/rename-mbox", itemsRequest{Attr: attr, Items: []string{id}})
}

// Delete implements Mailboxes.Delete
func (c *Client) Delete(ctx context.Context, id string) (Response, error) {
	return c.postResults(ctx, "delete/mailbox", []string{id})
}

// Lookup implements Mailboxes.Lookup
func (c *Client) Lookup(ctx context.Context, id string) (LookupResponse, error) {
	status, data, err := c.do(ctx, "get/mailbox/"+url.PathEscape(id), nil)
	if err != nil {
		return LookupResponse{}, err
	}
	resp := LookupResponse{StatusCode: status}
	var mb Mailbox
	if err := json.Unmarshal(data, &mb); err == nil {
		resp.Mailbox = &mb
	}
	return resp, nil
}

func (c *Client) postResults(ctx context.Context, path string, payload any) (Response, error) {
	status, data, err := c.do(ctx, path, payload)
	if err != nil {
		return Response{}, err
	}
	resp := Response{StatusCode: status}
	var results []Result
	if err := json.Unmarshal(data, &results); err == nil {
		resp.Results = results
	}
	return resp, nil
}

// do POSTs payload (if any) to path and returns the status and the bounded body.
func (c *Client) do(ctx context.Context, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode %s request: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to call %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read %s response: %w", path, err)
	}
	return resp.StatusCode, data, nil
}
