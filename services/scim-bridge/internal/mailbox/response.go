package mailbox

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ResultSuccess is the result type the mailbox API reports for a completed action.
const ResultSuccess = "success"

// Result is one entry of the mailbox API's result list.
type Result struct {
	Type string          `json:"type"`
	Msg  json.RawMessage `json:"msg,omitempty"`
	Log  json.RawMessage `json:"log,omitempty"`
}

// Messages returns msg as a list of strings. The API sends either a single
// string or an array whose entries may be non-string values.
func (r Result) Messages() []string {
	if len(r.Msg) == 0 {
		return nil
	}
	var single string
	if err := json.Unmarshal(r.Msg, &single); err == nil {
		return []string{single}
	}
	var list []any
	if err := json.Unmarshal(r.Msg, &list); err != nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		switch vt := v.(type) {
		case string:
			out = append(out, vt)
		case nil:
			out = append(out, "")
		default:
			out = append(out, fmt.Sprint(vt))
		}
	}
	return out
}

// Response is a normalized mailbox API reply. Results is nil when the body
// could not be parsed as a result list.
type Response struct {
	StatusCode int
	Results    []Result
}

// OK reports whether the remote action was confirmed: HTTP 200 and a
// first result of type "success". Everything else is a remote failure.
func (r Response) OK() bool {
	return r.StatusCode == http.StatusOK && len(r.Results) > 0 && r.Results[0].Type == ResultSuccess
}

// MailboxID returns the mailbox address carried in the first result's
// msg list (second position), as returned by add and rename.
func (r Response) MailboxID() (string, bool) {
	if len(r.Results) == 0 {
		return "", false
	}
	msgs := r.Results[0].Messages()
	if len(msgs) < 2 || !strings.Contains(msgs[1], "@") {
		return "", false
	}
	return msgs[1], true
}

// Detail summarizes a failed response for logs and error messages.
func (r Response) Detail() string {
	if r.Results == nil {
		return fmt.Sprintf("status %d, unparseable body", r.StatusCode)
	}
	if len(r.Results) == 0 {
		return fmt.Sprintf("status %d, empty result list", r.StatusCode)
	}
	return fmt.Sprintf("status %d, %s: %s", r.StatusCode, r.Results[0].Type, strings.Join(r.Results[0].Messages(), " "))
}

// Mailbox is the subset of the remote mailbox document the bridge reads.
type Mailbox struct {
	Username  string `json:"username"`
	Name      string `json:"name"`
	Domain    string `json:"domain"`
	LocalPart string `json:"local_part"`
	Active    any    `json:"active"`
}

// IsActive interprets the loosely typed active flag (1, "1", true).
func (m Mailbox) IsActive() bool {
	switch v := m.Active.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		switch strings.ToLower(v) {
		case "1", "true":
			return true
		}
	}
	return false
}

// LookupResponse is the reply to Lookup. Mailbox is nil when the body was
// unparseable or the remote reported no such mailbox.
type LookupResponse struct {
	StatusCode int
	Mailbox    *Mailbox
}

// Found reports whether the remote returned a mailbox document.
func (r LookupResponse) Found() bool {
	return r.StatusCode == http.StatusOK && r.Mailbox != nil && r.Mailbox.Username != ""
}
