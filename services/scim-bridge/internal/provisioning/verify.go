package provisioning

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// FindingKind names a difference between a stored identity and its mailbox.
type FindingKind string

const (
	FindingMissing        FindingKind = "missing"
	FindingActiveMismatch FindingKind = "active-mismatch"
	FindingNameMismatch   FindingKind = "name-mismatch"
	FindingLookupFailed   FindingKind = "lookup-failed"
)

// Finding is one drifted identity reported by Verify.
type Finding struct {
	ID        string
	UserName  string
	MailboxID string
	Kind      FindingKind
	Detail    string
}

// DefaultVerifyPageSize is used when Verify is called with pageSize <= 0.
const DefaultVerifyPageSize = 100

// Verify looks up the mailbox of every stored identity and reports where
// the remote state differs from the local record. It never writes either
// side. checked is the number of identities examined.
func (s *Service) Verify(ctx context.Context, pageSize int) (findings []Finding, checked int, err error) {
	if pageSize <= 0 {
		pageSize = DefaultVerifyPageSize
	}

	for offset := 0; ; {
		page, total, err := s.store.List(ctx, offset, pageSize)
		if err != nil {
			return findings, checked, s.storeError(err, "")
		}

		for _, identity := range page {
			if err := ctx.Err(); err != nil {
				return findings, checked, err
			}
			checked++

			finding := Finding{ID: identity.ID, UserName: identity.UserName, MailboxID: identity.MailboxID}
			resp, err := s.mailbox.Lookup(ctx, identity.MailboxID)
			switch {
			case err != nil:
				finding.Kind = FindingLookupFailed
				finding.Detail = err.Error()
			case resp.StatusCode != http.StatusOK:
				finding.Kind = FindingLookupFailed
				finding.Detail = fmt.Sprintf("status %d", resp.StatusCode)
			case !resp.Found():
				finding.Kind = FindingMissing
				finding.Detail = "mailbox does not exist"
			case resp.Mailbox.IsActive() != identity.Active:
				finding.Kind = FindingActiveMismatch
				finding.Detail = fmt.Sprintf("local active=%t, mailbox active=%t", identity.Active, resp.Mailbox.IsActive())
			case identity.DisplayName != "" && resp.Mailbox.Name != identity.DisplayName:
				finding.Kind = FindingNameMismatch
				finding.Detail = fmt.Sprintf("local name %q, mailbox name %q", identity.DisplayName, resp.Mailbox.Name)
			default:
				continue
			}

			s.logger.Warn("identity drift", "id", finding.ID, "mailbox", finding.MailboxID, "kind", finding.Kind, "detail", finding.Detail)
			findings = append(findings, finding)
		}

		offset += len(page)
		if len(page) == 0 || offset >= total {
			break
		}
	}

	s.logger.Info("verification finished", "checked", checked, "findings", len(findings))
	return findings, checked, nil
}

// String renders a finding as one report line.
func (f Finding) String() string {
	return strings.Join([]string{f.ID, f.UserName, f.MailboxID, string(f.Kind), f.Detail}, "\t")
}
