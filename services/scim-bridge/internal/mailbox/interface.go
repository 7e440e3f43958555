package mailbox

import "context"

// Mailboxes defines the remote mailbox operations the bridge relies on.
// Every call is a single attempt; callers decide what a failed Response means.
type Mailboxes interface {
	// Create adds a mailbox for localPart@domain with the given display name.
	Create(ctx context.Context, localPart, domain, name string) (Response, error)

	// Edit changes attributes of an existing mailbox. Nil fields are left untouched.
	Edit(ctx context.Context, id string, attrs EditAttrs) (Response, error)

	// Rename moves mailbox id to localPart@domain, keeping the old address as an alias.
	Rename(ctx context.Context, id, localPart, domain string) (Response, error)

	// Delete removes mailbox id.
	Delete(ctx context.Context, id string) (Response, error)

	// Lookup fetches the current state of mailbox id.
	Lookup(ctx context.Context, id string) (LookupResponse, error)
}

// EditAttrs are the mailbox attributes Edit may change.
type EditAttrs struct {
	Active *bool
	Name   *string
	Tags   []string
}
