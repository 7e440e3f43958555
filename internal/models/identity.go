package models

// Identity maps a provisioned SCIM user to its remote mailbox.
// ID is assigned by the bridge and never reused; MailboxID is the
// address the mailbox API last acknowledged.
type Identity struct {
	ID          string
	MailboxID   string
	ExternalID  string
	Active      bool
	UserName    string
	DisplayName string
	Emails      []Email
}

// Counter names persisted in the metrics table.
const (
	CounterUsersCreated = "users_created"
	CounterUsersUpdated = "users_updated"
	CounterUsersDeleted = "users_deleted"
)

// CounterNames lists every counter created at bootstrap.
var CounterNames = []string{CounterUsersCreated, CounterUsersUpdated, CounterUsersDeleted}

// Counter is a durable monotonic counter.
type Counter struct {
	Name  string
	Value int64
}
