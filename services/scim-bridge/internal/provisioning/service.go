// Package provisioning translates SCIM user operations into mailbox API
// calls and keeps the identity store consistent with the remote side.
//
// Every operation talks to the mailbox API first and writes the store only
// after the remote call was confirmed. The one exception is Update: when
// the edit succeeds but the following rename fails, the remote mailbox
// keeps the new active/name values while the local record is untouched.
// The failure is reported and logged; Verify surfaces the drift.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/stoik/mailbridge/internal/models"
	"github.com/stoik/mailbridge/services/scim-bridge/internal/mailbox"
	"github.com/stoik/mailbridge/services/scim-bridge/internal/store"
)

// Policy holds the deletion switches.
type Policy struct {
	// AllowDelete enables DELETE /Users. When false, Delete is Forbidden.
	AllowDelete bool

	// DeleteMailbox removes the remote mailbox on Delete. When false only
	// the local record is removed and the mailbox stays.
	DeleteMailbox bool
}

type Service struct {
	store   store.Store
	mailbox mailbox.Mailboxes
	policy  Policy
	logger  *slog.Logger
	newID   func() string
}

func NewService(st store.Store, mb mailbox.Mailboxes, policy Policy, logger *slog.Logger) *Service {
	return &Service{
		store:   st,
		mailbox: mb,
		policy:  policy,
		logger:  logger,
		newID:   uuid.NewString,
	}
}

// Create provisions a mailbox for user and records the mapping.
func (s *Service) Create(ctx context.Context, user models.User) (models.User, error) {
	address, localPart, domain, err := resolveAddress(user.Emails)
	if err != nil {
		return models.User{}, err
	}

	exists, err := s.store.Exists(ctx, user.ExternalID, user.UserName)
	if err != nil {
		return models.User{}, s.storeError(err, "")
	}
	if exists {
		return models.User{}, conflictError(user.ExternalID, user.UserName, store.ErrConflict)
	}

	resp, err := s.mailbox.Create(ctx, localPart, domain, user.DisplayName)
	if err := s.checkRemote("create", address, resp, err); err != nil {
		return models.User{}, err
	}

	mailboxID, ok := resp.MailboxID()
	if !ok {
		mailboxID = address
	}

	identity := &models.Identity{
		ID:          s.newID(),
		MailboxID:   mailboxID,
		ExternalID:  user.ExternalID,
		Active:      user.Active,
		UserName:    user.UserName,
		DisplayName: user.DisplayName,
		Emails:      user.Emails,
	}
	if err := s.store.Insert(ctx, identity); err != nil {
		s.logger.Warn("mailbox created but identity not recorded",
			"mailbox", mailboxID,
			"user_name", user.UserName,
			"error", err,
		)
		return models.User{}, s.storeError(err, identity.ID)
	}

	s.logger.Info("user provisioned", "id", identity.ID, "mailbox", mailboxID)
	return toUser(identity), nil
}

// Get returns the stored user with the given id.
func (s *Service) Get(ctx context.Context, id string) (models.User, error) {
	identity, err := s.store.Get(ctx, id)
	if err != nil {
		return models.User{}, s.storeError(err, id)
	}
	return toUser(identity), nil
}

// List returns a page of users. startIndex is 1-based as in SCIM.
func (s *Service) List(ctx context.Context, startIndex, count int) (models.ListResponse[models.User], error) {
	offset := max(startIndex-1, 0)
	limit := max(count, 0)

	identities, total, err := s.store.List(ctx, offset, limit)
	if err != nil {
		return models.ListResponse[models.User]{}, s.storeError(err, "")
	}

	resources := make([]models.User, 0, len(identities))
	for i := range identities {
		resources = append(resources, toUser(&identities[i]))
	}
	return models.ListResponse[models.User]{
		Schemas:      []string{models.MessageListResponse},
		TotalResults: total,
		ItemsPerPage: len(resources),
		StartIndex:   offset + 1,
		Resources:    resources,
	}, nil
}

// Update pushes active/displayName to the mailbox, renames it when the
// primary address changed, then replaces the stored record.
func (s *Service) Update(ctx context.Context, id string, user models.User) (models.User, error) {
	address, localPart, domain, err := resolveAddress(user.Emails)
	if err != nil {
		return models.User{}, err
	}

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return models.User{}, s.storeError(err, id)
	}

	// a clash found after the rename would leave MailboxID behind the remote
	taken, err := s.store.ExistsOther(ctx, id, user.ExternalID, user.UserName)
	if err != nil {
		return models.User{}, s.storeError(err, id)
	}
	if taken {
		return models.User{}, conflictError(user.ExternalID, user.UserName, store.ErrConflict)
	}
	mailboxID := current.MailboxID

	attrs := mailbox.EditAttrs{Active: &user.Active}
	if user.DisplayName != "" {
		attrs.Name = &user.DisplayName
	}
	resp, err := s.mailbox.Edit(ctx, mailboxID, attrs)
	if err := s.checkRemote("edit", mailboxID, resp, err); err != nil {
		return models.User{}, err
	}

	if !strings.EqualFold(address, mailboxID) {
		resp, err := s.mailbox.Rename(ctx, mailboxID, localPart, domain)
		if err := s.checkRemote("rename", mailboxID, resp, err); err != nil {
			s.logger.Warn("mailbox edited but rename failed, local record unchanged",
				"id", id,
				"mailbox", mailboxID,
				"target", address,
			)
			return models.User{}, err
		}
		renamed, ok := resp.MailboxID()
		if !ok {
			renamed = address
		}
		s.logger.Info("mailbox renamed", "id", id, "from", mailboxID, "to", renamed)
		mailboxID = renamed
	}

	identity := &models.Identity{
		ID:          id,
		MailboxID:   mailboxID,
		ExternalID:  user.ExternalID,
		Active:      user.Active,
		UserName:    user.UserName,
		DisplayName: user.DisplayName,
		Emails:      user.Emails,
	}
	if err := s.store.Update(ctx, identity); err != nil {
		return models.User{}, s.storeError(err, id)
	}

	s.logger.Info("user updated", "id", id, "mailbox", mailboxID)
	return toUser(identity), nil
}

// Delete removes the user, and its mailbox when Policy.DeleteMailbox is set.
func (s *Service) Delete(ctx context.Context, id string) error {
	if !s.policy.AllowDelete {
		return forbiddenError(id)
	}

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return s.storeError(err, id)
	}

	if s.policy.DeleteMailbox {
		resp, err := s.mailbox.Delete(ctx, current.MailboxID)
		if err := s.checkRemote("delete", current.MailboxID, resp, err); err != nil {
			return err
		}
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return s.storeError(err, id)
	}

	s.logger.Info("user deleted",
		"id", id,
		"mailbox", current.MailboxID,
		"mailbox_deleted", s.policy.DeleteMailbox,
	)
	return nil
}

// resolveAddress picks the primary address and splits it for the mailbox API.
func resolveAddress(emails []models.Email) (address, localPart, domain string, err error) {
	address, ok := models.PrimaryEmail(emails)
	if !ok {
		return "", "", "", InvalidAttributeError("emails")
	}
	localPart, domain, ok = models.SplitAddress(address)
	if !ok {
		return "", "", "", InvalidAttributeError("emails")
	}
	return address, localPart, domain, nil
}

// checkRemote turns a transport error or an unconfirmed response into an
// upstream error.
func (s *Service) checkRemote(op, target string, resp mailbox.Response, err error) error {
	if err != nil {
		s.logger.Error("mailbox api unreachable", "op", op, "mailbox", target, "error", err)
		return upstreamError(err)
	}
	if !resp.OK() {
		s.logger.Error("mailbox api rejected request", "op", op, "mailbox", target, "detail", resp.Detail())
		return upstreamError(fmt.Errorf("%s %s: %s", op, target, resp.Detail()))
	}
	return nil
}

func (s *Service) storeError(err error, id string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return notFoundError(id, err)
	case errors.Is(err, store.ErrConflict):
		return &Error{Kind: KindConflict, Detail: "User with the same externalId or userName already exists", Err: err}
	}
	s.logger.Error("identity store failure", "id", id, "error", err)
	return &Error{Kind: KindInternal, Detail: "storage failure", Err: err}
}

func toUser(identity *models.Identity) models.User {
	emails := identity.Emails
	if emails == nil {
		emails = []models.Email{}
	}
	return models.User{
		Schemas:     []string{models.SchemaUser},
		ID:          identity.ID,
		ExternalID:  identity.ExternalID,
		Active:      identity.Active,
		UserName:    identity.UserName,
		DisplayName: identity.DisplayName,
		Emails:      emails,
		Meta: &models.Meta{
			ResourceType: "User",
			Location:     "/Users/" + identity.ID,
		},
	}
}
