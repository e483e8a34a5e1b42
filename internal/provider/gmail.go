package provider

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/mailsteward/mailsteward/internal/auth"
	"github.com/mailsteward/mailsteward/internal/model"
)

// Scopes required by the Gmail adapter. MailGoogleComScope grants full
// mailbox access including permanent deletion, a superset of the modify and
// settings scopes.
var Scopes = []string{
	gmailapi.MailGoogleComScope,
}

// GmailOpener builds per-user Gmail handles from stored OAuth tokens.
type GmailOpener struct {
	mgr *auth.Manager
}

// NewGmailOpener creates the opener.
func NewGmailOpener(mgr *auth.Manager) *GmailOpener {
	return &GmailOpener{mgr: mgr}
}

// Open returns a Mail handle for the user, guarded by a circuit breaker so
// a flapping Gmail API trips fast instead of tying up workers.
func (o *GmailOpener) Open(ctx context.Context, userID string) (Mail, error) {
	opt, err := o.mgr.ClientOption(ctx, userID, Scopes)
	if err != nil {
		return nil, err
	}
	svc, err := gmailapi.NewService(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("creating Gmail service: %w", err)
	}
	return &gmailMail{
		svc: svc,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "gmail:" + userID,
			Timeout: 60 * time.Second,
		}),
	}, nil
}

type gmailMail struct {
	svc *gmailapi.Service
	cb  *gobreaker.CircuitBreaker
}

// call runs fn under the per-call deadline and the circuit breaker, mapping
// retryable Gmail errors to the transient kind.
func (g *gmailMail) call(ctx context.Context, fn func(ctx context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()
	_, err := g.cb.Execute(func() (any, error) {
		return nil, fn(cctx)
	})
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %v", model.ErrTransient, err)
	}
	return err
}

func isTransient(err error) bool {
	if gerr, ok := err.(*googleapi.Error); ok {
		return gerr.Code == 429 || gerr.Code >= 500
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return true
	}
	return false
}

func (g *gmailMail) BatchModify(ctx context.Context, messageIDs, addLabels, removeLabels []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	return g.call(ctx, func(ctx context.Context) error {
		req := &gmailapi.BatchModifyMessagesRequest{
			Ids:            messageIDs,
			AddLabelIds:    addLabels,
			RemoveLabelIds: removeLabels,
		}
		if err := g.svc.Users.Messages.BatchModify("me", req).Context(ctx).Do(); err != nil {
			return fmt.Errorf("batch modifying %d messages: %w", len(messageIDs), err)
		}
		return nil
	})
}

func (g *gmailMail) Modify(ctx context.Context, messageID string, addLabels, removeLabels []string) error {
	return g.call(ctx, func(ctx context.Context) error {
		req := &gmailapi.ModifyMessageRequest{
			AddLabelIds:    addLabels,
			RemoveLabelIds: removeLabels,
		}
		if _, err := g.svc.Users.Messages.Modify("me", messageID, req).Context(ctx).Do(); err != nil {
			return fmt.Errorf("modifying message %s: %w", messageID, err)
		}
		return nil
	})
}

func (g *gmailMail) Trash(ctx context.Context, messageIDs []string) error {
	for _, id := range messageIDs {
		err := g.call(ctx, func(ctx context.Context) error {
			if _, err := g.svc.Users.Messages.Trash("me", id).Context(ctx).Do(); err != nil {
				return fmt.Errorf("trashing message %s: %w", id, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (g *gmailMail) Delete(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	return g.call(ctx, func(ctx context.Context) error {
		req := &gmailapi.BatchDeleteMessagesRequest{Ids: messageIDs}
		if err := g.svc.Users.Messages.BatchDelete("me", req).Context(ctx).Do(); err != nil {
			return fmt.Errorf("batch deleting %d messages: %w", len(messageIDs), err)
		}
		return nil
	})
}

func (g *gmailMail) PurgeTrash(ctx context.Context) (int, error) {
	ids, err := g.ListIDs(ctx, "in:trash", 500)
	if err != nil {
		return 0, err
	}
	purged := 0
	for len(ids) > 0 {
		if err := g.Delete(ctx, ids); err != nil {
			return purged, err
		}
		purged += len(ids)
		ids, err = g.ListIDs(ctx, "in:trash", 500)
		if err != nil {
			return purged, err
		}
	}
	return purged, nil
}

func (g *gmailMail) GetMetadata(ctx context.Context, messageID string) (*MessageMeta, error) {
	var msg *gmailapi.Message
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		msg, err = g.svc.Users.Messages.Get("me", messageID).
			Format("metadata").
			MetadataHeaders("Subject", "From", "To", "Cc", "Date").
			Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("getting message %s: %w", messageID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return metaFromMessage(msg), nil
}

func (g *gmailMail) ListIDs(ctx context.Context, query string, max int64) ([]string, error) {
	if max <= 0 {
		max = 100
	}
	var ids []string
	err := g.call(ctx, func(ctx context.Context) error {
		pageToken := ""
		for {
			call := g.svc.Users.Messages.List("me").Q(query).MaxResults(min64(max-int64(len(ids)), 500)).Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			resp, err := call.Do()
			if err != nil {
				return fmt.Errorf("listing messages: %w", err)
			}
			for _, m := range resp.Messages {
				ids = append(ids, m.Id)
			}
			if resp.NextPageToken == "" || int64(len(ids)) >= max {
				return nil
			}
			pageToken = resp.NextPageToken
		}
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func metaFromMessage(msg *gmailapi.Message) *MessageMeta {
	meta := &MessageMeta{
		ID:        msg.Id,
		ThreadID:  msg.ThreadId,
		SizeBytes: msg.SizeEstimate,
		Labels:    msg.LabelIds,
		Snippet:   msg.Snippet,
	}
	if msg.InternalDate > 0 {
		meta.Date = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "Subject":
				meta.Subject = h.Value
			case "From":
				meta.Sender = normalizeAddress(h.Value)
			case "To", "Cc":
				for _, addr := range strings.Split(h.Value, ",") {
					if a := normalizeAddress(addr); a != "" {
						meta.Recipients = append(meta.Recipients, a)
					}
				}
			}
		}
		meta.HasAttachments = hasAttachmentParts(msg.Payload)
	}
	return meta
}

// hasAttachmentParts walks the payload tree looking for a named attachment.
func hasAttachmentParts(part *gmailapi.MessagePart) bool {
	if part == nil {
		return false
	}
	if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
		return true
	}
	for _, p := range part.Parts {
		if hasAttachmentParts(p) {
			return true
		}
	}
	return false
}

// normalizeAddress extracts the bare lowercase address from a header value.
func normalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if a, err := mail.ParseAddress(s); err == nil {
		return strings.ToLower(a.Address)
	}
	return strings.ToLower(s)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
