package consumer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ventelive/livebridge/event"
)

// Customer is the record the surrounding application keeps per viewer.
type Customer struct {
	ID              int64
	PlatformID      string
	DisplayName     string
	Phone           string
	PlatformSourced bool
}

// CustomerStore is the external data-store collaborator. Lookups use the
// normalized platform identity.
type CustomerStore interface {
	GetByPlatformID(ctx context.Context, platformID string) (*Customer, error)
	Create(ctx context.Context, c *Customer) error
}

// NormalizeIdentity canonicalizes a platform sender id for lookup.
func NormalizeIdentity(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// resolveCustomer looks the sender up and creates a platform-sourced
// record when none exists. This auto-creation is a documented side effect
// of consuming chat, not an implementation detail. Store failures are
// logged and never interrupt event handling.
func (c *Consumer) resolveCustomer(chat event.Chat) {
	platformID := NormalizeIdentity(chat.SenderID)
	if platformID == "" {
		return
	}
	existing, err := c.store.GetByPlatformID(c.ctx, platformID)
	if err != nil {
		slog.Warn("customer lookup failed", slog.String("platform_id", platformID), slog.Any("err", err), slog.String("component", "consumer"))
		return
	}
	if existing != nil {
		return
	}
	name := chat.DisplayName
	if name == "" {
		name = platformID
	}
	cust := &Customer{
		PlatformID:      platformID,
		DisplayName:     name,
		PlatformSourced: true,
	}
	if err := c.store.Create(c.ctx, cust); err != nil {
		slog.Warn("customer auto-create failed", slog.String("platform_id", platformID), slog.Any("err", err), slog.String("component", "consumer"))
		return
	}
	slog.Info("customer auto-created from chat", slog.String("platform_id", platformID), slog.String("display_name", name), slog.String("component", "consumer"))
}
