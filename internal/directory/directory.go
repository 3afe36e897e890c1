// Package directory resolves publisher ids to display names.
package directory

import (
	"chatline/internal/models"
	"context"
	"errors"
	"time"

	"github.com/c-pro/geche"
	"github.com/rs/zerolog"
)

type Lookup interface {
	ClientInfo(ctx context.Context, workspaceID, clientID string) (models.ClientInfo, error)
}

// Resolver caches names for ttl. Lookup failures fall back to the raw id;
// unknown ids are cached as themselves so they are not fetched again.
type Resolver struct {
	workspaceID string
	lookup      Lookup
	names       geche.Geche[string, string]
	log         zerolog.Logger
}

func NewResolver(ctx context.Context, lookup Lookup, workspaceID string, ttl time.Duration, log zerolog.Logger) *Resolver {
	return &Resolver{
		workspaceID: workspaceID,
		lookup:      lookup,
		names:       geche.NewMapTTLCache[string, string](ctx, ttl, time.Minute),
		log:         log.With().Str("component", "directory").Logger(),
	}
}

// Name returns the display name of publisher, or publisher itself when it cannot be resolved.
func (r *Resolver) Name(ctx context.Context, publisher string) string {
	if publisher == "" {
		return ""
	}
	if name, err := r.names.Get(publisher); err == nil {
		return name
	}

	info, err := r.lookup.ClientInfo(ctx, r.workspaceID, publisher)
	switch {
	case errors.Is(err, models.ErrNotFound):
		r.names.Set(publisher, publisher)
		return publisher
	case err != nil:
		r.log.Warn().Err(err).Str("publisher", publisher).Msg("publisher lookup failed")
		return publisher
	}

	name := info.Name
	if name == "" {
		name = publisher
	}
	r.names.Set(publisher, name)
	return name
}

// Names resolves every distinct publisher of msgs.
func (r *Resolver) Names(ctx context.Context, msgs []models.ChatMessage) map[string]string {
	out := make(map[string]string)
	for _, m := range msgs {
		if _, ok := out[m.Publisher]; ok {
			continue
		}
		out[m.Publisher] = r.Name(ctx, m.Publisher)
	}
	return out
}
