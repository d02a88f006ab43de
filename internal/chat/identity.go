package chat

import "context"

// Identity is the verified claim set of an identity-provider token.
type Identity struct {
	// Subject is the provider's stable user id.
	Subject string
	Email   string
	Name    string
	Avatar  string
}

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	if !ok || id.Subject == "" {
		return Identity{}, false
	}
	return id, true
}
