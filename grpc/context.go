// Package grpc carries the POS session over gRPC: per-RPC bearer
// credentials and client interceptors that refresh and retry once on
// Unauthenticated, plus helpers for passing user context between services
// via metadata.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	"github.com/panyam/possession"
)

// Metadata keys for authentication context
const (
	// MetadataKeyAuthorization carries "Bearer <access token>"
	MetadataKeyAuthorization = "authorization"

	// DefaultMetadataKeyUserID is the default gRPC metadata key for the authenticated user ID
	DefaultMetadataKeyUserID = "x-user-id"

	// DefaultMetadataKeyTenantID is the default gRPC metadata key for the pharmacy (tenant) ID
	DefaultMetadataKeyTenantID = "x-tenant-id"

	// DefaultMetadataKeyRole is the default gRPC metadata key for the user's role
	DefaultMetadataKeyRole = "x-user-role"
)

// Config holds the metadata key configuration for user context.
type Config struct {
	MetadataKeyUserID   string
	MetadataKeyTenantID string
	MetadataKeyRole     string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyUserID:   DefaultMetadataKeyUserID,
		MetadataKeyTenantID: DefaultMetadataKeyTenantID,
		MetadataKeyRole:     DefaultMetadataKeyRole,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyUserID == "" {
		c.MetadataKeyUserID = DefaultMetadataKeyUserID
	}
	if c.MetadataKeyTenantID == "" {
		c.MetadataKeyTenantID = DefaultMetadataKeyTenantID
	}
	if c.MetadataKeyRole == "" {
		c.MetadataKeyRole = DefaultMetadataKeyRole
	}
}

func configOrDefault(config *Config) *Config {
	if config == nil {
		return DefaultConfig()
	}
	config.EnsureDefaults()
	return config
}

// ProfileToOutgoingContext adds the user's id, tenant and role to outgoing metadata.
// Empty fields are skipped.
func ProfileToOutgoingContext(ctx context.Context, user *possession.UserProfile) context.Context {
	return ProfileToOutgoingContextWithConfig(ctx, user, nil)
}

// ProfileToOutgoingContextWithConfig is ProfileToOutgoingContext with custom keys.
func ProfileToOutgoingContextWithConfig(ctx context.Context, user *possession.UserProfile, config *Config) context.Context {
	if user == nil {
		return ctx
	}
	config = configOrDefault(config)

	var kv []string
	if user.ID != "" {
		kv = append(kv, config.MetadataKeyUserID, user.ID)
	}
	if user.TenantID != "" {
		kv = append(kv, config.MetadataKeyTenantID, user.TenantID)
	}
	if user.Role != "" {
		kv = append(kv, config.MetadataKeyRole, string(user.Role.Normalize()))
	}
	if len(kv) == 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, kv...)
}

// UserIDFromContext extracts the user ID from incoming metadata.
// Returns empty string if there is none.
func UserIDFromContext(ctx context.Context) string {
	return incoming(ctx, DefaultMetadataKeyUserID)
}

// TenantIDFromContext extracts the tenant ID from incoming metadata.
func TenantIDFromContext(ctx context.Context) string {
	return incoming(ctx, DefaultMetadataKeyTenantID)
}

// RoleFromContext extracts the user's role from incoming metadata.
func RoleFromContext(ctx context.Context) possession.Role {
	return possession.Role(incoming(ctx, DefaultMetadataKeyRole)).Normalize()
}

// BearerFromContext extracts the bearer token from incoming metadata.
func BearerFromContext(ctx context.Context) string {
	v := incoming(ctx, MetadataKeyAuthorization)
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return v[7:]
	}
	return ""
}

func incoming(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

type profileKey struct{}

// ContextWithProfile stores a verified profile in ctx (server side).
func ContextWithProfile(ctx context.Context, user *possession.UserProfile) context.Context {
	return context.WithValue(ctx, profileKey{}, user)
}

// ProfileFromContext returns the profile stored by the server interceptors.
func ProfileFromContext(ctx context.Context) *possession.UserProfile {
	user, _ := ctx.Value(profileKey{}).(*possession.UserProfile)
	return user
}

// IsAuthenticated returns true if the server interceptors verified a user for ctx.
func IsAuthenticated(ctx context.Context) bool {
	return ProfileFromContext(ctx) != nil
}
