package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/panyam/possession"
)

// TokenProvider supplies access tokens. *client.Session implements it.
type TokenProvider interface {
	// AccessToken returns a usable token, refreshing first if it is expiring
	AccessToken(ctx context.Context) (string, error)

	// Refresh returns a token to replace stale, the one the server just
	// rejected. A provider may hand back a token another refresh already stored.
	Refresh(ctx context.Context, stale string) (string, error)
}

// bearerCredentials implements credentials.PerRPCCredentials
type bearerCredentials struct {
	tp         TokenProvider
	requireTLS bool
}

// PerRPCCredentials attaches the session's bearer token to every RPC.
// It does not retry on Unauthenticated; use the client interceptors for that.
func PerRPCCredentials(tp TokenProvider, requireTLS bool) credentials.PerRPCCredentials {
	return &bearerCredentials{tp: tp, requireTLS: requireTLS}
}

func (c *bearerCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	token, err := c.tp.AccessToken(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	return map[string]string{MetadataKeyAuthorization: "Bearer " + token}, nil
}

func (c *bearerCredentials) RequireTransportSecurity() bool {
	return c.requireTLS
}

// withBearer returns ctx with the authorization metadata set to token,
// replacing any earlier value
func withBearer(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	md.Set(MetadataKeyAuthorization, "Bearer "+token)
	return metadata.NewOutgoingContext(ctx, md)
}

func isUnauthenticated(err error) bool {
	return status.Code(err) == codes.Unauthenticated
}

// UnaryClientInterceptor attaches the bearer token and, when the server
// answers Unauthenticated, refreshes and retries the call exactly once.
func UnaryClientInterceptor(tp TokenProvider) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		token, err := tp.AccessToken(ctx)
		if err != nil {
			return status.Error(codes.Unauthenticated, err.Error())
		}

		err = invoker(withBearer(ctx, token), method, req, reply, cc, opts...)
		if !isUnauthenticated(err) {
			return err
		}

		fresh, rerr := tp.Refresh(ctx, token)
		if rerr != nil {
			return err
		}
		return invoker(withBearer(ctx, fresh), method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor attaches the bearer token to new streams. A stream
// that fails to open with Unauthenticated is opened once more after a refresh.
func StreamClientInterceptor(tp TokenProvider) grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		token, err := tp.AccessToken(ctx)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}

		cs, err := streamer(withBearer(ctx, token), desc, cc, method, opts...)
		if !isUnauthenticated(err) {
			return cs, err
		}

		fresh, rerr := tp.Refresh(ctx, token)
		if rerr != nil {
			return nil, err
		}
		return streamer(withBearer(ctx, fresh), desc, cc, method, opts...)
	}
}

// VerifyFunc checks an access token and returns its user
type VerifyFunc func(ctx context.Context, token string) (*possession.UserProfile, error)

// InterceptorConfig configures the server-side auth interceptors.
type InterceptorConfig struct {
	// Verify checks bearer tokens. Required.
	Verify VerifyFunc

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed but ProfileFromContext returns nil.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool
}

// NewInterceptorConfig returns a config that requires auth for all methods
// except publicMethods.
func NewInterceptorConfig(verify VerifyFunc, publicMethods ...string) *InterceptorConfig {
	config := &InterceptorConfig{
		Verify:        verify,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// authenticate verifies the bearer token on ctx and stores the profile
func (c *InterceptorConfig) authenticate(ctx context.Context, method string) (context.Context, error) {
	token := BearerFromContext(ctx)
	if token != "" && c.Verify != nil {
		user, err := c.Verify(ctx, token)
		if err == nil && user != nil {
			return ContextWithProfile(ctx, user), nil
		}
	}
	if c.RequireAuth && !c.PublicMethods[method] {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	return ctx, nil
}

// UnaryServerInterceptor verifies bearer tokens on incoming unary calls.
func UnaryServerInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := config.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor verifies bearer tokens on incoming streams.
func StreamServerInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }
