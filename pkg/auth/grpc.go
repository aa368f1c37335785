package auth

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor returns a gRPC unary server interceptor that
// verifies the gateway's session token from incoming request metadata and
// stores the resulting [SessionClaims] in the handler context.
//
// If no authorization metadata is present or the token is invalid, the
// interceptor returns a gRPC Unauthenticated error. Verification detail is
// never echoed in the status message.
func UnaryServerInterceptor(verifier *SessionVerifier) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := sessionFromGRPC(ctx, verifier)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor returns a gRPC stream server interceptor that
// performs the same session verification as [UnaryServerInterceptor] and
// wraps the stream to carry the enriched context.
func StreamServerInterceptor(verifier *SessionVerifier) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := sessionFromGRPC(ss.Context(), verifier)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// sessionFromGRPC extracts the bearer token from incoming gRPC metadata,
// verifies it, and enriches the context with the session claims.
func sessionFromGRPC(ctx context.Context, verifier *SessionVerifier) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, status.Error(codes.Unauthenticated, "missing metadata")
	}

	tokens := md.Get(HeaderAuthorization)
	if len(tokens) == 0 {
		return ctx, status.Error(codes.Unauthenticated, "missing authorization metadata")
	}
	token := ExtractBearerToken(tokens[0])
	if token == "" {
		return ctx, status.Error(codes.Unauthenticated, "invalid authorization format")
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		return ctx, status.Error(codes.Unauthenticated, "session token verification failed")
	}

	return ContextWithSession(ctx, claims), nil
}

// wrappedServerStream wraps a grpc.ServerStream to override its Context
// method. This is necessary because ServerStream.Context() returns the
// original stream context, which does not contain the session added by the
// interceptor.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context containing the session claims.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
