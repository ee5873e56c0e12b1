package connect

import (
	"context"
	"crypto/subtle"

	"connectrpc.com/connect"
)

const (
	// ControlTokenHeader is the header name for the control token.
	ControlTokenHeader = "X-Control-Token"
)

// tokenInterceptor validates the control token on every unary and streaming
// call. An empty token disables the check.
type tokenInterceptor struct {
	token string
}

// NewControlTokenInterceptor creates an interceptor that validates the
// control token carried in ControlTokenHeader.
func NewControlTokenInterceptor(token string) connect.Interceptor {
	return &tokenInterceptor{token: token}
}

func (i *tokenInterceptor) authorized(got string) bool {
	if i.token == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(i.token)) == 1
}

func (i *tokenInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if !i.authorized(req.Header().Get(ControlTokenHeader)) {
			return nil, connect.NewError(connect.CodeUnauthenticated, nil)
		}
		return next(ctx, req)
	}
}

func (i *tokenInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *tokenInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		if !i.authorized(conn.RequestHeader().Get(ControlTokenHeader)) {
			return connect.NewError(connect.CodeUnauthenticated, nil)
		}
		return next(ctx, conn)
	}
}

// tokenSender attaches the control token to outgoing client calls.
type tokenSender struct {
	token string
}

// NewControlTokenSender creates a client interceptor that sends token in
// ControlTokenHeader.
func NewControlTokenSender(token string) connect.Interceptor {
	return &tokenSender{token: token}
}

func (s *tokenSender) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if s.token != "" {
			req.Header().Set(ControlTokenHeader, s.token)
		}
		return next(ctx, req)
	}
}

func (s *tokenSender) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		conn := next(ctx, spec)
		if s.token != "" {
			conn.RequestHeader().Set(ControlTokenHeader, s.token)
		}
		return conn
	}
}

func (s *tokenSender) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}
