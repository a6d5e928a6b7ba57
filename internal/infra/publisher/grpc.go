package publisher

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vietddude/relay/internal/core/domain"
)

// Full method names of the publisher service. Payloads are
// google.protobuf.Struct in both directions.
const (
	ServiceName    = "relay.publisher.v1.Publisher"
	ValidateMethod = "/" + ServiceName + "/Validate"
	PostMethod     = "/" + ServiceName + "/Post"
)

// GRPCClient talks to a publisher service over gRPC.
type GRPCClient struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	limiter *rate.Limiter
}

// NewGRPCClient creates a client for cfg.GRPCAddr. Extra dial options are
// appended after the transport credentials.
func NewGRPCClient(cfg Config, extra ...grpc.DialOption) (*GRPCClient, error) {
	if cfg.GRPCAddr == "" {
		return nil, fmt.Errorf("publisher grpc_addr is required for grpc transport")
	}

	target := cfg.GRPCAddr
	var opts []grpc.DialOption
	if strings.HasPrefix(target, "https://") || strings.HasSuffix(target, ":443") {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}

	return &GRPCClient{
		conn:    conn,
		timeout: timeoutOrDefault(cfg.Timeout),
		limiter: newLimiter(cfg.RatePerSecond, cfg.Burst),
	}, nil
}

// Validate resolves a secret through the publisher service.
func (c *GRPCClient) Validate(
	ctx context.Context,
	secret, targetHint string,
	kind domain.CredentialKind,
) (domain.Identity, error) {
	req, err := structpb.NewStruct(map[string]any{
		"token":       secret,
		"target_hint": targetHint,
		"kind":        string(kind),
	})
	if err != nil {
		return domain.Identity{}, fmt.Errorf("failed to build request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.invoke(ctx, ValidateMethod, req, resp); err != nil {
		return domain.Identity{}, &APIError{Message: describe(status.Convert(err)), Code: int(status.Code(err))}
	}

	f := resp.GetFields()
	ident := domain.Identity{
		ID:          f["id"].GetStringValue(),
		DisplayName: f["name"].GetStringValue(),
		Kind:        domain.KindUser,
	}
	if f["category"].GetStringValue() != "" {
		ident.Kind = domain.KindPage
	}
	for _, v := range f["capabilities"].GetListValue().GetValues() {
		ident.Capabilities = append(ident.Capabilities, v.GetStringValue())
	}
	if ident.DisplayName == "" {
		return domain.Identity{}, fmt.Errorf("identity has no name")
	}
	if kind == domain.KindPage && ident.Kind != domain.KindPage {
		return domain.Identity{}, fmt.Errorf("credential is not a page")
	}
	return ident, nil
}

// Post publishes message on target.
func (c *GRPCClient) Post(
	ctx context.Context,
	target, message string,
	cred domain.Credential,
) domain.PostResult {
	req, err := structpb.NewStruct(map[string]any{
		"token":   cred.Secret,
		"target":  target,
		"message": message,
	})
	if err != nil {
		return domain.PostResult{ErrorMessage: fmt.Sprintf("failed to build request: %v", err)}
	}

	resp := &structpb.Struct{}
	if err := c.invoke(ctx, PostMethod, req, resp); err != nil {
		st := status.Convert(err)
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
			return domain.PostResult{Transport: true, ErrorMessage: st.Message(), ErrorCode: int(st.Code())}
		}
		return domain.PostResult{ErrorMessage: describe(st), ErrorCode: int(st.Code())}
	}

	id := resp.GetFields()["id"].GetStringValue()
	if id == "" {
		return domain.PostResult{ErrorMessage: "Unknown error (empty response)"}
	}
	return domain.PostResult{OK: true, PostID: id}
}

// Close closes the underlying connection.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) invoke(ctx context.Context, method string, req, resp *structpb.Struct) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return status.FromContextError(err).Err()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.conn.Invoke(ctx, method, req, resp)
}

// describe joins the status message with any ErrorInfo reasons so the
// classifier sees everything the server said.
func describe(st *status.Status) string {
	msg := st.Message()
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetReason() != "" {
			msg += " (" + strings.ToLower(strings.ReplaceAll(info.GetReason(), "_", " ")) + ")"
		}
	}
	return msg
}
