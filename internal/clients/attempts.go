package clients

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	hasAnyAttemptMethod = "/psychometric.attempts.v1.AttemptQueryService/HasAnyAttempt"
	serviceTokenHeader  = "x-service-token"
)

// AttemptClient asks the attempt service whether a session has been used.
type AttemptClient struct {
	conn         *grpc.ClientConn
	serviceToken string
}

func NewAttemptClient(conn *grpc.ClientConn, serviceToken string) *AttemptClient {
	return &AttemptClient{conn: conn, serviceToken: serviceToken}
}

func DialAttempts(ctx context.Context, addr, serviceToken string, timeout time.Duration) (*AttemptClient, error) {
	conn, err := dial(ctx, addr, timeout)
	if err != nil {
		return nil, err
	}
	return NewAttemptClient(conn, serviceToken), nil
}

func (c *AttemptClient) HasAnyAttempt(ctx context.Context, sessionID string) (bool, error) {
	if c.serviceToken != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, serviceTokenHeader, c.serviceToken)
	}
	out := &wrapperspb.BoolValue{}
	if err := c.conn.Invoke(ctx, hasAnyAttemptMethod, wrapperspb.String(sessionID), out); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

func (c *AttemptClient) Close() {
	if c == nil || c.conn == nil {
		return
	}
	_ = c.conn.Close()
}

func dial(ctx context.Context, addr string, timeout time.Duration) (*grpc.ClientConn, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}
