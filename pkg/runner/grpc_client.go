package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// wireRequest/wireChunk are the JSON-over-gRPC payloads exchanged with the
// agent sidecar. They stand in for the generated .proto messages the
// teacher's GRPCLLMClient uses (llmv1.GenerateRequest / GenerateResponse);
// see jsonCodec for why this package defines its own wire types instead.
type wireRequest struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Query     string `json:"query"`
	Effort    string `json:"effort"`
	TraceID   string `json:"trace_id"`
}

type wireChunk struct {
	Kind    string     `json:"kind"` // thinking | tool_call | tool_result | final | error
	Content string     `json:"content,omitempty"`
	Final   *wireFinal `json:"final,omitempty"`
	Error   string     `json:"error,omitempty"`
}

type wireFinal struct {
	Reasoning  string   `json:"reasoning"`
	Conclusion string   `json:"conclusion"`
	Confidence float64  `json:"confidence"`
	TokensUsed int      `json:"tokens_used"`
	DurationMS int64    `json:"duration_ms"`
	NodeIDs    []string `json:"node_ids"`
}

// runMethod is the fully qualified gRPC method path. There is no .proto
// file in this pack to generate it from, so it is declared by hand,
// matching the package/service naming original_source's agent sidecar
// would expose if it spoke gRPC instead of being called in-process.
const runMethod = "/opusnx.agent.v1.AgentRunner/RunTurn"

// GRPCRunner implements Runner by calling an out-of-process agent sidecar
// over gRPC, generalizing the teacher's GRPCLLMClient (pkg/agent/llm_grpc.go)
// from a Gemini-specific Generate() call to the role-parameterized turn
// contract this package defines.
type GRPCRunner struct {
	conn *grpc.ClientConn
}

// NewGRPCRunner dials addr with plaintext transport, matching the teacher's
// own insecure-sidecar assumption, and forces the JSON codec since no
// generated protobuf stubs are available.
func NewGRPCRunner(addr string) (*GRPCRunner, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent runner client for %s: %w", addr, err)
	}
	return &GRPCRunner{conn: conn}, nil
}

// Close releases the gRPC connection.
func (c *GRPCRunner) Close() error {
	return c.conn.Close()
}

// Run opens a server-streaming RPC and pumps thinking chunks onto progress
// until a final or error chunk arrives, at which point it delivers exactly
// one TurnOutcome and returns.
func (c *GRPCRunner) Run(ctx context.Context, inv Invocation) (<-chan ProgressEvent, <-chan TurnOutcome) {
	progress := make(chan ProgressEvent, 32)
	outcome := make(chan TurnOutcome, 1)

	go func() {
		defer close(progress)
		defer close(outcome)

		start := time.Now()
		desc := &grpc.StreamDesc{StreamName: "RunTurn", ServerStreams: true}
		stream, err := c.conn.NewStream(ctx, desc, runMethod)
		if err != nil {
			outcome <- TurnOutcome{Err: fmt.Errorf("agent runner stream open failed: %w", err)}
			return
		}

		req := wireRequest{
			SessionID: inv.SessionID,
			Role:      inv.Role,
			Query:     inv.Query,
			Effort:    string(inv.Effort),
			TraceID:   inv.TraceID,
		}
		if err := stream.SendMsg(&req); err != nil {
			outcome <- TurnOutcome{Err: fmt.Errorf("agent runner send failed: %w", err)}
			return
		}
		if err := stream.CloseSend(); err != nil {
			outcome <- TurnOutcome{Err: fmt.Errorf("agent runner close-send failed: %w", err)}
			return
		}

		for {
			var chunk wireChunk
			if err := stream.RecvMsg(&chunk); err != nil {
				if errors.Is(err, io.EOF) {
					outcome <- TurnOutcome{Err: errors.New("agent runner stream closed before a final chunk")}
					return
				}
				outcome <- TurnOutcome{Err: fmt.Errorf("agent runner recv failed: %w", err)}
				return
			}

			switch chunk.Kind {
			case "thinking", "tool_call", "tool_result":
				select {
				case progress <- ProgressEvent{Kind: chunk.Kind, Content: chunk.Content}:
				case <-ctx.Done():
					outcome <- TurnOutcome{Err: ctx.Err()}
					return
				}
			case "final":
				f := chunk.Final
				if f == nil {
					outcome <- TurnOutcome{Err: errors.New("agent runner sent a final chunk with no payload")}
					return
				}
				outcome <- TurnOutcome{Result: &TurnResult{
					Reasoning:  f.Reasoning,
					Conclusion: f.Conclusion,
					Confidence: f.Confidence,
					TokensUsed: f.TokensUsed,
					Duration:   time.Since(start),
					NodeIDs:    f.NodeIDs,
				}}
				return
			case "error":
				outcome <- TurnOutcome{Err: fmt.Errorf("agent runner reported an error: %s", chunk.Error)}
				return
			default:
				outcome <- TurnOutcome{Err: fmt.Errorf("agent runner sent an unrecognized chunk kind %q", chunk.Kind)}
				return
			}
		}
	}()

	return progress, outcome
}
