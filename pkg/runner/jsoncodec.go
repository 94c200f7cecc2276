package runner

import "encoding/json"

// jsonCodec implements grpc/encoding.Codec over plain Go structs tagged with
// `json:"..."`. The teacher's GRPCLLMClient talks to a generated
// llmv1.LLMServiceClient built from a .proto file; that file (and the
// generated stubs it produces) are not part of this retrieval pack and
// protoc is not available to regenerate them. grpc.ForceCodec is a
// documented grpc-go extension point for exactly this situation: it lets a
// ClientConn use any wire encoding, not only protobuf, while keeping the
// rest of the gRPC transport (HTTP/2 framing, deadlines, status codes)
// unchanged. Name must not collide with "proto" or "json" in grpc's
// built-in codec registry, so calls using it are explicitly opted in via
// grpc.ForceCodec rather than picked up ambiently by content type.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return "opusnx-json" }
