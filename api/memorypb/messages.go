package memorypb

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

type AppendMessageRequest struct {
	OwnerID        string `json:"owner_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"` // empty starts a new conversation
	Role           string `json:"role"`
	Content        string `json:"content"`
}

type AppendMessageResponse struct {
	ConversationID string `json:"conversation_id"`
	Enqueued       bool   `json:"enqueued"`
}

type EnqueueRequest struct {
	OwnerID        string `json:"owner_id,omitempty"`
	ConversationID string `json:"conversation_id"`
}

type EnqueueResponse struct {
	Item    QueueItem `json:"item"`
	Created bool      `json:"created"`
}

type SearchRequest struct {
	OwnerID string `json:"owner_id,omitempty"`
	Query   string `json:"query"`
	Limit   int    `json:"limit,omitempty"`
}

type SearchResponse struct {
	Results []SearchHit `json:"results"`
}

type SearchHit struct {
	Fact  Fact    `json:"fact"`
	Score float64 `json:"score"`
}

type RememberRequest struct {
	OwnerID  string   `json:"owner_id,omitempty"`
	Content  string   `json:"content"`
	Kind     string   `json:"kind,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

type RememberResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type CoreProfileRequest struct {
	OwnerID string `json:"owner_id,omitempty"`
}

type CoreProfileResponse struct {
	Blocks   []CoreBlock `json:"blocks"`
	Rendered string      `json:"rendered"`
}

type CoreBlock struct {
	Label     string `json:"label"`
	Content   string `json:"content"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type ListFactsRequest struct {
	OwnerID            string `json:"owner_id,omitempty"`
	IncludeInvalidated bool   `json:"include_invalidated,omitempty"`
	HistoryOnly        bool   `json:"history_only,omitempty"`
	Limit              int    `json:"limit,omitempty"`
}

type ListFactsResponse struct {
	Facts []Fact `json:"facts"`
}

// Fact is the wire form of a stored fact. Times are RFC 3339.
type Fact struct {
	ID                   string   `json:"id"`
	Content              string   `json:"content"`
	Kind                 string   `json:"kind"`
	Keywords             []string `json:"keywords,omitempty"`
	ValidFrom            string   `json:"valid_from"`
	InvalidFrom          string   `json:"invalid_from,omitempty"`
	SourceConversationID string   `json:"source_conversation_id,omitempty"`
}

type QueueStatusRequest struct {
	OwnerID string `json:"owner_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type QueueStatusResponse struct {
	Counts map[string]int `json:"counts"`
	Items  []QueueItem    `json:"items"`
}

type QueueItem struct {
	ID             string `json:"id"`
	OwnerID        string `json:"owner_id"`
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
	CreatedAt      string `json:"created_at"`
	ProcessedAt    string `json:"processed_at,omitempty"`
}

type DrainRequest struct{}

type DrainResponse struct {
	Fetched   int `json:"fetched"`
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

type InfoRequest struct{}

type InfoResponse struct {
	Version           string `json:"version"`
	StartedAt         string `json:"started_at"`
	Uptime            string `json:"uptime"`
	Index             string `json:"index"`
	EmbeddingProvider string `json:"embedding_provider"`
	ExtractionModel   string `json:"extraction_model"`
	DecisionModel     string `json:"decision_model"`
	DefaultOwner      string `json:"default_owner"`
}

// Encode converts a message to a Struct through its JSON form.
func Encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal %T: %w", v, err)
	}
	return structpb.NewStruct(m)
}

// Decode fills out from a Struct. A nil Struct leaves out untouched.
func Decode(s *structpb.Struct, out any) error {
	if s == nil {
		return nil
	}
	raw, err := s.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal struct: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %T: %w", out, err)
	}
	return nil
}

// Client is a typed wrapper around MemoryServiceClient.
type Client struct {
	raw MemoryServiceClient
}

// NewClient creates a typed client over cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{raw: NewMemoryServiceClient(cc)}
}

func invoke[Req, Resp any](ctx context.Context, c *Client, method string, req Req, opts []grpc.CallOption) (*Resp, error) {
	in, err := Encode(req)
	if err != nil {
		return nil, err
	}
	out, err := c.raw.Call(ctx, method, in, opts...)
	if err != nil {
		return nil, err
	}
	resp := new(Resp)
	if err := Decode(out, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) AppendMessage(ctx context.Context, req AppendMessageRequest, opts ...grpc.CallOption) (*AppendMessageResponse, error) {
	return invoke[AppendMessageRequest, AppendMessageResponse](ctx, c, MethodAppendMessage, req, opts)
}

func (c *Client) Enqueue(ctx context.Context, req EnqueueRequest, opts ...grpc.CallOption) (*EnqueueResponse, error) {
	return invoke[EnqueueRequest, EnqueueResponse](ctx, c, MethodEnqueue, req, opts)
}

func (c *Client) Search(ctx context.Context, req SearchRequest, opts ...grpc.CallOption) (*SearchResponse, error) {
	return invoke[SearchRequest, SearchResponse](ctx, c, MethodSearch, req, opts)
}

func (c *Client) Remember(ctx context.Context, req RememberRequest, opts ...grpc.CallOption) (*RememberResponse, error) {
	return invoke[RememberRequest, RememberResponse](ctx, c, MethodRemember, req, opts)
}

func (c *Client) CoreProfile(ctx context.Context, req CoreProfileRequest, opts ...grpc.CallOption) (*CoreProfileResponse, error) {
	return invoke[CoreProfileRequest, CoreProfileResponse](ctx, c, MethodCoreProfile, req, opts)
}

func (c *Client) ListFacts(ctx context.Context, req ListFactsRequest, opts ...grpc.CallOption) (*ListFactsResponse, error) {
	return invoke[ListFactsRequest, ListFactsResponse](ctx, c, MethodListFacts, req, opts)
}

func (c *Client) QueueStatus(ctx context.Context, req QueueStatusRequest, opts ...grpc.CallOption) (*QueueStatusResponse, error) {
	return invoke[QueueStatusRequest, QueueStatusResponse](ctx, c, MethodQueueStatus, req, opts)
}

func (c *Client) Drain(ctx context.Context, opts ...grpc.CallOption) (*DrainResponse, error) {
	return invoke[DrainRequest, DrainResponse](ctx, c, MethodDrain, DrainRequest{}, opts)
}

func (c *Client) Info(ctx context.Context, opts ...grpc.CallOption) (*InfoResponse, error) {
	return invoke[InfoRequest, InfoResponse](ctx, c, MethodInfo, InfoRequest{}, opts)
}
