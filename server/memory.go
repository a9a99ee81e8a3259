package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aschepis/backscratcher/recall/api/memorypb"
	"github.com/aschepis/backscratcher/recall/conversations"
	"github.com/aschepis/backscratcher/recall/memory"
	"github.com/samber/lo"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// handle decodes the request, runs fn and encodes its response.
func handle[Req, Resp any](ctx context.Context, in *structpb.Struct, fn func(context.Context, Req) (Resp, error)) (*structpb.Struct, error) {
	var req Req
	if err := memorypb.Decode(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	resp, err := fn(ctx, req)
	if err != nil {
		return nil, err
	}
	out, err := memorypb.Encode(resp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// toStatus maps domain errors to gRPC codes.
func toStatus(err error, what string) error {
	switch {
	case errors.Is(err, conversations.ErrConversationNotFound), errors.Is(err, memory.ErrFactNotFound):
		return status.Errorf(codes.NotFound, "%s: %v", what, err)
	case errors.Is(err, conversations.ErrOwnerMismatch):
		return status.Errorf(codes.PermissionDenied, "%s: %v", what, err)
	case errors.Is(err, conversations.ErrInvalidRole),
		errors.Is(err, memory.ErrInvalidKind),
		errors.Is(err, memory.ErrInvalidLabel),
		errors.Is(err, memory.ErrEmptyContent):
		return status.Errorf(codes.InvalidArgument, "%s: %v", what, err)
	case errors.Is(err, memory.ErrQueueStopped):
		return status.Errorf(codes.Unavailable, "%s: %v", what, err)
	case errors.Is(err, context.Canceled):
		return status.Errorf(codes.Canceled, "%s: %v", what, err)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "%s: %v", what, err)
	default:
		return status.Errorf(codes.Internal, "%s: %v", what, err)
	}
}

func (s *Server) owner(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return s.defaultOwner
}

// AppendMessage records a turn, creating the conversation when no id is given.
func (s *Server) AppendMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, s.appendMessage)
}

func (s *Server) appendMessage(ctx context.Context, req memorypb.AppendMessageRequest) (memorypb.AppendMessageResponse, error) {
	var resp memorypb.AppendMessageResponse
	if strings.TrimSpace(req.Content) == "" {
		return resp, status.Error(codes.InvalidArgument, "content is required")
	}
	if req.Role == "" {
		return resp, status.Error(codes.InvalidArgument, "role is required")
	}
	owner := s.owner(req.OwnerID)

	convID := req.ConversationID
	if convID == "" {
		conv, err := s.conversations.Create(ctx, owner)
		if err != nil {
			return resp, toStatus(err, "create conversation")
		}
		convID = conv.ID
	} else if err := s.conversations.Ensure(ctx, convID, owner); err != nil {
		return resp, toStatus(err, "conversation")
	}

	enqueued, err := s.service.RecordTurn(ctx, owner, convID, req.Role, req.Content)
	if err != nil {
		return resp, toStatus(err, "append message")
	}
	return memorypb.AppendMessageResponse{ConversationID: convID, Enqueued: enqueued}, nil
}

// Enqueue schedules extraction for a conversation.
func (s *Server) Enqueue(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req memorypb.EnqueueRequest) (memorypb.EnqueueResponse, error) {
		if req.ConversationID == "" {
			return memorypb.EnqueueResponse{}, status.Error(codes.InvalidArgument, "conversation_id is required")
		}
		owner := s.owner(req.OwnerID)
		if err := s.conversations.Ensure(ctx, req.ConversationID, owner); err != nil {
			return memorypb.EnqueueResponse{}, toStatus(err, "conversation")
		}
		item, created, err := s.service.Enqueue(ctx, owner, req.ConversationID)
		if err != nil {
			return memorypb.EnqueueResponse{}, toStatus(err, "enqueue")
		}
		return memorypb.EnqueueResponse{Item: queueItemToProto(item), Created: created}, nil
	})
}

// Search embeds the query server side and returns the nearest active facts.
func (s *Server) Search(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req memorypb.SearchRequest) (memorypb.SearchResponse, error) {
		if strings.TrimSpace(req.Query) == "" {
			return memorypb.SearchResponse{}, status.Error(codes.InvalidArgument, "query is required")
		}
		results, err := s.service.SearchText(ctx, s.owner(req.OwnerID), req.Query, req.Limit)
		if err != nil {
			return memorypb.SearchResponse{}, toStatus(err, "search")
		}
		return memorypb.SearchResponse{
			Results: lo.Map(results, func(r memory.SearchResult, _ int) memorypb.SearchHit {
				return memorypb.SearchHit{Fact: factToProto(r.Fact), Score: r.Score}
			}),
		}, nil
	})
}

// Remember stores a fact directly, bypassing extraction.
func (s *Server) Remember(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req memorypb.RememberRequest) (memorypb.RememberResponse, error) {
		kind := req.Kind
		if kind == "" {
			kind = string(memory.KindSemantic)
		}
		res := s.service.AddFromTool(ctx, s.owner(req.OwnerID), req.Content, kind, req.Keywords)
		return memorypb.RememberResponse{Success: res.Success, ID: res.ID, Reason: res.Reason}, nil
	})
}

// CoreProfile returns the owner's four core blocks.
func (s *Server) CoreProfile(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req memorypb.CoreProfileRequest) (memorypb.CoreProfileResponse, error) {
		blocks, err := s.service.CoreProfile(ctx, s.owner(req.OwnerID))
		if err != nil {
			return memorypb.CoreProfileResponse{}, toStatus(err, "core profile")
		}
		return memorypb.CoreProfileResponse{
			Blocks: lo.Map(blocks, func(b memory.CoreBlock, _ int) memorypb.CoreBlock {
				return memorypb.CoreBlock{Label: string(b.Label), Content: b.Content, UpdatedAt: formatTime(b.UpdatedAt)}
			}),
			Rendered: memory.RenderCoreProfile(blocks),
		}, nil
	})
}

// ListFacts lists an owner's facts. HistoryOnly restricts the result to
// invalidated facts.
func (s *Server) ListFacts(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req memorypb.ListFactsRequest) (memorypb.ListFactsResponse, error) {
		var facts []memory.Fact
		var err error
		if req.HistoryOnly {
			facts, err = s.service.History(ctx, s.owner(req.OwnerID), req.Limit)
		} else {
			facts, err = s.service.Facts(ctx, s.owner(req.OwnerID), req.IncludeInvalidated, req.Limit)
		}
		if err != nil {
			return memorypb.ListFactsResponse{}, toStatus(err, "list facts")
		}
		return memorypb.ListFactsResponse{Facts: lo.Map(facts, func(f memory.Fact, _ int) memorypb.Fact { return factToProto(f) })}, nil
	})
}

// QueueStatus reports queue counts and an owner's recent items.
func (s *Server) QueueStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req memorypb.QueueStatusRequest) (memorypb.QueueStatusResponse, error) {
		limit := req.Limit
		if limit <= 0 {
			limit = 20
		}
		counts, items, err := s.service.QueueStatus(ctx, s.owner(req.OwnerID), limit)
		if err != nil {
			return memorypb.QueueStatusResponse{}, toStatus(err, "queue status")
		}
		return memorypb.QueueStatusResponse{
			Counts: lo.MapKeys(counts, func(_ int, st memory.QueueStatus) string { return string(st) }),
			Items:  lo.Map(items, func(it memory.QueueItem, _ int) memorypb.QueueItem { return queueItemToProto(it) }),
		}, nil
	})
}

// Drain processes pending queue items now instead of waiting for the timer.
func (s *Server) Drain(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, _ memorypb.DrainRequest) (memorypb.DrainResponse, error) {
		stats, err := s.service.Drain(ctx)
		if err != nil {
			return memorypb.DrainResponse{}, toStatus(err, "drain")
		}
		return memorypb.DrainResponse{
			Fetched:   stats.Fetched,
			Claimed:   stats.Claimed,
			Completed: stats.Completed,
			Failed:    stats.Failed,
		}, nil
	})
}

// Info returns daemon status and version information.
func (s *Server) Info(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, _ memorypb.InfoRequest) (memorypb.InfoResponse, error) {
		s.mu.RLock()
		started := s.startedAt
		s.mu.RUnlock()
		return memorypb.InfoResponse{
			Version:           s.info.Version,
			StartedAt:         formatTime(started),
			Uptime:            time.Since(started).Truncate(time.Second).String(),
			Index:             s.info.Index,
			EmbeddingProvider: s.info.EmbeddingProvider,
			ExtractionModel:   s.info.ExtractionModel,
			DecisionModel:     s.info.DecisionModel,
			DefaultOwner:      s.defaultOwner,
		}, nil
	})
}

func factToProto(f memory.Fact) memorypb.Fact {
	out := memorypb.Fact{
		ID:                   f.ID,
		Content:              f.Content,
		Kind:                 string(f.Kind),
		Keywords:             f.Keywords,
		ValidFrom:            formatTime(f.ValidFrom),
		SourceConversationID: f.SourceConversationID,
	}
	if f.InvalidFrom != nil {
		out.InvalidFrom = formatTime(*f.InvalidFrom)
	}
	return out
}

func queueItemToProto(it memory.QueueItem) memorypb.QueueItem {
	out := memorypb.QueueItem{
		ID:             it.ID,
		OwnerID:        it.OwnerID,
		ConversationID: it.ConversationID,
		Status:         string(it.Status),
		Error:          it.Error,
		CreatedAt:      formatTime(it.CreatedAt),
	}
	if it.ProcessedAt != nil {
		out.ProcessedAt = formatTime(*it.ProcessedAt)
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
