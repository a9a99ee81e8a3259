package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aschepis/backscratcher/recall/api/memorypb"
	"google.golang.org/grpc"
)

// memoryAPI is the part of memorypb.Client the commands use.
type memoryAPI interface {
	AppendMessage(ctx context.Context, req memorypb.AppendMessageRequest, opts ...grpc.CallOption) (*memorypb.AppendMessageResponse, error)
	Enqueue(ctx context.Context, req memorypb.EnqueueRequest, opts ...grpc.CallOption) (*memorypb.EnqueueResponse, error)
	Search(ctx context.Context, req memorypb.SearchRequest, opts ...grpc.CallOption) (*memorypb.SearchResponse, error)
	Remember(ctx context.Context, req memorypb.RememberRequest, opts ...grpc.CallOption) (*memorypb.RememberResponse, error)
	CoreProfile(ctx context.Context, req memorypb.CoreProfileRequest, opts ...grpc.CallOption) (*memorypb.CoreProfileResponse, error)
	ListFacts(ctx context.Context, req memorypb.ListFactsRequest, opts ...grpc.CallOption) (*memorypb.ListFactsResponse, error)
	QueueStatus(ctx context.Context, req memorypb.QueueStatusRequest, opts ...grpc.CallOption) (*memorypb.QueueStatusResponse, error)
	Drain(ctx context.Context, opts ...grpc.CallOption) (*memorypb.DrainResponse, error)
	Info(ctx context.Context, opts ...grpc.CallOption) (*memorypb.InfoResponse, error)
}

var _ memoryAPI = (*memorypb.Client)(nil)

type cli struct {
	api   memoryAPI
	owner string
	json  bool
	out   io.Writer
}

func (c *cli) run(ctx context.Context, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "append":
		return c.appendCmd(ctx, rest)
	case "enqueue":
		if len(rest) != 1 {
			return fmt.Errorf("usage: recall enqueue <conversation-id>")
		}
		resp, err := c.api.Enqueue(ctx, memorypb.EnqueueRequest{OwnerID: c.owner, ConversationID: rest[0]})
		if err != nil {
			return err
		}
		return c.print(resp, func() {
			state := "already pending"
			if resp.Created {
				state = "queued"
			}
			fmt.Fprintf(c.out, "%s %s (%s)\n", resp.Item.ID, state, resp.Item.ConversationID)
		})
	case "search":
		return c.searchCmd(ctx, rest)
	case "remember":
		return c.rememberCmd(ctx, rest)
	case "profile":
		resp, err := c.api.CoreProfile(ctx, memorypb.CoreProfileRequest{OwnerID: c.owner})
		if err != nil {
			return err
		}
		return c.print(resp, func() { fmt.Fprintln(c.out, resp.Rendered) })
	case "facts":
		return c.factsCmd(ctx, rest)
	case "queue":
		resp, err := c.api.QueueStatus(ctx, memorypb.QueueStatusRequest{OwnerID: c.owner})
		if err != nil {
			return err
		}
		return c.print(resp, func() {
			statuses := make([]string, 0, len(resp.Counts))
			for s := range resp.Counts {
				statuses = append(statuses, s)
			}
			sort.Strings(statuses)
			for _, s := range statuses {
				fmt.Fprintf(c.out, "%-11s %d\n", s, resp.Counts[s])
			}
			for _, it := range resp.Items {
				fmt.Fprintf(c.out, "%s  %-10s  %s  %s\n", it.CreatedAt, it.Status, it.ConversationID, it.Error)
			}
		})
	case "drain":
		resp, err := c.api.Drain(ctx)
		if err != nil {
			return err
		}
		return c.print(resp, func() {
			fmt.Fprintf(c.out, "fetched %d, claimed %d, completed %d, failed %d\n",
				resp.Fetched, resp.Claimed, resp.Completed, resp.Failed)
		})
	case "info":
		resp, err := c.api.Info(ctx)
		if err != nil {
			return err
		}
		return c.print(resp, func() {
			fmt.Fprintf(c.out, "recalld %s, up %s\n", resp.Version, resp.Uptime)
			fmt.Fprintf(c.out, "index:      %s\n", resp.Index)
			fmt.Fprintf(c.out, "embedding:  %s\n", resp.EmbeddingProvider)
			fmt.Fprintf(c.out, "extraction: %s\n", resp.ExtractionModel)
			fmt.Fprintf(c.out, "decision:   %s\n", resp.DecisionModel)
			fmt.Fprintf(c.out, "owner:      %s\n", resp.DefaultOwner)
		})
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (c *cli) appendCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("append", flag.ContinueOnError)
	conv := fs.String("conversation", "", "Conversation id (empty starts a new one)")
	role := fs.String("role", "user", "Turn role: user, assistant or system")
	if err := fs.Parse(args); err != nil {
		return err
	}
	content := strings.Join(fs.Args(), " ")
	if content == "" {
		return fmt.Errorf("usage: recall append [--conversation id] [--role r] <content>")
	}
	resp, err := c.api.AppendMessage(ctx, memorypb.AppendMessageRequest{
		OwnerID: c.owner, ConversationID: *conv, Role: *role, Content: content,
	})
	if err != nil {
		return err
	}
	return c.print(resp, func() {
		fmt.Fprintln(c.out, resp.ConversationID)
		if resp.Enqueued {
			fmt.Fprintln(c.out, "queued for extraction")
		}
	})
}

func (c *cli) searchCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	limit := fs.Int("limit", 0, "Maximum results (default from server)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	query := strings.Join(fs.Args(), " ")
	if query == "" {
		return fmt.Errorf("usage: recall search [--limit n] <query>")
	}
	resp, err := c.api.Search(ctx, memorypb.SearchRequest{OwnerID: c.owner, Query: query, Limit: *limit})
	if err != nil {
		return err
	}
	return c.print(resp, func() {
		if len(resp.Results) == 0 {
			fmt.Fprintln(c.out, "no matching facts")
			return
		}
		for _, hit := range resp.Results {
			fmt.Fprintf(c.out, "%.3f  [%s] %s\n", hit.Score, hit.Fact.Kind, hit.Fact.Content)
		}
	})
}

func (c *cli) rememberCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("remember", flag.ContinueOnError)
	kind := fs.String("kind", "semantic", "Fact kind: episodic, semantic or procedural")
	keywords := fs.String("keywords", "", "Comma separated keywords")
	if err := fs.Parse(args); err != nil {
		return err
	}
	content := strings.Join(fs.Args(), " ")
	if content == "" {
		return fmt.Errorf("usage: recall remember [--kind k] [--keywords a,b] <fact>")
	}
	var kw []string
	for _, k := range strings.Split(*keywords, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kw = append(kw, k)
		}
	}
	resp, err := c.api.Remember(ctx, memorypb.RememberRequest{OwnerID: c.owner, Content: content, Kind: *kind, Keywords: kw})
	if err != nil {
		return err
	}
	return c.print(resp, func() {
		if resp.Success {
			fmt.Fprintf(c.out, "stored %s\n", resp.ID)
			return
		}
		fmt.Fprintf(c.out, "not stored: %s\n", resp.Reason)
	})
}

func (c *cli) factsCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("facts", flag.ContinueOnError)
	all := fs.Bool("all", false, "Include invalidated facts")
	history := fs.Bool("history", false, "Only invalidated facts")
	limit := fs.Int("limit", 50, "Maximum facts")
	if err := fs.Parse(args); err != nil {
		return err
	}
	resp, err := c.api.ListFacts(ctx, memorypb.ListFactsRequest{
		OwnerID: c.owner, IncludeInvalidated: *all, HistoryOnly: *history, Limit: *limit,
	})
	if err != nil {
		return err
	}
	return c.print(resp, func() {
		for _, f := range resp.Facts {
			line := fmt.Sprintf("%s  [%s] %s", f.ID, f.Kind, f.Content)
			if f.InvalidFrom != "" {
				line += "  (invalid since " + f.InvalidFrom + ")"
			}
			fmt.Fprintln(c.out, line)
		}
	})
}

func (c *cli) print(v any, text func()) error {
	if !c.json {
		text()
		return nil
	}
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
