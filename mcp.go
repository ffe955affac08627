package domheal

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/domheal/domtree"
	"github.com/hazyhaar/domheal/kit"
	"github.com/hazyhaar/domheal/locator"
)

// RegisterMCP registers domheal tools on an MCP server.
func (h *Healer) RegisterMCP(srv *mcp.Server) {
	h.registerResolveTool(srv)
	h.registerPendingCorrectionsTool(srv)
	h.registerConfirmCorrectionTool(srv)
	h.registerRejectCorrectionTool(srv)
	h.registerStatsTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- resolve ---

type resolveRequest struct {
	HTML      string            `json:"html"`
	URL       string            `json:"url"`
	Bundle    *locator.Bundle   `json:"bundle"`
	Signature locator.Signature `json:"signature"`
	PageType  string            `json:"page_type,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
}

type resolveResponse struct {
	Outcome         string            `json:"outcome"`
	Selector        string            `json:"selector,omitempty"`
	Confidence      float64           `json:"confidence"`
	Method          string            `json:"method"`
	WinningStrategy *locator.Strategy `json:"winning_strategy,omitempty"`
	Candidates      []string          `json:"candidates,omitempty"`
	Reasoning       string            `json:"reasoning,omitempty"`
	Error           string            `json:"error,omitempty"`
}

func (h *Healer) registerResolveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domheal_resolve",
		Description: "Resolve a locator bundle against an HTML snapshot. Runs scope resolution, strategy scoring and, on failure, the self-healing recovery cascade. Returns the chosen selector and how it was found.",
		InputSchema: inputSchema(map[string]any{
			"html":       map[string]any{"type": "string", "description": "Page HTML snapshot"},
			"url":        map[string]any{"type": "string", "description": "Page URL the snapshot was taken from"},
			"bundle":     map[string]any{"type": "object", "description": "Locator bundle: strategies, disambiguators, optional scope"},
			"signature":  map[string]any{"type": "object", "description": "Target hints: tag/role/text/name, recorded click point and bounds"},
			"page_type":  map[string]any{"type": "string", "description": "Logical page type for correction memory (e.g. checkout)"},
			"session_id": map[string]any{"type": "string", "description": "Workflow session ID for metrics"},
		}, []string{"html", "bundle"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*resolveRequest)
		tree, err := domtree.ParseString(rr.HTML, rr.URL)
		if err != nil {
			return nil, err
		}
		res, err := h.ResolveStep(ctx, Step{
			SessionID: rr.SessionID,
			PageType:  rr.PageType,
			Bundle:    rr.Bundle,
			Signature: rr.Signature,
		}, tree)

		// Step failures are results, not protocol errors: the caller
		// needs the reasoning and candidate list either way.
		out := &resolveResponse{}
		if err != nil {
			out.Outcome = "failed"
			out.Error = err.Error()
		}
		if res != nil {
			out.Outcome = res.Outcome
			out.Selector = res.Selector
			out.Confidence = res.Confidence
			out.Method = res.Method
			out.WinningStrategy = res.WinningStrategy
			out.Reasoning = res.Reasoning
			for _, c := range res.Candidates {
				out.Candidates = append(out.Candidates, domtree.SelectorFor(c))
			}
		}
		return out, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr resolveRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		enrich := func(ctx context.Context) context.Context {
			if rr.SessionID != "" {
				return kit.WithSessionID(ctx, rr.SessionID)
			}
			return ctx
		}
		return &kit.MCPDecodeResult{Request: &rr, EnrichCtx: enrich}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- pending_corrections ---

type pendingCorrectionsRequest struct {
	Limit int `json:"limit,omitempty"`
}

func (h *Healer) registerPendingCorrectionsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domheal_pending_corrections",
		Description: "List self-healed fixes awaiting human review, oldest first. Confirmed corrections become reusable healing rules; rejected ones are discarded.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max results (default 50)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*pendingCorrectionsRequest)
		return h.PendingCorrections(ctx, rr.Limit)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr pendingCorrectionsRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- confirm_correction / reject_correction ---

type correctionIDRequest struct {
	ID string `json:"id"`
}

func (h *Healer) registerConfirmCorrectionTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domheal_confirm_correction",
		Description: "Confirm a pending correction. The fix becomes a learned rule the recovery cascade can reuse on similar breakage.",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Correction ID"},
		}, []string{"id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*correctionIDRequest)
		if err := h.ConfirmCorrection(ctx, rr.ID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "confirmed", "id": rr.ID}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeCorrectionID)
}

func (h *Healer) registerRejectCorrectionTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domheal_reject_correction",
		Description: "Reject a pending correction. It is discarded and never learned.",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Correction ID"},
		}, []string{"id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*correctionIDRequest)
		if err := h.RejectCorrection(ctx, rr.ID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "rejected", "id": rr.ID}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeCorrectionID)
}

func decodeCorrectionID(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var rr correctionIDRequest
	if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
		return nil, err
	}
	return &kit.MCPDecodeResult{Request: &rr}, nil
}

// --- stats ---

type statsRequest struct{}

func (h *Healer) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domheal_stats",
		Description: "Aggregate step metrics: outcome counts, winning strategies, recovery methods. Useful for spotting failure patterns.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		stats, err := h.MetricsAggregate(ctx)
		if err != nil {
			return nil, err
		}
		if stats == nil {
			return map[string]string{"status": "metrics persistence disabled"}, nil
		}
		return stats, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: &statsRequest{}}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
