package server

import (
	"bufio"
	"net/http"
	"time"

	"github.com/UrHighness01/Intelli-sub000/pkg/chatengine"
	"github.com/UrHighness01/Intelli-sub000/pkg/provider"
)

// chatRequest is the body of POST /chat/complete.
type chatRequest struct {
	Messages    []provider.Message `json:"messages"`
	Provider    string             `json:"provider"`
	Model       string             `json:"model"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens"`
	MaxRounds   int                `json:"max_rounds"`
	SessionID   string             `json:"session_id"`
	System      string             `json:"system"`
	Persona     string             `json:"persona"`

	UseTools       bool                     `json:"use_tools"`
	UseWorkspace   bool                     `json:"use_workspace"`
	UsePageContext bool                     `json:"use_page_context"`
	Page           *chatengine.PageSnapshot `json:"page,omitempty"`
}

func (s *Server) checkChatContentPolicy(w http.ResponseWriter, req *chatRequest) bool {
	if s.Filter == nil {
		return true
	}
	for _, m := range req.Messages {
		if v := s.Filter.Check(m.Content); v != nil {
			writePolicyViolation(w, v, true)
			return false
		}
	}
	return true
}

func (s *Server) buildLoopRequest(req *chatRequest) chatengine.LoopRequest {
	opts := chatengine.PromptOptions{
		Persona:      req.Persona,
		UseWorkspace: req.UseWorkspace,
		UseTools:     req.UseTools,
		ExtraSystem:  req.System,
		PageHTMLCap:  s.Config.Chat.PageHTMLCap,
	}
	if req.UsePageContext {
		opts.Page = req.Page
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			opts.LatestUserText = req.Messages[i].Content
			break
		}
	}

	var personaProvider chatengine.PersonaProvider
	if s.Personas != nil {
		personaProvider = s.Personas
	}
	system := chatengine.BuildSystemPrompt(opts, personaProvider, s.workspaceProvider(), nil, s.Tools)

	msgs := req.Messages
	if system != "" {
		// Prepended as a role=system message as well, so adapters
		// without a native system field still receive it.
		msgs = append([]provider.Message{{Role: "system", Content: system}}, msgs...)
	}

	maxRounds := req.MaxRounds
	if maxRounds == 0 {
		maxRounds = s.Config.Chat.MaxRounds
	}

	return chatengine.LoopRequest{
		Provider:    s.resolveProvider(req.Provider),
		Model:       req.Model,
		Messages:    msgs,
		System:      system,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		MaxRounds:   maxRounds,
		SessionID:   req.SessionID,
		UseTools:    req.UseTools,
	}
}

func (s *Server) resolveProvider(name string) string {
	if name != "" {
		return name
	}
	return s.Config.Providers.Default
}

// workspaceProvider adapts the optional workspace into the prompt
// assembly interface without handing a typed nil to the builder.
func (s *Server) workspaceProvider() chatengine.WorkspaceProvider {
	if s.Workspace == nil {
		return nil
	}
	return s.Workspace
}

func (s *Server) handleChatComplete(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeDetail(w, http.StatusBadRequest, "messages must not be empty")
		return
	}
	if !s.checkChatContentPolicy(w, &req) {
		return
	}

	// Sessions persist best-effort; the id is minted before the loop so
	// the streamed terminal event can carry it.
	if req.SessionID == "" && s.Sessions != nil {
		if sess, err := s.Sessions.New(req.Persona); err == nil {
			req.SessionID = sess.ID
		}
	}

	loopReq := s.buildLoopRequest(&req)

	if r.URL.Query().Get("stream") == "true" {
		s.streamChat(w, r, loopReq)
		return
	}

	result, err := s.Engine.RunToolLoop(r.Context(), loopReq, chatengine.Hooks{})
	s.recordProviderOutcome(loopReq.Provider, result, err)
	if err != nil {
		writeDetail(w, http.StatusBadGateway, err.Error())
		return
	}
	s.persistSessionTurns(loopReq.SessionID, loopReq.Messages, result)

	writeJSON(w, http.StatusOK, map[string]any{
		"content":         result.Content,
		"model":           result.Model,
		"usage":           map[string]any{"total_tokens": result.Tokens},
		"provider":        result.Provider,
		"session_id":      loopReq.SessionID,
		"failover_used":   result.FailoverUsed,
		"actual_provider": result.ActualProvider,
		"actual_model":    result.ActualModel,
		"failover_reason": result.FailoverReason,
	})
}

func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, loopReq chatengine.LoopRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeDetail(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The worker goroutine runs the loop to completion even if the
	// client disconnects mid-stream; only the writer stops.
	events := chatengine.StreamChatComplete(r.Context(), s.Engine, loopReq)

	bw := bufio.NewWriter(w)
	_ = chatengine.WriteSSE(r.Context(), bw, func() {
		_ = bw.Flush()
		flusher.Flush()
	}, events)
}

// persistSessionTurns appends the exchange after completion;
// the session index is eventually consistent with the response.
func (s *Server) persistSessionTurns(sessionID string, msgs []provider.Message, result provider.Result) {
	if s.Sessions == nil || sessionID == "" {
		return
	}
	turns := chatengine.TurnsFromMessages(msgs, time.Now())
	turns = append(turns, chatengine.SessionTurn{Role: "assistant", Content: result.Content, At: time.Now()})
	s.Sessions.AppendTurns(sessionID, turns...)
}

func (s *Server) recordProviderOutcome(providerName string, result provider.Result, err error) {
	if s.Observability == nil || s.Observability.Metrics() == nil {
		return
	}
	m := s.Observability.Metrics()
	if err != nil {
		m.RecordProviderCall(providerName, "error")
		return
	}
	m.RecordProviderCall(result.ActualProvider, "ok")
	if result.FailoverUsed {
		m.RecordFailover()
	}
}

// handleChatCompact summarizes old history into a shorter list.
func (s *Server) handleChatCompact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []provider.Message `json:"messages"`
		Provider string             `json:"provider"`
		Model    string             `json:"model"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if s.Counter == nil || s.Failover == nil {
		writeDetail(w, http.StatusNotFound, "compaction not configured")
		return
	}

	usageBefore := s.Counter.UsageFraction(req.Messages, req.Model)
	res, err := s.Counter.CompactMessages(r.Context(), s.Failover, s.resolveProvider(req.Provider), req.Model, req.Messages)
	if err != nil {
		writeDetail(w, http.StatusBadGateway, "compaction failed: "+err.Error())
		return
	}
	usageAfter := s.Counter.UsageFraction(res.Messages, req.Model)

	writeJSON(w, http.StatusOK, map[string]any{
		"compacted_messages": res.Messages,
		"summary":            res.Summary,
		"tokens_saved":       res.TokensSaved,
		"usage_before":       round3(usageBefore),
		"usage_after":        round3(usageAfter),
	})
}

func round3(f float64) float64 {
	return float64(int(f*1000+0.5)) / 1000
}

// handleTokenUsage returns context-limit info for a model; no auth
// needed, the data is static.
func (s *Server) handleTokenUsage(w http.ResponseWriter, r *http.Request) {
	model := r.URL.Query().Get("model")
	writeJSON(w, http.StatusOK, map[string]any{
		"model":         model,
		"context_limit": chatengine.ContextLimitFor(model),
	})
}
