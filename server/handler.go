// Package server implements the mock LLM API: a session registry keyed by
// API key, a protocol coalescer for the OpenAI and Anthropic wire shapes,
// and echo handlers that serve scripted scenario responses.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mockagent/mockagent/store"
	"github.com/mockagent/mockagent/toolmap"
)

// Handler serves the mock LLM API for one scenario.
type Handler struct {
	scenario  *ScenarioHolder
	registry  *Registry
	profiles  *toolmap.Profiles
	validator *toolmap.Validator
	profile   toolmap.Profile
	store     store.Store
	reqlog    *RequestLogger
}

// NewHandler wires the mock server. store may be nil to disable auditing.
func NewHandler(holder *ScenarioHolder, validator *toolmap.Validator, profiles *toolmap.Profiles, profile toolmap.Profile, st store.Store, reqlog *RequestLogger) *Handler {
	h := &Handler{
		scenario:  holder,
		registry:  NewRegistry(),
		profiles:  profiles,
		validator: validator,
		profile:   profile,
		store:     st,
		reqlog:    reqlog,
	}
	if validator != nil {
		validator.OnFlag = h.onValidationFlag
	}
	return h
}

// RegisterRoutes registers the HTTP surface.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.POST("/v1/chat/completions", h.ChatCompletions)
	e.POST("/v1/messages", h.Messages)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// Health reports server status.
// GET /health
func (h *Handler) Health(c echo.Context) error {
	doc := h.scenario.Doc()
	return c.JSON(http.StatusOK, map[string]any{
		"status":   "ok",
		"scenario": doc.Name,
		"steps":    len(doc.Timeline),
		"sessions": h.registry.Len(),
		"profile":  string(h.profile),
	})
}

// ChatCompletions serves the OpenAI-shaped endpoint.
// POST /v1/chat/completions
func (h *Handler) ChatCompletions(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return badRequest(c, "failed to read request body", "")
	}

	var req ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(c, "invalid request body", "")
	}
	if req.Model == "" {
		return badRequest(c, "model is required", "model")
	}
	if len(req.Messages) == 0 {
		return badRequest(c, "messages is required", "messages")
	}

	if h.validator != nil {
		if err := h.validator.CheckToolDefinitions(ctx, req.Tools, body); err != nil {
			requestsTotal.WithLabelValues(string(ProviderOpenAI), "rejected").Inc()
			return toolValidationError(c, err)
		}
		var historyCalls []map[string]any
		for _, msg := range req.Messages {
			historyCalls = append(historyCalls, msg.ToolCalls...)
		}
		if err := h.validator.CheckToolCalls(ctx, historyCalls, body); err != nil {
			requestsTotal.WithLabelValues(string(ProviderOpenAI), "rejected").Inc()
			return toolValidationError(c, err)
		}
	}

	key := SessionKey(c)
	parts, stepIndex, exhausted := h.registry.Get(key).Next(h.scenario.Doc())
	resp := BuildOpenAIResponse(req.Model, Coalesce(parts, h.profiles, h.profile))

	h.finishTurn(ctx, ProviderOpenAI, key, req.Model, c.Path(), stepIndex, exhausted, body, resp)
	return c.JSON(http.StatusOK, resp)
}

// Messages serves the Anthropic-shaped endpoint.
// POST /v1/messages
func (h *Handler) Messages(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return badRequest(c, "failed to read request body", "")
	}

	var req AnthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(c, "invalid request body", "")
	}
	if req.Model == "" {
		return badRequest(c, "model is required", "model")
	}
	if len(req.Messages) == 0 {
		return badRequest(c, "messages is required", "messages")
	}

	if h.validator != nil {
		if err := h.validator.CheckToolDefinitions(ctx, req.Tools, body); err != nil {
			requestsTotal.WithLabelValues(string(ProviderAnthropic), "rejected").Inc()
			return toolValidationError(c, err)
		}
		if err := h.validator.CheckToolCalls(ctx, anthropicHistoryCalls(req.Messages), body); err != nil {
			requestsTotal.WithLabelValues(string(ProviderAnthropic), "rejected").Inc()
			return toolValidationError(c, err)
		}
	}

	key := SessionKey(c)
	parts, stepIndex, exhausted := h.registry.Get(key).Next(h.scenario.Doc())
	resp := BuildAnthropicResponse(req.Model, Coalesce(parts, h.profiles, h.profile))

	h.finishTurn(ctx, ProviderAnthropic, key, req.Model, c.Path(), stepIndex, exhausted, body, resp)
	return c.JSON(http.StatusOK, resp)
}

// anthropicHistoryCalls extracts tool_use blocks echoed back in the
// conversation history.
func anthropicHistoryCalls(messages []map[string]any) []map[string]any {
	var calls []map[string]any
	for _, msg := range messages {
		content, ok := msg["content"].([]any)
		if !ok {
			continue
		}
		for _, raw := range content {
			blk, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if blk["type"] == "tool_use" {
				calls = append(calls, blk)
			}
		}
	}
	return calls
}

// finishTurn handles the bookkeeping shared by both endpoints: metrics,
// request logging, and the audit trail.
func (h *Handler) finishTurn(ctx context.Context, provider Provider, key, model, path string, stepIndex int, exhausted bool, reqBody []byte, resp any) {
	requestsTotal.WithLabelValues(string(provider), "ok").Inc()
	turnsServed.WithLabelValues(string(provider)).Inc()
	activeSessions.Set(float64(h.registry.Len()))

	h.reqlog.Log(provider, key, model, path, stepIndex, exhausted)

	if h.store == nil {
		return
	}
	if _, err := h.store.GetOrCreateSession(ctx, key, h.scenario.Path(), string(provider)); err != nil {
		log.Printf("WARN: audit session: %v", err)
		return
	}
	respBody, err := json.Marshal(resp)
	if err != nil {
		log.Printf("WARN: audit response marshal: %v", err)
		return
	}
	if err := h.store.RecordTurn(ctx, &store.Turn{
		SessionKey: key,
		Provider:   string(provider),
		StepIndex:  stepIndex,
		Request:    string(reqBody),
		Response:   string(respBody),
	}); err != nil {
		log.Printf("WARN: audit turn: %v", err)
	}
}

// onValidationFlag records drift events in the audit store and metrics.
func (h *Handler) onValidationFlag(toolName, decision, capturePath string) {
	validationFailures.WithLabelValues(string(h.profile)).Inc()
	if h.store == nil || h.validator == nil {
		return
	}
	err := h.store.RecordValidationFailure(context.Background(), &store.ValidationFailure{
		Profile:      string(h.validator.Profile()),
		AgentVersion: h.validator.AgentVersion(),
		ToolName:     toolName,
		Decision:     decision,
		CapturePath:  capturePath,
	})
	if err != nil {
		log.Printf("WARN: audit validation failure: %v", err)
	}
}

func badRequest(c echo.Context, message, param string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: &APIError{
			Message: message,
			Type:    "invalid_request_error",
			Param:   param,
		},
	})
}

func toolValidationError(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: &APIError{
			Message: err.Error(),
			Type:    "tool_validation_error",
		},
	})
}
