package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/quotaguard/internal/completion"
	"github.com/smallbiznis/quotaguard/internal/observability/logger"
	usagedomain "github.com/smallbiznis/quotaguard/internal/usage/domain"
	"go.uber.org/zap"
)

const usageRecordTimeout = 5 * time.Second

type chatRequest struct {
	Message string `json:"message"`
	System  string `json:"system"`
}

type chatResponse struct {
	Reply        string `json:"reply"`
	Model        string `json:"model"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// Chat pre-authorizes the estimated cost, calls the completion service and
// records the actual cost after the response is written.
func (s *Server) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		AbortWithError(c, newValidationError("message", "required", "message is required"))
		return
	}

	ctx := c.Request.Context()
	user := userID(c)

	estimatedIn := usagedomain.EstimateInputTokens(req.System + req.Message)
	estimatedOut := s.usagesvc.EstimatedOutputTokens()
	decision, err := s.usagesvc.CanMakeRequest(ctx, user, estimatedIn, estimatedOut)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !decision.Allowed {
		AbortWithError(c, &DeniedError{
			Status:  http.StatusPaymentRequired,
			Type:    "usage_limit_exceeded",
			Message: decision.Reason,
			Details: decision,
		})
		return
	}

	resp, err := s.completion.Complete(ctx, completion.Request{
		Prompt:            req.Message,
		SystemInstruction: req.System,
		MaxOutputTokens:   estimatedOut,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	inputTokens := resp.InputTokens
	if inputTokens == 0 {
		inputTokens = estimatedIn
	}
	c.JSON(http.StatusOK, gin.H{"data": chatResponse{
		Reply:        resp.Text,
		Model:        resp.Model,
		InputTokens:  inputTokens,
		OutputTokens: resp.OutputTokens,
	}})

	s.recordUsageAsync(ctx, user, s.completion.Name(), inputTokens, resp.OutputTokens)
}

// recordUsageAsync writes the cost ledger off the response path. The context
// keeps request values but not the request's cancellation.
func (s *Server) recordUsageAsync(ctx context.Context, user, service string, inputTokens, outputTokens int64) {
	detached := context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		recordCtx, cancel := context.WithTimeout(detached, usageRecordTimeout)
		defer cancel()
		if err := s.usagesvc.RecordUsage(recordCtx, user, service, inputTokens, outputTokens); err != nil {
			logger.FromContext(recordCtx).Error("record usage failed",
				zap.String("service", service),
				zap.Int64("input_tokens", inputTokens),
				zap.Int64("output_tokens", outputTokens),
				zap.Error(err),
			)
		}
	}()
}
