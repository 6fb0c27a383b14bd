package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/internal/blob"
	"github.com/ceyewan/scribesnap/metrics"
	"github.com/ceyewan/scribesnap/trace"
)

// transcribePrompt 要求模型逐字转写，不做任何解释
const transcribePrompt = `You are an expert handwriting recognition system. Analyze this image and extract ALL handwritten text with high accuracy.

Instructions:
1. Preserve the original text structure (paragraphs, line breaks, bullet points)
2. If text is unclear, provide your best interpretation with [unclear] markers
3. Maintain any numbering, bullets, or list formatting
4. Preserve mathematical notation if present
5. Return ONLY the extracted text, with no commentary or description of the image
6. If no handwritten text is found, return "No handwritten text detected in the image."

Extract the handwritten text from this image:`

// 上游错误信息截断长度
const maxErrorBody = 512

type geminiClient struct {
	cfg     *Config
	http    *http.Client
	limiter *rate.Limiter
	tracer  oteltrace.Tracer
	logger  clog.Logger
	metrics *clientMetrics
}

func newGemini(cfg *Config, opts ...Option) *geminiClient {
	o := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	o.logger.Info("extraction client created",
		clog.String("provider", cfg.Provider),
		clog.String("model", cfg.Model),
		clog.Int("requests_per_minute", cfg.RequestsPerMinute))

	return &geminiClient{
		cfg:     cfg,
		http:    httpClient,
		limiter: limiter,
		tracer:  trace.Tracer("extraction"),
		logger:  o.logger,
		metrics: newClientMetrics(o.meter, cfg.Model),
	}
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type geminiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (c *geminiClient) Extract(ctx context.Context, obj blob.Object) (string, error) {
	ctx, span := c.tracer.Start(ctx, "extraction.generate_content",
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			attribute.String("extraction.model", c.cfg.Model),
			attribute.String("blob.ref", obj.Ref.String()),
			attribute.Int("blob.size", len(obj.Data)),
		))
	defer span.End()

	start := time.Now()
	text, err := c.extract(ctx, obj)
	elapsed := time.Since(start)

	result := "success"
	if err != nil {
		result = "failure"
		var e *Error
		if errors.As(err, &e) {
			result = e.Kind.String()
		}
		trace.MarkSpanError(span, err)
		c.logger.WarnContext(ctx, "extraction call failed",
			clog.String("ref", obj.Ref.String()),
			clog.Duration("elapsed", elapsed),
			clog.Error(err))
	} else {
		c.logger.InfoContext(ctx, "extraction call completed",
			clog.String("ref", obj.Ref.String()),
			clog.Duration("elapsed", elapsed),
			clog.Int("chars", len(text)))
	}
	c.metrics.observe(ctx, result, elapsed)
	return text, err
}

func (c *geminiClient) extract(ctx context.Context, obj blob.Object) (string, error) {
	if len(obj.Data) == 0 {
		return "", Permanent("empty image", nil)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		// 等待期间 ctx 结束，或等待时间超出 ctx 的截止时间
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", Transient("outbound rate limit", err)
	}

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{
				{Text: transcribePrompt},
				{InlineData: &geminiInlineData{
					MimeType: obj.MIMEType,
					Data:     base64.StdEncoding.EncodeToString(obj.Data),
				}},
			},
		}},
		GenerationConfig: geminiGenerationConfig{MaxOutputTokens: c.cfg.MaxOutputTokens},
	})
	if err != nil {
		return "", Permanent("encode request", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(c.cfg.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", Permanent("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return "", ctxErr
		}
		// 超时和网络错误都值得重试
		return "", Transient("request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Kind: KindTransient, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &Error{
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    upstreamMessage(raw),
		}
	}

	var out geminiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &Error{Kind: KindPermanent, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}
	if out.PromptFeedback.BlockReason != "" {
		return "", Permanent("prompt blocked: "+out.PromptFeedback.BlockReason, nil)
	}

	var sb strings.Builder
	if len(out.Candidates) > 0 {
		for _, p := range out.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		reason := "no candidates"
		if len(out.Candidates) > 0 {
			reason = "empty candidate, finish reason " + out.Candidates[0].FinishReason
		}
		return "", Permanent(reason, nil)
	}
	return text, nil
}

// classifyStatus 429、408 和 5xx 可重试，其余非 2xx 不可重试
func classifyStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return KindTransient
	case code >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

func upstreamMessage(raw []byte) string {
	var e geminiError
	if err := json.Unmarshal(raw, &e); err == nil && e.Error.Message != "" {
		if e.Error.Status != "" {
			return e.Error.Status + ": " + e.Error.Message
		}
		return e.Error.Message
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}
