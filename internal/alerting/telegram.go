package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// TelegramOptions 配置 Telegram 投递器。
type TelegramOptions struct {
	BotToken string
	BaseURL  string
	Timeout  time.Duration
	// MessagesPerSecond 限制全局发送速率，Telegram 对单个 bot 约 30 msg/s。
	MessagesPerSecond float64
	Burst             int
}

// TelegramChannel 通过 Telegram Bot API 推送消息，每条消息发往设置所属的 chat。
type TelegramChannel struct {
	botToken string
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

// NewTelegramChannel 构造 Telegram 投递器。
func NewTelegramChannel(opts TelegramOptions, logger zerolog.Logger) *TelegramChannel {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.telegram.org"
	}
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = 25
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}

	return &TelegramChannel{
		botToken: opts.BotToken,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		client:   &http.Client{Timeout: opts.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(opts.MessagesPerSecond), opts.Burst),
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Send 调用 sendMessage API 推送 Markdown 文本。
func (n *TelegramChannel) Send(ctx context.Context, recipient int64, text string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for telegram rate limit: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"chat_id":                  recipient,
		"text":                     text,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read telegram response: %w", err)
	}

	var result telegramResponse
	_ = json.Unmarshal(payload, &result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !result.OK {
		return classifyTelegramError(resp.StatusCode, result)
	}

	n.logger.Debug().Int64("recipient", recipient).Msg("告警已发送 (Telegram)")
	return nil
}

// classifyTelegramError 把屏蔽、聊天不存在等永久错误映射到 ErrRecipientUnreachable。
func classifyTelegramError(status int, result telegramResponse) error {
	code := result.ErrorCode
	if code == 0 {
		code = status
	}
	desc := result.Description
	if desc == "" {
		desc = http.StatusText(status)
	}

	lower := strings.ToLower(desc)
	if code == http.StatusForbidden || strings.Contains(lower, "chat not found") || strings.Contains(lower, "blocked") {
		return fmt.Errorf("telegram %d: %s: %w", code, desc, ErrRecipientUnreachable)
	}
	return fmt.Errorf("telegram 响应异常 %d: %s", code, desc)
}

var _ Channel = (*TelegramChannel)(nil)
