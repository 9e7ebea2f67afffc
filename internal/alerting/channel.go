package alerting

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// ErrRecipientUnreachable 表示接收方永久不可达（机器人被屏蔽、聊天不存在）。
var ErrRecipientUnreachable = errors.New("recipient unreachable")

// Channel 定义消息投递接口。nil 返回值即投递成功。
type Channel interface {
	Send(ctx context.Context, recipient int64, text string) error
}

// LogChannel 只把消息写入日志，用于未配置 bot token 的环境。
type LogChannel struct {
	logger zerolog.Logger
}

// NewLogChannel 构造日志投递器。
func NewLogChannel(logger zerolog.Logger) *LogChannel {
	return &LogChannel{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Send 记录消息并视为投递成功。
func (c *LogChannel) Send(_ context.Context, recipient int64, text string) error {
	c.logger.Info().Int64("recipient", recipient).Str("text", text).Msg("alert delivered to log")
	return nil
}

var _ Channel = (*LogChannel)(nil)
