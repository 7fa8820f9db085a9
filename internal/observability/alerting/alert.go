package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	xerrors "ModelRelay/internal/errors"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelEmail    Channel = "email"
	ChannelDingTalk Channel = "dingtalk"
	ChannelSlack    Channel = "slack"
)

// Event 描述一次需要告警的事件，通常由任务处理器在模型调用
// 持续失败或补偿失败时产生。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	Channel    Channel
	TaskID     string
	Model      string
	Attempts   int
	MaxRetries int
	Metadata   map[string]string
	OccurredAt time.Time
}

// render 生成渠道无关的文本描述。
func (e Event) render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", e.Severity, e.Code)
	fmt.Fprintf(&b, "任务: %s", e.TaskID)
	if e.Model != "" {
		fmt.Fprintf(&b, " (模型 %s)", e.Model)
	}
	fmt.Fprintf(&b, "\n重试: %d/%d\n", e.Attempts, e.MaxRetries)
	fmt.Fprintf(&b, "时间: %s\n", e.OccurredAt.Format(time.RFC3339))
	if e.Message != "" {
		fmt.Fprintf(&b, "描述: %s\n", e.Message)
	}
	for k, v := range e.Metadata {
		fmt.Fprintf(&b, "- %s: %s\n", k, v)
	}
	return b.String()
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。指定了 Channel 的事件只投递
// 到对应渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	if event.Channel != "" {
		if notifier, ok := d.notifiers[event.Channel]; ok {
			return notifier.Notify(ctx, event)
		}
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ThrottledDispatcher 在固定时间窗口内抑制同一错误码的重复告警，
// 避免批量任务同时失败时刷屏。
type ThrottledDispatcher struct {
	next   Dispatcher
	window time.Duration

	mu       sync.Mutex
	lastSent map[xerrors.Code]time.Time
}

// NewThrottled 包装一个 Dispatcher，window 内同一错误码只放行一次。
func NewThrottled(next Dispatcher, window time.Duration) *ThrottledDispatcher {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &ThrottledDispatcher{
		next:     next,
		window:   window,
		lastSent: make(map[xerrors.Code]time.Time),
	}
}

// Notify 在窗口内抑制重复事件，窗口外的事件透传给下游。
func (d *ThrottledDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil || d.next == nil {
		return nil
	}
	now := time.Now()
	d.mu.Lock()
	if last, ok := d.lastSent[event.Code]; ok && now.Sub(last) < d.window {
		d.mu.Unlock()
		return nil
	}
	d.lastSent[event.Code] = now
	d.mu.Unlock()
	return d.next.Notify(ctx, event)
}
