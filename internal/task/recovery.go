package task

import "context"

// RecoveryHandler 在任务进入不可重试的失败路径时给出降级结果，
// 例如改走备用模型或返回预置回复。
type RecoveryHandler interface {
	// Recover 根据失败原因尝试补偿。返回非 nil 的 ExecutionResult
	// 时任务以降级结果成功收尾；返回 nil 则继续走失败流程。
	Recover(ctx context.Context, task *Task, cause error) (*ExecutionResult, error)
}
