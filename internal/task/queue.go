package task

import "context"

// Handler 是消费侧的回调，入参为排队的对话任务 ID。返回错误
// 表示本次处理失败，是否重投由具体队列实现决定。
type Handler func(ctx context.Context, taskID string) error

// Producer 向队列投递待执行的对话任务。
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer 从队列拉取任务并交给 Handler 处理，阻塞直到 ctx 取消。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力，内存、Redis 与 RabbitMQ
// 三种驱动都实现了该接口。
type Queue interface {
	Producer
	Consumer
}
