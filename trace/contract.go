package trace

const (
	// Messaging 语义属性键
	AttrMessagingSystem      = "messaging.system"
	AttrMessagingDestination = "messaging.destination"
	AttrMessagingOperation   = "messaging.operation"
)

const (
	// 常见的消息系统
	MessagingSystemNATS = "nats"
)

const (
	// 常见的消息操作
	MessagingOperationPublish = "publish"
)

// SpanNameMQPublish 返回发布消息的标准 Span Name
func SpanNameMQPublish(destination string) string {
	if destination == "" {
		return "mq.publish"
	}
	return "mq.publish " + destination
}
