package metrics

// Label 指标标签，用于为指标添加维度信息
//
// 标签值应保持低基数：不要把 note id、请求 id、原始 URL 作为标签。
type Label struct {
	Key   string
	Value string
}

// L 便捷构造函数，创建一个 Label 实例
//
//	counter.Inc(ctx, metrics.L("outcome", "completed"))
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}
