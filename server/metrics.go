package server

import (
	"sync/atomic"
)

// RelayMetrics 记录中继运行期的关键指标（用于 /stats 与调试）
type RelayMetrics struct {
	ConnectionsAccepted  int64 // 成功加入的连接数
	ConnectionsRejected  int64 // 因人数上限被拒绝的连接数
	MessagesReceived     int64 // 入站消息总数
	MalformedDropped     int64 // 非 JSON 或缺少 type 被丢弃的消息数
	UnknownTypeDropped   int64 // 未知 type 被忽略的消息数
	HandlerPanics        int64 // 处理函数 panic 次数
	FramesEnqueued       int64 // 成功入队的出站帧
	FramesDropped        int64 // 因队列满或连接关闭被丢弃的出站帧
	DuplicatesSuppressed int64 // 重复击杀/拾取被抑制的次数
	WavesAdvanced        int64
	StaleWaveRequests    int64 // 过期的 requestNewWave
}

func (m *RelayMetrics) IncAccepted()  { atomic.AddInt64(&m.ConnectionsAccepted, 1) }
func (m *RelayMetrics) IncRejected()  { atomic.AddInt64(&m.ConnectionsRejected, 1) }
func (m *RelayMetrics) IncReceived()  { atomic.AddInt64(&m.MessagesReceived, 1) }
func (m *RelayMetrics) IncMalformed() { atomic.AddInt64(&m.MalformedDropped, 1) }
func (m *RelayMetrics) IncUnknown()   { atomic.AddInt64(&m.UnknownTypeDropped, 1) }
func (m *RelayMetrics) IncPanics()    { atomic.AddInt64(&m.HandlerPanics, 1) }
func (m *RelayMetrics) IncDuplicate() { atomic.AddInt64(&m.DuplicatesSuppressed, 1) }
func (m *RelayMetrics) IncWave()      { atomic.AddInt64(&m.WavesAdvanced, 1) }
func (m *RelayMetrics) IncStaleWave() { atomic.AddInt64(&m.StaleWaveRequests, 1) }
func (m *RelayMetrics) AddFrames(sent, dropped int) {
	atomic.AddInt64(&m.FramesEnqueued, int64(sent))
	atomic.AddInt64(&m.FramesDropped, int64(dropped))
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RelayMetrics) Snapshot() map[string]any {
	return map[string]any{
		"connections_accepted":  atomic.LoadInt64(&m.ConnectionsAccepted),
		"connections_rejected":  atomic.LoadInt64(&m.ConnectionsRejected),
		"messages_received":     atomic.LoadInt64(&m.MessagesReceived),
		"malformed_dropped":     atomic.LoadInt64(&m.MalformedDropped),
		"unknown_type_dropped":  atomic.LoadInt64(&m.UnknownTypeDropped),
		"handler_panics":        atomic.LoadInt64(&m.HandlerPanics),
		"frames_enqueued":       atomic.LoadInt64(&m.FramesEnqueued),
		"frames_dropped":        atomic.LoadInt64(&m.FramesDropped),
		"duplicates_suppressed": atomic.LoadInt64(&m.DuplicatesSuppressed),
		"waves_advanced":        atomic.LoadInt64(&m.WavesAdvanced),
		"stale_wave_requests":   atomic.LoadInt64(&m.StaleWaveRequests),
	}
}
