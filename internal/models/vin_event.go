package models

import (
	"encoding/json"
	"errors"
)

// VinEvent 车载设备上报的 VIN 观测事件
type VinEvent struct {
	DeviceID   string `json:"deviceId"`
	Value      string `json:"value"`
	Dummy      bool   `json:"isDummy"`
	DeviceType string `json:"deviceType,omitempty"`
	UserID     string `json:"userId,omitempty"`
	ModelName  string `json:"modelName,omitempty"`
	Type       string `json:"type,omitempty"`
}

// ProfileChange CRUD 侧档案变更描述（make/model/modelYear 等路径）
type ProfileChange struct {
	Key     string          `json:"key"`
	Path    string          `json:"path"`
	Changed json.RawMessage `json:"changed,omitempty"`
	Old     json.RawMessage `json:"old,omitempty"`
}

// EventEnvelope 入站事件信封
// EventData 为 VIN 事件载荷或档案变更通知载荷（二选一）
type EventEnvelope struct {
	Key       string          `json:"key"` // deviceId 或 vehicleId
	EventID   string          `json:"eventId,omitempty"`
	EventData json.RawMessage `json:"eventData"`
}

// ErrInvalidEnvelope 事件信封格式错误
var ErrInvalidEnvelope = errors.New("invalid event envelope")

// ParseEnvelope 从 Redis Streams 消息解析事件信封
func ParseEnvelope(values map[string]interface{}) (*EventEnvelope, error) {
	dataStr, ok := values["data"].(string)
	if !ok {
		return nil, ErrInvalidEnvelope
	}

	var envelope EventEnvelope
	if err := json.Unmarshal([]byte(dataStr), &envelope); err != nil {
		return nil, err
	}
	if envelope.Key == "" || len(envelope.EventData) == 0 {
		return nil, ErrInvalidEnvelope
	}

	return &envelope, nil
}

// VinEvent 尝试把载荷解析为 VIN 事件
// 载荷是档案变更列表（JSON 数组）时返回 false
func (e *EventEnvelope) VinEvent() (*VinEvent, bool) {
	trimmed := firstNonSpace(e.EventData)
	if trimmed != '{' {
		return nil, false
	}

	var event VinEvent
	if err := json.Unmarshal(e.EventData, &event); err != nil {
		return nil, false
	}
	if event.DeviceID == "" {
		event.DeviceID = e.Key
	}
	return &event, true
}

// ProfileChanges 尝试把载荷解析为档案变更通知
func (e *EventEnvelope) ProfileChanges() ([]ProfileChange, bool) {
	trimmed := firstNonSpace(e.EventData)
	if trimmed != '[' {
		return nil, false
	}

	var changes []ProfileChange
	if err := json.Unmarshal(e.EventData, &changes); err != nil {
		return nil, false
	}
	return changes, true
}

func firstNonSpace(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}
