package ws

import "time"

type ConnInfo struct {
	ConnID      string
	UserID      int64
	DeviceID    string
	IP          string
	UserAgent   string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func (i ConnInfo) eventPayload(event, reason string) map[string]interface{} {
	duration := int64(0)
	if event != "ws_connect" {
		duration = time.Since(i.ConnectedAt).Milliseconds()
	}
	return map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     i.ConnID,
			"duration_ms": duration,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   i.UserID,
			"device_id": i.DeviceID,
			"ip":        i.IP,
			"ua":        i.UserAgent,
		},
	}
}
