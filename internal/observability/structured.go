package observability

import (
	"encoding/json"
	"log"
	"time"
)

// Info writes one JSON log line for event at info level.
func Info(event string, fields map[string]interface{}) {
	logEvent("info", event, fields)
}

// Error writes one JSON log line for event, with err under "error".
func Error(event string, fields map[string]interface{}, err error) {
	payload := cloneFields(fields)
	if err != nil {
		payload["error"] = err.Error()
	}
	logEvent("error", event, payload)
}

func logEvent(level, event string, fields map[string]interface{}) {
	payload := cloneFields(fields)
	payload["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	payload["level"] = level
	payload["event"] = event
	raw, err := json.Marshal(payload)
	if err != nil {
		fallback := map[string]interface{}{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": "error",
			"event": "log.marshal_failed",
			"error": err.Error(),
		}
		raw, _ = json.Marshal(fallback)
	}
	log.Print(string(raw))
}

func cloneFields(fields map[string]interface{}) map[string]interface{} {
	payload := make(map[string]interface{}, len(fields)+3)
	for k, v := range fields {
		payload[k] = v
	}
	return payload
}
