package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestLogRecorder_WritesEntryToRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := zerolog.New(&buf).WithContext(context.Background())

	actor := uuid.New()
	appt := uuid.New()
	LogRecorder{}.Record(ctx, Entry{
		EventType:     EventAppointmentCancelled,
		ActorID:       &actor,
		AppointmentID: &appt,
		Payload:       map[string]any{"reason": "patient request"},
	})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["event_type"] != EventAppointmentCancelled {
		t.Errorf("event_type = %v", line["event_type"])
	}
	if line["actor_id"] != actor.String() || line["appointment_id"] != appt.String() {
		t.Errorf("ids not logged: %v", line)
	}
	payload, _ := line["payload"].(map[string]any)
	if payload["reason"] != "patient request" {
		t.Errorf("payload = %v", line["payload"])
	}
}

func TestNullableTime(t *testing.T) {
	if nullableTime(time.Time{}) != nil {
		t.Fatal("zero time should map to NULL")
	}
	now := time.Now()
	if got := nullableTime(now); got == nil || !got.Equal(now) {
		t.Fatalf("nullableTime(now) = %v", got)
	}
}
