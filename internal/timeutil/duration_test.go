package timeutil

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDurationUnmarshalString(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"168h"`), &d); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if d.Std() != 168*time.Hour {
		t.Errorf("Expected 168h, got %v", d.Std())
	}
}

func TestDurationUnmarshalNanoseconds(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`30000000000`), &d); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if d.Std() != 30*time.Second {
		t.Errorf("Expected 30s, got %v", d.Std())
	}
}

func TestDurationUnmarshalInvalid(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"not a duration"`), &d); err == nil {
		t.Fatal("Expected error for invalid duration string")
	}
	if err := json.Unmarshal([]byte(`true`), &d); err == nil {
		t.Fatal("Expected error for non-duration value")
	}
}

func TestDurationRoundTrip(t *testing.T) {
	type wrapper struct {
		Cooldown Duration `json:"cooldown"`
	}
	in := wrapper{Cooldown: Duration(90 * time.Minute)}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"cooldown":"1h30m0s"}` {
		t.Errorf("Unexpected marshal output: %s", data)
	}
	var out wrapper
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out.Cooldown != in.Cooldown {
		t.Errorf("Round trip mismatch: %v != %v", out.Cooldown.Std(), in.Cooldown.Std())
	}
}
