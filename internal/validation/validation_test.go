package validation

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/iotgrid/hub/internal/types"
)

func TestValidateRequired(t *testing.T) {
	if err := ValidateRequired("name", "greenhouse"); err != nil {
		t.Errorf("unexpected error: %+v", err)
	}
	for _, v := range []string{"", "   ", "\t\n"} {
		if err := ValidateRequired("name", v); err == nil {
			t.Errorf("expected error for %q", v)
		}
	}
}

func TestValidateMaxLength(t *testing.T) {
	if err := ValidateMaxLength("unit", "°C", 16); err != nil {
		t.Errorf("unexpected error: %+v", err)
	}
	if err := ValidateMaxLength("unit", strings.Repeat("x", 17), 16); err == nil {
		t.Error("expected error for too-long value")
	}
	// Rune count, not byte count.
	if err := ValidateMaxLength("unit", strings.Repeat("°", 16), 16); err != nil {
		t.Errorf("unexpected error for 16 runes: %+v", err)
	}
}

func TestValidateULID(t *testing.T) {
	if err := ValidateULID("id", ulid.Make().String()); err != nil {
		t.Errorf("unexpected error: %+v", err)
	}
	if err := ValidateULID("id", "short"); err == nil {
		t.Error("expected error for wrong length")
	}
	if err := ValidateULID("id", strings.Repeat("I", 26)); err == nil {
		t.Error("expected error for excluded character")
	}
}

func TestValidateEnum(t *testing.T) {
	allowed := []string{"wifi", "lorawan"}
	if err := ValidateEnum("protocol", "wifi", allowed); err != nil {
		t.Errorf("unexpected error: %+v", err)
	}
	if err := ValidateEnum("protocol", "zigbee", allowed); err == nil {
		t.Error("expected error for disallowed value")
	}
}

func TestValidateFinite(t *testing.T) {
	if err := ValidateFinite("rawValue", 21.5); err != nil {
		t.Errorf("unexpected error: %+v", err)
	}
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if err := ValidateFinite("rawValue", v); err == nil {
			t.Errorf("expected error for %v", v)
		}
	}
}

func TestValidateTimestamp(t *testing.T) {
	if err := ValidateTimestamp("ts", time.Now(), MaxClockSkew); err != nil {
		t.Errorf("unexpected error: %+v", err)
	}
	if err := ValidateTimestamp("ts", time.Time{}, MaxClockSkew); err == nil {
		t.Error("expected error for zero timestamp")
	}
	if err := ValidateTimestamp("ts", time.Now().Add(time.Hour), MaxClockSkew); err == nil {
		t.Error("expected error for future timestamp")
	}
	// Within allowed skew.
	if err := ValidateTimestamp("ts", time.Now().Add(time.Minute), MaxClockSkew); err != nil {
		t.Errorf("unexpected error inside skew window: %+v", err)
	}
}

func TestCollector(t *testing.T) {
	var c Collector
	if c.HasErrors() {
		t.Error("new collector reports errors")
	}
	c.Add(nil)
	if c.HasErrors() {
		t.Error("nil add recorded an error")
	}
	c.Add(&ValidationError{Field: "a", Message: "is required"})
	c.Add(&ValidationError{Field: "b", Message: "is required"})
	if len(c.Errors()) != 2 {
		t.Errorf("errors = %d, want 2", len(c.Errors()))
	}
}

func TestValidateReading(t *testing.T) {
	valid := types.NewReading{
		NodeID:          "node-1",
		MeasurementType: "temperature",
		RawValue:        21.4,
		Unit:            "°C",
		Timestamp:       time.Now().UTC(),
	}
	if errs := ValidateReading(valid); len(errs) != 0 {
		t.Errorf("unexpected errors: %+v", errs)
	}

	aid := ulid.Make().String()
	valid.AssignmentID = &aid
	if errs := ValidateReading(valid); len(errs) != 0 {
		t.Errorf("unexpected errors with assignment: %+v", errs)
	}

	bad := types.NewReading{RawValue: math.NaN()}
	errs := ValidateReading(bad)
	fields := make(map[string]bool)
	for _, e := range errs {
		fields[e.Field] = true
	}
	for _, f := range []string{"nodeId", "measurementType", "unit", "rawValue", "timestamp"} {
		if !fields[f] {
			t.Errorf("missing error for field %s (got %+v)", f, errs)
		}
	}

	badID := "not-a-ulid"
	withBadID := valid
	withBadID.AssignmentID = &badID
	if errs := ValidateReading(withBadID); len(errs) != 1 || errs[0].Field != "assignmentId" {
		t.Errorf("errors = %+v, want one assignmentId error", errs)
	}
}
