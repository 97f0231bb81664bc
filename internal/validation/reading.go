package validation

import (
	"time"

	"github.com/iotgrid/hub/internal/types"
)

// MaxClockSkew is how far in the future a reading timestamp may lie
// before it is rejected. Node clocks drift; NTP-synced ones stay well
// inside this window.
const MaxClockSkew = 5 * time.Minute

const (
	maxMeasurementTypeLength = 64
	maxUnitLength            = 16
)

// ValidateReading checks one submitted reading and returns every field
// failure found.
func ValidateReading(r types.NewReading) []ValidationError {
	var c Collector

	c.Add(ValidateRequired("nodeId", r.NodeID))
	c.Add(ValidateRequired("measurementType", r.MeasurementType))
	c.Add(ValidateMaxLength("measurementType", r.MeasurementType, maxMeasurementTypeLength))
	c.Add(ValidateRequired("unit", r.Unit))
	c.Add(ValidateMaxLength("unit", r.Unit, maxUnitLength))
	c.Add(ValidateFinite("rawValue", r.RawValue))
	c.Add(ValidateTimestamp("timestamp", r.Timestamp, MaxClockSkew))
	if r.AssignmentID != nil {
		c.Add(ValidateULID("assignmentId", *r.AssignmentID))
	}

	return c.Errors()
}
