// Package effconfig resolves the cascading device configuration for a
// node-sensor assignment. Every tunable field resolves with
// first-non-nil-wins semantics across three levels:
//
//	assignment override → sensor override → sensor-type default
//
// All functions are pure and safe for concurrent use.
package effconfig

import "github.com/iotgrid/hub/internal/types"

// EffectiveConfig is the fully resolved configuration for one
// assignment after applying the override cascade.
type EffectiveConfig struct {
	IntervalSeconds  int     `json:"intervalSeconds"`
	I2CAddress       *string `json:"i2cAddress,omitempty"`
	SdaPin           *int    `json:"sdaPin,omitempty"`
	SclPin           *int    `json:"sclPin,omitempty"`
	OneWirePin       *int    `json:"oneWirePin,omitempty"`
	AnalogPin        *int    `json:"analogPin,omitempty"`
	DigitalPin       *int    `json:"digitalPin,omitempty"`
	TriggerPin       *int    `json:"triggerPin,omitempty"`
	EchoPin          *int    `json:"echoPin,omitempty"`
	OffsetCorrection float64 `json:"offsetCorrection"`
	GainCorrection   float64 `json:"gainCorrection"`
}

// Resolve computes the effective configuration for an assignment.
// Pin and address fields cascade assignment → type (sensors carry no
// pin overrides); interval and calibration cascade through all three
// levels.
func Resolve(a types.Assignment, s types.Sensor, st types.SensorType) EffectiveConfig {
	return EffectiveConfig{
		IntervalSeconds:  EffectiveInterval(&a, &s, st),
		I2CAddress:       coalesceString(a.I2CAddressOverride, st.DefaultI2CAddress),
		SdaPin:           coalesceInt(a.SdaPinOverride, st.DefaultSdaPin),
		SclPin:           coalesceInt(a.SclPinOverride, st.DefaultSclPin),
		OneWirePin:       coalesceInt(a.OneWirePinOverride, st.DefaultOneWirePin),
		AnalogPin:        coalesceInt(a.AnalogPinOverride, st.DefaultAnalogPin),
		DigitalPin:       coalesceInt(a.DigitalPinOverride, st.DefaultDigitalPin),
		TriggerPin:       coalesceInt(a.TriggerPinOverride, st.DefaultTriggerPin),
		EchoPin:          coalesceInt(a.EchoPinOverride, st.DefaultEchoPin),
		OffsetCorrection: EffectiveOffset(s, st),
		GainCorrection:   EffectiveGain(s, st),
	}
}

// EffectiveInterval resolves the sampling interval. Assignment and
// sensor may be nil when only type-level resolution is wanted.
func EffectiveInterval(a *types.Assignment, s *types.Sensor, st types.SensorType) int {
	if a != nil && a.IntervalSecondsOverride != nil {
		return *a.IntervalSecondsOverride
	}
	if s != nil && s.IntervalSecondsOverride != nil {
		return *s.IntervalSecondsOverride
	}
	return st.DefaultIntervalSeconds
}

// EffectiveOffset resolves the calibration offset. A nil sensor-level
// override means the sensor was never calibrated and inherits the
// factory default.
func EffectiveOffset(s types.Sensor, st types.SensorType) float64 {
	if s.OffsetCorrection != nil {
		return *s.OffsetCorrection
	}
	return st.DefaultOffsetCorrection
}

// EffectiveGain resolves the calibration gain.
func EffectiveGain(s types.Sensor, st types.SensorType) float64 {
	if s.GainCorrection != nil {
		return *s.GainCorrection
	}
	return st.DefaultGainCorrection
}

// Calibrate applies the linear calibration formula to a raw value.
func Calibrate(raw, gain, offset float64) float64 {
	return raw*gain + offset
}

// ApplyCalibration calibrates a raw value using the resolved gain and
// offset for a sensor.
func ApplyCalibration(raw float64, s types.Sensor, st types.SensorType) float64 {
	return Calibrate(raw, EffectiveGain(s, st), EffectiveOffset(s, st))
}

func coalesceInt(override, fallback *int) *int {
	if override != nil {
		return override
	}
	return fallback
}

func coalesceString(override, fallback *string) *string {
	if override != nil {
		return override
	}
	return fallback
}
