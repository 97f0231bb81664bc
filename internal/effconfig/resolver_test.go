package effconfig

import (
	"testing"

	"github.com/iotgrid/hub/internal/types"
)

func intPtr(v int) *int           { return &v }
func strPtr(v string) *string     { return &v }
func floatPtr(v float64) *float64 { return &v }

func baseSensorType() types.SensorType {
	return types.SensorType{
		ID:                      "st-1",
		Code:                    "bme280",
		Name:                    "BME280",
		Protocol:                types.ProtocolI2C,
		DefaultI2CAddress:       strPtr("0x76"),
		DefaultSdaPin:           intPtr(21),
		DefaultSclPin:           intPtr(22),
		DefaultIntervalSeconds:  60,
		DefaultOffsetCorrection: 0.5,
		DefaultGainCorrection:   1.2,
	}
}

func TestEffectiveInterval_Cascade(t *testing.T) {
	st := baseSensorType()

	tests := []struct {
		name       string
		assignment *types.Assignment
		sensor     *types.Sensor
		want       int
	}{
		{
			name:       "assignment override wins",
			assignment: &types.Assignment{IntervalSecondsOverride: intPtr(10)},
			sensor:     &types.Sensor{IntervalSecondsOverride: intPtr(30)},
			want:       10,
		},
		{
			name:       "sensor override when assignment unset",
			assignment: &types.Assignment{},
			sensor:     &types.Sensor{IntervalSecondsOverride: intPtr(30)},
			want:       30,
		},
		{
			name:       "type default when nothing set",
			assignment: &types.Assignment{},
			sensor:     &types.Sensor{},
			want:       60,
		},
		{
			name:       "nil assignment and sensor fall through",
			assignment: nil,
			sensor:     nil,
			want:       60,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EffectiveInterval(tt.assignment, tt.sensor, st)
			if got != tt.want {
				t.Errorf("EffectiveInterval() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEffectiveOffset_Cascade(t *testing.T) {
	st := baseSensorType()

	if got := EffectiveOffset(types.Sensor{OffsetCorrection: floatPtr(-2.5)}, st); got != -2.5 {
		t.Errorf("sensor override: got %v, want -2.5", got)
	}
	if got := EffectiveOffset(types.Sensor{}, st); got != 0.5 {
		t.Errorf("type default: got %v, want 0.5", got)
	}
	// An explicit zero override is distinct from "never calibrated".
	if got := EffectiveOffset(types.Sensor{OffsetCorrection: floatPtr(0)}, st); got != 0 {
		t.Errorf("explicit zero override: got %v, want 0", got)
	}
}

func TestEffectiveGain_Cascade(t *testing.T) {
	st := baseSensorType()

	if got := EffectiveGain(types.Sensor{GainCorrection: floatPtr(0.98)}, st); got != 0.98 {
		t.Errorf("sensor override: got %v, want 0.98", got)
	}
	if got := EffectiveGain(types.Sensor{}, st); got != 1.2 {
		t.Errorf("type default: got %v, want 1.2", got)
	}
	// Explicitly calibrating to exactly 1.0 must stick.
	if got := EffectiveGain(types.Sensor{GainCorrection: floatPtr(1.0)}, st); got != 1.0 {
		t.Errorf("explicit 1.0 override: got %v, want 1.0", got)
	}
}

func TestCalibrate(t *testing.T) {
	tests := []struct {
		name              string
		raw, gain, offset float64
		want              float64
	}{
		{"identity", 21.5, 1.0, 0, 21.5},
		{"gain and offset", 100, 1.5, -2, 148},
		{"negative raw", -40, 2.0, 10, -70},
		{"zero raw", 0, 3.0, 0.25, 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Calibrate(tt.raw, tt.gain, tt.offset); got != tt.want {
				t.Errorf("Calibrate(%v, %v, %v) = %v, want %v",
					tt.raw, tt.gain, tt.offset, got, tt.want)
			}
		})
	}
}

func TestResolve_PinCascade(t *testing.T) {
	st := baseSensorType()
	sensor := types.Sensor{}

	t.Run("assignment overrides win", func(t *testing.T) {
		a := types.Assignment{
			I2CAddressOverride: strPtr("0x77"),
			SdaPinOverride:     intPtr(25),
		}
		cfg := Resolve(a, sensor, st)

		if cfg.I2CAddress == nil || *cfg.I2CAddress != "0x77" {
			t.Errorf("I2CAddress = %v, want 0x77", cfg.I2CAddress)
		}
		if cfg.SdaPin == nil || *cfg.SdaPin != 25 {
			t.Errorf("SdaPin = %v, want 25", cfg.SdaPin)
		}
		// SCL has no override and falls back to the type default.
		if cfg.SclPin == nil || *cfg.SclPin != 22 {
			t.Errorf("SclPin = %v, want 22", cfg.SclPin)
		}
	})

	t.Run("type defaults when no overrides", func(t *testing.T) {
		cfg := Resolve(types.Assignment{}, sensor, st)

		if cfg.I2CAddress == nil || *cfg.I2CAddress != "0x76" {
			t.Errorf("I2CAddress = %v, want 0x76", cfg.I2CAddress)
		}
		if cfg.OneWirePin != nil {
			t.Errorf("OneWirePin = %v, want nil", cfg.OneWirePin)
		}
	})
}

func TestResolve_FullCascade(t *testing.T) {
	st := baseSensorType()
	sensor := types.Sensor{
		IntervalSecondsOverride: intPtr(120),
		OffsetCorrection:        floatPtr(1.5),
		GainCorrection:          floatPtr(0.9),
	}
	a := types.Assignment{
		IntervalSecondsOverride: intPtr(15),
	}

	cfg := Resolve(a, sensor, st)

	if cfg.IntervalSeconds != 15 {
		t.Errorf("IntervalSeconds = %d, want assignment override 15", cfg.IntervalSeconds)
	}
	if cfg.OffsetCorrection != 1.5 {
		t.Errorf("OffsetCorrection = %v, want 1.5", cfg.OffsetCorrection)
	}
	if cfg.GainCorrection != 0.9 {
		t.Errorf("GainCorrection = %v, want 0.9", cfg.GainCorrection)
	}
}

func TestApplyCalibration(t *testing.T) {
	st := baseSensorType()
	sensor := types.Sensor{
		OffsetCorrection: floatPtr(-1),
		GainCorrection:   floatPtr(2),
	}

	if got := ApplyCalibration(10, sensor, st); got != 19 {
		t.Errorf("ApplyCalibration(10) = %v, want 19", got)
	}

	// Uncalibrated sensor uses factory defaults: 10*1.2 + 0.5.
	if got := ApplyCalibration(10, types.Sensor{}, st); got != 12.5 {
		t.Errorf("ApplyCalibration(10, uncalibrated) = %v, want 12.5", got)
	}
}
