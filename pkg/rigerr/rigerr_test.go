// Error taxonomy tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package rigerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	err := BusTransaction("tw_r", "setTargetPosition", errors.New("i2c: short write"))
	want := "[BUS_TRANSACTION:tw_r] setTargetPosition not acknowledged"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("short write")
	err := BusTransaction("tw_r", "energize", inner)
	if !errors.Is(err, inner) {
		t.Error("wrapped error not reachable through errors.Is")
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		fn   func(error) bool
		want bool
	}{
		{"bus", BusTransaction("cw_t", "goHome", nil), IsBusTransaction, true},
		{"cancelled", Cancelled("homing"), IsCancelled, true},
		{"timeout", ProtocolTimeout("getImuSample", nil), IsTimeout, true},
		{"range", Range("rotation rpm", 75, 0, 60), IsRange, true},
		{"invalid", InvalidArgument("step mode", 12), IsInvalidArgument, true},
		{"plain error is not bus", errors.New("plain"), IsBusTransaction, false},
		{"cancelled is not timeout", Cancelled("dwell"), IsTimeout, false},
	}

	for _, tt := range tests {
		if got := tt.fn(tt.err); got != tt.want {
			t.Errorf("%s: classification = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestClassificationThroughWrap(t *testing.T) {
	err := fmt.Errorf("queue drain: %w", Cancelled("move wait"))
	if !IsCancelled(err) {
		t.Error("IsCancelled should see through fmt.Errorf wrapping")
	}
}

func TestIsLocal(t *testing.T) {
	if !IsLocal(Range("feed", 1e12, 0, 450000000)) {
		t.Error("range rejection should be local")
	}
	if !IsLocal(InvalidArgument("encoder index", 9)) {
		t.Error("argument rejection should be local")
	}
	if IsLocal(BusTransaction("tw_z1", "deenergize", nil)) {
		t.Error("bus failure must not be local")
	}
}
