package utils

import (
	"math"
	"testing"
)

func AssertTrue(t *testing.T, a bool) {
	t.Helper()
	if !a {
		t.Fatalf("Expected true, got false")
	}
}

func AssertFalse(t *testing.T, a bool) {
	t.Helper()
	if a {
		t.Fatalf("Expected false, got true")
	}
}

func AssertEqual(t *testing.T, a interface{}, b interface{}) {
	t.Helper()
	if a != b {
		t.Fatalf("Expected equal: %v != %v\n", a, b)
	}
}

// AssertClose fails unless |a - b| <= tolerance.
func AssertClose(t *testing.T, a float64, b float64, tolerance float64) {
	t.Helper()
	if math.Abs(a-b) > tolerance {
		t.Fatalf("Expected close: %v != %v (tolerance %v)\n", a, b, tolerance)
	}
}
