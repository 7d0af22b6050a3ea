package mathutil

import (
	"math"
	"testing"
)

func TestLogAdd(t *testing.T) {
	// log(exp(log(2)) + exp(log(3))) = log(5)
	got := LogAdd(math.Log(2), math.Log(3))
	want := math.Log(5)
	if math.Abs(got-want) > 1e-10 {
		t.Errorf("LogAdd(log(2), log(3)) = %f, want %f", got, want)
	}
}

func TestLogAddWithLogZero(t *testing.T) {
	a := math.Log(5)
	if got := LogAdd(LogZero, a); math.Abs(got-a) > 1e-10 {
		t.Errorf("LogAdd(LogZero, %f) = %f, want %f", a, got, a)
	}
	if got := LogAdd(a, LogZero); math.Abs(got-a) > 1e-10 {
		t.Errorf("LogAdd(%f, LogZero) = %f, want %f", a, got, a)
	}
	if got := LogAdd(LogZero, LogZero); got != LogZero {
		t.Errorf("LogAdd(LogZero, LogZero) = %g, want LogZero", got)
	}
}

func TestSafeLog(t *testing.T) {
	if got := SafeLog(0, 1e-7); math.Abs(got-math.Log(1e-7)) > 1e-12 {
		t.Errorf("SafeLog(0) = %f", got)
	}
	if got := SafeLog(0, 0); got != LogZero {
		t.Errorf("SafeLog(0, 0) = %g, want LogZero", got)
	}
}
