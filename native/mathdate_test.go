package native

import (
	"testing"
	"time"

	"github.com/two-barrels/scriptrt/script"
)

func TestMathHelpers(t *testing.T) {
	m := buildMath()
	if !m.Frozen() {
		t.Fatal("expected Math to be frozen")
	}

	if v, _ := callNative(t, m, "floor", script.Int(7)).Int64(); v != 7 {
		t.Fatalf("expected floor(7)=7, got %d", v)
	}
	if v, _ := callNative(t, m, "abs", script.Int(-5)).Int64(); v != 5 {
		t.Fatalf("expected abs(-5)=5, got %d", v)
	}
	if v, _ := callNative(t, m, "max", script.Int(1), script.Int(9), script.Int(3)).Int64(); v != 9 {
		t.Fatalf("expected max=9, got %d", v)
	}
	if v, _ := callNative(t, m, "min", script.Int(1), script.Int(9), script.Int(3)).Int64(); v != 1 {
		t.Fatalf("expected min=1, got %d", v)
	}
	if v, _ := callNative(t, m, "pow", script.Int(2), script.Int(10)).Int64(); v != 1024 {
		t.Fatalf("expected pow(2,10)=1024, got %d", v)
	}
	if _, ok := callNative(t, m, "random").Int64(); !ok {
		t.Fatal("expected random() to return an integer")
	}
}

func TestDateNowAndFormat(t *testing.T) {
	d := buildDate()
	if !d.Frozen() {
		t.Fatal("expected Date to be frozen")
	}

	before := time.Now().UnixMilli()
	now, _ := callNative(t, d, "now").Int64()
	after := time.Now().UnixMilli()
	if now < before || now > after {
		t.Fatalf("expected now() within [%d,%d], got %d", before, after, now)
	}

	formatted := callNative(t, d, "format", script.Int(0), script.String("2006-01-02"))
	if formatted.Str() != "1970-01-01" {
		t.Fatalf("expected epoch formatted as 1970-01-01, got %q", formatted.Str())
	}
}
