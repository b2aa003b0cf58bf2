package native

import (
	"testing"

	"github.com/two-barrels/scriptrt/script"
)

func TestJSONParseScalarsAndContainers(t *testing.T) {
	b := newTestBridge("engine-1")
	j := mustField(t, b.RootPrototype(), "JSON").Object()

	if callNative(t, j, "parse", script.String("not json")).Kind != script.KindNull {
		t.Fatal("expected invalid JSON to parse as null")
	}

	parsed := callNative(t, j, "parse", script.String(`{"a":1,"b":"x","c":[1,2,3],"d":true,"e":null}`)).Object()
	if parsed == nil {
		t.Fatal("expected an object")
	}
	if n, _ := mustField(t, parsed, "a").Int64(); n != 1 {
		t.Fatalf("expected a==1, got %v", n)
	}
	if mustField(t, parsed, "b").Str() != "x" {
		t.Fatal("expected b==x")
	}
	arr := mustField(t, parsed, "c").Object()
	if arr == nil || arr.Len() != 3 {
		t.Fatalf("expected c to be a 3-element array, got %v", arr)
	}
	if !mustField(t, parsed, "d").Boolean() {
		t.Fatal("expected d==true")
	}
	if mustField(t, parsed, "e").Kind != script.KindNull {
		t.Fatal("expected e==null")
	}
}

func TestJSONStringifyRoundTrip(t *testing.T) {
	b := newTestBridge("engine-1")
	j := mustField(t, b.RootPrototype(), "JSON").Object()

	obj := script.NewObject(nil)
	obj.Assign("name", script.String("alice"))
	obj.Assign("age", script.Int(30))
	obj.Assign("active", script.Bool(true))

	text := callNative(t, j, "stringify", script.Obj(obj)).Str()
	back := callNative(t, j, "parse", script.String(text)).Object()
	if back == nil {
		t.Fatalf("expected round-tripped JSON to re-parse, got text %q", text)
	}
	if mustField(t, back, "name").Str() != "alice" {
		t.Fatal("expected name to round-trip")
	}
	if n, _ := mustField(t, back, "age").Int64(); n != 30 {
		t.Fatal("expected age to round-trip")
	}
	if !mustField(t, back, "active").Boolean() {
		t.Fatal("expected active to round-trip")
	}
}

func TestJSONStringifyArray(t *testing.T) {
	b := newTestBridge("engine-1")
	j := mustField(t, b.RootPrototype(), "JSON").Object()

	arr := script.NewArray(nil)
	arr.Push(script.Int(1))
	arr.Push(script.String("two"))

	text := callNative(t, j, "stringify", script.Obj(arr)).Str()
	back := callNative(t, j, "parse", script.String(text)).Object()
	if back == nil || back.Len() != 2 {
		t.Fatalf("expected array to round-trip with 2 elements, got %q -> %v", text, back)
	}
}
