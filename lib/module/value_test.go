package module

import (
	"testing"
)

func TestValueString(t *testing.T) {
	tests := []struct {
		value Value
		want  string
	}{
		{NullValue(), "(nil)"},
		{IntValue(-3), "(integer) -3"},
		{DoubleValue(0.25), "(double) 0.25"},
		{SimpleValue("OK"), "OK"},
		{ErrorValue("ERR x"), "(error) ERR x"},
		{StringValue("a\"b"), `"a\"b"`},
		{ArrayValue(), "[]"},
		{ArrayValue(IntValue(1), StringsValue("x", "y")), `[(integer) 1, ["x", "y"]]`},
	}
	for _, tt := range tests {
		if got := tt.value.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestValueEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"null", NullValue(), NullValue(), true},
		{"int", IntValue(1), IntValue(1), true},
		{"int differs", IntValue(1), IntValue(2), false},
		{"kind differs", StringValue("OK"), SimpleValue("OK"), false},
		{"bulk", BulkValue([]byte("x")), StringValue("x"), true},
		{"empty array is not null", ArrayValue(), NullValue(), false},
		{"nested", ArrayValue(ArrayValue(IntValue(1))), ArrayValue(ArrayValue(IntValue(1))), true},
		{"nested differs", ArrayValue(ArrayValue(IntValue(1))), ArrayValue(ArrayValue(IntValue(2))), false},
		{"length differs", StringsValue("a"), StringsValue("a", "b"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValueCopies(t *testing.T) {
	b := []byte("abc")
	v := BulkValue(b)
	b[0] = 'x'
	if v.Str() != "abc" {
		t.Errorf("BulkValue must copy its input, got %s", v.Str())
	}
	out := v.Bytes()
	out[0] = 'y'
	if v.Str() != "abc" {
		t.Errorf("Bytes must return a copy, got %s", v.Str())
	}

	elems := []Value{IntValue(1)}
	arr := ArrayValue(elems...)
	elems[0] = IntValue(2)
	if arr.Index(0).Int() != 1 || arr.Len() != 1 {
		t.Errorf("ArrayValue must copy its elements, got %s", arr)
	}
	if KindArray.String() != "Array" || arr.Kind() != KindArray {
		t.Errorf("Unexpected kind %s", arr.Kind())
	}
	if !NullValue().IsNull() || ArrayValue().IsNull() {
		t.Error("Only the null value is null")
	}
}
