package module

import (
	"errors"
	"github.com/ValentinKolb/dkvmod/lib/host"
	"testing"
	"time"
)

// withCtx runs fn inside a command invocation and fails the test if fn reports failures.
func withCtx(t *testing.T, s *host.Server, fn func(ctx *Context) error) {
	t.Helper()
	var ferr error
	runHandler(t, s, func(ctx *Context, _ []RStr) (Value, error) {
		ferr = fn(ctx)
		return SimpleValue("OK"), nil
	})
	if ferr != nil {
		t.Fatal(ferr)
	}
}

func TestKeyModes(t *testing.T) {
	s := newTestHost(t, host.Config{})
	exec(s, "SET", "k", "v")

	withCtx(t, s, func(ctx *Context) error {
		k, err := ctx.OpenReadKey(ctx.CreateString("k"))
		if err != nil {
			return err
		}
		if k.IsWritable() || k.Mode().String() != "read" {
			t.Errorf("Read key reports mode %s", k.Mode())
		}
		if k.Name() != "k" {
			t.Errorf("Expected name k, got %s", k.Name())
		}

		writes := map[string]func() error{
			"StringSet": func() error { return k.StringSet(ctx.CreateString("x")) },
			"Delete":    k.Delete,
			"SetExpire": func() error { return k.SetExpire(time.Second) },
			"Persist":   k.Persist,
			"ListPush":  func() error { return k.ListPush(ListTail, ctx.CreateString("x")) },
			"ListPop":   func() error { _, err := k.ListPop(ListHead); return err },
			"HashSet": func() error {
				_, err := k.HashSet(HashNone, ctx.CreateString("f"), ctx.CreateString("x"))
				return err
			},
			"ZsetAdd": func() error { _, err := k.ZsetAdd(1, ctx.CreateString("m"), ZaddNone); return err },
			"ZsetRem": func() error { _, err := k.ZsetRem(ctx.CreateString("m")); return err },
		}
		for name, write := range writes {
			if err := write(); !errors.Is(err, ErrPermission) {
				t.Errorf("%s on read key: expected permission error, got %v", name, err)
			}
		}

		v, err := k.StringGet()
		if err != nil {
			return err
		}
		if v.String() != "v" {
			t.Errorf("Value changed to %q", v.String())
		}
		return nil
	})
	if r := exec(s, "GET", "k"); r != `"v"` {
		t.Errorf("Expected value to be unchanged, got %s", r)
	}
}

func TestVerifyType(t *testing.T) {
	s := newTestHost(t, host.Config{})
	exec(s, "SET", "str", "v")
	exec(s, "RPUSH", "list", "a")
	exec(s, "HSET", "hash", "f", "v")
	exec(s, "SADD", "set", "m")
	exec(s, "ZADD", "zset", "1", "m")

	tests := []struct {
		key        string
		expected   KeyType
		allowEmpty bool
		wantErr    bool
	}{
		{"str", KeyTypeString, false, false},
		{"str", KeyTypeList, false, true},
		{"list", KeyTypeList, false, false},
		{"hash", KeyTypeHash, false, false},
		{"hash", KeyTypeZSet, true, true},
		{"set", KeyTypeSet, false, false},
		{"zset", KeyTypeZSet, false, false},
		{"missing", KeyTypeString, true, false},
		{"missing", KeyTypeString, false, true},
	}
	withCtx(t, s, func(ctx *Context) error {
		for _, tt := range tests {
			k, err := ctx.OpenReadKey(ctx.CreateString(tt.key))
			if err != nil {
				return err
			}
			err = k.VerifyType(tt.expected, tt.allowEmpty)
			if (err != nil) != tt.wantErr {
				t.Errorf("VerifyType(%s, %s, %v) error = %v, wantErr %v", tt.key, tt.expected, tt.allowEmpty, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrWrongType) {
				t.Errorf("Expected a wrong type error, got %v", err)
			}
			k.Close()
		}
		return nil
	})
}

func TestStringRoundTrip(t *testing.T) {
	s := newTestHost(t, host.Config{})
	const text = "grüße, 世界"

	withCtx(t, s, func(ctx *Context) error {
		k, err := ctx.OpenWriteKey(ctx.CreateString("greeting"))
		if err != nil {
			return err
		}
		val := ctx.CreateString(text)
		if err := k.StringSet(val); err != nil {
			return err
		}
		if !val.Consumed() {
			t.Error("StringSet must consume the value")
		}
		if _, err := val.ToStr(); !errors.Is(err, ErrStringConsumed) {
			t.Errorf("Expected consumed error, got %v", err)
		}
		val.Close()

		got, err := k.StringGet()
		if err != nil {
			return err
		}
		str, err := got.ToStr()
		if err != nil {
			return err
		}
		if str != text {
			t.Errorf("Expected %q, got %q", text, str)
		}
		if n := k.ValueLength(); n != int64(len(text)) {
			t.Errorf("Expected length %d, got %d", len(text), n)
		}

		bad := ctx.CreateStringBytes([]byte{0xff, 0xfe})
		if _, err := bad.ToStr(); !errors.Is(err, ErrValidation) {
			t.Errorf("Expected invalid UTF-8 to fail, got %v", err)
		}
		return nil
	})
}

func TestStringGetErrors(t *testing.T) {
	s := newTestHost(t, host.Config{})
	exec(s, "RPUSH", "list", "a")

	withCtx(t, s, func(ctx *Context) error {
		k, _ := ctx.OpenReadKey(ctx.CreateString("list"))
		if _, err := k.StringGet(); !errors.Is(err, ErrWrongType) {
			t.Errorf("Expected wrong type, got %v", err)
		}
		k, _ = ctx.OpenReadKey(ctx.CreateString("missing"))
		if _, err := k.StringGet(); !errors.Is(err, ErrWrongType) {
			t.Errorf("Expected wrong type for a missing key, got %v", err)
		}
		w, _ := ctx.OpenWriteKey(ctx.CreateString("list"))
		if err := w.StringSet(ctx.CreateString("x")); !errors.Is(err, ErrWrongType) {
			t.Errorf("Expected wrong type on set, got %v", err)
		}
		return nil
	})
}

func TestListPushPop(t *testing.T) {
	s := newTestHost(t, host.Config{})

	withCtx(t, s, func(ctx *Context) error {
		k, err := ctx.OpenWriteKey(ctx.CreateString("l"))
		if err != nil {
			return err
		}
		if err := k.ListPush(ListTail, ctx.CreateString("v")); err != nil {
			return err
		}
		if k.Type() != KeyTypeList || k.ValueLength() != 1 {
			t.Errorf("Expected a list of one, got %s of %d", k.Type(), k.ValueLength())
		}
		v, err := k.ListPop(ListHead)
		if err != nil {
			return err
		}
		if v.String() != "v" {
			t.Errorf("Expected v, got %s", v.String())
		}
		if n := k.ValueLength(); n != 0 {
			t.Errorf("Expected empty list, length %d", n)
		}
		if _, err := k.ListPop(ListTail); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected not found on empty list, got %v", err)
		}
		return nil
	})

	withCtx(t, s, func(ctx *Context) error {
		k, _ := ctx.OpenWriteKey(ctx.CreateString("l"))
		for _, v := range []string{"b", "c"} {
			if err := k.ListPush(ListTail, ctx.CreateString(v)); err != nil {
				return err
			}
		}
		return k.ListPush(ListHead, ctx.CreateString("a"))
	})
	if r := exec(s, "LRANGE", "l", "0", "-1"); r != "1) \"a\"\n2) \"b\"\n3) \"c\"" {
		t.Errorf("Unexpected list %q", r)
	}
}

func TestListTailPushPop(t *testing.T) {
	s := newTestHost(t, host.Config{})

	withCtx(t, s, func(ctx *Context) error {
		k, _ := ctx.OpenWriteKey(ctx.CreateString("l"))
		if err := k.ListPush(ListTail, ctx.CreateString("v")); err != nil {
			return err
		}
		v, err := k.ListPop(ListTail)
		if err != nil {
			return err
		}
		if v.String() != "v" || k.ValueLength() != 0 {
			t.Errorf("Expected v and an empty list, got %s of %d", v.String(), k.ValueLength())
		}
		return nil
	})
}

func TestWrongType(t *testing.T) {
	s := newTestHost(t, host.Config{})
	exec(s, "SET", "str", "v")
	exec(s, "RPUSH", "list", "a")

	withCtx(t, s, func(ctx *Context) error {
		str, _ := ctx.OpenWriteKey(ctx.CreateString("str"))
		list, _ := ctx.OpenWriteKey(ctx.CreateString("list"))

		tests := []struct {
			name string
			op   func() error
		}{
			{"list push", func() error { return str.ListPush(ListTail, ctx.CreateString("x")) }},
			{"list pop", func() error { _, err := str.ListPop(ListHead); return err }},
			{"hash get", func() error { _, err := list.HashGet(HashGetNone, ctx.CreateString("f")); return err }},
			{"hash exists", func() error { _, err := list.HashExists(ctx.CreateString("f")); return err }},
			{"hash set", func() error {
				_, err := str.HashSet(HashNone, ctx.CreateString("f"), ctx.CreateString("v"))
				return err
			}},
			{"zset add", func() error { _, err := list.ZsetAdd(1, ctx.CreateString("m"), ZaddNone); return err }},
			{"zset rem", func() error { _, err := list.ZsetRem(ctx.CreateString("m")); return err }},
			{"zset lex range", func() error {
				_, err := str.ZsetLexRange(ZsetFirstIn, ctx.CreateString("-"), ctx.CreateString("+"))
				return err
			}},
		}
		for _, tt := range tests {
			if err := tt.op(); !errors.Is(err, ErrWrongType) {
				t.Errorf("%s: expected wrong type error, got %v", tt.name, err)
			}
		}
		if str.Type() != KeyTypeString || list.ValueLength() != 1 {
			t.Error("Failed operations must leave the keys unchanged")
		}
		return nil
	})
}

func TestListPushOverLimit(t *testing.T) {
	s := newTestHost(t, host.Config{MaxKeys: 1})
	exec(s, "SET", "a", "1")

	withCtx(t, s, func(ctx *Context) error {
		k, _ := ctx.OpenWriteKey(ctx.CreateString("l"))
		if err := k.ListPush(ListTail, ctx.CreateString("v")); !errors.Is(err, ErrHostStatus) {
			t.Errorf("Expected push to be refused, got %v", err)
		}
		return nil
	})
}

func TestHash(t *testing.T) {
	s := newTestHost(t, host.Config{})

	withCtx(t, s, func(ctx *Context) error {
		k, err := ctx.OpenWriteKey(ctx.CreateString("h"))
		if err != nil {
			return err
		}
		field := ctx.CreateString("f")

		if n, err := k.HashSet(HashNone, field, ctx.CreateString("1")); err != nil || n != 1 {
			t.Errorf("HashSet = %d, %v", n, err)
		}
		if n, err := k.HashSet(HashNX, field, ctx.CreateString("2")); err != nil || n != 0 {
			t.Errorf("HashSet NX on existing field = %d, %v", n, err)
		}
		if n, err := k.HashSet(HashXX, ctx.CreateString("g"), ctx.CreateString("2")); err != nil || n != 0 {
			t.Errorf("HashSet XX on missing field = %d, %v", n, err)
		}

		v, err := k.HashGet(HashGetNone, field)
		if err != nil {
			return err
		}
		if v == nil || v.String() != "1" {
			t.Errorf("Expected value 1, got %v", v)
		}
		if v, _ := k.HashGet(HashGetNone, ctx.CreateString("g")); v != nil {
			t.Errorf("Expected nil for missing field, got %s", v.String())
		}
		if v, _ := k.HashGet(HashGetExists, field); v == nil || v.String() != "1" {
			t.Error("HashGetExists should report presence")
		}
		if ok, _ := k.HashExists(field); !ok {
			t.Error("HashExists should be true")
		}

		if n, err := k.HashSet(HashNone, field, nil); err != nil || n != 1 {
			t.Errorf("HashSet delete = %d, %v", n, err)
		}
		if ok, _ := k.HashExists(field); ok {
			t.Error("Field should be deleted")
		}
		if !k.IsEmpty() {
			t.Error("Hash without fields should not exist")
		}
		return nil
	})
}

func TestExpire(t *testing.T) {
	s := newTestHost(t, host.Config{Clock: func() int64 { return 1_000_000 }})
	exec(s, "SET", "k", "v")

	withCtx(t, s, func(ctx *Context) error {
		k, _ := ctx.OpenWriteKey(ctx.CreateString("k"))
		if _, ok := k.Expire(); ok {
			t.Error("New key should have no expiry")
		}
		if err := k.SetExpire(5 * time.Second); err != nil {
			return err
		}
		if d, ok := k.Expire(); !ok || d != 5*time.Second {
			t.Errorf("Expected 5s, got %v %v", d, ok)
		}
		if err := k.SetExpire(500 * time.Microsecond); err != nil {
			return err
		}
		if d, ok := k.Expire(); !ok || d != time.Millisecond || k.IsEmpty() {
			t.Errorf("Expected a sub millisecond expiry to round up, got %v %v", d, ok)
		}
		if err := k.SetExpire(5 * time.Second); err != nil {
			return err
		}
		if err := k.SetExpire(-time.Second); !errors.Is(err, ErrValidation) {
			t.Errorf("Expected negative duration to fail, got %v", err)
		}
		if err := k.Persist(); err != nil {
			return err
		}
		if _, ok := k.Expire(); ok {
			t.Error("Persisted key should have no expiry")
		}

		missing, _ := ctx.OpenWriteKey(ctx.CreateString("missing"))
		if err := missing.SetExpire(time.Second); !errors.Is(err, ErrHostStatus) {
			t.Errorf("Expected expire on missing key to fail, got %v", err)
		}
		return nil
	})
}

func TestDeleteKey(t *testing.T) {
	s := newTestHost(t, host.Config{})
	exec(s, "SET", "k", "v")

	withCtx(t, s, func(ctx *Context) error {
		k, _ := ctx.OpenWriteKey(ctx.CreateString("k"))
		if err := k.Delete(); err != nil {
			return err
		}
		if !k.IsEmpty() {
			t.Error("Key should be gone")
		}
		return nil
	})
	if r := exec(s, "EXISTS", "k"); r != "(integer) 0" {
		t.Errorf("Expected key to be deleted, got %s", r)
	}
}

func TestZset(t *testing.T) {
	s := newTestHost(t, host.Config{})

	withCtx(t, s, func(ctx *Context) error {
		k, err := ctx.OpenWriteKey(ctx.CreateString("z"))
		if err != nil {
			return err
		}
		for i, m := range []string{"a", "b", "c", "d"} {
			if _, err := k.ZsetAdd(float64(i*2+1), ctx.CreateString(m), ZaddNone); err != nil {
				return err
			}
		}

		tests := []struct {
			name         string
			dir          ZsetRangeDirection
			min, max     float64
			exMin, exMax bool
			want         []string
		}{
			{"inclusive", ZsetFirstIn, 1, 5, false, false, []string{"a", "b", "c"}},
			{"exclusive min", ZsetFirstIn, 1, 5, true, false, []string{"b", "c"}},
			{"exclusive both", ZsetFirstIn, 1, 5, true, true, []string{"b"}},
			{"descending", ZsetLastIn, 1, 5, false, false, []string{"c", "b", "a"}},
			{"empty", ZsetFirstIn, 10, 20, false, false, []string{}},
		}
		for _, tt := range tests {
			elems, err := k.ZsetScoreRange(tt.dir, tt.min, tt.max, tt.exMin, tt.exMax)
			if err != nil {
				return err
			}
			if got := members(elems); !equalStrings(got, tt.want) {
				t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
			}
		}

		out, err := k.ZsetAdd(10, ctx.CreateString("a"), ZaddNX)
		if err != nil || out&ZaddNop == 0 {
			t.Errorf("ZaddNX on existing member = %v, %v", out, err)
		}
		out, err = k.ZsetAdd(10, ctx.CreateString("a"), ZaddXX)
		if err != nil || out&ZaddUpdated == 0 {
			t.Errorf("ZaddXX on existing member = %v, %v", out, err)
		}
		if score, err := k.ZsetScore(ctx.CreateString("a")); err != nil || score != 10 {
			t.Errorf("ZsetScore = %v, %v", score, err)
		}
		if _, err := k.ZsetScore(ctx.CreateString("x")); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected not found, got %v", err)
		}
		if removed, err := k.ZsetRem(ctx.CreateString("a")); err != nil || !removed {
			t.Errorf("ZsetRem = %v, %v", removed, err)
		}
		if removed, _ := k.ZsetRem(ctx.CreateString("a")); removed {
			t.Error("Second remove should report false")
		}
		return nil
	})
}

func TestZsetLexRange(t *testing.T) {
	s := newTestHost(t, host.Config{})
	exec(s, "ZADD", "z", "0", "a", "0", "b", "0", "c", "0", "d")

	tests := []struct {
		name     string
		dir      ZsetRangeDirection
		min, max string
		want     []string
		wantErr  bool
	}{
		{"all", ZsetFirstIn, "-", "+", []string{"a", "b", "c", "d"}, false},
		{"inclusive", ZsetFirstIn, "[b", "[c", []string{"b", "c"}, false},
		{"exclusive", ZsetFirstIn, "(a", "(d", []string{"b", "c"}, false},
		{"descending", ZsetLastIn, "[b", "+", []string{"d", "c", "b"}, false},
		{"bad bound", ZsetFirstIn, "b", "+", nil, true},
	}
	withCtx(t, s, func(ctx *Context) error {
		k, _ := ctx.OpenReadKey(ctx.CreateString("z"))
		for _, tt := range tests {
			elems, err := k.ZsetLexRange(tt.dir, ctx.CreateString(tt.min), ctx.CreateString(tt.max))
			if (err != nil) != tt.wantErr {
				t.Errorf("%s: error = %v, wantErr %v", tt.name, err, tt.wantErr)
				continue
			}
			if !tt.wantErr && !equalStrings(members(elems), tt.want) {
				t.Errorf("%s: got %v, want %v", tt.name, members(elems), tt.want)
			}
		}
		return nil
	})
}

func TestZsetRangeOnMissingAndWrongType(t *testing.T) {
	s := newTestHost(t, host.Config{})
	exec(s, "SET", "str", "v")

	withCtx(t, s, func(ctx *Context) error {
		k, _ := ctx.OpenReadKey(ctx.CreateString("missing"))
		elems, err := k.ZsetScoreRange(ZsetFirstIn, 0, 10, false, false)
		if err != nil || len(elems) != 0 {
			t.Errorf("Range on missing key = %v, %v", elems, err)
		}
		k, _ = ctx.OpenReadKey(ctx.CreateString("str"))
		if _, err := k.ZsetScoreRange(ZsetFirstIn, 0, 10, false, false); !errors.Is(err, ErrWrongType) {
			t.Errorf("Expected range on a string to fail, got %v", err)
		}
		return nil
	})
}

func TestClosedKey(t *testing.T) {
	s := newTestHost(t, host.Config{})

	withCtx(t, s, func(ctx *Context) error {
		k, _ := ctx.OpenWriteKey(ctx.CreateString("k"))
		k.Close()
		k.Close()
		if err := k.StringSet(ctx.CreateString("v")); err == nil {
			t.Error("Expected write on a closed key to fail")
		}
		mustPanic(t, "Type on a closed key", func() { k.Type() })
		return nil
	})
}

func members(elems []ZsetElement) []string {
	out := make([]string, len(elems))
	for i, e := range elems {
		out[i] = e.MemberString()
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
