package store

import (
	"bytes"
	"testing"

	"github.com/hashbeam/hashbeam-dht/types"
)

func Test_Put_Then_Get_Returns_Value(t *testing.T) {
	vs := NewValueStore()
	key := types.HashKey("k")

	vs.Put(key, []byte("v1"))
	got, ok := vs.Get(key)
	if !ok || !bytes.Equal(got, []byte("v1")) {
		t.Fatalf("expected v1, got %q ok=%v", got, ok)
	}
}

func Test_Put_Overwrites_Last_Writer_Wins(t *testing.T) {
	vs := NewValueStore()
	key := types.HashKey("k")

	vs.Put(key, []byte("old"))
	vs.Put(key, []byte("new"))
	got, _ := vs.Get(key)
	if !bytes.Equal(got, []byte("new")) {
		t.Fatalf("expected new, got %q", got)
	}
	if vs.Len() != 1 {
		t.Fatalf("expected a single entry, got %d", vs.Len())
	}
}

func Test_Get_Missing_Key(t *testing.T) {
	vs := NewValueStore()
	if _, ok := vs.Get(types.HashKey("absent")); ok {
		t.Fatal("missing key must not be found")
	}
}

func Test_Stored_Bytes_Are_Isolated_From_Caller(t *testing.T) {
	vs := NewValueStore()
	key := types.HashKey("k")

	in := []byte("immutable")
	vs.Put(key, in)
	in[0] = 'X' // caller mutates its slice after the put

	got, _ := vs.Get(key)
	if !bytes.Equal(got, []byte("immutable")) {
		t.Fatal("store must copy on put")
	}

	got[0] = 'Y' // and mutating the returned copy must not reach the store
	again, _ := vs.Get(key)
	if !bytes.Equal(again, []byte("immutable")) {
		t.Fatal("store must copy on get")
	}
}
