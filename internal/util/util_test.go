package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRingBufferOverwritesOldest(t *testing.T) {
	r := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	got := r.Snapshot()
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	r.Reset()
	if r.Len() != 0 || len(r.Snapshot()) != 0 {
		t.Fatalf("reset left %d items", r.Len())
	}
	r.Push(9)
	if s := r.Snapshot(); len(s) != 1 || s[0] != 9 {
		t.Fatalf("after reset got %v", s)
	}
}

func TestResolvePath(t *testing.T) {
	t.Run("relative", func(t *testing.T) {
		if got := ResolvePath("/base", "data.db"); got != filepath.Join("/base", "data.db") {
			t.Fatalf("got %q", got)
		}
	})
	t.Run("absolute", func(t *testing.T) {
		abs := filepath.Join(t.TempDir(), "x", "..", "y.db")
		if got := ResolvePath("/base", abs); got != filepath.Clean(abs) {
			t.Fatalf("got %q", got)
		}
	})
}

func TestWriteJSONFileCreatesDirs(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a", "b", "c.json")
	if err := WriteJSONFile(p, map[string]int{"x": 1}); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if string(StripBOM(append([]byte{0xEF, 0xBB, 0xBF}, b...))) != string(b) {
		t.Fatal("StripBOM did not remove the mark")
	}
}
