package blake2b

import "testing"

func TestDigestPersonalizedEmptyInput(t *testing.T) {
	var person [16]byte
	copy(person[:], "ZcashPoW")
	person[8], person[9], person[10], person[11] = 96, 0, 0, 0
	person[12], person[13], person[14], person[15] = 5, 0, 0, 0

	d, err := New(12, person)
	if err != nil {
		t.Fatal(err)
	}
	got := d.Sum(nil)
	want := []byte{20, 36, 1, 103, 212, 8, 139, 129, 145, 123, 113, 170}
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDigestCloneIndependence(t *testing.T) {
	var person [16]byte
	d, err := New(32, person)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Write([]byte("shared prefix")); err != nil {
		t.Fatal(err)
	}

	a := d.Clone()
	b := d.Clone()
	if _, err := a.Write([]byte("A")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Write([]byte("B")); err != nil {
		t.Fatal(err)
	}

	sa, sb := a.Sum(nil), b.Sum(nil)
	equal := true
	for i := range sa {
		if sa[i] != sb[i] {
			equal = false
			break
		}
	}
	if equal {
		t.Fatal("clones diverged in input but produced the same digest")
	}

	// The original must be unaffected by either clone's writes.
	base := d.Sum(nil)
	if len(base) != 32 {
		t.Fatalf("len(base) = %d, want 32", len(base))
	}
}

func TestInvalidDigestSize(t *testing.T) {
	var person [16]byte
	if _, err := New(0, person); err == nil {
		t.Fatal("expected error for size 0")
	}
	if _, err := New(65, person); err == nil {
		t.Fatal("expected error for size 65")
	}
}

func TestWriteAcrossBlockBoundary(t *testing.T) {
	var person [16]byte
	d, err := New(64, person)
	if err != nil {
		t.Fatal(err)
	}
	long := make([]byte, BlockSize*3+17)
	for i := range long {
		long[i] = byte(i)
	}
	if _, err := d.Write(long[:100]); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Write(long[100:]); err != nil {
		t.Fatal(err)
	}
	if got := len(d.Sum(nil)); got != 64 {
		t.Fatalf("len(sum) = %d, want 64", got)
	}
}
