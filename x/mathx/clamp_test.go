package mathx

import "testing"

func TestClamp(t *testing.T) {
	if got := Clamp(5, 0, 3); got != 3 {
		t.Fatalf("Clamp(5,0,3)=%d", got)
	}
	if got := Clamp(-1, 3, 0); got != 0 {
		t.Fatalf("swapped bounds: got %d", got)
	}
	if got := Clamp(uint8(50), 0, 100); got != 50 {
		t.Fatalf("Clamp(50)=%d", got)
	}
}
