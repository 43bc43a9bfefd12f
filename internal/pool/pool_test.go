package pool

import "testing"

func TestGetSizeBuckets(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		expectCap int
	}{
		{"4k bucket exact", Size4k, Size4k},
		{"4k bucket smaller", 1024, Size4k},
		{"16k bucket exact", Size16k, Size16k},
		{"64k bucket smaller", 40 * 1024, Size64k},
		{"256k bucket exact", Size256k, Size256k},
		{"oversized bypasses pool", Size256k + 1, Size256k + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := Get(tt.size)
			if len(buf) != tt.size {
				t.Errorf("Get(%d) returned len=%d, want %d", tt.size, len(buf), tt.size)
			}
			if cap(buf) != tt.expectCap {
				t.Errorf("Get(%d) returned cap=%d, want %d", tt.size, cap(buf), tt.expectCap)
			}
			Put(buf)
		})
	}
}

func TestReuse(t *testing.T) {
	buf1 := Get(Size4k)
	ptr1 := &buf1[0]
	Put(buf1)

	buf2 := Get(Size4k)
	ptr2 := &buf2[0]
	Put(buf2)

	if ptr1 == ptr2 {
		t.Log("buffer was reused from pool")
	} else {
		t.Log("buffer was not reused (sync.Pool GC behavior)")
	}
}

func TestPutNonStandardCap(t *testing.T) {
	buf := make([]byte, 100*1024)
	Put(buf) // must not panic
}
