package chunk

import (
	"errors"
	"testing"
)

func TestSplitCoverage(t *testing.T) {
	tests := []struct {
		name string
		n    int
		size int
		want int
	}{
		{"empty", 0, 3, 0},
		{"single", 1, 3, 1},
		{"exact multiple", 9, 3, 3},
		{"remainder", 10, 3, 4},
		{"size larger than input", 5, 100, 1},
		{"size one", 4, 1, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := make([]int, tt.n)
			for i := range in {
				in[i] = i
			}

			chunks, err := Split(in, tt.size)
			if err != nil {
				t.Fatalf("Split() error = %v", err)
			}
			if len(chunks) != tt.want {
				t.Fatalf("got %d chunks, want %d", len(chunks), tt.want)
			}
			if Count(tt.n, tt.size) != tt.want {
				t.Errorf("Count(%d, %d) = %d, want %d", tt.n, tt.size, Count(tt.n, tt.size), tt.want)
			}

			// Every element exactly once, in order.
			next := 0
			for _, c := range chunks {
				if len(c) == 0 || len(c) > tt.size {
					t.Fatalf("chunk length %d outside (0, %d]", len(c), tt.size)
				}
				for _, v := range c {
					if v != next {
						t.Fatalf("got element %d, want %d", v, next)
					}
					next++
				}
			}
			if next != tt.n {
				t.Errorf("covered %d elements, want %d", next, tt.n)
			}
		})
	}
}

func TestSplitInvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := Split([]int{1, 2}, size); !errors.Is(err, ErrInvalidSize) {
			t.Errorf("Split(size=%d) error = %v, want ErrInvalidSize", size, err)
		}
	}
}

func TestSplitAppendDoesNotClobberNextChunk(t *testing.T) {
	in := []int{1, 2, 3, 4}
	chunks, err := Split(in, 2)
	if err != nil {
		t.Fatal(err)
	}
	_ = append(chunks[0], 99)
	if chunks[1][0] != 3 {
		t.Errorf("second chunk starts with %d after append to first, want 3", chunks[1][0])
	}
	if in[2] != 3 {
		t.Errorf("source mutated: in[2] = %d, want 3", in[2])
	}
}

func TestEachStopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	var seen []int
	idx, err := Each([]int{1, 2, 3, 4, 5}, 2, func(i int, c []int) error {
		seen = append(seen, i)
		if i == 1 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Each() error = %v, want boom", err)
	}
	if idx != 1 {
		t.Errorf("failed index = %d, want 1", idx)
	}
	if len(seen) != 2 {
		t.Errorf("visited %d chunks, want 2", len(seen))
	}
}

func TestEachEmpty(t *testing.T) {
	called := false
	idx, err := Each([]string(nil), 10, func(int, []string) error {
		called = true
		return nil
	})
	if err != nil || idx != -1 {
		t.Errorf("Each(empty) = (%d, %v), want (-1, nil)", idx, err)
	}
	if called {
		t.Error("fn called for empty input")
	}
}
