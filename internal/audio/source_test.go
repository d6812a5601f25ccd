package audio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/dkeye/orbit/internal/core"
)

func TestReaderSource_Frames(t *testing.T) {
	raw := Bytes(make([]int16, 250))
	src := NewReaderSource(bytes.NewReader(raw), 10000, 10*time.Millisecond, false)
	ctx := context.Background()

	var sizes []int
	for {
		f, err := src.Read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sizes = append(sizes, len(f))
	}
	want := []int{100, 100, 50}
	if len(sizes) != len(want) {
		t.Fatalf("expected frames %v, got %v", want, sizes)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("frame %d: expected %d samples, got %d", i, want[i], sizes[i])
		}
	}
}

func TestReaderSource_NilReaderDenied(t *testing.T) {
	src := NewReaderSource(nil, 16000, 0, false)
	if _, err := src.Read(context.Background()); !errors.Is(err, core.ErrMediaAccessDenied) {
		t.Errorf("expected ErrMediaAccessDenied, got %v", err)
	}
}

func TestBytesRoundTrip(t *testing.T) {
	in := []int16{-2, 7, 300}
	out := PCM16(Bytes(in))
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, in[i], out[i])
		}
	}
}
