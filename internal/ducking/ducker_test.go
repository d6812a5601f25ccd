package ducking

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/orbit/internal/domain"
)

type fakeSource struct {
	mu  sync.Mutex
	vol int
	set []int
}

func (f *fakeSource) Volume() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vol
}

func (f *fakeSource) SetVolume(v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vol = v
	f.set = append(f.set, v)
}

func fastOptions() Options {
	return Options{
		DuckVolume:      15,
		NormalVolume:    100,
		DuckDuration:    30 * time.Millisecond,
		RestoreDuration: 50 * time.Millisecond,
		Frame:           2 * time.Millisecond,
	}
}

func TestEaseInOutQuad(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{0, 0},
		{0.25, 0.125},
		{0.5, 0.5},
		{0.75, 0.875},
		{1, 1},
	}
	for _, tt := range tests {
		if got := EaseInOutQuad(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("EaseInOutQuad(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDuck_ReachesDuckLevel(t *testing.T) {
	src := &fakeSource{vol: 100}
	d := New(src, fastOptions())
	defer d.Close()

	d.Duck()
	d.Wait()

	if d.State() != domain.DuckDucked {
		t.Errorf("expected ducked, got %v", d.State())
	}
	if v := src.Volume(); v != 15 {
		t.Errorf("expected volume 15, got %d", v)
	}
}

func TestDuck_IsMonotonic(t *testing.T) {
	src := &fakeSource{vol: 100}
	d := New(src, fastOptions())
	defer d.Close()

	d.Duck()
	d.Wait()

	src.mu.Lock()
	defer src.mu.Unlock()
	for i := 1; i < len(src.set); i++ {
		if src.set[i] > src.set[i-1] {
			t.Fatalf("volume rose during duck: %v", src.set)
		}
	}
}

func TestDuckThenRestore_EndsAtNormal(t *testing.T) {
	src := &fakeSource{vol: 100}
	d := New(src, fastOptions())
	defer d.Close()

	d.Duck()
	d.Restore()
	d.Wait()

	if d.State() != domain.DuckNormal {
		t.Errorf("expected normal, got %v", d.State())
	}
	if v := src.Volume(); v != 100 {
		t.Errorf("expected volume 100, got %d", v)
	}
}

func TestRestore_WhenNotDuckedIsNoop(t *testing.T) {
	src := &fakeSource{vol: 40}
	d := New(src, fastOptions())
	defer d.Close()

	d.Restore()
	d.Wait()

	if v := src.Volume(); v != 40 {
		t.Errorf("expected untouched volume 40, got %d", v)
	}
}

func TestSetNormalVolume(t *testing.T) {
	src := &fakeSource{vol: 100}
	d := New(src, fastOptions())
	defer d.Close()

	d.SetNormalVolume(70)
	if v := src.Volume(); v != 70 {
		t.Errorf("expected immediate volume 70 while normal, got %d", v)
	}

	d.Duck()
	d.Wait()
	d.SetNormalVolume(80)
	if v := src.Volume(); v != 15 {
		t.Errorf("expected ducked volume to stay 15, got %d", v)
	}

	d.Restore()
	d.Wait()
	if v := src.Volume(); v != 80 {
		t.Errorf("expected restore to new normal 80, got %d", v)
	}
}

func TestClose_StopsAnimation(t *testing.T) {
	src := &fakeSource{vol: 100}
	opts := fastOptions()
	opts.DuckDuration = time.Second
	d := New(src, opts)

	d.Duck()
	d.Close()

	src.mu.Lock()
	n := len(src.set)
	src.mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	src.mu.Lock()
	defer src.mu.Unlock()
	if len(src.set) != n {
		t.Errorf("volume changed after Close: %v", src.set[n:])
	}
}
