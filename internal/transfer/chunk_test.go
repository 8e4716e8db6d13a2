package transfer

import "testing"

func TestChunkForSpeedTiers(t *testing.T) {
	cases := []struct {
		name string
		bps  float64
		want int
	}{
		{"unknown", 0, MinChunkSize},
		{"dialup", 10 << 10, MinChunkSize},
		{"just below slow cutoff", slowSpeedBps - 1, MinChunkSize},
		{"slow cutoff", slowSpeedBps, MinChunkSize},
		{"mid cutoff", mediumSpeedBps, midChunkSize},
		{"fast cutoff", fastSpeedBps, MaxChunkSize},
		{"gigabit", 100 << 20, MaxChunkSize},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ChunkForSpeed(tc.bps); got != tc.want {
				t.Fatalf("ChunkForSpeed(%.0f) = %d, want %d", tc.bps, got, tc.want)
			}
		})
	}
}

func TestChunkForSpeedInterpolates(t *testing.T) {
	// Midway through the slow..medium band: 64K + 0.5*(1M-64K) = 544K.
	bps := float64(slowSpeedBps+mediumSpeedBps) / 2
	got := ChunkForSpeed(bps)
	want := MinChunkSize + (midChunkSize-MinChunkSize)/2
	if got != want {
		t.Fatalf("mid slow band: got %d, want %d", got, want)
	}

	// Midway through medium..fast: 1M + 0.5*(4M-1M) = 2.5M.
	bps = float64(mediumSpeedBps+fastSpeedBps) / 2
	got = ChunkForSpeed(bps)
	want = midChunkSize + (MaxChunkSize-midChunkSize)/2
	if got != want {
		t.Fatalf("mid fast band: got %d, want %d", got, want)
	}
}

func TestChunkForSpeedMonotonic(t *testing.T) {
	prev := 0
	for bps := 0.0; bps <= 8<<20; bps += 32 << 10 {
		got := ChunkForSpeed(bps)
		if got < prev {
			t.Fatalf("chunk size decreased at %.0f bps: %d < %d", bps, got, prev)
		}
		if got < MinChunkSize || got > MaxChunkSize {
			t.Fatalf("chunk size %d out of bounds at %.0f bps", got, bps)
		}
		prev = got
	}
}

func TestBlendChunk(t *testing.T) {
	// 0.3*4M + 0.7*64K ~ 1.3M: movement toward the target, not a jump.
	got := BlendChunk(MinChunkSize, MaxChunkSize, 0.3)
	if got <= MinChunkSize || got >= MaxChunkSize {
		t.Fatalf("blend should land strictly between the endpoints, got %d", got)
	}
	blend := 0.3*float64(MaxChunkSize) + 0.7*float64(MinChunkSize)
	want := int(blend)
	if got != want {
		t.Fatalf("BlendChunk = %d, want %d", got, want)
	}
}

func TestBlendChunkClamps(t *testing.T) {
	if got := BlendChunk(1, 1, 0.5); got != MinChunkSize {
		t.Fatalf("expected floor clamp, got %d", got)
	}
	if got := BlendChunk(100<<20, 100<<20, 0.5); got != MaxChunkSize {
		t.Fatalf("expected ceiling clamp, got %d", got)
	}
}

func TestBlendChunkBadAlphaFallsBack(t *testing.T) {
	if got, want := BlendChunk(midChunkSize, midChunkSize, -2), midChunkSize; got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
}
