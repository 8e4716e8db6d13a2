package transfer

const (
	// MinChunkSize and MaxChunkSize bound the working chunk size no matter
	// what the throughput samples say.
	MinChunkSize = 64 << 10
	MaxChunkSize = 4 << 20

	midChunkSize = 1 << 20

	slowSpeedBps   = 256 << 10
	mediumSpeedBps = 1 << 20
	fastSpeedBps   = 5 << 20
)

// ChunkForSpeed maps a measured connection speed onto a target chunk size.
// Four tiers: below 256 KiB/s the floor, 256 KiB/s..1 MiB/s interpolated up
// to 1 MiB, 1..5 MiB/s interpolated up to 4 MiB, above that the ceiling.
// Unknown speed gets the floor; slow links should not buffer megabytes.
func ChunkForSpeed(bps float64) int {
	switch {
	case bps <= 0:
		return MinChunkSize
	case bps < slowSpeedBps:
		return MinChunkSize
	case bps < mediumSpeedBps:
		frac := (bps - slowSpeedBps) / (mediumSpeedBps - slowSpeedBps)
		return MinChunkSize + int(frac*float64(midChunkSize-MinChunkSize))
	case bps < fastSpeedBps:
		frac := (bps - mediumSpeedBps) / (fastSpeedBps - mediumSpeedBps)
		return midChunkSize + int(frac*float64(MaxChunkSize-midChunkSize))
	default:
		return MaxChunkSize
	}
}

// BlendChunk nudges the working chunk size toward target without jumping:
// alpha weight on the target, the rest on the current value, clamped to
// [MinChunkSize, MaxChunkSize].
func BlendChunk(current, target int, alpha float64) int {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	next := int(alpha*float64(target) + (1-alpha)*float64(current))
	if next < MinChunkSize {
		return MinChunkSize
	}
	if next > MaxChunkSize {
		return MaxChunkSize
	}
	return next
}
