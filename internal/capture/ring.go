package capture

import "fmt"

const (
	tpacketAlignment = 16
	tpacketHdrLen    = 52
	maxBlockSize     = 4 << 20
)

// ringSize picks AF_PACKET ring parameters for a buffer of bufferMB. Frames
// hold a tpacket header plus snapLen bytes and are 16-byte aligned; blocks are
// page multiples large enough for one frame.
func ringSize(bufferMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	if bufferMB <= 0 {
		return 0, 0, 0, fmt.Errorf("buffer size must be positive, got %d MB", bufferMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize = alignUp(tpacketHdrLen+snapLen, tpacketAlignment)

	// prefer a block holding a whole number of frames
	blockSize = lcm(pageSize, frameSize)
	if blockSize > maxBlockSize {
		blockSize = alignUp(frameSize, pageSize)
	}

	numBlocks = max(1, (bufferMB<<20)/blockSize)
	return frameSize, blockSize, numBlocks, nil
}

func alignUp(n, to int) int {
	return (n + to - 1) / to * to
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	return a / gcd(a, b) * b
}
