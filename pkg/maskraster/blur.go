package maskraster

import (
	"math"
	"runtime"
	"sync"
)

// BoxBlur applies a separable box blur of the given radius with edge clamped
// sampling, rounding each pass to the nearest integer. Radius 0 returns src
// unchanged; otherwise src is not modified.
func BoxBlur(src *Buffer, radius int) *Buffer {
	if radius <= 0 || src == nil {
		return src
	}
	w, h := src.Width, src.Height
	tmp := NewBuffer(w, h)
	dst := NewBuffer(w, h)
	denom := float64(2*radius + 1)

	forBands(h, func(y int) {
		blurLine(src.Pix[y*w:], tmp.Pix[y*w:], w, 1, radius, denom)
	})
	forBands(w, func(x int) {
		blurLine(tmp.Pix[x:], dst.Pix[x:], h, w, radius, denom)
	})
	return dst
}

// forBands calls line for 0..n-1, splitting the range into at most
// GOMAXPROCS contiguous bands run concurrently.
func forBands(n int, line func(i int)) {
	workers := min(runtime.GOMAXPROCS(0), n)
	if workers <= 1 || n < 64 {
		for i := range n {
			line(i)
		}
		return
	}
	var wg sync.WaitGroup
	band := (n + workers - 1) / workers
	for lo := 0; lo < n; lo += band {
		hi := min(lo+band, n)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				line(i)
			}
		}()
	}
	wg.Wait()
}

// blurLine runs a sliding window over n samples spaced stride apart.
func blurLine(src, dst []uint8, n, stride, r int, denom float64) {
	at := func(i int) int { return int(src[clampInt(i, 0, n-1)*stride]) }
	sum := 0
	for k := -r; k <= r; k++ {
		sum += at(k)
	}
	dst[0] = uint8(clampInt(int(math.Round(float64(sum)/denom)), 0, 255))
	for i := 1; i < n; i++ {
		sum += at(i+r) - at(i-r-1)
		dst[i*stride] = uint8(clampInt(int(math.Round(float64(sum)/denom)), 0, 255))
	}
}
