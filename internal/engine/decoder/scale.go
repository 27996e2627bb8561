package decoder

import "math"

// ScaleToFit computes output dimensions that fit within maxPixels total
// pixels while preserving the source aspect ratio (spec §6, §8 scenario 6:
// "max_pixels = 640*360 against a 1920x1080 source: output frames have
// width*height <= 640*360, aspect preserved"). maxPixels <= 0 means
// unconstrained: the source dimensions pass through unchanged.
func ScaleToFit(srcW, srcH, maxPixels int) (w, h int) {
	if maxPixels <= 0 || srcW <= 0 || srcH <= 0 || srcW*srcH <= maxPixels {
		return srcW, srcH
	}
	// scale = sqrt(maxPixels / srcPixels); apply to both dimensions so the
	// aspect ratio is preserved exactly.
	scale := math.Sqrt(float64(maxPixels) / float64(srcW*srcH))
	w = int(float64(srcW) * scale)
	h = int(float64(srcH) * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	// Rounding can push w*h a hair over maxPixels; nudge down until it fits.
	for w*h > maxPixels && (w > 1 || h > 1) {
		if w >= h && w > 1 {
			w--
		} else if h > 1 {
			h--
		} else {
			break
		}
	}
	return w, h
}
