package led

// Per-LED current model for WS2812-family strips at 5V.
const (
	ChannelMilliAmps    = 20 // one channel at full intensity
	IdleMilliAmpsPerLED = 1
)

// EstimateMilliAmps returns the draw of pixels rendered at brightness.
func EstimateMilliAmps(pixels []Color, brightness uint8) int {
	return int(fullScaleMilliAmps(pixels)*float64(brightness)/255) + len(pixels)*IdleMilliAmpsPerLED
}

func fullScaleMilliAmps(pixels []Color) float64 {
	var units int
	for _, p := range pixels {
		units += int(p.R) + int(p.G) + int(p.B)
	}
	return float64(units) * ChannelMilliAmps / 255
}

// LimitBrightness returns the largest brightness <= target whose estimated draw
// fits in milliAmps.
func LimitBrightness(pixels []Color, target uint8, milliAmps int) uint8 {
	if milliAmps <= 0 {
		return target
	}
	if EstimateMilliAmps(pixels, target) <= milliAmps {
		return target
	}
	available := float64(milliAmps - len(pixels)*IdleMilliAmpsPerLED)
	full := fullScaleMilliAmps(pixels)
	if available <= 0 || full <= 0 {
		return 0
	}
	b := available / full * 255
	if b >= float64(target) {
		return target
	}
	return uint8(b)
}
