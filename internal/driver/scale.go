package driver

// External brightness uses the 0-255 scale; the bridge works on 0-100.
// Both conversions truncate, so 128 externally maps to 50 internally.

// ExternalToPercent converts 0-255 brightness to the 0-100 scale.
func ExternalToPercent(v int) int {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 100
	}
	return v * 100 / 255
}

// PercentToExternal converts the 0-100 scale to 0-255 brightness.
func PercentToExternal(p int) int {
	if p <= 0 {
		return 0
	}
	if p >= 100 {
		return 255
	}
	return p * 255 / 100
}
