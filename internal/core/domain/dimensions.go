package domain

// PackageDimensions is the capture attached to the pickup transition.
type PackageDimensions struct {
	WeightKG    float64 `json:"weight_kg"`
	LengthCM    float64 `json:"length_cm"`
	WidthCM     float64 `json:"width_cm"`
	HeightCM    float64 `json:"height_cm"`
	Description string  `json:"description,omitempty"`
}

// Complete reports whether every measurement has been captured. A started
// but incomplete capture must not be submitted with a pickup transition.
func (d *PackageDimensions) Complete() bool {
	if d == nil {
		return false
	}
	return d.WeightKG > 0 && d.LengthCM > 0 && d.WidthCM > 0 && d.HeightCM > 0
}
