package shm

// keyword names for the derived accessors, older spellings first
var (
	exposureKeys  = []string{"tint", "EXPTIME"}
	frameRateKeys = []string{"fps", "FRATE"}
	ndrKeys       = []string{"NDR"}
	cropKeys      = [4][]string{
		{"x0", "CROP_OR1"},
		{"x1", "CROP_EN1"},
		{"y0", "CROP_OR2"},
		{"y1", "CROP_EN2"},
	}
)

func lookupFloat(kws map[string]interface{}, names []string) (float64, bool) {
	for _, n := range names {
		switch v := kws[n].(type) {
		case int64:
			return float64(v), true
		case float64:
			return v, true
		}
	}
	return 0, false
}

func lookupInt(kws map[string]interface{}, names []string) (int, bool) {
	for _, n := range names {
		switch v := kws[n].(type) {
		case int64:
			return int(v), true
		case float64:
			return int(v), true
		}
	}
	return 0, false
}

// ExposureTime is the exposure time in seconds, or 0 if the stream does not say
func (s *SHM) ExposureTime() (float64, error) {
	kws, err := s.GetKeywords()
	if err != nil {
		return 0, err
	}
	v, _ := lookupFloat(kws, exposureKeys)
	return v, nil
}

// FrameRate is the frame rate in Hz, or 0 if the stream does not say
func (s *SHM) FrameRate() (float64, error) {
	kws, err := s.GetKeywords()
	if err != nil {
		return 0, err
	}
	v, _ := lookupFloat(kws, frameRateKeys)
	return v, nil
}

// NDR is the number of non-destructive reads, or 1 if the stream does not say
func (s *SHM) NDR() (int, error) {
	kws, err := s.GetKeywords()
	if err != nil {
		return 0, err
	}
	if v, ok := lookupInt(kws, ndrKeys); ok {
		return v, nil
	}
	return 1, nil
}

// Crop returns the crop boundaries x0, x1, y0, y1.  Missing bounds default to
// the full user frame.
func (s *SHM) Crop() ([4]int, error) {
	var out [4]int
	kws, err := s.GetKeywords()
	if err != nil {
		return out, err
	}
	full := [4]int{0, 0, 0, 0}
	if len(s.shape) > 0 {
		full[1] = s.shape[0] - 1
	}
	if len(s.shape) > 1 {
		full[3] = s.shape[1] - 1
	}
	for i, names := range cropKeys {
		if v, ok := lookupInt(kws, names); ok {
			out[i] = v
		} else {
			out[i] = full[i]
		}
	}
	return out, nil
}
