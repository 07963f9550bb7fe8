package audio

import "fmt"

// Resample converts frames to toRate using linear interpolation. Frames
// already at toRate are returned unchanged.
func Resample(f *Frames, toRate int) (*Frames, error) {
	if f == nil {
		return nil, fmt.Errorf("no frames to resample")
	}
	if f.SampleRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: from=%d, to=%d", f.SampleRate, toRate)
	}
	if f.SampleRate == toRate {
		return f, nil
	}

	in := f.Len()
	out := int(float64(in) * float64(toRate) / float64(f.SampleRate))
	ratio := float64(f.SampleRate) / float64(toRate)

	res := &Frames{
		Channels:   make([][]float32, len(f.Channels)),
		SampleRate: toRate,
	}
	for ch, samples := range f.Channels {
		dst := make([]float32, out)
		for i := range dst {
			pos := float64(i) * ratio
			idx := int(pos)
			if idx >= in-1 {
				dst[i] = samples[in-1]
				continue
			}
			frac := float32(pos - float64(idx))
			dst[i] = samples[idx] + frac*(samples[idx+1]-samples[idx])
		}
		res.Channels[ch] = dst
	}
	return res, nil
}
