package voice

import "math"

// silenceModel emits zeroed PCM proportional to the input length. It backs
// voices with no model_command configured, which is useful for development
// and for exercising the pipeline without a neural runtime.
type silenceModel struct {
	sampleRate   int
	samplesPerID int
}

const defaultSamplesPerID = 256

// NewSilenceModel returns an AcousticModel producing silence. Safe for
// concurrent use.
func NewSilenceModel(sampleRate int) AcousticModel {
	return &silenceModel{sampleRate: sampleRate, samplesPerID: defaultSamplesPerID}
}

func (m *silenceModel) IDsToAudio(ids []int64, params SynthesisParams) ([]byte, error) {
	length := params.LengthScale
	if length <= 0 {
		length = 1.0
	}
	rate := params.Rate
	if rate <= 0 {
		rate = 1.0
	}
	samples := int(math.Round(float64(len(ids)*m.samplesPerID) * length / rate))
	return make([]byte, samples*2), nil
}
