package source

// Permission is a 64-bit bitfield of individually grantable controls.
// Every mutating operation the analyzer exposes checks the mask and is
// silently dropped when the corresponding bit is clear.
type Permission uint64

const (
	PermHalt Permission = 1 << iota
	PermSetFrequency
	PermSetGain
	PermSetAntenna
	PermSetBandwidth
	PermSetPPM
	PermSetDCRemove
	PermSetIQReverse
	PermSetAGC
	PermOpenAudioInspector
	PermOpenRawInspector
	PermOpenInspector
	PermSetFFTSize
	PermSetFFTFPS
	PermSetFFTWindow
	PermSeek
	PermThrottle
	PermSetBasebandFilter

	// PermAll grants every defined control; analyzer.Open's default for
	// a locally embedded (non-networked) analyzer.
	PermAll = PermHalt | PermSetFrequency | PermSetGain | PermSetAntenna |
		PermSetBandwidth | PermSetPPM | PermSetDCRemove | PermSetIQReverse |
		PermSetAGC | PermOpenAudioInspector | PermOpenRawInspector |
		PermOpenInspector | PermSetFFTSize | PermSetFFTFPS | PermSetFFTWindow |
		PermSeek | PermThrottle | PermSetBasebandFilter
)

// Has reports whether every bit set in want is also set in p.
func (p Permission) Has(want Permission) bool {
	return p&want == want
}
