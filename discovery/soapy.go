package discovery

// SoapyDevice is one locally enumerated hardware device: a driver name
// plus the gain/antenna/sample-rate lists SoapySDR itself reports.
type SoapyDevice struct {
	Driver      string
	Label       string
	Antennas    []string
	Gains       []string
	SampleRates []float64
}

// SoapyEnumerator synchronously enumerates local SoapySDR-compatible
// devices. The concrete implementation is opaque per this module's
// Non-goals (no cgo bindings); callers supply one backed by whatever
// local driver layer is available.
type SoapyEnumerator interface {
	Enumerate() ([]SoapyDevice, error)
}

// ApplyDriverFixups normalizes a few known driver quirks in a device's
// reported sample-rate list before it is shown to a client, mirroring
// the original enumerator's per-driver adjustments.
func ApplyDriverFixups(dev SoapyDevice) SoapyDevice {
	switch dev.Driver {
	case "airspy":
		dev.SampleRates = addAirspyHighRate(dev.SampleRates)
	case "rtlsdr":
		dev.SampleRates = dropRatesBelow(dev.SampleRates, 1e6)
	}
	return dev
}

// addAirspyHighRate appends Airspy's 10 Msps rate if it is not already
// present in the reported list.
func addAirspyHighRate(rates []float64) []float64 {
	const tenMsps = 10e6
	for _, r := range rates {
		if r == tenMsps {
			return rates
		}
	}
	return append(append([]float64(nil), rates...), tenMsps)
}

// dropRatesBelow filters out sample rates under min, matching rtlsdr's
// reported-but-unusable low rates.
func dropRatesBelow(rates []float64, min float64) []float64 {
	out := make([]float64, 0, len(rates))
	for _, r := range rates {
		if r >= min {
			out = append(out, r)
		}
	}
	return out
}
