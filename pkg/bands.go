package pkg

// BandInfo describes a selectable LTE band.
type BandInfo struct {
	Name      string `json:"name"`
	FreqMHz   int    `json:"freq_mhz"`
	Bandwidth string `json:"bandwidth"`
}

// KnownBands is the catalog of bands the device can be restricted to. Band
// flags supplied from configuration are validated against this set at the
// boundary; the device may still reject individual bands at switch time.
var KnownBands = map[string]BandInfo{
	"B1":  {Name: "B1", FreqMHz: 2100, Bandwidth: "20 MHz"},
	"B3":  {Name: "B3", FreqMHz: 1800, Bandwidth: "20 MHz"},
	"B7":  {Name: "B7", FreqMHz: 2600, Bandwidth: "20 MHz"},
	"B8":  {Name: "B8", FreqMHz: 900, Bandwidth: "10 MHz"},
	"B20": {Name: "B20", FreqMHz: 800, Bandwidth: "10 MHz"},
	"B28": {Name: "B28", FreqMHz: 700, Bandwidth: "10 MHz"},
	"B38": {Name: "B38", FreqMHz: 2600, Bandwidth: "20 MHz"},
	"B40": {Name: "B40", FreqMHz: 2300, Bandwidth: "20 MHz"},
}

// IsKnownBand reports whether name is in the band catalog.
func IsKnownBand(name string) bool {
	_, ok := KnownBands[name]
	return ok
}

// SingleBandConfig returns a band enablement map that restricts the device to
// exactly one band.
func SingleBandConfig(band string) map[string]bool {
	config := make(map[string]bool, len(KnownBands))
	for name := range KnownBands {
		config[name] = name == band
	}
	return config
}
