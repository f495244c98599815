package params

import (
	"github.com/dyluth/exofit/internal/noise"
)

// InstrumentBases are the transit parameters an instrument may own a copy of.
var InstrumentBases = []string{"t0", "a", "p", "sigma_w", "q1", "q2"}

// SuffixMap maps instrument -> base name -> "" (shared) or "_instrument".
type SuffixMap map[string]map[string]string

// Name returns the registry name of base for inst.
func (s SuffixMap) Name(inst, base string) string {
	return base + s[inst][base]
}

// ResolveSuffixes decides, once, which registry entry each photometric
// instrument reads for every per-instrument parameter. With several
// instruments the bare name wins and name_instrument is the fallback; a
// single instrument must use bare names. sigma_r is resolved only for
// instruments using flicker noise.
func ResolveSuffixes(reg *Registry, instruments []string, models map[string]noise.Model) (SuffixMap, error) {
	multi := len(instruments) > 1
	out := make(SuffixMap, len(instruments))
	for _, inst := range instruments {
		bases := InstrumentBases
		if models[inst] == noise.ModelFlicker {
			bases = append(append([]string(nil), bases...), "sigma_r")
		}
		out[inst] = make(map[string]string, len(bases))
		for _, base := range bases {
			name, ok := lookup(reg, base, inst, multi)
			if !ok {
				return nil, &ConfigError{Parameter: base, Instrument: inst, Reason: "not defined"}
			}
			out[inst][base] = name[len(base):]
		}
	}
	return out, nil
}

func lookup(reg *Registry, base, inst string, multi bool) (string, bool) {
	if reg.Has(base) {
		return base, true
	}
	if multi {
		if name := base + "_" + inst; reg.Has(name) {
			return name, true
		}
	}
	return "", false
}
