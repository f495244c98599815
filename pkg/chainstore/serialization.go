package chainstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// RunToHash converts a Run to Redis hash fields. Slice and map fields are
// JSON-encoded.
func RunToHash(r *Run) (map[string]interface{}, error) {
	free, err := json.Marshal(r.FreeParameters)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal free parameters: %w", err)
	}
	thetaML, err := json.Marshal(r.ThetaML)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal theta_ml: %w", err)
	}
	medians, err := json.Marshal(r.Medians)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal medians: %w", err)
	}

	return map[string]interface{}{
		"id":                  r.ID,
		"mode":                r.Mode,
		"status":              string(r.Status),
		"config_path":         r.ConfigPath,
		"free_parameters":     string(free),
		"walkers":             r.Walkers,
		"jumps":               r.Jumps,
		"burnin":              r.Burnin,
		"seed":                strconv.FormatUint(r.Seed, 10),
		"created_at_ms":       r.CreatedAtMs,
		"updated_at_ms":       r.UpdatedAtMs,
		"theta_ml":            string(thetaML),
		"medians":             string(medians),
		"acceptance_fraction": strconv.FormatFloat(r.AcceptanceFraction, 'g', -1, 64),
		"error":               r.Error,
	}, nil
}

// HashToRun converts Redis hash fields back to a Run.
func HashToRun(hash map[string]string) (*Run, error) {
	r := &Run{
		ID:         hash["id"],
		Mode:       hash["mode"],
		Status:     RunStatus(hash["status"]),
		ConfigPath: hash["config_path"],
		Error:      hash["error"],
	}

	ints := []struct {
		field string
		dst   *int
	}{
		{"walkers", &r.Walkers},
		{"jumps", &r.Jumps},
		{"burnin", &r.Burnin},
	}
	for _, f := range ints {
		v, err := strconv.Atoi(hash[f.field])
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", f.field, err)
		}
		*f.dst = v
	}

	var err error
	if r.Seed, err = strconv.ParseUint(hash["seed"], 10, 64); err != nil {
		return nil, fmt.Errorf("invalid seed field: %w", err)
	}
	r.CreatedAtMs, _ = strconv.ParseInt(hash["created_at_ms"], 10, 64)
	r.UpdatedAtMs, _ = strconv.ParseInt(hash["updated_at_ms"], 10, 64)
	if s := hash["acceptance_fraction"]; s != "" {
		if r.AcceptanceFraction, err = strconv.ParseFloat(s, 64); err != nil {
			return nil, fmt.Errorf("invalid acceptance_fraction field: %w", err)
		}
	}

	jsonFields := []struct {
		field string
		dst   interface{}
	}{
		{"free_parameters", &r.FreeParameters},
		{"theta_ml", &r.ThetaML},
		{"medians", &r.Medians},
	}
	for _, f := range jsonFields {
		raw := hash[f.field]
		if raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(raw), f.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", f.field, err)
		}
	}
	if r.FreeParameters == nil {
		r.FreeParameters = []string{}
	}

	return r, nil
}

// PackChain encodes samples as little-endian IEEE 754 doubles.
func PackChain(samples []float64) []byte {
	buf := make([]byte, 8*len(samples))
	for i, x := range samples {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(x))
	}
	return buf
}

// UnpackChain decodes a PackChain encoding.
func UnpackChain(data []byte) ([]float64, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("packed chain length %d is not a multiple of 8", len(data))
	}
	out := make([]float64, len(data)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:]))
	}
	return out, nil
}
