package strategy

import "fmt"

// Templates are named parameter presets per strategy type. A per-symbol
// configuration names a template and may override individual keys.
var templates = map[string]map[string]Params{
	TypeMACrossover: {
		"conservative": {
			"fast_ma":     int(20),
			"slow_ma":     int(50),
			"min_volume":  float64(1_000_000),
			"risk_factor": float64(0.01),
		},
		"aggressive": {
			"fast_ma":     int(10),
			"slow_ma":     int(21),
			"min_volume":  float64(500_000),
			"risk_factor": float64(0.03),
		},
	},
	TypeVWAP: {
		"conservative": {
			"window":      int(50),
			"deviation":   float64(2.0),
			"min_volume":  float64(1_000_000),
			"risk_factor": float64(0.01),
		},
		"aggressive": {
			"window":      int(20),
			"deviation":   float64(1.5),
			"min_volume":  float64(500_000),
			"risk_factor": float64(0.03),
		},
	},
	TypeTWAP: {
		"conservative": {
			"window":      int(60),
			"threshold":   float64(0.01),
			"min_volume":  float64(1_000_000),
			"risk_factor": float64(0.01),
		},
		"aggressive": {
			"window":      int(30),
			"threshold":   float64(0.005),
			"min_volume":  float64(500_000),
			"risk_factor": float64(0.03),
		},
	},
}

// TemplateParams resolves a (type, template) pair and applies overrides.
func TemplateParams(typeTag, template string, overrides Params) (Params, error) {
	byTemplate, ok := templates[typeTag]
	if !ok {
		return nil, fmt.Errorf("no templates for strategy type %q", typeTag)
	}
	base, ok := byTemplate[template]
	if !ok {
		return nil, fmt.Errorf("unknown template %q for strategy type %q", template, typeTag)
	}
	return base.Merge(overrides), nil
}
