package engine

// Builtins returns the models every Memory engine created by the CLI ships with.
func Builtins() []Model {
	return []Model{
		{
			Name: "iaf_psc_alpha",
			Kind: "neuron",
			Defaults: map[string]float64{
				"C_m":     250.0,
				"E_L":     -70.0,
				"I_e":     0.0,
				"V_m":     -70.0,
				"V_reset": -70.0,
				"V_th":    -55.0,
				"t_ref":   2.0,
				"tau_m":   10.0,
			},
		},
		{
			Name:     "poisson_generator",
			Kind:     "neuron",
			Defaults: map[string]float64{"rate": 0.0, "start": 0.0, "stop": 1e300},
		},
		{
			Name:     "parrot_neuron",
			Kind:     "neuron",
			Defaults: map[string]float64{},
		},
		{
			Name:     "static_synapse",
			Kind:     "synapse",
			Defaults: map[string]float64{"delay": 1.0, "weight": 1.0},
		},
	}
}
