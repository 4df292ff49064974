package domain

// Variable describes one gridded physical quantity and how to read it from
// an Observation.
type Variable struct {
	Name     string
	Units    string
	LongName string
	Value    func(Observation) float64
}

// Variables lists every gridded quantity in output order.
var Variables = []Variable{
	{Name: "T_2m", Units: "degC", LongName: "2-meter Air Temperature", Value: func(o Observation) float64 { return o.AirTempC }},
	{Name: "Td_2m", Units: "degC", LongName: "2-meter Dew Point", Value: func(o Observation) float64 { return o.DewPointC }},
	{Name: "RH", Units: "%", LongName: "Relative Humidity", Value: func(o Observation) float64 { return o.RelHumidityPct }},
	{Name: "WS", Units: "m/s", LongName: "Wind Speed", Value: func(o Observation) float64 { return o.WindSpeedMS }},
	{Name: "WG", Units: "m/s", LongName: "Wind Gust Speed", Value: func(o Observation) float64 { return o.WindGustMS }},
	{Name: "U_wind", Units: "m/s", LongName: "U-component of Wind", Value: func(o Observation) float64 { return o.WindUMS }},
	{Name: "V_wind", Units: "m/s", LongName: "V-component of Wind", Value: func(o Observation) float64 { return o.WindVMS }},
}

// LookupVariable finds a variable by name.
func LookupVariable(name string) (Variable, bool) {
	for _, v := range Variables {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}
