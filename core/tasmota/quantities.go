package tasmota

// Units carried at the top level of the sensors payload.
const (
	unitTemperature = "TempUnit"
	unitSpeed       = "SpeedUnit"
	unitPressure    = "PressureUnit"
)

type quantity struct {
	deviceClass string
	icon        string
	unit        string
	// unitKey names a unit reported by the device itself; it wins over unit.
	unitKey string
}

// quantities is keyed by the quantity label Tasmota uses inside a sensor
// object, e.g. {"DHT11":{"Temperature":..}}.
var quantities = map[string]quantity{
	"AirQuality":    {icon: "mdi:air-filter"},
	"Ambient":       {deviceClass: "illuminance", unit: "lx"},
	"ApparentPower": {icon: "mdi:flash", unit: "VA"},
	"Battery":       {deviceClass: "battery", unit: "%"},
	"CarbonDioxide": {icon: "mdi:molecule-co2", unit: "ppm"},
	"Current":       {icon: "mdi:alpha-a-circle-outline", unit: "A"},
	"DewPoint":      {icon: "mdi:weather-rainy", unitKey: unitTemperature},
	"Dir":           {unit: " "},
	"Distance":      {icon: "mdi:leak", unit: "cm"},
	"eCO2":          {icon: "mdi:molecule-co2", unit: "ppm"},
	"ExportActive":  {deviceClass: "power", unit: "kWh"},
	"Factor":        {icon: "mdi:alpha-f-circle-outline"},
	"Frequency":     {icon: "mdi:current-ac", unit: "Hz"},
	"Gas":           {icon: "mdi:gas-cylinder", unit: "ppm"},
	"Humidity":      {deviceClass: "humidity", unit: "%"},
	"Illuminance":   {deviceClass: "illuminance", unit: "lx"},
	"ImportActive":  {deviceClass: "power", unit: "kWh"},
	"Moisture":      {icon: "mdi:cup-water", unit: "%"},
	"PB0.3":         {icon: "mdi:flask", unit: "ppd"},
	"PB0.5":         {icon: "mdi:flask", unit: "ppd"},
	"PB1":           {icon: "mdi:flask", unit: "ppd"},
	"PB10":          {icon: "mdi:flask", unit: "ppd"},
	"PB2.5":         {icon: "mdi:flask", unit: "ppd"},
	"PB5":           {icon: "mdi:flask", unit: "ppd"},
	"PM1":           {icon: "mdi:air-filter", unit: "µg/m³"},
	"PM10":          {icon: "mdi:air-filter", unit: "µg/m³"},
	"PM2.5":         {icon: "mdi:air-filter", unit: "µg/m³"},
	"Power":         {deviceClass: "power", unit: "W"},
	"Pressure":      {deviceClass: "pressure", unitKey: unitPressure},
	"ReactivePower": {icon: "mdi:flash", unit: "VAr"},
	"SeaPressure":   {deviceClass: "pressure", unitKey: unitPressure},
	"Speed":         {unitKey: unitSpeed},
	"Temperature":   {deviceClass: "temperature", unitKey: unitTemperature},
	"Today":         {deviceClass: "power", unit: "kWh"},
	"Total":         {deviceClass: "power", unit: "kWh"},
	"TotalTariff":   {deviceClass: "power", unit: "kWh"},
	"TVOC":          {icon: "mdi:air-filter", unit: "ppb"},
	"Voltage":       {icon: "mdi:alpha-v-circle-outline", unit: "V"},
	"Weight":        {icon: "mdi:scale", unit: "kg"},
	"Yesterday":     {deviceClass: "power", unit: "kWh"},
}

// describe fills the presentation metadata of d from its quantity.
func describe(d *SensorDescriptor, units map[string]string) {
	if len(d.Path) < 2 {
		return
	}
	q, ok := quantities[d.Path[1]]
	if !ok {
		return
	}
	d.DeviceClass = q.deviceClass
	d.Icon = q.icon
	d.Unit = q.unit
	if q.unitKey != "" {
		if u, ok := units[q.unitKey]; ok {
			d.Unit = u
		}
	}
}
