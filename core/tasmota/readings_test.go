package tasmota

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadingsLookup(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		path    SensorPath
		want    string
	}{
		{"number", `{"DHT11":{"Temperature":20.5}}`, SensorPath{"DHT11", "Temperature"}, "20.5"},
		{"literal kept", `{"DHT11":{"Temperature":20.0}}`, SensorPath{"DHT11", "Temperature"}, "20.0"},
		{"nested string", `{"TX23":{"Speed":{"Act":"12.3"}}}`, SensorPath{"TX23", "Speed", "Act"}, "12.3"},
		{"indexed", `{"ENERGY":{"TotalTariff":[1.2,3.4]}}`, SensorPath{"ENERGY", "TotalTariff", "1"}, "3.4"},
		{"bool", `{"Switch":{"State":true}}`, SensorPath{"Switch", "State"}, "true"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r, err := ParseReadings([]byte(c.payload))
			require.NoError(t, err)
			got, ok := r.Lookup(c.path)
			assert.True(t, ok)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestReadingsLookupMissing(t *testing.T) {
	r, err := ParseReadings([]byte(`{"Time":"2020-09-25T12:47:15","DHT11":{"Temperature":null,"Humidity":{"a":1}},"ENERGY":{"TotalTariff":[1.2]}}`))
	require.NoError(t, err)

	for _, p := range []SensorPath{
		{"DHT11", "Temperature"},
		{"DHT11", "Humidity"},
		{"DHT11", "Pressure"},
		{"AM2301", "Temperature"},
		{"ENERGY", "TotalTariff", "1"},
		{"ENERGY", "TotalTariff", "x"},
		{"Time", "Zone"},
	} {
		_, ok := r.Lookup(p)
		assert.False(t, ok, p.String())
	}
}

func TestParseStatusReadings(t *testing.T) {
	r, err := ParseStatusReadings([]byte(`{"StatusSNS":{"DHT11":{"Temperature":20.0}}}`))
	require.NoError(t, err)
	got, ok := r.Lookup(SensorPath{"DHT11", "Temperature"})
	assert.True(t, ok)
	assert.Equal(t, "20.0", got)

	_, err = ParseStatusReadings([]byte(`{"DHT11":{"Temperature":20.0}}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestParseReadingsInvalid(t *testing.T) {
	for _, p := range []string{"", "null", "[1,2]", "{"} {
		_, err := ParseReadings([]byte(p))
		assert.ErrorIs(t, err, ErrInvalidPayload, p)
	}
}
