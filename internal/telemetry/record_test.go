package telemetry

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecimal(t *testing.T) {
	assert.Equal(t, json.Number("3.900"), Decimal(3, 3.9))
	assert.Equal(t, json.Number("12.35"), Decimal(2, 12.345678))
	assert.Equal(t, json.Number("-73.0"), Decimal(1, -73))
	assert.Equal(t, json.Number("45.123457"), Decimal(6, 45.1234567))
}

func TestRecord_SetReplacesInPlace(t *testing.T) {
	r := NewRecord()
	r.Set("a", 1)
	r.Set("b", 2)
	r.Set("a", 3)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"a", "b"}, r.Names())
	v, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 3, v)
	assert.False(t, r.Has("c"))
}

func TestRecord_MarshalKeepsOrder(t *testing.T) {
	r := NewRecord()
	r.Set("sigma", Decimal(3, 0.25))
	r.Set("battery", Decimal(3, 4.1))
	r.Set("vehicleType", "bike")
	r.Set("nsat", 7)

	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, `{"sigma":0.250,"battery":4.100,"vehicleType":"bike","nsat":7}`, string(b))
}

func TestRecord_CloneIsIndependent(t *testing.T) {
	r := NewRecord()
	r.Set("a", 1)
	c := r.Clone()
	c.Set("a", 2)
	c.Set("b", 3)

	v, _ := r.Get("a")
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, r.Len())

	var nilRec *Record
	assert.Nil(t, nilRec.Clone())
	assert.Zero(t, nilRec.Len())
}

func TestSetDecimal_DropsNonFinite(t *testing.T) {
	r := NewRecord()
	setDecimal(r, "nan", 2, math.NaN())
	setDecimal(r, "inf", 2, math.Inf(1))
	setDecimal(r, "ok", 2, 1)
	assert.Equal(t, []string{"ok"}, r.Names())
}

func TestEncode(t *testing.T) {
	r := NewRecord()
	r.Set("battery", Decimal(3, 3.987))
	r.Set("vehicleType", "bike")
	ts := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)

	b, err := Encode(ts, r)
	require.NoError(t, err)
	assert.Equal(t, `{"ts":1700000000000,"values":{"battery":3.987,"vehicleType":"bike"}}`, string(b))

	b, err = Encode(ts, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"ts":1700000000000,"values":{}}`, string(b))
}

func TestGate_CollapsesFastTicks(t *testing.T) {
	g := NewGate(5 * time.Second)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	fired := 0
	for i := 0; i <= 20; i++ {
		if g.Allow(start.Add(time.Duration(i) * time.Second)) {
			fired++
		}
	}
	// 0, 5, 10, 15, 20.
	assert.Equal(t, 5, fired)

	assert.False(t, g.Allow(start.Add(24*time.Second)))
	assert.True(t, g.Allow(start.Add(25*time.Second)))
}
