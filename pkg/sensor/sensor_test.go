package sensor

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable(t *testing.T) {
	tbl := DefaultTable()

	l7, err := tbl.Lookup("landsat_7")
	require.NoError(t, err)
	assert.Equal(t, 60.0, l7.TIRResolution)
	assert.Equal(t, 90.0, l7.ECWindow)

	l8, err := tbl.Lookup("LANDSAT_8")
	require.NoError(t, err)
	assert.Equal(t, 100.0, l8.TIRResolution)
	assert.Equal(t, 120.0, l8.ECWindow)

	assert.Len(t, tbl.Profiles(), 5)
	assert.Equal(t, "LANDSAT_4", tbl.Profiles()[0].Satellite)
}

func TestLookupUnknown(t *testing.T) {
	_, err := DefaultTable().Lookup("SENTINEL_3")
	assert.True(t, errors.Is(err, ErrUnknownSensor))
}

func TestLoadTable(t *testing.T) {
	tbl, err := LoadTable(strings.NewReader(`[{"satellite": "ecostress", "tir_res": 70, "ec_window": 140}]`))
	require.NoError(t, err)
	p, err := tbl.Lookup("ECOSTRESS")
	require.NoError(t, err)
	assert.Equal(t, 70.0, p.TIRResolution)
}

func TestLoadTableValidation(t *testing.T) {
	cases := map[string]string{
		"empty":     `[]`,
		"negative":  `[{"satellite": "X", "tir_res": -1, "ec_window": 10}]`,
		"ec finer":  `[{"satellite": "X", "tir_res": 100, "ec_window": 50}]`,
		"duplicate": `[{"satellite": "X", "tir_res": 1, "ec_window": 1}, {"satellite": "x", "tir_res": 2, "ec_window": 2}]`,
		"unknown":   `[{"satellite": "X", "tir_res": 1, "ec_window": 1, "extra": true}]`,
		"no name":   `[{"tir_res": 1, "ec_window": 1}]`,
		"not json":  `{`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadTable(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}
