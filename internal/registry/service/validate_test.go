package service_test

import (
	"encoding/json"
	"testing"

	"github.com/jmerrifield20/NodeRegistrar/internal/registry/model"
	"github.com/jmerrifield20/NodeRegistrar/internal/registry/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateParams_keepsRequiredAndOptional(t *testing.T) {
	raw := map[string]any{
		"name":           "a.example.com",
		"certname":       "abc123",
		"environment_id": float64(1),
		"hostgroup_id":   float64(2),
		"comment":        "rack 4",
		"mac":            "",
		"admin":          true,
		"password":       "hunter2",
	}

	p, err := service.ValidateParams(raw, service.RegisterRule)
	require.NoError(t, err)

	assert.Equal(t, service.Params{
		"name":           "a.example.com",
		"certname":       "abc123",
		"environment_id": float64(1),
		"hostgroup_id":   float64(2),
		"comment":        "rack 4",
	}, p)
}

func TestValidateParams_missingKeys(t *testing.T) {
	raw := map[string]any{
		"name":     "a.example.com",
		"certname": "abc123",
		"extra":    "x",
	}

	p, err := service.ValidateParams(raw, service.RegisterRule)
	assert.Nil(t, p)

	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"environment_id", "hostgroup_id"}, verr.Missing)
	assert.Equal(t, map[string]any{"name": "a.example.com", "certname": "abc123"}, verr.Params)
	assert.Contains(t, err.Error(), "environment_id, hostgroup_id")
}

func TestValidateParams_emptyValuesAreAbsent(t *testing.T) {
	for _, v := range []any{nil, "", "   ", "\t\n", []any{}, map[string]any{}} {
		_, err := service.ValidateParams(map[string]any{"name": v}, service.DecommissionRule)
		var verr *model.ValidationError
		assert.ErrorAs(t, err, &verr, "value %#v", v)
	}
}

func TestValidateParams_zeroIsPresent(t *testing.T) {
	raw := map[string]any{
		"name":           "a.example.com",
		"certname":       "abc",
		"environment_id": 0,
		"hostgroup_id":   json.Number("0"),
	}
	_, err := service.ValidateParams(raw, service.RegisterRule)
	assert.NoError(t, err)
}

func TestValidateParams_blankableCertname(t *testing.T) {
	base := func() map[string]any {
		return map[string]any{"name": "a.example.com", "environment_id": 1, "hostgroup_id": 1}
	}

	raw := base()
	raw["certname"] = ""
	p, err := service.ValidateParams(raw, service.RegisterRule)
	require.NoError(t, err)
	assert.Equal(t, "", p["certname"])

	// The key itself must still be sent.
	_, err = service.ValidateParams(base(), service.RegisterRule)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"certname"}, verr.Missing)

	// Blankable does not leak to other operations.
	_, err = service.ValidateParams(map[string]any{"certname": ""}, service.StatusRule)
	assert.ErrorAs(t, err, &verr)
}

func TestValidateParams_trimsStrings(t *testing.T) {
	raw := map[string]any{
		"name":           "  a.example.com\n",
		"certname":       " \t ",
		"environment_id": 1,
		"hostgroup_id":   1,
		"comment":        "   ",
	}

	p, err := service.ValidateParams(raw, service.RegisterRule)
	require.NoError(t, err)
	assert.Equal(t, "a.example.com", p["name"])
	assert.Equal(t, "", p["certname"])
	assert.NotContains(t, p, "comment")

	_, err = service.ValidateParams(map[string]any{"certname": "  "}, service.StatusRule)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"certname"}, verr.Missing)
}

func TestParams_Int64(t *testing.T) {
	cases := []struct {
		in      any
		want    int64
		wantErr bool
	}{
		{float64(3), 3, false},
		{3, 3, false},
		{int64(3), 3, false},
		{json.Number("3"), 3, false},
		{" 3 ", 3, false},
		{float64(3.5), 0, true},
		{"three", 0, true},
		{true, 0, true},
	}
	for _, tc := range cases {
		got, err := service.Params{"k": tc.in}.Int64("k")
		if tc.wantErr {
			assert.Error(t, err, "input %#v", tc.in)
			continue
		}
		require.NoError(t, err, "input %#v", tc.in)
		assert.Equal(t, tc.want, got)
	}
}
