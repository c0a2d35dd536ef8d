package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vum-unrestrict/internal/target"
)

func fleet() []target.Target {
	return []target.Target{
		{Name: "vc01.corp.example", Realm: "mgmt-01", Grouping: "management", Primary: true},
		{Name: "vc02.corp.example", Realm: "wld-01", Grouping: "workload-east"},
		{Name: "vc03.corp.example", Realm: "wld-02", Grouping: "workload-west"},
	}
}

func TestNameFilter(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		isRegex bool
		want    []string
	}{
		{name: "substring", pattern: "vc0", want: []string{"vc01.corp.example", "vc02.corp.example", "vc03.corp.example"}},
		{name: "substring is case insensitive", pattern: "VC02", want: []string{"vc02.corp.example"}},
		{name: "no match", pattern: "vc99", want: []string{}},
		{name: "regex", pattern: "^vc0[12]\\.", isRegex: true, want: []string{"vc01.corp.example", "vc02.corp.example"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filtered := FilterTargets(fleet(), NewNameFilter(tt.pattern, tt.isRegex))
			names := make([]string, 0, len(filtered))
			for _, tgt := range filtered {
				names = append(names, tgt.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestRealmFilter(t *testing.T) {
	// Realm id matches exactly
	filtered := FilterTargets(fleet(), NewRealmFilter("wld-01"))
	require.Len(t, filtered, 1)
	assert.Equal(t, "vc02.corp.example", filtered[0].Name)

	// Display name matches by substring
	filtered = FilterTargets(fleet(), NewRealmFilter("workload"))
	assert.Len(t, filtered, 2)
}

func TestParseFilterExpression(t *testing.T) {
	filters, err := ParseFilterExpression("name:vc01 realm:mgmt-01")
	require.NoError(t, err)
	require.Len(t, filters, 2)
	assert.Equal(t, "name: vc01", filters[0].String())
	assert.Equal(t, "realm: mgmt-01", filters[1].String())

	// Bare terms filter by name
	filters, err = ParseFilterExpression("vc02")
	require.NoError(t, err)
	require.Len(t, filters, 1)
	filtered := FilterTargets(fleet(), filters...)
	require.Len(t, filtered, 1)
	assert.Equal(t, "vc02.corp.example", filtered[0].Name)

	_, err = ParseFilterExpression("")
	assert.Error(t, err)

	_, err = ParseFilterExpression("name:")
	assert.Error(t, err)

	_, err = ParseFilterExpression("regex:([")
	assert.Error(t, err)
}

func TestFilterTargetsAndSemantics(t *testing.T) {
	// All conditions must hold
	filters, err := ParseFilterExpression("name:vc realm:wld-02")
	require.NoError(t, err)

	filtered := FilterTargets(fleet(), filters...)
	require.Len(t, filtered, 1)
	assert.Equal(t, "vc03.corp.example", filtered[0].Name)

	// No filters passes everything through
	assert.Len(t, FilterTargets(fleet()), 3)
}
