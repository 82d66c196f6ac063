package scim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter_UserName(t *testing.T) {
	f, err := parseFilter(`userName eq "jackson@example.com"`)
	require.NoError(t, err)
	assert.Equal(t, "userName", f.Attribute)
	assert.Equal(t, "jackson@example.com", f.Value)
}

func TestParseFilter_DisplayName(t *testing.T) {
	f, err := parseFilter(`displayName eq "Engineering"`)
	require.NoError(t, err)
	assert.Equal(t, "displayName", f.Attribute)
	assert.Equal(t, "Engineering", f.Value)
}

func TestParseFilter_UnsupportedOperator(t *testing.T) {
	_, err := parseFilter(`userName co "jackson"`)
	assert.Error(t, err)
}

func TestParseFilter_UnsupportedAttribute(t *testing.T) {
	_, err := parseFilter(`title eq "Engineer"`)
	assert.Error(t, err)
}
