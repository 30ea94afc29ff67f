package python

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("3.9")
	assert.NoError(t, err)
	assert.Equal(t, Version{Major: 3, Minor: 9}, v)

	v, err = ParseVersion("3.11.4")
	assert.NoError(t, err)
	assert.Equal(t, Version{Major: 3, Minor: 11}, v)

	v, err = ParseVersion(" 3.7\n")
	assert.NoError(t, err)
	assert.Equal(t, Version{Major: 3, Minor: 7}, v)

	_, err = ParseVersion("3")
	assert.Error(t, err)
	_, err = ParseVersion("three.seven")
	assert.Error(t, err)
	_, err = ParseVersion("")
	assert.Error(t, err)
}

func TestVersionAtLeast(t *testing.T) {
	cases := []struct {
		version Version
		want    bool
	}{
		{Version{3, 7}, true},
		{Version{3, 8}, true},
		{Version{3, 12}, true},
		{Version{4, 0}, true},
		{Version{3, 6}, false},
		{Version{3, 5}, false},
		{Version{2, 7}, false},
	}
	for _, tc := range cases {
		if got := tc.version.AtLeast(MinVersion); got != tc.want {
			t.Errorf("%s.AtLeast(%s) = %v, want %v", tc.version, MinVersion, got, tc.want)
		}
	}
}

func TestDescriptorSupported(t *testing.T) {
	var nilDesc *Descriptor
	assert.False(t, nilDesc.Supported())
	assert.False(t, (&Descriptor{Path: "/usr/bin/python3.5", Version: Version{3, 5}}).Supported())
	assert.True(t, (&Descriptor{Path: "/usr/bin/python3.9", Version: Version{3, 9}}).Supported())
}
