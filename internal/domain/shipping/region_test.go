package shipping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegion_Contains(t *testing.T) {
	r, err := ParseRegion(DefaultPostalRanges, DefaultExcludedPostalCodes)
	require.NoError(t, err)

	tests := []struct {
		code string
		want bool
	}{
		{"560001", true},
		{"560100", true},
		{"560102", true},
		{" 560050 ", true},
		{"560031", false},
		{"560044", false},
		{"560101", false},
		{"560000", false},
		{"560103", false},
		{"400001", false},
		{"56001", false},
		{"+56001", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Contains(tt.code))
		})
	}
}

func TestParseRegion(t *testing.T) {
	tests := []struct {
		name     string
		ranges   string
		excluded string
		wantErr  bool
	}{
		{name: "multiple ranges and singles", ranges: "560001-560010, 562157", excluded: ""},
		{name: "empty", ranges: "", wantErr: true},
		{name: "inverted", ranges: "560010-560001", wantErr: true},
		{name: "short code", ranges: "5600-560010", wantErr: true},
		{name: "bad exclusion", ranges: "560001-560010", excluded: "abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRegion(tt.ranges, tt.excluded)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
