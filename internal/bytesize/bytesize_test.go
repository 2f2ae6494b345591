package bytesize_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tinykern/kcore/internal/bytesize"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    bytesize.ByteSize
		wantErr bool
	}{
		{"plain zero", "0", 0, false},
		{"plain bytes", "4096", 4096, false},
		{"bytes suffix", "512B", 512, false},
		{"kibibytes", "100Ki", 100 * 1024, false},
		{"kibibytes long", "100KiB", 100 * 1024, false},
		{"mebibytes", "4Mi", 4 * 1024 * 1024, false},
		{"gibibytes", "1GiB", 1024 * 1024 * 1024, false},
		{"kilobytes", "2K", 2000, false},
		{"megabytes", "3MB", 3 * 1000 * 1000, false},
		{"lowercase", "8ki", 8 * 1024, false},
		{"whitespace", "  16 Ki ", 16 * 1024, false},

		{"empty", "", 0, true},
		{"blank", "   ", 0, true},
		{"fraction", "1.5Mi", 0, true},
		{"negative", "-1", 0, true},
		{"unknown unit", "10XB", 0, true},
		{"overflow", "99999999999999999Gi", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bytesize.Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestStringParsesBack(t *testing.T) {
	for _, size := range []bytesize.ByteSize{0, 7, 100 * bytesize.KiB, 3 * bytesize.MiB, 2 * bytesize.GiB, 1000} {
		parsed, err := bytesize.Parse(size.String())
		require.NoError(t, err)
		require.Equal(t, size, parsed)
	}

	require.Equal(t, "100Ki", (100 * bytesize.KiB).String())
}

func TestUnmarshalText(t *testing.T) {
	var size bytesize.ByteSize
	require.NoError(t, size.UnmarshalText([]byte("64Ki")))
	require.Equal(t, 65536, size.Int())

	require.Error(t, size.UnmarshalText([]byte("lots")))
	require.Equal(t, 65536, size.Int())
}
