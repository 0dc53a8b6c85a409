package encoding

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBothByteOrders(t *testing.T) {
	t.Run("Uint32", func(t *testing.T) {
		b := make([]byte, 8)
		PutBoth32(b, 0x01020304)
		require.Equal(t, []byte{0x04, 0x03, 0x02, 0x01, 0x01, 0x02, 0x03, 0x04}, b)

		v, err := Both32(b)
		require.NoError(t, err)
		require.Equal(t, uint32(0x01020304), v)
	})

	t.Run("Uint16", func(t *testing.T) {
		b := make([]byte, 4)
		PutBoth16(b, 0x1234)
		require.Equal(t, []byte{0x34, 0x12, 0x12, 0x34}, b)

		v, err := Both16(b)
		require.NoError(t, err)
		require.Equal(t, uint16(0x1234), v)
	})

	t.Run("Mismatch", func(t *testing.T) {
		v, err := Both32([]byte{0x01, 0, 0, 0, 0, 0, 0, 0x02})
		require.Error(t, err)
		require.Equal(t, uint32(1), v)

		_, err = Both16([]byte{0x01, 0x00, 0x00, 0x02})
		require.Error(t, err)
	})

	t.Run("Short", func(t *testing.T) {
		_, err := Both32([]byte{1, 2, 3})
		require.Error(t, err)
		_, err = Both16([]byte{1})
		require.Error(t, err)
	})
}

func TestDateTime(t *testing.T) {
	t.Run("Unspecified", func(t *testing.T) {
		b, err := MarshalDateTime(time.Time{})
		require.NoError(t, err)
		require.Equal(t, "0000000000000000", string(b[:16]))
		require.Zero(t, b[16])

		got, err := UnmarshalDateTime(b)
		require.NoError(t, err)
		require.True(t, got.IsZero())
	})

	t.Run("RoundTrip", func(t *testing.T) {
		in := time.Date(2024, time.March, 9, 14, 5, 7, 250_000_000, time.FixedZone("", 2*3600))
		b, err := MarshalDateTime(in)
		require.NoError(t, err)
		require.Equal(t, "2024030914050725", string(b[:16]))
		require.Equal(t, byte(8), b[16])

		got, err := UnmarshalDateTime(b)
		require.NoError(t, err)
		require.True(t, in.Equal(got))
	})

	t.Run("BadOffset", func(t *testing.T) {
		b, err := MarshalDateTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		b[16] = byte(int8(60))
		_, err = UnmarshalDateTime(b)
		require.Error(t, err)
	})
}

func TestRecordingDateTime(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		in := time.Date(1999, time.December, 31, 23, 59, 58, 0, time.FixedZone("", -5*3600))
		b, err := MarshalRecordingDateTime(in)
		require.NoError(t, err)
		require.Equal(t, [7]byte{99, 12, 31, 23, 59, 58, byte(0xEC)}, b)

		got, err := UnmarshalRecordingDateTime(b)
		require.NoError(t, err)
		require.True(t, in.Equal(got))
	})

	t.Run("Zero", func(t *testing.T) {
		b, err := MarshalRecordingDateTime(time.Time{})
		require.NoError(t, err)
		require.Equal(t, [7]byte{}, b)

		got, err := UnmarshalRecordingDateTime(b)
		require.NoError(t, err)
		require.True(t, got.IsZero())
	})

	t.Run("YearOutOfRange", func(t *testing.T) {
		_, err := MarshalRecordingDateTime(time.Date(1850, 1, 1, 0, 0, 0, 0, time.UTC))
		require.Error(t, err)
	})
}

func TestUCS2(t *testing.T) {
	tests := []struct {
		name string
		in   string
		raw  []byte
	}{
		{name: "ASCII", in: "boot.wim", raw: []byte{0, 'b', 0, 'o', 0, 'o', 0, 't', 0, '.', 0, 'w', 0, 'i', 0, 'm'}},
		{name: "Latin", in: "é", raw: []byte{0x00, 0xE9}},
		{name: "Surrogate", in: "\U0001F600", raw: []byte{0xD8, 0x3D, 0xDE, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.raw, EncodeUCS2BigEndian(tt.in))
			require.Equal(t, tt.in, DecodeUCS2BigEndian(tt.raw))
		})
	}

	require.Equal(t, "", DecodeUCS2BigEndian([]byte{0x00, 'a', 0x00}))
}
