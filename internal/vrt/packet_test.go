package vrt

import (
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSignalDataStreamID(t *testing.T) {
	buf := wordBytes(0x18000007, 0x00000042, 0x0012A2FF, 0x00010002, 0x11111111, 0x22222222, 0x33333333)
	p, err := Decode(buf)
	require.NoError(t, err)
	require.NotNil(t, p.StreamID)
	assert.Equal(t, uint32(0x42), *p.StreamID)
	assert.Equal(t, TypeSignalData, p.Type())
	require.NotNil(t, p.ClassID)
	assert.Equal(t, uint32(0x12A2FF), p.ClassID.OUI)
	s, ok := p.Signal()
	require.True(t, ok)
	assert.Equal(t, []uint32{0x11111111, 0x22222222, 0x33333333}, s.Words())
	assert.Nil(t, p.Trailer)
	assert.Equal(t, buf, Encode(p))
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		kind ErrorKind
		want error
	}{
		{
			name: "two byte buffer",
			buf:  []byte{0x18, 0x00},
			kind: TruncatedInput,
			want: ErrTruncatedInput,
		},
		{
			name: "empty buffer",
			buf:  nil,
			kind: TruncatedInput,
			want: ErrTruncatedInput,
		},
		{
			name: "context with words for one of two fields",
			// CIF0 selects reference point (1 word) and bandwidth (2 words).
			buf:  wordBytes(0x40000004, 0x42, uint32(1)<<30|uint32(1)<<29, 0x42),
			kind: TruncatedInput,
			want: ErrTruncatedInput,
		},
		{
			name: "undefined packet type",
			buf:  wordBytes(0x80000001),
			kind: InvalidPacketType,
			want: ErrInvalidPacketType,
		},
		{
			name: "declared size larger than buffer",
			buf:  wordBytes(0x10000003, 0x42),
			kind: SizeMismatch,
			want: ErrSizeMismatch,
		},
		{
			name: "context words left over",
			buf:  wordBytes(0x40000004, 0x42, 0, 0xFFFFFFFF),
			kind: SizeMismatch,
			want: ErrSizeMismatch,
		},
		{
			name: "trailer without room",
			buf:  wordBytes(0x04000001),
			kind: MalformedTrailer,
			want: ErrMalformedTrailer,
		},
		{
			name: "reserved CIF0 bit",
			buf:  wordBytes(0x40000004, 0x42, 0x00000001, 0),
			kind: UnsupportedContextField,
			want: ErrUnsupportedContextField,
		},
		{
			name: "CIF1 enabled but missing",
			buf:  wordBytes(0x40000003, 0x42, cif0EnableCIF1),
			kind: TruncatedInput,
			want: ErrTruncatedInput,
		},
		{
			name: "command without message ID",
			buf:  wordBytes(0x60000003, 0x42, 0),
			kind: TruncatedInput,
			want: ErrTruncatedInput,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Decode(tc.buf)
			require.Error(t, err)
			assert.Nil(t, p)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			assert.Equal(t, tc.kind, KindOf(err))
		})
	}
}

func TestMalformedTrailerIsTruncation(t *testing.T) {
	_, err := Decode(wordBytes(0x04000001))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedTrailer)
	assert.ErrorIs(t, err, ErrTruncatedInput)
	assert.NotErrorIs(t, err, ErrSizeMismatch)
}

func TestRoundTrip(t *testing.T) {
	for name, p := range samplePackets(t) {
		t.Run(name, func(t *testing.T) {
			roundTrip(t, p)
		})
	}
}

func TestTruncationProperty(t *testing.T) {
	for name, p := range samplePackets(t) {
		b := Encode(p)
		t.Run(name, func(t *testing.T) {
			for k := 0; k < len(b); k++ {
				// A copy with no spare capacity makes any read past k fault.
				prefix := append([]byte(nil), b[:k]...)
				q, err := Decode(prefix[:k:k])
				if err == nil {
					t.Fatalf("prefix of %d/%d bytes decoded: %+v", k, len(b), q)
				}
				if !errors.Is(err, ErrTruncatedInput) && !errors.Is(err, ErrSizeMismatch) {
					t.Fatalf("prefix of %d bytes: unexpected error %v", k, err)
				}
			}
		})
	}
}

func TestSizeMismatchProperty(t *testing.T) {
	for name, p := range samplePackets(t) {
		b := Encode(p)
		words := uint16(len(b) / 4)
		t.Run(name, func(t *testing.T) {
			for _, size := range []uint16{0, 1, words - 1, words + 1, words + 100, 0xFFFF} {
				if size == words {
					continue
				}
				mutated := append([]byte(nil), b...)
				mutated[2] = byte(size >> 8)
				mutated[3] = byte(size)
				_, err := Decode(mutated)
				if !errors.Is(err, ErrSizeMismatch) {
					t.Fatalf("size %d (true %d): got %v, want SizeMismatch", size, words, err)
				}
			}
		})
	}
}

func TestDecodeFromConcatenated(t *testing.T) {
	packets := samplePackets(t)
	names := make([]string, 0, len(packets))
	for name := range packets {
		names = append(names, name)
	}
	sort.Strings(names)
	var stream []byte
	for _, name := range names {
		stream = append(stream, Encode(packets[name])...)
	}
	for i := 0; len(stream) > 0; i++ {
		p, n, err := DecodeFrom(stream)
		require.NoError(t, err, "packet %d", i)
		assert.Equal(t, packets[names[i]].Type(), p.Type(), names[i])
		stream = stream[n:]
	}

	_, _, err := DecodeFrom(wordBytes(0x10000004, 0x42))
	assert.ErrorIs(t, err, ErrTruncatedInput)
}

func TestEncodePadsPartialWord(t *testing.T) {
	p := NewSignalData(1)
	s, _ := p.Signal()
	s.Data = []byte{0xAA, 0xBB, 0xCC}
	require.NoError(t, p.Resize())
	b := Encode(p)
	assert.Equal(t, wordBytes(0x10000003, 1, 0xAABBCC00), b)
}

func TestSetPayloadDataRejectsPartialWords(t *testing.T) {
	p := NewSignalData(1)
	assert.Error(t, p.SetPayloadData([]byte{1, 2, 3}))
	assert.ErrorIs(t, p.SetPayloadData(make([]byte, 4*maxPacketWords)), ErrPacketTooLarge)
}

func TestOversizedPacketIsNotEncoded(t *testing.T) {
	p := NewSignalData(1)
	require.NoError(t, p.SetPayloadData(make([]byte, 4*(maxPacketWords-2))))
	assert.EqualValues(t, maxPacketWords, p.Header.Size())
	_, err := p.Bytes()
	require.NoError(t, err)

	p.SetClassID(ClassID{OUI: 1})
	assert.Equal(t, maxPacketWords+2, p.WordCount())
	assert.EqualValues(t, maxPacketWords, p.Header.Size())
	assert.ErrorIs(t, p.Resize(), ErrPacketTooLarge)
	b, err := p.Bytes()
	assert.ErrorIs(t, err, ErrPacketTooLarge)
	assert.Nil(t, b)
}

func TestSetTrailerOnlyOnData(t *testing.T) {
	ctx := NewContext(1)
	assert.Error(t, ctx.SetTrailer(Trailer(0)))
	assert.Nil(t, ctx.Trailer)
	assert.Equal(t, uint32(0), uint32(ctx.Header)&hdrBitIndicator1)
}

func TestNewPacketRejectsUndefinedType(t *testing.T) {
	_, err := NewPacket(PacketType(9), 1)
	assert.ErrorIs(t, err, ErrInvalidPacketType)
}

func TestBuildersKeepHeaderConsistent(t *testing.T) {
	p := NewSignalData(3)
	p.SetClassID(ClassID{OUI: 1})
	p.SetTimestamp(TSIOther, 5, TSFFreeRunning, 6)
	require.NoError(t, p.SetPayloadData(wordBytes(1, 2)))
	assert.True(t, p.Header.ClassIDPresent())
	assert.Equal(t, TSIOther, p.Header.TSI())
	assert.Equal(t, TSFFreeRunning, p.Header.TSF())
	assert.Equal(t, uint16(1+1+2+1+2+2), p.Header.Size())

	p.SetTimestamp(TSINone, 0, TSFNone, 0)
	assert.Nil(t, p.Timestamp.Integer)
	assert.Nil(t, p.Timestamp.Fractional)
	assert.Equal(t, uint16(1+1+2+2), p.Header.Size())
}
