package replica

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildZiplist encodes entries with 6-bit string lengths, the inverse
// of the decoder for round-trip coverage.
func buildZiplist(entries ...string) []byte {
	var body []byte
	for _, e := range entries {
		body = append(body, 0x00)          // prevlen (unused by the decoder)
		body = append(body, byte(len(e)))  // |00pppppp| string
		body = append(body, e...)
	}
	body = append(body, 0xFF)

	total := 10 + len(body)
	out := make([]byte, 10, total)
	binary.LittleEndian.PutUint32(out[0:4], uint32(total))
	binary.LittleEndian.PutUint32(out[4:8], 0)
	binary.LittleEndian.PutUint16(out[8:10], uint16(len(entries)))
	return append(out, body...)
}

// buildListpack encodes entries with 6-bit string lengths
func buildListpack(entries ...string) []byte {
	var body []byte
	for _, e := range entries {
		body = append(body, 0x80|byte(len(e)))
		body = append(body, e...)
		body = append(body, byte(1+len(e))) // backlen, entries stay short
	}
	body = append(body, 0xFF)

	total := 6 + len(body)
	out := make([]byte, 6, total)
	binary.LittleEndian.PutUint32(out[0:4], uint32(total))
	binary.LittleEndian.PutUint16(out[4:6], uint16(len(entries)))
	return append(out, body...)
}

func buildIntset(width uint32, values ...int64) []byte {
	out := make([]byte, 8, 8+len(values)*int(width))
	binary.LittleEndian.PutUint32(out[0:4], width)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(values)))
	for _, v := range values {
		switch width {
		case 2:
			out = binary.LittleEndian.AppendUint16(out, uint16(int16(v)))
		case 4:
			out = binary.LittleEndian.AppendUint32(out, uint32(int32(v)))
		case 8:
			out = binary.LittleEndian.AppendUint64(out, uint64(v))
		}
	}
	return out
}

func buildZipmap(pairs ...string) []byte {
	out := []byte{byte(len(pairs) / 2)}
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, byte(len(pairs[i])))
		out = append(out, pairs[i]...)
		out = append(out, byte(len(pairs[i+1])), 0x00)
		out = append(out, pairs[i+1]...)
	}
	return append(out, 0xFF)
}

// rdbString wraps raw bytes as a plain length-prefixed RDB string
func rdbString(s []byte) []byte {
	return append(encodeLength(uint64(len(s))), s...)
}

func TestParseZiplistRoundTrip(t *testing.T) {
	entries, err := parseZiplist(buildZiplist("one", "two", "three"))
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two", "three"}, entries)
}

func TestParseZiplistEmpty(t *testing.T) {
	entries, err := parseZiplist(buildZiplist())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestParseZiplistIntegers(t *testing.T) {
	// int16, int64, 24-bit negative, 8-bit and immediate entries
	var body []byte
	body = append(body, 0x00, 0xC0)
	body = binary.LittleEndian.AppendUint16(body, uint16(int16(-321)))
	body = append(body, 0x00, 0xE0)
	body = binary.LittleEndian.AppendUint64(body, uint64(1<<40))
	body = append(body, 0x00, 0xF0, 0xFF, 0xFF, 0xFF) // -1 as int24
	body = append(body, 0x00, 0xFE, 0x80)             // -128 as int8
	body = append(body, 0x00, 0xF1)                   // immediate 0
	body = append(body, 0x00, 0xFD)                   // immediate 12
	body = append(body, 0xFF)

	data := make([]byte, 10, 10+len(body))
	binary.LittleEndian.PutUint32(data[0:4], uint32(10+len(body)))
	binary.LittleEndian.PutUint16(data[8:10], 6)
	data = append(data, body...)

	entries, err := parseZiplist(data)
	require.NoError(t, err)
	require.Equal(t, []string{"-321", "1099511627776", "-1", "-128", "0", "12"}, entries)
}

func TestParseListpackRoundTrip(t *testing.T) {
	entries, err := parseListpack(buildListpack("field", "value"))
	require.NoError(t, err)
	require.Equal(t, []string{"field", "value"}, entries)
}

func TestParseListpackEmpty(t *testing.T) {
	entries, err := parseListpack(buildListpack())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestParseListpackIntegers(t *testing.T) {
	var body []byte
	body = append(body, 0x2A, 0x01)             // 7-bit uint 42
	body = append(body, 0xC0|0x1F, 0xFF, 0x02)  // 13-bit -1
	body = append(body, 0xF1, 0xD2, 0x04, 0x03) // int16 1234
	body = append(body, 0xF4)                   // int64
	body = binary.LittleEndian.AppendUint64(body, uint64(int64(-99)))
	body = append(body, 0x09) // backlen of the int64 entry
	body = append(body, 0xFF)

	data := make([]byte, 6, 6+len(body))
	binary.LittleEndian.PutUint32(data[0:4], uint32(6+len(body)))
	binary.LittleEndian.PutUint16(data[4:6], 4)
	data = append(data, body...)

	entries, err := parseListpack(data)
	require.NoError(t, err)
	require.Equal(t, []string{"42", "-1", "1234", "-99"}, entries)
}

// A 32-bit-length string entry whose dataSize lands exactly on a
// backlen threshold must not desync the entries behind it.
func TestParseListpackBacklenThresholdEntry(t *testing.T) {
	// encoding byte + 4-byte length + payload = 16383 bytes of entry
	// data, the largest dataSize with a 2-byte backlen
	payload := bytes.Repeat([]byte{'a'}, 16383-5)

	var body []byte
	body = append(body, 0xF0)
	body = binary.LittleEndian.AppendUint32(body, uint32(len(payload)))
	body = append(body, payload...)
	body = append(body, 0x7F, 0x81) // 2-byte backlen
	body = append(body, 0x81, 'z', 0x02)
	body = append(body, 0xFF)

	data := make([]byte, 6, 6+len(body))
	binary.LittleEndian.PutUint32(data[0:4], uint32(6+len(body)))
	binary.LittleEndian.PutUint16(data[4:6], 2)
	data = append(data, body...)

	entries, err := parseListpack(data)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, string(payload), entries[0])
	require.Equal(t, "z", entries[1])
}

func TestParseListpackLengthMismatch(t *testing.T) {
	data := buildListpack("x")
	binary.LittleEndian.PutUint32(data[0:4], uint32(len(data)+5))
	_, err := parseListpack(data)
	require.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestParseIntsetWidths(t *testing.T) {
	cases := []struct {
		width  uint32
		values []int64
	}{
		{2, []int64{-3, 0, 42}},
		{4, []int64{-70000, 123456}},
		{8, []int64{math.MinInt64, math.MaxInt64}},
	}

	for _, c := range cases {
		members, err := parseIntset(buildIntset(c.width, c.values...))
		require.NoError(t, err)
		require.Len(t, members, len(c.values))
	}

	members, err := parseIntset(buildIntset(2, -3, 0, 42))
	require.NoError(t, err)
	require.Equal(t, []string{"-3", "0", "42"}, members)
}

func TestParseIntsetEmpty(t *testing.T) {
	members, err := parseIntset(buildIntset(4))
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestParseIntsetBadEncoding(t *testing.T) {
	data := buildIntset(4, 1)
	binary.LittleEndian.PutUint32(data[0:4], 3)
	_, err := parseIntset(data)
	require.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestParseZipmapRoundTrip(t *testing.T) {
	entries, err := parseZipmap(buildZipmap("name", "redis", "port", "6379"))
	require.NoError(t, err)
	require.Equal(t, []string{"name", "redis", "port", "6379"}, entries)
}

func TestParseHashEncodings(t *testing.T) {
	want := map[string]string{"f1": "v1", "f2": "v2"}

	cases := []struct {
		name string
		typ  byte
		data []byte
	}{
		{"ziplist", typeHashZiplist, rdbString(buildZiplist("f1", "v1", "f2", "v2"))},
		{"listpack", typeHashListpack, rdbString(buildListpack("f1", "v1", "f2", "v2"))},
		{"zipmap", typeHashZipmap, rdbString(buildZipmap("f1", "v1", "f2", "v2"))},
	}

	for _, c := range cases {
		p := newTestParser(c.data)
		hash, err := p.parseHash(c.typ)
		require.NoError(t, err, c.name)
		require.Equal(t, want, hash.Fields, c.name)
	}
}

func TestParseHashStandard(t *testing.T) {
	var data []byte
	data = append(data, encodeLength(2)...)
	data = append(data, rdbString([]byte("f1"))...)
	data = append(data, rdbString([]byte("v1"))...)
	data = append(data, rdbString([]byte("f2"))...)
	data = append(data, rdbString([]byte("v2"))...)

	p := newTestParser(data)
	hash, err := p.parseHash(typeHash)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"f1": "v1", "f2": "v2"}, hash.Fields)
}

// A quicklist of two ziplists [a,b] and [c,d] is one logical list
// [a,b,c,d].
func TestParseQuicklistConcatenatesNodes(t *testing.T) {
	var data []byte
	data = append(data, encodeLength(2)...)
	data = append(data, rdbString(buildZiplist("a", "b"))...)
	data = append(data, rdbString(buildZiplist("c", "d"))...)

	p := newTestParser(data)
	list, err := p.parseList(typeListQuicklist)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c", "d"}, list.Elements)
}

func TestParseQuicklist2Containers(t *testing.T) {
	var data []byte
	data = append(data, encodeLength(2)...)
	data = append(data, encodeLength(quicklistNodePacked)...)
	data = append(data, rdbString(buildListpack("x", "y"))...)
	data = append(data, encodeLength(quicklistNodePlain)...)
	data = append(data, rdbString([]byte("plain-element"))...)

	p := newTestParser(data)
	list, err := p.parseList(typeListQuicklist2)
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y", "plain-element"}, list.Elements)
}

func TestParseSetEncodings(t *testing.T) {
	p := newTestParser(rdbString(buildIntset(2, 1, 2, 3)))
	set, err := p.parseSet(typeSetIntset)
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2", "3"}, set.Members)

	p = newTestParser(rdbString(buildListpack("m1", "m2")))
	set, err = p.parseSet(typeSetListpack)
	require.NoError(t, err)
	require.Equal(t, []string{"m1", "m2"}, set.Members)
}

func TestParseZSetZiplistPairs(t *testing.T) {
	p := newTestParser(rdbString(buildZiplist("alice", "1.5", "bob", "-2")))
	zset, err := p.parseZSet(typeZSetZiplist)
	require.NoError(t, err)
	require.Equal(t, []ZSetMember{
		{Member: "alice", Score: 1.5},
		{Member: "bob", Score: -2},
	}, zset.Members)
}

func TestParseZSetListpackSpecialScores(t *testing.T) {
	p := newTestParser(rdbString(buildListpack("up", "inf", "down", "-inf", "odd", "nan")))
	zset, err := p.parseZSet(typeZSetListpack)
	require.NoError(t, err)
	require.Len(t, zset.Members, 3)
	require.True(t, math.IsInf(zset.Members[0].Score, 1))
	require.True(t, math.IsInf(zset.Members[1].Score, -1))
	require.True(t, math.IsNaN(zset.Members[2].Score))
}

func TestParseZSet2BinaryScores(t *testing.T) {
	var data []byte
	data = append(data, encodeLength(2)...)
	data = append(data, rdbString([]byte("neg"))...)
	data = binary.LittleEndian.AppendUint64(data, math.Float64bits(math.Inf(-1)))
	data = append(data, rdbString([]byte("pi"))...)
	data = binary.LittleEndian.AppendUint64(data, math.Float64bits(3.14159))

	p := newTestParser(data)
	zset, err := p.parseZSet(typeZSet2)
	require.NoError(t, err)
	require.True(t, math.IsInf(zset.Members[0].Score, -1))
	require.Equal(t, 3.14159, zset.Members[1].Score)
}
