package replica

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildRDB assembles a complete snapshot: header, body opcodes, EOF and
// the CRC trailer.
func buildRDB(version string, body []byte) []byte {
	payload := append([]byte("REDIS"+version), body...)
	payload = append(payload, opcodeEOF)
	crc := crc64Update(0, payload)
	return binary.LittleEndian.AppendUint64(payload, crc)
}

func collectSnapshotEvents(t *testing.T, data []byte) []Event {
	t.Helper()
	p := newTestParser(data)
	require.NoError(t, p.ParseHeader())

	var events []Event
	for {
		event, err := p.ParseNext()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, event)
	}
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	p := newTestParser([]byte("RODIS0009"))
	require.ErrorIs(t, p.ParseHeader(), ErrInvalidMagic)
}

func TestParseHeaderRejectsFutureVersion(t *testing.T) {
	p := newTestParser([]byte("REDIS0099"))
	require.ErrorIs(t, p.ParseHeader(), ErrUnsupportedVersion)
}

func TestParseHeaderAcceptsKnownVersions(t *testing.T) {
	for _, v := range []string{"0006", "0009", "0011"} {
		p := newTestParser([]byte("REDIS" + v))
		require.NoError(t, p.ParseHeader(), v)
	}
}

// A single string key yields db-select then the key-value event and a
// clean terminator (scenario: foo=bar snapshot).
func TestParseSimpleSnapshot(t *testing.T) {
	var body []byte
	body = append(body, opcodeSelectDB)
	body = append(body, encodeLength(0)...)
	body = append(body, typeString)
	body = append(body, rdbString([]byte("foo"))...)
	body = append(body, rdbString([]byte("bar"))...)

	events := collectSnapshotEvents(t, buildRDB("0009", body))
	require.Len(t, events, 2)

	sel, ok := events[0].(*SelectDBEvent)
	require.True(t, ok)
	require.Equal(t, 0, sel.DB)

	kv, ok := events[1].(*KeyValueEvent)
	require.True(t, ok)
	require.Equal(t, "foo", kv.Key)
	require.Equal(t, ExpireNone, kv.ExpireUnit)
	require.Equal(t, &StringValue{Value: "bar"}, kv.Value)
}

func TestChecksumMismatchFatal(t *testing.T) {
	var body []byte
	body = append(body, typeString)
	body = append(body, rdbString([]byte("k"))...)
	body = append(body, rdbString([]byte("v"))...)

	data := buildRDB("0009", body)
	data[len(data)-1] ^= 0x01 // flip one trailer bit

	p := newTestParser(data)
	require.NoError(t, p.ParseHeader())

	_, err := p.ParseNext() // key-value
	require.NoError(t, err)
	_, err = p.ParseNext() // terminator
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestZeroTrailerMeansChecksumDisabled(t *testing.T) {
	payload := append([]byte("REDIS0009"), opcodeEOF)
	data := binary.LittleEndian.AppendUint64(payload, 0)

	events := collectSnapshotEvents(t, data)
	require.Empty(t, events)
}

func TestAuxResizeAndSelectEvents(t *testing.T) {
	var body []byte
	body = append(body, opcodeAux)
	body = append(body, rdbString([]byte("redis-ver"))...)
	body = append(body, rdbString([]byte("7.2.0"))...)
	body = append(body, opcodeResizeDB)
	body = append(body, encodeLength(128)...)
	body = append(body, encodeLength(16)...)
	body = append(body, opcodeSelectDB)
	body = append(body, encodeLength(3)...)

	events := collectSnapshotEvents(t, buildRDB("0009", body))
	require.Len(t, events, 3)
	require.Equal(t, &AuxEvent{Key: "redis-ver", Value: "7.2.0"}, events[0])
	require.Equal(t, &ResizeDBEvent{Size: 128, ExpiresSize: 16}, events[1])
	require.Equal(t, &SelectDBEvent{DB: 3}, events[2])
}

// Expiry, idle and freq hints attach to exactly the next key and are
// cleared afterwards.
func TestHintsAttachToNextKeyOnly(t *testing.T) {
	var body []byte
	body = append(body, opcodeExpireMs)
	body = binary.LittleEndian.AppendUint64(body, 1700000000123)
	body = append(body, opcodeIdle)
	body = append(body, encodeLength(300)...)
	body = append(body, opcodeFreq, 7)
	body = append(body, typeString)
	body = append(body, rdbString([]byte("hinted"))...)
	body = append(body, rdbString([]byte("v1"))...)
	body = append(body, typeString)
	body = append(body, rdbString([]byte("bare"))...)
	body = append(body, rdbString([]byte("v2"))...)

	events := collectSnapshotEvents(t, buildRDB("0009", body))
	require.Len(t, events, 2)

	hinted := events[0].(*KeyValueEvent)
	require.Equal(t, ExpireMilliseconds, hinted.ExpireUnit)
	require.Equal(t, int64(1700000000123), hinted.ExpireAt)
	require.Equal(t, int64(1700000000123), hinted.ExpireAtMillis())
	require.Equal(t, int64(300), hinted.Idle)
	require.Equal(t, int64(7), hinted.Freq)

	bare := events[1].(*KeyValueEvent)
	require.Equal(t, ExpireNone, bare.ExpireUnit)
	require.Zero(t, bare.ExpireAt)
	require.Zero(t, bare.Idle)
	require.Zero(t, bare.Freq)
}

func TestSecondsExpiryUnitPreserved(t *testing.T) {
	var body []byte
	body = append(body, opcodeExpireSec)
	body = binary.LittleEndian.AppendUint32(body, 1700000000)
	body = append(body, typeString)
	body = append(body, rdbString([]byte("k"))...)
	body = append(body, rdbString([]byte("v"))...)

	events := collectSnapshotEvents(t, buildRDB("0009", body))
	kv := events[0].(*KeyValueEvent)
	require.Equal(t, ExpireSeconds, kv.ExpireUnit)
	require.Equal(t, int64(1700000000), kv.ExpireAt)
	require.Equal(t, int64(1700000000)*1000, kv.ExpireAtMillis())
}

func TestContainerValueThroughParser(t *testing.T) {
	var body []byte
	body = append(body, typeSetIntset)
	body = append(body, rdbString([]byte("nums"))...)
	body = append(body, rdbString(buildIntset(2, 1, 2, 3))...)

	events := collectSnapshotEvents(t, buildRDB("0009", body))
	kv := events[0].(*KeyValueEvent)
	require.Equal(t, "nums", kv.Key)
	require.Equal(t, &SetValue{Members: []string{"1", "2", "3"}}, kv.Value)
}

func TestUnknownValueTypeFatal(t *testing.T) {
	var body []byte
	body = append(body, 42)
	body = append(body, rdbString([]byte("k"))...)

	p := newTestParser(buildRDB("0009", body))
	require.NoError(t, p.ParseHeader())
	_, err := p.ParseNext()
	require.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestPreModule2ValueFatal(t *testing.T) {
	var body []byte
	body = append(body, typeModule)
	body = append(body, rdbString([]byte("k"))...)

	p := newTestParser(buildRDB("0009", body))
	require.NoError(t, p.ParseHeader())
	_, err := p.ParseNext()
	require.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestFunctionPayloadSkipped(t *testing.T) {
	var body []byte
	body = append(body, opcodeFunction2)
	body = append(body, rdbString([]byte("function library blob"))...)
	body = append(body, typeString)
	body = append(body, rdbString([]byte("k"))...)
	body = append(body, rdbString([]byte("v"))...)

	events := collectSnapshotEvents(t, buildRDB("0011", body))
	require.Len(t, events, 1)
	require.Equal(t, "k", events[0].(*KeyValueEvent).Key)
}
