package ipc

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/transitwatch/internal/models"
)

func TestCodecStream(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	result := models.ScrapeResult{
		TargetID:  "bus-1",
		Found:     true,
		Time:      "4 dk",
		Buses:     []models.BusArrival{{Line: "561", LineName: "ULUS", Time: "4 dk"}},
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, enc.Encode(Message{Kind: KindReady}))
	require.NoError(t, enc.Encode(Message{Kind: KindResult, Result: &result}))
	require.NoError(t, enc.Encode(Message{Kind: KindAck, Seq: 7, Error: "bad", Rejected: true}))

	assert.Equal(t, 3, strings.Count(buf.String(), "\n"), "one frame per line")

	dec := NewDecoder(&buf)

	msg, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, KindReady, msg.Kind)

	msg, err = dec.Decode()
	require.NoError(t, err)
	require.NotNil(t, msg.Result)
	assert.Equal(t, result, *msg.Result)

	msg, err = dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), msg.Seq)
	assert.True(t, models.IsReconfigurationFailure(ackError(msg)))

	_, err = dec.Decode()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoderSkipsBlankLines(t *testing.T) {
	dec := NewDecoder(strings.NewReader("\n\n{\"kind\":\"ready\"}\n\n"))

	msg, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, KindReady, msg.Kind)

	_, err = dec.Decode()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoderRejectsBadFrames(t *testing.T) {
	cases := map[string]string{
		"malformed json":    "{\"kind\":",
		"unknown kind":      "{\"kind\":\"explode\"}",
		"result no target":  "{\"kind\":\"result\",\"result\":{}}",
		"ack without seq":   "{\"kind\":\"ack\"}",
		"status no payload": "{\"kind\":\"status\"}",
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewDecoder(strings.NewReader(frame + "\n")).Decode()
			require.Error(t, err)
			assert.False(t, errors.Is(err, io.EOF))
		})
	}
}

func TestEncoderRejectsInvalidFrames(t *testing.T) {
	var buf bytes.Buffer
	err := NewEncoder(&buf).Encode(Message{Kind: KindReconfigure})
	require.Error(t, err)
	assert.Zero(t, buf.Len(), "nothing written")
}

func TestKindDirection(t *testing.T) {
	for _, k := range []Kind{KindReconfigure, KindRecycle, KindShutdown} {
		assert.True(t, k.IsCommand(), k)
		assert.False(t, k.IsEvent(), k)
	}
	for _, k := range []Kind{KindReady, KindResult, KindStatus, KindAck} {
		assert.True(t, k.IsEvent(), k)
		assert.False(t, k.IsCommand(), k)
	}
}

func TestAckErrors(t *testing.T) {
	assert.NoError(t, ackError(newAck(1, nil)))

	rejected := newAck(2, &models.ReconfigurationFailure{Reason: "duplicate target id bus-1"})
	assert.True(t, rejected.Rejected)
	assert.True(t, models.IsReconfigurationFailure(ackError(rejected)))

	failed := newAck(3, errors.New("registry stopped"))
	assert.False(t, failed.Rejected)
	err := ackError(failed)
	require.Error(t, err)
	assert.False(t, models.IsReconfigurationFailure(err))
	assert.Contains(t, err.Error(), "registry stopped")
}
