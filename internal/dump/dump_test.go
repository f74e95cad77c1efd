package dump

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/wav"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/rbright/murmur/internal/dsp"
)

func TestOpenDisabledReturnsNilRecorder(t *testing.T) {
	rec, err := Open(Options{}, "abc", 16000)
	require.NoError(t, err)
	require.Nil(t, rec)

	require.NoError(t, rec.WriteAudio([]byte{1, 0}))
	require.NoError(t, rec.WriteMessage("in", "text", nil))
	require.NoError(t, rec.Close())
	require.Empty(t, rec.AudioPath())
}

func TestOpenUsesStateDirFallback(t *testing.T) {
	state := t.TempDir()
	t.Setenv("XDG_STATE_HOME", state)

	rec, err := Open(Options{Messages: true}, "abc", 16000)
	require.NoError(t, err)
	defer rec.Close()

	require.True(t, strings.HasPrefix(rec.MessagesPath(), filepath.Join(state, "murmur", "debug")))
	require.Empty(t, rec.AudioPath())
}

func TestWriteAudioProducesDecodableWAV(t *testing.T) {
	dir := t.TempDir()
	rec, err := Open(Options{Dir: dir, Audio: true}, "abc", 16000)
	require.NoError(t, err)

	samples := []float32{0, 0.5, -0.5, 1, -1}
	require.NoError(t, rec.WriteAudio(dsp.QuantizePCM16(samples)))
	require.NoError(t, rec.WriteAudio(dsp.QuantizePCM16(samples)))
	path := rec.AudioPath()
	require.NoError(t, rec.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	decoder := wav.NewDecoder(file)
	require.True(t, decoder.IsValidFile())
	buf, err := decoder.FullPCMBuffer()
	require.NoError(t, err)
	require.Equal(t, 16000, buf.Format.SampleRate)
	require.Equal(t, 1, buf.Format.NumChannels)
	require.Len(t, buf.Data, 10)
	require.Equal(t, dsp.PCM16Samples(dsp.QuantizePCM16(samples)), buf.Data[:5])
}

func TestWriteMessageAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	rec, err := Open(Options{Dir: dir, Messages: true}, "abc", 16000)
	require.NoError(t, err)

	require.NoError(t, rec.WriteMessage("out", "stop", nil))
	require.NoError(t, rec.WriteMessage("in", "session_created", map[string]string{"session_id": "s1"}))
	path := rec.MessagesPath()
	require.NoError(t, rec.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var lines []messageLine
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var line messageLine
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 2)
	require.Equal(t, "out", lines[0].Direction)
	require.Equal(t, "stop", lines[0].Type)
	require.Equal(t, "session_created", lines[1].Type)
}
