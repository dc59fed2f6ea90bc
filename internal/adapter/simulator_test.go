package adapter

import (
	"bufio"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exchange writes cmd and returns the non-empty reply lines up to the prompt.
func exchange(t *testing.T, sim *Simulator, r *bufio.Reader, cmd string) []string {
	t.Helper()
	_, err := io.WriteString(sim, cmd+"\r")
	require.NoError(t, err)
	raw, err := r.ReadString('>')
	require.NoError(t, err)
	return strings.FieldsFunc(strings.TrimSuffix(raw, ">"), func(r rune) bool {
		return r == '\r' || r == '\n'
	})
}

func TestSimulatorEchoAndSpaces(t *testing.T) {
	sim := NewSimulator()
	r := bufio.NewReader(sim)
	sim.SetPID(0x01, 0x0D, "32")

	assert.Equal(t, []string{"ATZ", SimulatorVersion}, exchange(t, sim, r, "ATZ"))
	assert.Equal(t, []string{"010D", "41 0D 32"}, exchange(t, sim, r, "010D"))

	assert.Equal(t, []string{"ATE0", "OK"}, exchange(t, sim, r, "ATE0"))
	assert.Equal(t, []string{"OK"}, exchange(t, sim, r, "ATS0"))
	assert.Equal(t, []string{"410D32"}, exchange(t, sim, r, "010D"))

	assert.Equal(t, []string{"OK"}, exchange(t, sim, r, "ATH1"))
	assert.Equal(t, []string{"7E803410D32"}, exchange(t, sim, r, "010D"))
}

func TestSimulatorAT(t *testing.T) {
	sim := NewSimulator()
	r := bufio.NewReader(sim)
	exchange(t, sim, r, "ATE0")

	assert.Equal(t, []string{"A6"}, exchange(t, sim, r, "ATDPN"))
	assert.Equal(t, []string{SimulatorVersion}, exchange(t, sim, r, "ATI"))
	assert.Equal(t, []string{"OK"}, exchange(t, sim, r, "ATSH 7E0"))
	assert.Equal(t, []string{"OK"}, exchange(t, sim, r, "ATPC"))
	assert.Equal(t, []string{"?"}, exchange(t, sim, r, "ATXYZ"))

	rv := exchange(t, sim, r, "ATRV")
	require.Len(t, rv, 1)
	assert.True(t, strings.HasSuffix(rv[0], "V"))
}

func TestSimulatorNoData(t *testing.T) {
	sim := NewSimulator()
	r := bufio.NewReader(sim)
	exchange(t, sim, r, "ATE0")

	assert.Equal(t, []string{"NO DATA"}, exchange(t, sim, r, "017F"))
	assert.Equal(t, []string{"NO DATA"}, exchange(t, sim, r, "0301"))
	assert.Equal(t, []string{"?"}, exchange(t, sim, r, "01C"))
}

func TestSimulatorVINIsSplit(t *testing.T) {
	sim := NewSimulator()
	r := bufio.NewReader(sim)
	exchange(t, sim, r, "ATE0")
	exchange(t, sim, r, "ATS0")

	lines := exchange(t, sim, r, "0902")
	require.Len(t, lines, 3)
	assert.Equal(t, "014", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "0:"))
	require.True(t, strings.HasPrefix(lines[2], "1:"))

	joined := lines[1][2:] + lines[2][2:]
	assert.Equal(t, "490201"+strings.ToUpper(hex.EncodeToString([]byte(DefaultVIN))), joined)
}

func TestSimulatorCurrentDataInRange(t *testing.T) {
	sim := NewSimulator()
	for _, pid := range []byte{0x04, 0x05, 0x0C, 0x0D, 0x11, 0x42} {
		payload, ok := sim.currentData(pid)
		require.True(t, ok)
		_, err := hex.DecodeString(payload)
		assert.NoError(t, err, "pid %02X", pid)
	}
	_, ok := sim.currentData(0x7F)
	assert.False(t, ok)
}

func TestSimulatorClose(t *testing.T) {
	sim := NewSimulator()
	require.NoError(t, sim.Close())
	_, err := sim.Read(make([]byte, 8))
	assert.ErrorIs(t, err, io.EOF)
	_, err = sim.Write([]byte("ATZ\r"))
	assert.Error(t, err)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0, clamp(-3, 0xFF))
	assert.Equal(t, 0xFF, clamp(300, 0xFF))
	assert.Equal(t, 42, clamp(42.9, 0xFF))
}
