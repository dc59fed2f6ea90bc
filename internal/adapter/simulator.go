package adapter

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// SimulatorVersion is the identification string the simulator reports.
const SimulatorVersion = "ELM327 v1.5"

// DefaultVIN is reported by the simulator for mode 09 PID 02.
const DefaultVIN = "1D4GP00R55B123456"

// Simulator is an in-memory ELM327 attached to a simulated engine. It
// implements io.ReadWriteCloser: commands written to it are answered on the
// read side, ended by the ">" prompt, the way a real adapter does.
type Simulator struct {
	mu     sync.Mutex
	cond   *sync.Cond
	out    bytes.Buffer
	in     []byte
	closed bool

	echo      bool
	linefeeds bool
	headers   bool
	spaces    bool
	muted     bool

	start  time.Time
	vin    string
	fixed  map[string]string // "MMPP" -> payload hex
	random *rand.Rand
}

// NewSimulator creates a simulator in its power-on state (echo on, spaces on).
func NewSimulator() *Simulator {
	s := &Simulator{
		start:  time.Now(),
		vin:    DefaultVIN,
		fixed:  make(map[string]string),
		random: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.cond = sync.NewCond(&s.mu)
	s.reset()
	return s
}

func (s *Simulator) reset() {
	s.echo = true
	s.linefeeds = true
	s.headers = false
	s.spaces = true
}

// SetPID pins the payload returned for a mode/PID pair, e.g. SetPID(0x01, 0x0C, "0FA0").
func (s *Simulator) SetPID(mode, pid byte, payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixed[fmt.Sprintf("%02X%02X", mode, pid)] = strings.ToUpper(payload)
}

// SetVIN changes the reported VIN.
func (s *Simulator) SetVIN(vin string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vin = vin
}

// SetMuted makes the simulator swallow commands without replying.
func (s *Simulator) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
}

// Inject emits an unsolicited line, such as "CAN ERROR".
func (s *Simulator) Inject(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit(line + "\r")
}

// Read blocks until reply bytes are available or the simulator is closed.
func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.out.Len() == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.out.Len() == 0 {
		return 0, io.EOF
	}
	return s.out.Read(p)
}

// Write accepts command bytes; every CR completes one command.
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	s.in = append(s.in, p...)
	for {
		i := bytes.IndexByte(s.in, '\r')
		if i < 0 {
			break
		}
		cmd := string(s.in[:i])
		s.in = s.in[i+1:]
		s.command(cmd)
	}
	return len(p), nil
}

// Close wakes any blocked reader with io.EOF.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
	return nil
}

func (s *Simulator) emit(text string) {
	s.out.WriteString(text)
	s.cond.Broadcast()
}

func (s *Simulator) command(raw string) {
	if s.muted {
		return
	}
	if s.echo {
		s.emit(raw + "\r")
	}
	cmd := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
	lines := s.answer(cmd)

	eol := "\r"
	if s.linefeeds {
		eol = "\r\n"
	}
	for _, l := range lines {
		s.emit(l + eol)
	}
	s.emit(eol + ">")
}

func (s *Simulator) answer(cmd string) []string {
	if cmd == "" {
		return nil
	}
	if strings.HasPrefix(cmd, "AT") {
		return s.at(cmd[2:])
	}
	if len(cmd) < 4 || len(cmd)%2 != 0 {
		return []string{"?"}
	}
	b, err := hex.DecodeString(cmd)
	if err != nil {
		return []string{"?"}
	}
	return s.obd(b[0], b[1:])
}

func (s *Simulator) at(cmd string) []string {
	switch {
	case cmd == "Z":
		s.reset()
		return []string{"", SimulatorVersion}
	case cmd == "I":
		return []string{SimulatorVersion}
	case cmd == "E0", cmd == "E1":
		s.echo = cmd[1] == '1'
	case cmd == "L0", cmd == "L1":
		s.linefeeds = cmd[1] == '1'
	case cmd == "H0", cmd == "H1":
		s.headers = cmd[1] == '1'
	case cmd == "S0", cmd == "S1":
		s.spaces = cmd[1] == '1'
	case cmd == "RV":
		return []string{fmt.Sprintf("%.1fV", 12.4+s.random.Float64()*0.4)}
	case cmd == "DPN":
		return []string{"A6"}
	case strings.HasPrefix(cmd, "SP"), strings.HasPrefix(cmd, "SH"),
		strings.HasPrefix(cmd, "AT"), cmd == "PC", cmd == "D":
	default:
		return []string{"?"}
	}
	return []string{"OK"}
}

func (s *Simulator) obd(mode byte, pids []byte) []string {
	pid := pids[0]
	key := fmt.Sprintf("%02X%02X", mode, pid)
	if payload, ok := s.fixed[key]; ok {
		return []string{s.format(mode+0x40, pid, payload)}
	}

	switch mode {
	case 0x01:
		payload, ok := s.currentData(pid)
		if !ok {
			return []string{"NO DATA"}
		}
		return []string{s.format(mode+0x40, pid, payload)}
	case 0x09:
		if pid == 0x02 {
			return s.vinReply()
		}
	}
	return []string{"NO DATA"}
}

// vinReply splits the VIN answer over two chunk lines after a byte-count
// line, as CAN adapters do for multi-frame replies.
func (s *Simulator) vinReply() []string {
	msg := "490201" + strings.ToUpper(hex.EncodeToString([]byte(s.vin)))
	half := len(msg) / 2
	half -= half % 2
	return []string{
		fmt.Sprintf("%03X", len(msg)/2),
		"0:" + s.spaced(msg[:half]),
		"1:" + s.spaced(msg[half:]),
	}
}

func (s *Simulator) format(resMode, pid byte, payload string) string {
	msg := fmt.Sprintf("%02X%02X%s", resMode, pid, payload)
	if s.headers {
		msg = "7E8" + fmt.Sprintf("%02X", len(msg)/2) + msg
	}
	return s.spaced(msg)
}

func (s *Simulator) spaced(msg string) string {
	if !s.spaces {
		return msg
	}
	parts := make([]string, 0, len(msg)/2)
	for i := 0; i+1 < len(msg); i += 2 {
		parts = append(parts, msg[i:i+2])
	}
	return strings.Join(parts, " ")
}

// currentData models a car cycling between idle and a rev, like a short
// drive around the block.
func (s *Simulator) currentData(pid byte) (string, bool) {
	t := time.Since(s.start).Seconds()
	load := math.Sin(t*0.3) * math.Sin(t*0.3)
	rpm := 800 + 4000*load + s.random.Float64()*40
	speed := load * 120

	switch pid {
	case 0x00:
		return "BE3FB813", true
	case 0x04:
		return hexByte(load * 255), true
	case 0x05:
		return hexByte(88 + 40 + s.random.Float64()*3), true
	case 0x0B:
		return hexByte(30 + load*70), true
	case 0x0C:
		return hexWord(rpm * 4), true
	case 0x0D:
		return hexByte(speed), true
	case 0x0E:
		return hexByte((10 + load*25 + 64) * 2), true
	case 0x0F:
		return hexByte(30 + 40 + s.random.Float64()*4), true
	case 0x10:
		return hexWord((2 + load*80) * 100), true
	case 0x11:
		return hexByte(load * 255), true
	case 0x1F:
		return hexWord(t), true
	case 0x2F:
		return hexByte(0.62 * 255), true
	case 0x42:
		return hexWord((13.8 + s.random.Float64()*0.4) * 1000), true
	case 0x46:
		return hexByte(21 + 40), true
	case 0x51:
		return "01", true
	}
	return "", false
}

func hexByte(v float64) string {
	return fmt.Sprintf("%02X", clamp(v, 0xFF))
}

func hexWord(v float64) string {
	return fmt.Sprintf("%04X", clamp(v, 0xFFFF))
}

func clamp(v float64, limit int) int {
	n := int(v)
	if n < 0 {
		return 0
	}
	if n > limit {
		return limit
	}
	return n
}
