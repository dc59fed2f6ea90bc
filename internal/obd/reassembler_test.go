package obd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReassembler(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  []string
	}{
		{"plain line", []string{"410C0FA0"}, []string{"410C0FA0"}},
		{"two halves", []string{"0:490201314434", "1:4750303052"}, []string{"4902013144344750303052"}},
		{"empty second half", []string{"0:410C0FA0", "1:"}, []string{"410C0FA0"}},
		{"first half only", []string{"0:410C0FA0"}, nil},
		{"new first half replaces", []string{"0:AAAA", "0:410C", "1:0FA0"}, []string{"410C0FA0"}},
		{"orphan second half", []string{"1:0FA0"}, []string{"0FA0"}},
		{"later chunk dropped", []string{"0:41", "1:0C", "2:0FA0"}, []string{"410C"}},
		{"short line", []string{"OK"}, []string{"OK"}},
		{"not a prefix", []string{"A:FF"}, []string{"A:FF"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Reassembler
			var got []string
			for _, l := range tt.lines {
				if out, ok := r.Feed(l); ok {
					got = append(got, out)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReassemblerPendingAndReset(t *testing.T) {
	var r Reassembler
	_, ok := r.Feed("0:4902")
	assert.False(t, ok)
	assert.Equal(t, "4902", r.Pending())

	r.Reset()
	assert.Empty(t, r.Pending())

	out, ok := r.Feed("1:01")
	assert.True(t, ok)
	assert.Equal(t, "01", out)
}
