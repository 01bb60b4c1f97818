//go:build linux

package afpacket

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/bpf"
)

func TestControlFilter(t *testing.T) {
	raw, err := controlFilter()
	require.NoError(t, err)

	vm, err := bpf.NewVM(func() []bpf.Instruction {
		insts, ok := bpf.Disassemble(raw)
		require.True(t, ok)
		return insts
	}())
	require.NoError(t, err)

	frame := func(etherType uint16) []byte {
		b := make([]byte, 60)
		b[12] = byte(etherType >> 8)
		b[13] = byte(etherType)
		return b
	}

	for _, et := range []uint16{0x0800, 0x86dd, 0x0806, 0x8100} {
		n, err := vm.Run(frame(et))
		require.NoError(t, err)
		assert.NotZero(t, n, "ethertype %#04x", et)
	}
	n, err := vm.Run(frame(0x88cc))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFrameSizeRoundsToPage(t *testing.T) {
	n := frameSize(2048)
	assert.GreaterOrEqual(t, n, 2048)
	assert.Zero(t, n%os.Getpagesize())
}
