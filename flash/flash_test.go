package flash_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/electricimp/SPIFlashFileSystem/flash"
)

func TestFakeProgrammingIsANDOnly(t *testing.T) {
	raw := flash.NewFake(4096)
	dev := flash.New(raw)

	require.NoError(t, dev.Write(0, []byte{0b1111_0000}, flash.VerifyPost, -1, -1))
	require.NoError(t, dev.Write(0, []byte{0b1010_1010}, flash.VerifyPost, -1, -1))

	got, err := dev.Read(0, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(0b1010_0000), got[0])
}

func TestEraseSectorResetsToAllOnes(t *testing.T) {
	raw := flash.NewFake(8192)
	dev := flash.New(raw)
	require.NoError(t, dev.Write(10, []byte{0x00}, flash.VerifyPost, -1, -1))

	require.NoError(t, dev.EraseSector(10))
	got, err := dev.Read(0, 4096)
	require.NoError(t, err)
	for _, b := range got {
		assert.Equal(t, byte(0xFF), b)
	}
}

func TestDeviceBoundsChecking(t *testing.T) {
	raw := flash.NewFake(4096)
	dev := flash.New(raw)
	_, err := dev.Read(4000, 200)
	assert.Error(t, err)
}

func TestDeviceEnableDisableNesting(t *testing.T) {
	raw := flash.NewFake(4096)
	dev := flash.New(raw)
	require.NoError(t, dev.Enable())
	require.NoError(t, dev.Enable())
	require.NoError(t, dev.Disable())
	require.NoError(t, dev.Disable())
	assert.Error(t, dev.Disable())
}
