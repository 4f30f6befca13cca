package file

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/rigado/bonddb/nvm"
	"github.com/stretchr/testify/require"
)

func tempImage(t *testing.T) string {
	dir, err := ioutil.TempDir("", "bonddb")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "bonds.img")
}

func TestOpenPadsBlank(t *testing.T) {
	path := tempImage(t)
	img, err := Open(path, 1024)
	require.NoError(t, err)
	defer img.Close()

	st, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(1024), st.Size())

	require.NoError(t, img.Acquire())
	b := make([]byte, 4)
	_, err = img.ReadAt(b, 100)
	require.NoError(t, err)
	require.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, b)
	require.NoError(t, img.Release())
}

func TestWriteSurvivesReopen(t *testing.T) {
	path := tempImage(t)
	img, err := Open(path, 64)
	require.NoError(t, err)
	require.NoError(t, img.Acquire())
	_, err = img.WriteAt([]byte("bond"), 8)
	require.NoError(t, err)
	require.NoError(t, img.Release())
	require.NoError(t, img.Close())

	img, err = Open(path, 64)
	require.NoError(t, err)
	defer img.Close()
	b := make([]byte, 4)
	_, err = img.ReadAt(b, 8)
	require.NoError(t, err)
	require.Equal(t, "bond", string(b))

	_, err = img.WriteAt([]byte("x"), 64)
	require.Equal(t, nvm.ErrOutOfRange, errors.Cause(err))
}

func TestFlashImageErase(t *testing.T) {
	path := tempImage(t)
	img, err := OpenFlash(path, 8192, 4096)
	require.NoError(t, err)
	defer img.Close()

	var _ nvm.Eraser = img
	var _ nvm.Session = img

	_, err = img.WriteAt([]byte{0, 0}, 4096)
	require.NoError(t, err)
	require.NoError(t, img.EraseSector(4096))
	busy, err := img.Busy()
	require.NoError(t, err)
	require.False(t, busy)

	b := make([]byte, 2)
	_, err = img.ReadAt(b, 4096)
	require.NoError(t, err)
	require.Equal(t, []byte{0xff, 0xff}, b)

	require.Equal(t, nvm.ErrUnaligned, errors.Cause(img.EraseSector(10)))
}
