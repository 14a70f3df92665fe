package cmd

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckStdinPipe(t *testing.T) {
	origStdin := os.Stdin
	defer func() {
		os.Stdin = origStdin
	}()

	t.Run("with piped page HTML", func(t *testing.T) {
		r, w, err := os.Pipe()
		require.NoError(t, err)
		os.Stdin = r

		testData := "<html><body><p>piped page</p></body></html>"
		go func() {
			defer w.Close()
			w.Write([]byte(testData))
		}()

		data, hasPiped := checkStdinPipe()
		assert.True(t, hasPiped)
		assert.Equal(t, testData, data)
	})

	t.Run("without piped data", func(t *testing.T) {
		tmpFile, err := os.CreateTemp(t.TempDir(), "terminal-sim")
		require.NoError(t, err)
		defer tmpFile.Close()

		f, err := os.Open(tmpFile.Name())
		require.NoError(t, err)
		defer f.Close()
		os.Stdin = f

		data, hasPiped := checkStdinPipe()
		assert.False(t, hasPiped)
		assert.Empty(t, data)
	})
}
