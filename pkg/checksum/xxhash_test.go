package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytes(t *testing.T) {
	data := []byte("#100000113#;#113#;#Region#")

	sum := Bytes(data)

	assert.Len(t, sum, 16)
	assert.Equal(t, sum, Bytes([]byte("#100000113#;#113#;#Region#")))
	assert.NotEqual(t, sum, Bytes([]byte("other")))
	assert.Equal(t, "ef46db3751d8e999", Bytes(nil))
}
