package progressbar

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBarDisplay(t *testing.T) {
	var buf bytes.Buffer
	b := New(10, 4)
	b.out = &buf

	b.Increment()
	b.Increment()
	b.Display()

	out := buf.String()
	assert.Contains(t, out, "50.00%")
	assert.Contains(t, out, "2/4")
	assert.Equal(t, 5, strings.Count(out, "█"))
}

func TestBarIncrementSaturates(t *testing.T) {
	b := New(10, 2)
	for i := 0; i < 5; i++ {
		b.Increment()
	}
	assert.Equal(t, 2, b.current)
}
