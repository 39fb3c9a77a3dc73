package attrs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	list := []any{"tier", "anonymous", "count", 3, 42, "ignored", "dangling"}

	assert.Equal(t, "anonymous", ExtractString(list, "tier"))
	assert.Equal(t, "", ExtractString(list, "count"))
	assert.Equal(t, "", ExtractString(list, "dangling"))
	assert.Equal(t, 3, ExtractInt(list, "count"))
	assert.Equal(t, 0, ExtractInt(list, "tier"))
}

func TestReplace(t *testing.T) {
	list := []any{"identity", "sess-1", "tier", "anonymous"}
	out := Replace(list, "identity", func(any) any { return "hashed" })

	assert.Equal(t, []any{"identity", "hashed", "tier", "anonymous"}, out)
	assert.Equal(t, "sess-1", list[1], "input is not modified")
}
