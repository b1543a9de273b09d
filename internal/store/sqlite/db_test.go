package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithPragmas(t *testing.T) {
	assert.Equal(t, ":memory:", withPragmas(":memory:"))
	assert.Equal(t, "file:prism.db?"+filePragmas, withPragmas("prism.db"))
	assert.Equal(t, "file:prism.db?cache=shared&"+filePragmas, withPragmas("file:prism.db?cache=shared"))
	assert.Equal(t, "file:x.db?_journal_mode=DELETE", withPragmas("file:x.db?_journal_mode=DELETE"))
}
