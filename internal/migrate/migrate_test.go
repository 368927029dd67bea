package migrate

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithMultiStatement(t *testing.T) {
	assert.Equal(t,
		"clickhouse://ch:9000/default?x-multi-statement=true",
		withMultiStatement("clickhouse://ch:9000/default"))
	assert.Equal(t,
		"clickhouse://ch:9000/default?secure=true&x-multi-statement=true",
		withMultiStatement("clickhouse://ch:9000/default?secure=true"))
	assert.Equal(t,
		"clickhouse://ch:9000/default?x-multi-statement=false",
		withMultiStatement("clickhouse://ch:9000/default?x-multi-statement=false"))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrations, "sql/*.up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)

	downs, err := fs.Glob(migrations, "sql/*.down.sql")
	require.NoError(t, err)

	assert.Len(t, downs, len(ups))
}
