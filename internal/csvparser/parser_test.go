package csvparser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRows(t *testing.T) {
	input := "Email,name,plan_name\nana@example.com,Ana,Pro\nluis@example.com,Luis,Basic\n"

	rows, err := ParseRows(strings.NewReader(input), 0)

	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ana@example.com", rows[0].Email)
	assert.Equal(t, map[string]string{"name": "Ana", "plan_name": "Pro"}, rows[0].Variables)
	assert.Equal(t, "luis@example.com", rows[1].Email)
}

func TestParseRowsEmailColumnIsCaseInsensitive(t *testing.T) {
	input := "name,EMAIL\nAna,ana@example.com\n"

	rows, err := ParseRows(strings.NewReader(input), 0)

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ana@example.com", rows[0].Email)
}

func TestParseRowsSkipsRowsWithoutEmail(t *testing.T) {
	input := "Email,name\n,SinCorreo\nana@example.com,Ana\n"

	rows, err := ParseRows(strings.NewReader(input), 0)

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ana@example.com", rows[0].Email)
}

func TestParseRowsRequiresEmailColumn(t *testing.T) {
	input := "name,plan\nAna,Pro\n"

	_, err := ParseRows(strings.NewReader(input), 0)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Email column")
}

func TestParseRowsHonorsMaxRows(t *testing.T) {
	input := "Email\na@x.com\nb@x.com\nc@x.com\n"

	rows, err := ParseRows(strings.NewReader(input), 2)

	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestParseRowsRejectsEmptyBody(t *testing.T) {
	input := "Email,name\n"

	_, err := ParseRows(strings.NewReader(input), 0)

	require.Error(t, err)
}
