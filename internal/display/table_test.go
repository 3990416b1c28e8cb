package display

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func plainColors() ColorSystem {
	return NewColorSystem(DarkColorTheme(), &strings.Builder{}, true)
}

func TestTableDefaultStyle(t *testing.T) {
	table := NewTable(plainColors(), DefaultTableStyle, 80).
		SetHeaders("ID", "NAME").
		AddRow("1", "alpha").
		AddRow("22", "b")

	expected := strings.Join([]string{
		"+----+-------+",
		"| ID | NAME  |",
		"+----+-------+",
		"| 1  | alpha |",
		"| 22 | b     |",
		"+----+-------+",
		"",
	}, "\n")
	assert.Equal(t, expected, table.Render())
	assert.Equal(t, 2, table.Len())
}

func TestTableRightAlignment(t *testing.T) {
	table := NewTable(plainColors(), DefaultTableStyle, 80).
		SetHeaders("ID", "NAME").
		AddRow("1", "alpha").
		SetColumnAlignment(0, AlignRight)

	assert.Contains(t, table.Render(), "|  1 | alpha |")
}

func TestTableCompactStyle(t *testing.T) {
	table := NewTable(plainColors(), CompactTableStyle, 80).
		SetHeaders("ID", "NAME").
		AddRow("1", "alpha")

	assert.Equal(t, " ID  NAME\n 1   alpha\n", table.Render())
}

func TestTableShrinksToMaxWidth(t *testing.T) {
	table := NewTable(plainColors(), DefaultTableStyle, 20).
		SetHeaders("KEY", "VALUE").
		AddRow("k", "abcdefghijklmnopqrstuvwxyz")

	out := table.Render()
	assert.Contains(t, out, "| k   | abcdefg... |")
	for _, line := range strings.Split(strings.TrimSuffix(out, "\n"), "\n") {
		assert.LessOrEqual(t, len([]rune(line)), 20)
	}
}

func TestTableEmpty(t *testing.T) {
	assert.Empty(t, NewTable(plainColors(), DefaultTableStyle, 80).Render())
}

func TestTableStyleByName(t *testing.T) {
	s, ok := TableStyleByName("rounded")
	assert.True(t, ok)
	assert.Equal(t, "╭", s.BorderStyle.TopLeft)

	_, ok = TableStyleByName("fancy")
	assert.False(t, ok)
}
