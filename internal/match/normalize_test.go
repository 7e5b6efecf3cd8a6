package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple", "Jane Doe", "JANE DOE"},
		{"whitespace", "  Jane   Doe  ", "JANE DOE"},
		{"honorific rep", "Rep. Jane Doe", "JANE DOE"},
		{"honorific senator", "Senator Jane Doe", "JANE DOE"},
		{"comma style", "Doe, Jane", "JANE DOE"},
		{"comma with honorific suffix", "Doe, Jane Jr.", "JANE DOE"},
		{"generational jr", "Jane Doe Jr.", "JANE DOE"},
		{"generational iii", "John Smith III", "JOHN SMITH"},
		{"diacritics", "José Núñez", "JOSE NUNEZ"},
		{"hyphenated", "Mary Smith-Jones", "MARY SMITH JONES"},
		{"apostrophe", "Pat O'Brien", "PAT OBRIEN"},
		{"empty", "", ""},
		{"spaces only", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeName(tt.input))
		})
	}
}

func TestLastName(t *testing.T) {
	assert.Equal(t, "DOE", LastName("JANE DOE"))
	assert.Equal(t, "JONES", LastName("MARY SMITH JONES"))
	assert.Equal(t, "CHER", LastName("CHER"))
	assert.Equal(t, "", LastName(""))
}

func TestBlockingKey(t *testing.T) {
	assert.Equal(t, "DOE|PA|state", BlockingKey("JANE DOE", "pa", "State"))
	assert.Equal(t, "DOE|PA|state", BlockingKey(NormalizeName("Doe, Jane"), " PA ", "state"))
	// Same blocking key regardless of which source formatted the name.
	assert.Equal(t,
		BlockingKey(NormalizeName("Rep. Jane Doe"), "PA", "state"),
		BlockingKey(NormalizeName("DOE, JANE"), "PA", "state"),
	)
}

func TestTokenSetSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "JANE DOE", "JANE DOE", 1.0},
		{"reordered", "DOE JANE", "JANE DOE", 1.0},
		{"middle initial ignored", "JANE A DOE", "JANE DOE", 1.0},
		{"extra middle name", "JANE ANN DOE", "JANE DOE", 2.0 / 3.0},
		{"disjoint", "JANE DOE", "JOHN SMITH", 0.0},
		{"empty side", "", "JANE DOE", 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, TokenSetSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}
