package leadimport

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Record
	}{
		{
			name: "comma separated",
			in:   "name,phone\nAna,+55 (11) 90000-0001\nBia,5511900000002\n",
			want: []Record{{Name: "Ana", Phone: "5511900000001"}, {Name: "Bia", Phone: "5511900000002"}},
		},
		{
			name: "semicolon with portuguese headers and bom",
			in:   "\ufeffNome;Telefone\nCaio;11 90000-0003\n",
			want: []Record{{Name: "Caio", Phone: "11900000003"}},
		},
		{
			name: "duplicates and blanks dropped",
			in:   "phone,name\n5511900000001,Ana\n55 11 90000 0001,Ana again\n,Nobody\n",
			want: []Record{{Name: "Ana", Phone: "5511900000001"}},
		},
		{
			name: "phone only",
			in:   "whatsapp\n5511900000004\n",
			want: []Record{{Phone: "5511900000004"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(strings.NewReader(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_MissingPhoneColumn(t *testing.T) {
	_, err := Parse(strings.NewReader("name,email\nAna,ana@example.com\n"))
	assert.ErrorIs(t, err, ErrMissingColumn)

	_, err = Parse(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrMissingColumn)
}
