package slug

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Acme Realty", "acme-realty"},
		{"  ACME   REALTY  ", "acme-realty"},
		{"Kadıköy Emlak & Yatırım", "kadikoy-emlak-yatirim"},
		{"İSTANBUL GAYRİMENKUL", "istanbul-gayrimenkul"},
		{"Çamlıca Şişli Ümraniye Ğ", "camlica-sisli-umraniye-g"},
		{"Öz-Güven Emlak", "oz-guven-emlak"},
		{"RE/MAX Lider 2024", "re-max-lider-2024"},
		{"--Prime--Homes--", "prime-homes"},
		{"", ""},
		{"!!! ???", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Generate(tt.input))
		})
	}
}

func TestGenerate_SameHandleForSpellingVariants(t *testing.T) {
	assert.Equal(t, Generate("Şişli Emlak"), Generate("ŞİŞLİ EMLAK"))
	assert.Equal(t, Generate("Acme Realty"), Generate("acme-realty"))
}
