package entities

import "testing"

func TestFold(t *testing.T) {
	if got := Fold("Cuántos Metros Ñ"); got != "cuantos metros n" {
		t.Errorf("Fold() = %q, want %q", got, "cuantos metros n")
	}
}

func TestNormalizeNumberWords(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"treinta y cinco", "35"},
		{"cuatro y medio", "4.5"},
		{"4 y media", "4.5"},
		{"uno treinta", "1.3"},
		{"ciento veinte", "120"},
		{"metro y medio", "1.5 metros"},
		{"veinte metros", "20 metros"},
		{"hola, cinco.", "hola, 5."},
		{"sin numeros aqui", "sin numeros aqui"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeNumberWords(tt.in); got != tt.want {
				t.Errorf("NormalizeNumberWords(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseDimensions(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   Dimensions
		wantOK bool
	}{
		{"digits", "necesito 4x5", Dimensions{Width: 4, Length: 5}, true},
		{"words with por", "de cuatro por cinco metros", Dimensions{Width: 4, Length: 5}, true},
		{"decimal comma roll", "4,20 x 100", Dimensions{Width: 4.2, Length: 100}, true},
		{"labeled width first", "ancho 3 largo 4", Dimensions{Width: 3, Length: 4}, true},
		{"labeled length first", "largo de 6 y ancho de 2", Dimensions{Width: 2, Length: 6}, true},
		{"suffixed labels", "3 de ancho por 5 de largo", Dimensions{Width: 3, Length: 5}, true},
		{"spoken decimal", "uno treinta por dos", Dimensions{Width: 1.3, Length: 2}, true},
		{"same pair twice", "4x5, si 5x4", Dimensions{Width: 4, Length: 5}, true},
		{"ambiguous pairs", "4x5 o 3x6", Dimensions{}, false},
		{"no dimensions", "hola buenas tardes", Dimensions{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDimensions(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("ParseDimensions(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ParseDimensions(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDimensionKeyOrientation(t *testing.T) {
	pairs := [][2]float64{{4, 5}, {4.2, 100}, {3, 3}, {1.3, 2}}
	for _, p := range pairs {
		if DimensionKey(p[0], p[1]) != DimensionKey(p[1], p[0]) {
			t.Errorf("DimensionKey not orientation invariant for %v", p)
		}
	}
	if got := DimensionKey(5, 4); got != "4x5" {
		t.Errorf("DimensionKey(5, 4) = %q, want 4x5", got)
	}
}

func TestBulk(t *testing.T) {
	if !(Dimensions{Width: 4.2, Length: 100}).Bulk() {
		t.Error("4.2x100 should be bulk")
	}
	if (Dimensions{Width: 4, Length: 5}).Bulk() {
		t.Error("4x5 should not be bulk")
	}
}

func TestParseSize(t *testing.T) {
	d, ok := ParseSize("Triangular 5 m")
	if !ok || !d.Triangle || d.Width != 5 {
		t.Errorf("ParseSize(triangle) = %+v, %v", d, ok)
	}
	d, ok = ParseSize("4 x 6 m")
	if !ok || d.Key() != "4x6" {
		t.Errorf("ParseSize(4 x 6 m) = %+v, %v", d, ok)
	}
}

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"quiero 3 rollos", 3, true},
		{"cantidad: 10", 10, true},
		{"dos piezas", 2, true},
		{"4 x 5 mallas", 0, false},
		{"hola", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseQuantity(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseQuantity(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParsePercentage(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"malla al 90", 90, true},
		{"80%", 80, true},
		{"noventa por ciento", 90, true},
		{"al 5", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParsePercentage(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParsePercentage(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseLength(t *testing.T) {
	tests := []struct {
		in     string
		want   float64
		wantOK bool
	}{
		{"20 metros", 20, true},
		{"largo de 15", 15, true},
		{"4x5 metros", 0, false},
		{"ancho de 4 metros", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseLength(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseLength(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseBareNumber(t *testing.T) {
	if v, ok := ParseBareNumber("4.20"); !ok || v != 4.2 {
		t.Errorf("ParseBareNumber(4.20) = %v, %v", v, ok)
	}
	if v, ok := ParseBareNumber("cinco metros"); !ok || v != 5 {
		t.Errorf("ParseBareNumber(cinco metros) = %v, %v", v, ok)
	}
	if _, ok := ParseBareNumber("4 rollos"); ok {
		t.Error("ParseBareNumber(4 rollos) should not match")
	}
}

func TestExtract(t *testing.T) {
	e := Extract("Quiero 2 mallas de 4x5 al 90% color beige, cp 64000")
	if e.Dimensions == nil || e.Dimensions.Key() != "4x5" {
		t.Fatalf("Dimensions = %+v", e.Dimensions)
	}
	if e.Quantity == nil || *e.Quantity != 2 {
		t.Errorf("Quantity = %v, want 2", e.Quantity)
	}
	if e.Percentage == nil || *e.Percentage != 90 {
		t.Errorf("Percentage = %v, want 90", e.Percentage)
	}
	if e.Color != "beige" {
		t.Errorf("Color = %q, want beige", e.Color)
	}
	if e.PostalCode != "64000" {
		t.Errorf("PostalCode = %q, want 64000", e.PostalCode)
	}
	if !Extract("buenas tardes").Empty() {
		t.Error("Extract(buenas tardes) should be empty")
	}
}
