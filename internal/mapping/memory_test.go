package mapping

import "testing"

func TestCreateThenMapSharesBackingArray(t *testing.T) {
	p := NewMemoryProvider()
	h, err := p.Create("R", 8)
	nilEqual(t, err)
	buf, err := p.Map(h, 8)
	nilEqual(t, err)
	buf[0] = 0x42

	buf2, err := p.Map(h, 8)
	nilEqual(t, err)
	valueEqual(t, byte(0x42), buf2[0])
}

func TestOpenUnknownSegmentFails(t *testing.T) {
	p := NewMemoryProvider()
	_, err := p.Open("missing", 8)
	valueEqual(t, ErrNotFound, err)
}

func TestOpenGrowsUndersizedSegment(t *testing.T) {
	p := NewMemoryProvider()
	h, err := p.Create("R", 4)
	nilEqual(t, err)
	buf, err := p.Map(h, 4)
	nilEqual(t, err)
	buf[3] = 9

	h2, err := p.Open("R", 16)
	nilEqual(t, err)
	grown, err := p.Map(h2, 16)
	nilEqual(t, err)
	valueEqual(t, 16, len(grown))
	valueEqual(t, byte(9), grown[3])
}

func TestCreateIsIdempotentForExistingSegment(t *testing.T) {
	p := NewMemoryProvider()
	h1, err := p.Create("R", 8)
	nilEqual(t, err)
	buf1, _ := p.Map(h1, 8)
	buf1[0] = 7

	h2, err := p.Create("R", 8)
	nilEqual(t, err)
	buf2, _ := p.Map(h2, 8)
	valueEqual(t, byte(7), buf2[0])
}
