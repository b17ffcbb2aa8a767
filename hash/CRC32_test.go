package hash

import "testing"

func TestBlockCRCEmpty(t *testing.T) {
	c := NewBlockCRC()

	if v := c.Value(); v != 0 {
		t.Fatalf("empty CRC = %#08x, want 0", v)
	}
}

func TestBlockCRCDetectsBitFlip(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")

	c1 := NewBlockCRC()
	c1.Update(data)
	want := c1.Value()

	flipped := append([]byte(nil), data...)
	flipped[7] ^= 0x01

	c2 := NewBlockCRC()
	c2.Update(flipped)

	if c2.Value() == want {
		t.Fatalf("single bit flip did not change CRC")
	}
}

func TestBlockCRCUpdateByteMatchesUpdate(t *testing.T) {
	data := []byte("abcdefg")

	c1 := NewBlockCRC()
	c1.Update(data)

	c2 := NewBlockCRC()

	for _, b := range data {
		c2.UpdateByte(b)
	}

	if c1.Value() != c2.Value() {
		t.Fatalf("UpdateByte loop = %#08x, Update = %#08x", c2.Value(), c1.Value())
	}
}

func TestCombineCRCAndWholeInputCRCAreNonZero(t *testing.T) {
	a := []byte("first block of data")
	b := []byte("second block of data")

	ca := NewBlockCRC()
	ca.Update(a)

	cb := NewBlockCRC()
	cb.Update(b)

	combined := CombineCRC(ca.Value(), cb.Value())
	combined = CombineCRC(0, combined)

	whole := NewBlockCRC()
	whole.Update(a)
	whole.Update(b)

	// CombineCRC folds per-block CRCs with a rotate-and-XOR, so its result
	// is not expected to equal the CRC of one BlockCRC fed both blocks back
	// to back; this only checks that neither value is zero. Order
	// sensitivity is checked by TestCombineCRCOrderSensitive.
	if combined == 0 {
		t.Fatalf("combined CRC unexpectedly zero")
	}

	if whole.Value() == 0 {
		t.Fatalf("whole CRC unexpectedly zero")
	}
}

func TestCombineCRCOrderSensitive(t *testing.T) {
	ca := NewBlockCRC()
	ca.Update([]byte("AAAA"))

	cb := NewBlockCRC()
	cb.Update([]byte("BBBB"))

	ab := CombineCRC(CombineCRC(0, ca.Value()), cb.Value())
	ba := CombineCRC(CombineCRC(0, cb.Value()), ca.Value())

	if ab == ba {
		t.Fatalf("CombineCRC should be order sensitive, got equal results %#08x", ab)
	}
}
