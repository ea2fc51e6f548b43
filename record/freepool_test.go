package record

import "testing"

func TestFreePoolAllocateSmallestFit(t *testing.T) {
	p := newFreePool(6)
	p.insert(100, 10)
	p.insert(300, 50)
	p.insert(500, 20)

	offset, size, ok := p.allocate(15)
	if !ok {
		t.Fatal("want a fit")
	}
	if size != 20 || offset != 500 {
		t.Fatalf("want smallest fitting block (500,20), got (%d,%d)", offset, size)
	}
}

func TestFreePoolAllocateNoFitReturnsFalse(t *testing.T) {
	p := newFreePool(6)
	p.insert(100, 10)
	if _, _, ok := p.allocate(1000); ok {
		t.Fatal("want no fit")
	}
}

func TestFreePoolAllocateTiePicksAnInsertedBlock(t *testing.T) {
	p := newFreePool(6)
	p.insert(100, 20)
	p.insert(9000, 20)
	p.insert(500000, 20)

	offset, size, ok := p.allocate(20)
	if !ok || size != 20 {
		t.Fatalf("want a 20-byte fit, got size=%d ok=%v", size, ok)
	}
	found := false
	for _, want := range []int64{100, 9000, 500000} {
		if offset == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("allocated offset %d is not one of the inserted blocks", offset)
	}
}

func TestFreePoolMergeAdjacentCoalesces(t *testing.T) {
	p := newFreePool(6)
	p.insert(100, 50)
	p.insert(150, 50)
	if len(p.blocks) != 1 {
		t.Fatalf("want 1 merged block, got %d", len(p.blocks))
	}
	if p.blocks[0].offset != 100 || p.blocks[0].size != 100 {
		t.Fatalf("want merged block (100,100), got (%d,%d)", p.blocks[0].offset, p.blocks[0].size)
	}
}

func TestFreePoolEncodeDecodeRoundTrip(t *testing.T) {
	p := newFreePool(6)
	p.insert(10, 5)
	p.insert(50, 15)
	p.insert(1000, 200)

	buf := p.encode()
	decoded := decodeFreePool(buf, 6)
	if len(decoded.blocks) != len(p.blocks) {
		t.Fatalf("want %d blocks after decode, got %d", len(p.blocks), len(decoded.blocks))
	}
	for i, b := range p.blocks {
		if decoded.blocks[i] != b {
			t.Fatalf("block %d mismatch: want %+v got %+v", i, b, decoded.blocks[i])
		}
	}
}

func TestFreePoolOverflowDropsSmallest(t *testing.T) {
	p := newFreePool(1) // cap = 2, far apart so no adjacent merge happens
	p.insert(100, 10)
	p.insert(10000, 20)
	p.insert(20000, 30)
	if len(p.blocks) != 2 {
		t.Fatalf("want pool capped at 2 blocks, got %d", len(p.blocks))
	}
	for _, b := range p.blocks {
		if b.size == 10 {
			t.Fatal("want smallest block evicted on overflow")
		}
	}
}
