package render

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/castlebridge/chessweb/internal/game"
	"github.com/castlebridge/chessweb/internal/rules"
)

func startingState() game.State {
	return game.State{
		Board: rules.Starting().Grid(),
		Turn:  "white",
		FEN:   rules.Starting().FEN(),
	}
}

func TestPNGDecodes(t *testing.T) {
	raw, err := PNG(Request{State: startingState(), Size: 256})
	if err != nil {
		t.Fatalf("PNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 256 || b.Dy() != 256 {
		t.Fatalf("bounds = %v, want 256x256", b)
	}
}

func TestPNGDefaultSize(t *testing.T) {
	raw, err := PNG(Request{State: startingState()})
	if err != nil {
		t.Fatalf("PNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 512 {
		t.Fatalf("default size = %d, want 512", b.Dx())
	}
}

func TestPNGRejectsBadSize(t *testing.T) {
	for _, size := range []int{-1, 8, 4096} {
		if _, err := PNG(Request{State: startingState(), Size: size}); err == nil {
			t.Errorf("size %d accepted", size)
		}
	}
}

func TestPNGWithHighlights(t *testing.T) {
	st := startingState()
	sel := rules.Square{File: 4, Rank: 1}
	st.Selection = &sel
	st.LastMove = &game.LastMove{
		From: rules.Square{File: 4, Rank: 1},
		To:   rules.Square{File: 4, Rank: 3},
	}
	for _, flipped := range []bool{false, true} {
		raw, err := PNG(Request{State: st, Flipped: flipped, Size: 128})
		if err != nil {
			t.Fatalf("PNG(flipped=%v): %v", flipped, err)
		}
		if _, err := png.Decode(bytes.NewReader(raw)); err != nil {
			t.Fatalf("decode(flipped=%v): %v", flipped, err)
		}
	}
}
