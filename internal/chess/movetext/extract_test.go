package movetext

import (
	"strings"
	"testing"
)

func TestExtractKnownResponses(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"1... c5", "c5"},
		{"1... c5 2. Nf6", "c5"},
		{"1. e4", "e4"},
		{"e4 e6", "e4"},
		{"2. Ng1f3", "Ng1f3"},
		{"10. Bf4", "Bf4"},
		{"10... f7", "f7"},
		{"100. Bf4", "Bf4"},
		{"120... Bf4", "Bf4"},
		{"75. b8=Q", "b8=Q"},
		{"75. b8=R", "b8=R"},
		{"79... b8=Q Nf6", "b8=Q"},
		{"1...e5 1", "e5"},
		{"11...Nf6 2.", "Nf6"},
		{"10... cxd2+ 11.", "cxd2+"},
		{"10... Bd8+ 11. Nxf6#", "Bd8+"},
		{"5. hxg8= 5.", "hxg8=Q"},
		{"5. hxg8=Q 6.", "hxg8=Q"},
		{"75. b8=", "b8=Q"},
		{"10. O-O", "O-O"},
		{"10... O-O-O", "O-O-O"},
		{"O-O-O+", "O-O-O+"},
		{" e4 e5 2. Nf3", "e4"},
		{"Qxf7#", "Qxf7#"},
	}
	for _, tc := range cases {
		got := Extract(tc.raw)
		if !got.OK {
			t.Fatalf("Extract(%q): expected a token", tc.raw)
		}
		if got.Token != tc.want {
			t.Fatalf("Extract(%q) = %q, want %q", tc.raw, got.Token, tc.want)
		}
	}
}

func TestExtractSeparatorsAndDigitCounts(t *testing.T) {
	tokens := []string{"e4", "Nf3", "cxd5", "O-O", "exd8=N+", "Qh4#"}
	numbers := []string{"", "1", "12", "120", "1234"}
	seps := []string{"", ".", "..."}
	trailers := []string{"", " ", " 2. Nf3", "   13... Qd8 14. Rxe1", "\nthe rest"}

	for _, tok := range tokens {
		for _, n := range numbers {
			for _, sep := range seps {
				for _, trail := range trailers {
					for _, gap := range []string{"", " "} {
						raw := n + sep + gap + tok + trail
						got := Extract(raw)
						if !got.OK || got.Token != tok {
							t.Fatalf("Extract(%q) = %+v, want %q", raw, got, tok)
						}
					}
				}
			}
		}
	}
}

func TestExtractPromotionFix(t *testing.T) {
	for _, file := range "abcdefgh" {
		bare := string(file) + "8="
		if got := Extract(bare).Token; got != bare+"Q" {
			t.Fatalf("Extract(%q) = %q, want %q", bare, got, bare+"Q")
		}
		for _, piece := range []string{"Q", "R", "B", "N"} {
			full := string(file) + "8=" + piece
			if got := Extract("33. " + full).Token; got != full {
				t.Fatalf("Extract(%q) = %q, want unchanged", full, got)
			}
		}
	}
}

func TestExtractNoMove(t *testing.T) {
	for _, raw := range []string{"", "   ", "12", "12.", "7...", "\n\t"} {
		if got := Extract(raw); got.OK {
			t.Fatalf("Extract(%q) = %+v, want no move", raw, got)
		}
	}
}

func TestExtractTagged(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"<played_move>5. Qg4</played_move>", "Qg4", true},
		{"I think about it.\n<played_move>Nf3</played_move>", "Nf3", true},
		{"<played_move>12... b1=</played_move>", "b1=Q", true},
		{"<played_move> 1... e5 </played_move> done", "e5", true},
		{"maybe <played_move>e4</played_move> no, <played_move>d4</played_move>", "d4", true},
		{"1. e4", "", false},
		{"<played_move>e4", "", false},
		{"<played_move></played_move>", "", false},
	}
	for _, tc := range cases {
		got := ExtractTagged(tc.raw)
		if got.OK != tc.ok || got.Token != tc.want {
			t.Fatalf("ExtractTagged(%q) = %+v, want token=%q ok=%v", tc.raw, got, tc.want, tc.ok)
		}
	}
}

func TestModeDispatch(t *testing.T) {
	raw := "1. e4 <played_move>d4</played_move>"
	if got := ModePlain.Extract(raw).Token; got != "e4" {
		t.Fatalf("plain = %q", got)
	}
	if got := ModeTagged.Extract(raw).Token; got != "d4" {
		t.Fatalf("tagged = %q", got)
	}
	for in, want := range map[string]Mode{"": ModePlain, "plain": ModePlain, "TAGGED": ModeTagged} {
		m, err := ParseMode(in)
		if err != nil || m != want {
			t.Fatalf("ParseMode(%q) = %v, %v", in, m, err)
		}
	}
	if _, err := ParseMode("regex"); err == nil || !strings.Contains(err.Error(), "regex") {
		t.Fatalf("expected error for unknown mode, got %v", err)
	}
}
