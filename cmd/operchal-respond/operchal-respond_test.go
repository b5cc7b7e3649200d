package main

import (
	"strings"
	"testing"
)

func TestChallengeFragment(t *testing.T) {
	testcases := []struct {
		line string
		frag string
		done bool
	}{
		{line: "QUJD", frag: "QUJD"},
		{line: "  QUJD  ", frag: "QUJD"},
		{line: ":irc.localhost 740 alice :QUJD", frag: "QUJD"},
		{line: ":irc.localhost 741 alice :End of CHALLENGE", done: true},
		{line: ":irc.localhost NOTICE alice :hello"},
		{line: ":irc.localhost"},
	}

	for pos, tc := range testcases {
		frag, done := challengeFragment(tc.line)
		if tc.frag != frag || tc.done != done {
			t.Errorf("case #%d: got (%q, %v), expected (%q, %v)", pos, frag, done, tc.frag, tc.done)
		}
	}
}

func TestReadChallenge(t *testing.T) {
	input := strings.Join([]string{
		":irc.localhost 740 alice :QUJD",
		":irc.localhost 740 alice :REVG",
		":irc.localhost 741 alice :End of CHALLENGE",
		":irc.localhost 740 alice :ignored",
	}, "\r\n")

	text, err := readChallenge(strings.NewReader(input))
	if nil != err {
		t.Fatalf("failed readChallenge, got error %v", err)
	}
	if "QUJDREVG" != text {
		t.Errorf("got %q", text)
	}

	_, err = readChallenge(strings.NewReader(""))
	if nil == err {
		t.Error("readChallenge accepted empty input")
	}
}
