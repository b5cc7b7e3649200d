package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path"
	"strings"

	"code.kerpass.org/operchal/internal/observability"
	"code.kerpass.org/operchal/pkg/operauth"
)

const usageFmt = `
Command Usage: %s -key <private key> [Flags] [challenge text]
  Print the CHALLENGE response for an operator private key.
  Without challenge text arguments, the challenge is read from stdin either
  as plain text or as copied 740 reply lines, up to EOF or a 741 line.

Flags:
------
`

type Cmd struct {
	KeyPath   string
	Challenge string
	Raw       bool
	Verbose   bool
}

func parseFlags(progname string, args []string) *Cmd {
	cmd := Cmd{}

	flags := flag.NewFlagSet(progname, flag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, usageFmt, path.Base(progname))
		flags.PrintDefaults()
	}

	flags.StringVar(&cmd.KeyPath, "key", "", `path of the PEM, OpenSSH or base64 X25519 private key`)
	flags.BoolVar(&cmd.Raw, "raw", false, `print the bare response instead of a CHALLENGE command`)
	flags.BoolVar(&cmd.Verbose, "v", false, `log key and challenge details to stderr`)

	flags.Parse(args)

	if "" == cmd.KeyPath {
		flags.Usage()
		log.Fatal("-key is required")
	}
	cmd.Challenge = strings.Join(flags.Args(), "")

	return &cmd
}

func main() {
	cmd := parseFlags(os.Args[0], os.Args[1:])

	logger := observability.NoopLogger()
	if cmd.Verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	keydata, err := os.ReadFile(cmd.KeyPath)
	if nil != err {
		log.Fatalf("Failed reading key file, got error %v", err)
	}
	priv, err := operauth.ParsePrivateKey(keydata)
	clear(keydata)
	if nil != err {
		log.Fatalf("Failed parsing private key, got error %v", err)
	}
	logger.Debug("loaded private key", "type", fmt.Sprintf("%T", priv))

	text := cmd.Challenge
	if "" == text {
		text, err = readChallenge(os.Stdin)
		if nil != err {
			log.Fatalf("Failed reading challenge, got error %v", err)
		}
	}
	logger.Debug("challenge", "length", len(text))

	resp, err := operauth.Respond(priv, text)
	if nil != err {
		log.Fatalf("Failed computing response, got error %v", err)
	}

	if cmd.Raw {
		fmt.Println(resp)
	} else {
		fmt.Printf("CHALLENGE +%s\n", resp)
	}
}

// readChallenge joins the challenge fragments read from r.
func readChallenge(r io.Reader) (string, error) {
	var sb strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	for scanner.Scan() {
		frag, done := challengeFragment(scanner.Text())
		sb.WriteString(frag)
		if done {
			break
		}
	}
	err := scanner.Err()
	if nil != err {
		return "", err
	}
	if 0 == sb.Len() {
		return "", fmt.Errorf("empty challenge")
	}

	return sb.String(), nil
}

// challengeFragment returns the challenge text carried by line and whether
// line ends the challenge.
func challengeFragment(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, ":") {
		return line, false
	}

	// :server 740 nick :fragment
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", false
	}
	switch fields[1] {
	case "740":
		pos := strings.Index(line[1:], " :")
		if pos < 0 {
			return "", false
		}
		return line[pos+3:], false
	case "741":
		return "", true
	default:
		return "", false
	}
}
