package app

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/petervdpas/augur/internal/billing"
	"github.com/petervdpas/augur/internal/config"
	"github.com/petervdpas/augur/internal/proto"
)

// PromptInteractive walks through first-run settings on in/out. Invalid
// answers fall back to cfg unchanged.
func PromptInteractive(in io.Reader, out io.Writer, dir, cfgPath string, cfg config.Config) config.Config {
	r := bufio.NewReader(in)
	p := prompter{in: r, out: out}

	fmt.Fprintln(out, "────────────────────────────────────────")
	fmt.Fprintln(out, "Augur interactive setup")
	fmt.Fprintf(out, " Client folder : %s\n", dir)
	fmt.Fprintf(out, " Config file   : %s\n", cfgPath)
	fmt.Fprintln(out, "────────────────────────────────────────")
	fmt.Fprintln(out)

	next := cfg
	next.Identity.Name = p.askString("Display name", cfg.Identity.Name)
	if p.askBool("Offer readings (reader role)", cfg.Profile.Role == proto.RoleReader) {
		next.Profile.Role = proto.RoleReader
		next.Profile.Rates.Chat = p.askMoney("Chat rate per minute", cfg.Profile.Rates.Chat)
		next.Profile.Rates.Audio = p.askMoney("Audio rate per minute", cfg.Profile.Rates.Audio)
		next.Profile.Rates.Video = p.askMoney("Video rate per minute", cfg.Profile.Rates.Video)
	} else {
		next.Profile.Role = proto.RoleClient
		next.Profile.Balance = p.askMoney("Starting balance", cfg.Profile.Balance)
	}
	next.Signaling.URL = p.askString("Signaling URL", cfg.Signaling.URL)
	next.Viewer.HTTPAddr = p.askString("Viewer HTTP addr (empty=off)", cfg.Viewer.HTTPAddr)

	if err := next.Validate(); err != nil {
		fmt.Fprintf(out, "Invalid config: %v\nKeeping previous values.\n", err)
		return cfg
	}
	return next
}

type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p prompter) line() (string, bool) {
	s, err := p.in.ReadString('\n')
	s = strings.TrimSpace(s)
	return s, err == nil || s != ""
}

func (p prompter) askString(label, def string) string {
	fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	s, _ := p.line()
	if s == "" {
		return def
	}
	return s
}

func (p prompter) askMoney(label string, def billing.Money) billing.Money {
	for {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
		s, ok := p.line()
		if s == "" {
			return def
		}
		if v, err := billing.ParseMoney(s); err == nil {
			return v
		}
		if !ok {
			return def
		}
		fmt.Fprintln(p.out, "Please enter an amount like 5.99.")
	}
}

func (p prompter) askBool(label string, def bool) bool {
	defStr := "n"
	if def {
		defStr = "y"
	}
	for {
		fmt.Fprintf(p.out, "%s [y/n] (default=%s): ", label, defStr)
		s, ok := p.line()
		switch strings.ToLower(s) {
		case "":
			return def
		case "y", "yes", "true", "1":
			return true
		case "n", "no", "false", "0":
			return false
		}
		if !ok {
			return def
		}
		fmt.Fprintln(p.out, "Please enter y or n.")
	}
}
