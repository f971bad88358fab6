package automod

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/purell"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/cases"
)

// RuleName identifies a message rule.
type RuleName string

const (
	RuleSpam      RuleName = "spam"
	RuleProfanity RuleName = "profanity"
	RuleLink      RuleName = "link"
	RuleCaps      RuleName = "caps"
)

// Message is the part of a chat message the rules look at.
type Message struct {
	GuildID   uint64
	UserID    uint64
	Content   string
	Timestamp time.Time
}

// Violation describes the first rule a message broke.
type Violation struct {
	Rule   RuleName
	Reason string
}

// rule pairs the toggle of a rule family with its evaluator.
type rule struct {
	enabled  func(cfg *Config) bool
	evaluate func(ev *Evaluator, msg *Message, cfg *Config) *Violation
}

// ruleOrder is the fixed evaluation order. The first violation wins.
var ruleOrder = []RuleName{RuleSpam, RuleProfanity, RuleLink, RuleCaps} //nolint:gochecknoglobals // -

var rules = map[RuleName]rule{ //nolint:gochecknoglobals // -
	RuleSpam: {
		enabled:  func(cfg *Config) bool { return cfg.SpamProtection.Enabled },
		evaluate: evaluateSpam,
	},
	RuleProfanity: {
		enabled:  func(cfg *Config) bool { return cfg.ProfanityFilter.Enabled },
		evaluate: evaluateProfanity,
	},
	RuleLink: {
		enabled:  func(cfg *Config) bool { return cfg.LinkProtection.Enabled },
		evaluate: evaluateLink,
	},
	RuleCaps: {
		enabled:  func(cfg *Config) bool { return cfg.CapsProtection.Enabled },
		evaluate: evaluateCaps,
	},
}

var linkPattern = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"'` + "`" + `]+`) //nolint:gochecknoglobals // -

// Evaluator runs the message rules and owns the spam rate windows.
// Callers serialize evaluations for the same member.
type Evaluator struct {
	spam *xsync.MapOf[MemberKey, *Window]
}

// NewEvaluator creates an evaluator with empty rate windows.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		spam: xsync.NewMapOf[MemberKey, *Window](),
	}
}

// Evaluate runs the enabled rules in order and returns the first violation, or nil.
func (e *Evaluator) Evaluate(msg *Message, cfg *Config) *Violation {
	for _, name := range ruleOrder {
		r := rules[name]
		if !r.enabled(cfg) {
			continue
		}

		if v := r.evaluate(e, msg, cfg); v != nil {
			return v
		}
	}

	return nil
}

// PruneIdle drops spam windows that saw no message after the cutoff.
func (e *Evaluator) PruneIdle(cutoff time.Time) int {
	removed := 0
	e.spam.Range(func(key MemberKey, _ *Window) bool {
		e.spam.Compute(key, func(w *Window, loaded bool) (*Window, bool) {
			if !loaded {
				return nil, true
			}
			if w.IdleSince(cutoff) {
				removed++
				return nil, true
			}
			return w, false
		})
		return true
	})

	return removed
}

// Windows returns the number of tracked spam windows.
func (e *Evaluator) Windows() int {
	return e.spam.Size()
}

func evaluateSpam(ev *Evaluator, msg *Message, cfg *Config) *Violation {
	sp := cfg.SpamProtection
	key := MemberKey{GuildID: msg.GuildID, UserID: msg.UserID}

	window, _ := ev.spam.LoadOrCompute(key, func() *Window { return &Window{} })
	count := window.Add(msg.Timestamp, sp.Window())
	if count <= sp.MaxMessages {
		return nil
	}

	// Start counting from zero so the burst is punished once
	window.Reset()

	return &Violation{
		Rule:   RuleSpam,
		Reason: fmt.Sprintf("Sent %d messages within %s", count, sp.Window()),
	}
}

func evaluateProfanity(_ *Evaluator, msg *Message, cfg *Config) *Violation {
	folder := cases.Fold()
	content := folder.String(msg.Content)

	for _, word := range cfg.ProfanityFilter.Words {
		folded := folder.String(strings.TrimSpace(word))
		if folded == "" {
			continue
		}

		if strings.Contains(content, folded) {
			return &Violation{
				Rule:   RuleProfanity,
				Reason: fmt.Sprintf("Used a filtered word (%s)", word),
			}
		}
	}

	return nil
}

func evaluateLink(_ *Evaluator, msg *Message, cfg *Config) *Violation {
	whitelist := make([]string, 0, len(cfg.LinkProtection.Whitelist))
	for _, entry := range cfg.LinkProtection.Whitelist {
		if d := normalizeDomain(entry); d != "" {
			whitelist = append(whitelist, d)
		}
	}

	for _, link := range ExtractLinks(msg.Content) {
		host, domain, ok := LinkDomain(link)
		if !ok {
			continue
		}

		if !isWhitelisted(host, domain, whitelist) {
			return &Violation{
				Rule:   RuleLink,
				Reason: fmt.Sprintf("Posted a link to %s", domain),
			}
		}
	}

	return nil
}

func evaluateCaps(_ *Evaluator, msg *Message, cfg *Config) *Violation {
	cp := cfg.CapsProtection
	if utf8.RuneCountInString(msg.Content) < cp.MinLength {
		return nil
	}

	percentage, ok := CapsPercentage(msg.Content)
	if !ok || percentage <= cp.MaxCapsPercentage {
		return nil
	}

	return &Violation{
		Rule:   RuleCaps,
		Reason: fmt.Sprintf("Message was %.0f%% uppercase", percentage),
	}
}

// CapsPercentage returns the share of uppercase letters among all letters.
// It reports false for text without letters.
func CapsPercentage(content string) (float64, bool) {
	var letters, upper int
	for _, r := range content {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}

	if letters == 0 {
		return 0, false
	}

	return float64(upper) * 100 / float64(letters), true
}

// ExtractLinks returns every URL-like substring of the content.
// Bare hosts starting with "www." count as links.
func ExtractLinks(content string) []string {
	matches := linkPattern.FindAllString(content, -1)
	for i, m := range matches {
		matches[i] = strings.TrimRight(m, ".,;:!?)]}")
	}
	return matches
}

// LinkDomain returns the normalized host of a link and its registrable domain.
func LinkDomain(link string) (host, domain string, ok bool) {
	if !strings.Contains(link, "://") {
		link = "http://" + link
	}

	normalized, err := purell.NormalizeURLString(link, purell.FlagsSafe)
	if err != nil {
		normalized = link
	}

	u, err := url.Parse(normalized)
	if err != nil {
		return "", "", false
	}

	host = strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return "", "", false
	}

	domain, err = publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		domain = host
	}

	return host, domain, true
}

// normalizeDomain turns a whitelist entry into a bare lowercase host.
func normalizeDomain(entry string) string {
	entry = cases.Fold().String(strings.TrimSpace(entry))
	if entry == "" {
		return ""
	}

	if strings.Contains(entry, "://") {
		if u, err := url.Parse(entry); err == nil {
			entry = u.Hostname()
		}
	}

	if i := strings.IndexAny(entry, "/?#"); i >= 0 {
		entry = entry[:i]
	}

	return strings.Trim(entry, ".")
}

// isWhitelisted reports whether the host or its registrable domain is allowed.
// A host is allowed when it equals a whitelist entry or is a subdomain of one.
func isWhitelisted(host, domain string, whitelist []string) bool {
	for _, allowed := range whitelist {
		if host == allowed || domain == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}
