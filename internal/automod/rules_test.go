package automod_test

import (
	"strings"
	"testing"
	"time"

	"github.com/robalyx/warden/internal/automod"
	"github.com/robalyx/warden/internal/database/types/enum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spamConfig(maxMessages int) *automod.Config {
	cfg := automod.DefaultConfig()
	cfg.SpamProtection = automod.SpamProtection{
		Enabled:      true,
		MaxMessages:  maxMessages,
		TimeWindowMs: 10000,
		Punishment:   enum.ActionMute,
		DurationMs:   60000,
	}
	return cfg
}

func TestSpamRule(t *testing.T) {
	t.Parallel()

	t.Run("one violation for a burst of N+1", func(t *testing.T) {
		t.Parallel()

		ev := automod.NewEvaluator()
		cfg := spamConfig(5)
		t0 := time.Unix(1700000000, 0)

		violations := 0
		for i := range 6 {
			msg := &automod.Message{GuildID: 1, UserID: 2, Content: "hi", Timestamp: t0.Add(time.Duration(i) * 100 * time.Millisecond)}
			if v := ev.Evaluate(msg, cfg); v != nil {
				assert.Equal(t, automod.RuleSpam, v.Rule)
				violations++
			}
		}
		assert.Equal(t, 1, violations)

		// The window was reset, so the next N messages pass
		for i := range 5 {
			msg := &automod.Message{GuildID: 1, UserID: 2, Content: "hi", Timestamp: t0.Add(time.Second + time.Duration(i)*100*time.Millisecond)}
			assert.Nil(t, ev.Evaluate(msg, cfg))
		}
	})

	t.Run("members are counted separately", func(t *testing.T) {
		t.Parallel()

		ev := automod.NewEvaluator()
		cfg := spamConfig(2)
		t0 := time.Unix(1700000000, 0)

		for i := range 2 {
			for _, user := range []uint64{10, 11} {
				msg := &automod.Message{GuildID: 1, UserID: user, Content: "hi", Timestamp: t0.Add(time.Duration(i) * time.Millisecond)}
				assert.Nil(t, ev.Evaluate(msg, cfg))
			}
		}
		assert.Equal(t, 2, ev.Windows())
	})

	t.Run("old messages fall out of the window", func(t *testing.T) {
		t.Parallel()

		ev := automod.NewEvaluator()
		cfg := spamConfig(2)
		t0 := time.Unix(1700000000, 0)

		for i := range 10 {
			msg := &automod.Message{GuildID: 1, UserID: 2, Content: "hi", Timestamp: t0.Add(time.Duration(i) * 6 * time.Second)}
			assert.Nil(t, ev.Evaluate(msg, cfg))
		}
	})

	t.Run("a message exactly one window old still counts", func(t *testing.T) {
		t.Parallel()

		ev := automod.NewEvaluator()
		cfg := spamConfig(2)
		cfg.SpamProtection.TimeWindowMs = 1000
		t0 := time.Unix(1700000000, 0)

		assert.Nil(t, ev.Evaluate(&automod.Message{GuildID: 1, UserID: 2, Content: "hi", Timestamp: t0}, cfg))
		assert.Nil(t, ev.Evaluate(&automod.Message{GuildID: 1, UserID: 2, Content: "hi", Timestamp: t0.Add(500 * time.Millisecond)}, cfg))

		v := ev.Evaluate(&automod.Message{GuildID: 1, UserID: 2, Content: "hi", Timestamp: t0.Add(time.Second)}, cfg)
		require.NotNil(t, v)
		assert.Equal(t, automod.RuleSpam, v.Rule)
	})

	t.Run("idle windows are pruned", func(t *testing.T) {
		t.Parallel()

		ev := automod.NewEvaluator()
		cfg := spamConfig(5)
		t0 := time.Unix(1700000000, 0)

		ev.Evaluate(&automod.Message{GuildID: 1, UserID: 2, Timestamp: t0}, cfg)
		ev.Evaluate(&automod.Message{GuildID: 1, UserID: 3, Timestamp: t0.Add(time.Minute)}, cfg)

		assert.Equal(t, 1, ev.PruneIdle(t0.Add(time.Second)))
		assert.Equal(t, 1, ev.Windows())
	})
}

func TestProfanityRule(t *testing.T) {
	t.Parallel()

	cfg := automod.DefaultConfig()
	cfg.ProfanityFilter = automod.ProfanityFilter{
		Enabled:    true,
		Words:      []string{"darn", "heck"},
		Punishment: enum.ActionWarn,
	}

	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{name: "exact word", content: "darn it", want: true},
		{name: "case insensitive", content: "HECK no", want: true},
		{name: "substring", content: "what the hecking", want: true},
		{name: "clean", content: "hello there", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v := automod.NewEvaluator().Evaluate(&automod.Message{GuildID: 1, UserID: 1, Content: tt.content}, cfg)
			if tt.want {
				require.NotNil(t, v)
				assert.Equal(t, automod.RuleProfanity, v.Rule)
			} else {
				assert.Nil(t, v)
			}
		})
	}
}

func TestLinkRule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		content   string
		whitelist []string
		want      bool
	}{
		{name: "subdomain of whitelisted domain", content: "see http://sub.example.com/x", whitelist: []string{"example.com"}, want: false},
		{name: "domain not whitelisted", content: "see http://sub.example.com/x", whitelist: []string{"other.com"}, want: true},
		{name: "case insensitive", content: "https://WWW.Example.COM", whitelist: []string{"EXAMPLE.com"}, want: false},
		{name: "bare www host", content: "go to www.evil.org now", whitelist: []string{"example.com"}, want: true},
		{name: "one bad link among good ones", content: "https://example.com and https://bad.net", whitelist: []string{"example.com"}, want: true},
		{name: "lookalike suffix", content: "https://notexample.com", whitelist: []string{"example.com"}, want: true},
		{name: "whitelist entry with scheme", content: "https://docs.example.com/a", whitelist: []string{"https://example.com/"}, want: false},
		{name: "no links", content: "just text example.com", whitelist: nil, want: false},
		{name: "empty whitelist", content: "https://example.com", whitelist: nil, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := automod.DefaultConfig()
			cfg.LinkProtection = automod.LinkProtection{
				Enabled:    true,
				Whitelist:  tt.whitelist,
				Punishment: enum.ActionWarn,
			}

			v := automod.NewEvaluator().Evaluate(&automod.Message{Content: tt.content}, cfg)
			if tt.want {
				require.NotNil(t, v)
				assert.Equal(t, automod.RuleLink, v.Rule)
			} else {
				assert.Nil(t, v)
			}
		})
	}
}

func TestExtractLinks(t *testing.T) {
	t.Parallel()

	links := automod.ExtractLinks("a http://a.com/x, b (www.b.org) and HTTPS://C.NET.")
	assert.Equal(t, []string{"http://a.com/x", "www.b.org", "HTTPS://C.NET"}, links)

	host, domain, ok := automod.LinkDomain("www.Sub.Example.co.uk:8080/path")
	require.True(t, ok)
	assert.Equal(t, "www.sub.example.co.uk", host)
	assert.Equal(t, "example.co.uk", domain)
}

func TestCapsRule(t *testing.T) {
	t.Parallel()

	// 20 letters, 15 of them uppercase
	content := "ABCDEFGHIJKLMNOpqrst"
	require.Len(t, content, 20)

	tests := []struct {
		name       string
		content    string
		maxPercent float64
		minLength  int
		want       bool
	}{
		{name: "75 percent over 70", content: content, maxPercent: 70, minLength: 10, want: true},
		{name: "75 percent under 80", content: content, maxPercent: 80, minLength: 10, want: false},
		{name: "shorter than min length", content: "ALLCAPS", maxPercent: 10, minLength: 10, want: false},
		{name: "no letters", content: strings.Repeat("!", 30), maxPercent: 0, minLength: 10, want: false},
		{name: "equal to max does not trigger", content: "AAAAAbbbbb", maxPercent: 50, minLength: 10, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := automod.DefaultConfig()
			cfg.CapsProtection = automod.CapsProtection{
				Enabled:           true,
				MaxCapsPercentage: tt.maxPercent,
				MinLength:         tt.minLength,
				Punishment:        enum.ActionWarn,
			}

			v := automod.NewEvaluator().Evaluate(&automod.Message{Content: tt.content}, cfg)
			if tt.want {
				require.NotNil(t, v)
				assert.Equal(t, automod.RuleCaps, v.Rule)
			} else {
				assert.Nil(t, v)
			}
		})
	}
}

func TestEvaluationOrder(t *testing.T) {
	t.Parallel()

	cfg := automod.DefaultConfig()
	cfg.ProfanityFilter = automod.ProfanityFilter{Enabled: true, Words: []string{"darn"}, Punishment: enum.ActionWarn}
	cfg.LinkProtection = automod.LinkProtection{Enabled: true, Punishment: enum.ActionWarn}
	cfg.CapsProtection = automod.CapsProtection{Enabled: true, MaxCapsPercentage: 10, MinLength: 5, Punishment: enum.ActionWarn}

	v := automod.NewEvaluator().Evaluate(&automod.Message{Content: "DARN SEE HTTPS://BAD.COM"}, cfg)
	require.NotNil(t, v)
	assert.Equal(t, automod.RuleProfanity, v.Rule)

	cfg.ProfanityFilter.Enabled = false
	v = automod.NewEvaluator().Evaluate(&automod.Message{Content: "DARN SEE HTTPS://BAD.COM"}, cfg)
	require.NotNil(t, v)
	assert.Equal(t, automod.RuleLink, v.Rule)
}
