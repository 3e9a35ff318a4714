package capability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	uaSafariMac = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"
	uaChromeIOS = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/123.0 Mobile/15E148 Safari/604.1"
	uaChromeMac = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
	uaEdge      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36 Edg/123.0"
	uaAndroid   = "Mozilla/5.0 (Linux; Android 14) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0 Mobile Safari/537.36"
	uaFirefox   = "Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0"
)

func TestDefaultRules(t *testing.T) {
	c, err := NewClassifier(DefaultRules)
	require.NoError(t, err)

	cases := map[string]EngineClass{
		uaSafariMac: SafariLike,
		uaChromeIOS: SafariLike,
		uaChromeMac: ChromeLike,
		uaEdge:      ChromeLike,
		uaAndroid:   ChromeLike,
		uaFirefox:   Other,
		"":          Other,
	}
	for ua, want := range cases {
		assert.Equal(t, want, c.Classify(ua), ua)
	}
	assert.Equal(t, len(cases), c.CacheSize())
}

func TestClassifierRejectsBadRules(t *testing.T) {
	_, err := NewClassifier([]Rule{{Engine: "safari", Expression: "ua.contains("}})
	assert.Error(t, err)

	_, err = NewClassifier([]Rule{{Engine: "safari", Expression: `ua + "x"`}})
	assert.Error(t, err)

	_, err = NewClassifier([]Rule{{Engine: "opera", Expression: `true`}})
	assert.Error(t, err)
}

func TestLoadRulesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"engine":"chrome","expr":"ua.startsWith(\"Bot\")"}]`), 0o600))

	rules, err := LoadRules(path)
	require.NoError(t, err)

	c, err := NewClassifier(rules)
	require.NoError(t, err)
	assert.Equal(t, ChromeLike, c.Classify("Bot/1.0"))
	assert.Equal(t, Other, c.Classify(uaSafariMac))

	defaults, err := LoadRules("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRules, defaults)
}

func TestForUserAgent(t *testing.T) {
	c, err := NewClassifier(DefaultRules)
	require.NoError(t, err)

	assert.Equal(t, SafariLike, ForUserAgent(c, uaSafariMac).Engine())
}
