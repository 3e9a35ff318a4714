package capability

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/cel-go/cel"
)

// Rule maps a CEL expression over the user-agent string to an engine class.
// The expression sees a single string variable named ua.
type Rule struct {
	Engine     string `json:"engine"`
	Expression string `json:"expr"`
}

// DefaultRules are evaluated in order; the first match wins.
// Every browser on iOS runs WebKit, so those count as Safari-like.
var DefaultRules = []Rule{
	{
		Engine:     "safari",
		Expression: `ua.contains("iPhone") || ua.contains("iPad") || (ua.contains("Safari/") && ua.contains("Version/") && !ua.contains("Chrome/") && !ua.contains("Chromium/") && !ua.contains("Android"))`,
	},
	{
		Engine:     "chrome",
		Expression: `ua.contains("Chrome/") || ua.contains("Chromium/") || ua.contains("CriOS/")`,
	},
}

const maxCachedAgents = 1024

type compiledRule struct {
	engine EngineClass
	prg    cel.Program
}

// Classifier evaluates engine rules using CEL
type Classifier struct {
	rules []compiledRule

	mu    sync.RWMutex
	cache map[string]EngineClass
}

// NewClassifier compiles rules up front so a bad rule fails at startup
func NewClassifier(rules []Rule) (*Classifier, error) {
	env, err := cel.NewEnv(cel.Variable("ua", cel.StringType))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	c := &Classifier{cache: make(map[string]EngineClass)}
	for i, r := range rules {
		engine, err := ParseEngine(r.Engine)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}

		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %d: CEL compilation error: %w", i, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("rule %d: expression must return bool, got %v", i, ast.OutputType())
		}

		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %d: failed to create CEL program: %w", i, err)
		}
		c.rules = append(c.rules, compiledRule{engine: engine, prg: prg})
	}

	return c, nil
}

// LoadRules reads a JSON array of rules. An empty path yields DefaultRules.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return DefaultRules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read engine rules: %w", err)
	}
	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse engine rules: %w", err)
	}
	return rules, nil
}

// Classify returns the engine class for a user-agent signal.
// Results are memoized for up to maxCachedAgents distinct user agents.
func (c *Classifier) Classify(ua string) EngineClass {
	c.mu.RLock()
	engine, ok := c.cache[ua]
	c.mu.RUnlock()
	if ok {
		return engine
	}

	engine = Other
	for _, r := range c.rules {
		out, _, err := r.prg.Eval(map[string]interface{}{"ua": ua})
		if err != nil {
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched {
			engine = r.engine
			break
		}
	}

	c.mu.Lock()
	if len(c.cache) < maxCachedAgents {
		c.cache[ua] = engine
	}
	c.mu.Unlock()

	return engine
}

// CacheSize returns the number of memoized user agents
func (c *Classifier) CacheSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
