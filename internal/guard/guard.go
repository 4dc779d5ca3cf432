package guard

import (
	"net/url"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Policy defines the limits and scopes for assistant tool execution.
type Policy struct {
	MaxToolIterations int           `json:"max_tool_iterations"`
	MaxPromptTokens   int           `json:"max_prompt_tokens"`
	CommandTimeout    time.Duration `json:"command_timeout"`
	CommandsEnabled   bool          `json:"commands_enabled"`
	AllowedCommands   []string      `json:"allowed_commands"`
	AllowedHosts      []string      `json:"allowed_hosts"`
	ImportFileGlobs   []string      `json:"import_file_globs"`
	BlockDangerousCmd bool          `json:"block_dangerous_cmd"`
}

// DefaultPolicy provides safe defaults.
var DefaultPolicy = Policy{
	MaxToolIterations: 5,
	MaxPromptTokens:   4000,
	CommandTimeout:    10 * time.Second,
	CommandsEnabled:   true,
	AllowedCommands:   []string{"ip", "uname", "df", "ps", "date", "uptime", "free", "whoami", "ls", "curl"},
	AllowedHosts:      []string{"wttr.in", "api.coingecko.com", "whyta.cn", "api.exa.ai"},
	ImportFileGlobs:   []string{"**/*.json"},
	BlockDangerousCmd: true,
}

// dangerousFragments are refused even for allowlisted commands.
var dangerousFragments = []string{
	"rm -rf", "mkfs", "dd if=", ":(){", "> /dev/", "shutdown", "reboot",
}

// Violation represents a specific breach of policy.
type Violation struct {
	Rule    string
	Message string
	Fatal   bool
}

// Guard enforces the policy.
type Guard struct {
	policy Policy
}

func New(p Policy) *Guard {
	return &Guard{policy: p}
}

// Policy returns the guard's current policy configuration.
func (g *Guard) Policy() Policy {
	return g.policy
}

// CheckBudget verifies if the usage is within limits.
func (g *Guard) CheckBudget(iterations, promptTokens int) *Violation {
	if iterations > g.policy.MaxToolIterations {
		return &Violation{Rule: "max_tool_iterations", Message: "Tool iteration limit exceeded", Fatal: true}
	}
	if promptTokens > g.policy.MaxPromptTokens {
		return &Violation{Rule: "max_prompt_tokens", Message: "Prompt token budget exceeded", Fatal: true}
	}
	return nil
}

// CheckCommand verifies that a shell command is allowed. The first word
// is matched against the allowlist; the full line is screened for
// dangerous fragments.
func (g *Guard) CheckCommand(cmd string) *Violation {
	if !g.policy.CommandsEnabled {
		return &Violation{Rule: "commands_enabled", Message: "Command execution is disabled", Fatal: true}
	}

	trimmed := strings.TrimSpace(cmd)
	if trimmed == "" {
		return &Violation{Rule: "allowed_commands", Message: "Empty command", Fatal: true}
	}

	if g.policy.BlockDangerousCmd {
		lowered := strings.ToLower(trimmed)
		for _, frag := range dangerousFragments {
			if strings.Contains(lowered, frag) {
				return &Violation{Rule: "dangerous_command", Message: "Command refused: " + cmd, Fatal: true}
			}
		}
	}

	head := strings.Fields(trimmed)[0]
	for _, allow := range g.policy.AllowedCommands {
		if allow == "*" || allow == head {
			return nil
		}
	}
	return &Violation{Rule: "allowed_commands", Message: "Command not allowed: " + head, Fatal: true}
}

// CheckURL verifies that a fetch target's host is allowlisted.
func (g *Guard) CheckURL(raw string) *Violation {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return &Violation{Rule: "allowed_hosts", Message: "Unparseable URL: " + raw, Fatal: true}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &Violation{Rule: "allowed_hosts", Message: "Unsupported scheme: " + u.Scheme, Fatal: true}
	}

	host := u.Hostname()
	for _, allow := range g.policy.AllowedHosts {
		if allow == "*" || strings.EqualFold(allow, host) {
			return nil
		}
	}
	return &Violation{Rule: "allowed_hosts", Message: "Host not allowed: " + host, Fatal: true}
}

// CheckImportPath verifies that a chat-record file is within allowed globs.
func (g *Guard) CheckImportPath(path string) *Violation {
	allowed := false
	for _, pattern := range g.policy.ImportFileGlobs {
		match, err := doublestar.Match(pattern, path)
		if err == nil && match {
			allowed = true
			break
		}
	}

	if !allowed {
		return &Violation{Rule: "import_file_globs", Message: "Import file not allowed: " + path, Fatal: true}
	}
	return nil
}
