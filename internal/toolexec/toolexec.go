// Package toolexec executes guarded provider tool calls and archives
// their raw output as artifacts.
package toolexec

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/felixgeelhaar/jarvis/internal/guard"
	"github.com/felixgeelhaar/jarvis/internal/provider"
	"github.com/felixgeelhaar/jarvis/internal/store"
)

const (
	// commandDigestLimit caps how much command output reaches the model;
	// the full output lives in the artifact.
	commandDigestLimit = 200
	// fetchDigestLimit is larger because page content is the answer, not
	// a side effect.
	fetchDigestLimit = 2000
	// fetchBodyCap bounds how much of a response body is read at all.
	fetchBodyCap = 1 << 20
)

type Executor struct {
	store  store.Storage
	guard  *guard.Guard
	client *http.Client
}

func New(s store.Storage, g *guard.Guard) *Executor {
	return &Executor{
		store:  s,
		guard:  g,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// ToolResult represents the processed outcome of a tool call.
type ToolResult struct {
	ToolCallID string
	Name       string
	Digest     string
	IsError    bool
}

// HandleToolCalls processes a batch of tool calls, executing them,
// storing the raw outputs as artifacts, and returning digests for the context.
func (e *Executor) HandleToolCalls(ctx context.Context, sessionID string, calls []provider.ToolCall) ([]ToolResult, error) {
	var results []ToolResult

	for _, call := range calls {
		rawOutput, err := e.execute(ctx, call)
		isError := false
		if err != nil {
			rawOutput = fmt.Sprintf("Error executing tool: %v\n%s", err, rawOutput)
			isError = true
		}

		digestStr := hash(rawOutput)
		uniqueID := fmt.Sprintf("%s-%d", call.ID, time.Now().UnixNano())
		artifactPath := fmt.Sprintf("%s/%s_%s.txt", sessionID, call.Name, uniqueID)

		artifact := &store.Artifact{
			ID:        fmt.Sprintf("art-%s-%s", sessionID, uniqueID),
			SessionID: sessionID,
			Name:      call.Name,
			Path:      artifactPath,
			SHA256:    digestStr,
			Size:      int64(len(rawOutput)),
			CreatedAt: time.Now(),
		}

		if err := e.store.SaveArtifact(artifact, []byte(rawOutput)); err != nil {
			return nil, fmt.Errorf("failed to save artifact: %w", err)
		}

		limit := commandDigestLimit
		if call.Name == provider.ToolFetchURL {
			limit = fetchDigestLimit
		}
		displayDigest := rawOutput
		if runes := []rune(displayDigest); len(runes) > limit {
			displayDigest = string(runes[:limit-3]) + "..."
		}

		results = append(results, ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Digest:     fmt.Sprintf("Tool %s executed. Output stored at %s. Summary: %s", call.Name, artifactPath, displayDigest),
			IsError:    isError,
		})
	}

	return results, nil
}

func (e *Executor) execute(ctx context.Context, call provider.ToolCall) (string, error) {
	switch call.Name {
	case provider.ToolRunCommand:
		return e.runCommand(ctx, call.Args)
	case provider.ToolFetchURL:
		return e.fetchURL(ctx, call.Args)
	default:
		return "Unknown tool", fmt.Errorf("unknown tool: %s", call.Name)
	}
}

func (e *Executor) runCommand(ctx context.Context, rawArgs string) (string, error) {
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return "", fmt.Errorf("invalid args: %w", err)
	}
	cmdVal, ok := args["cmd"]
	if !ok {
		return "", fmt.Errorf("missing cmd argument")
	}

	var cmdStr string
	switch v := cmdVal.(type) {
	case string:
		cmdStr = v
	default:
		// Some models pass ["ls", "-l"] instead of "ls -l"; join slices,
		// stringify anything else.
		bytes, _ := json.Marshal(v)
		cmdStr = string(bytes)
		if slice, ok := v.([]interface{}); ok {
			var parts []string
			for _, s := range slice {
				parts = append(parts, fmt.Sprint(s))
			}
			cmdStr = strings.Join(parts, " ")
		}
	}

	dirVal, hasDir := args["dir"]
	var dirStr string
	if hasDir {
		if s, ok := dirVal.(string); ok {
			dirStr = s
		}
	}

	if v := e.guard.CheckCommand(cmdStr); v != nil {
		return "", fmt.Errorf("guard violation: %s", v.Message)
	}

	execCtx, cancel := context.WithTimeout(ctx, e.guard.Policy().CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "bash", "-c", cmdStr) // #nosec G204
	if dirStr != "" {
		cmd.Dir = dirStr
	}
	output, err := cmd.CombinedOutput()

	result := string(output)
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return result + "\n[ERROR] Command timed out", fmt.Errorf("command timed out")
		}
		return result + fmt.Sprintf("\n[ERROR] %v", err), nil
	}
	return result, nil
}

func (e *Executor) fetchURL(ctx context.Context, rawArgs string) (string, error) {
	var args struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return "", fmt.Errorf("invalid args: %w", err)
	}
	if args.URL == "" {
		return "", fmt.Errorf("missing url argument")
	}

	if v := e.guard.CheckURL(args.URL); v != nil {
		return "", fmt.Errorf("guard violation: %s", v.Message)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	// wttr.in and friends serve plain text to curl-ish agents.
	req.Header.Set("User-Agent", "curl/8.0")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyCap))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		if converted, err := htmltomarkdown.ConvertString(text); err == nil {
			text = converted
		}
	}

	if resp.StatusCode >= 400 {
		return text, fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}
	return text, nil
}

func hash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
